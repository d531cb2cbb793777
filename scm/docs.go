package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type DocsConfig struct {
	// Url receives a POST once a release is out; empty disables the ping.
	Url     string
	Token   string
	Timeout time.Duration
}

func NewDocsTrigger(cfg DocsConfig) *DocsTrigger {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DocsTrigger{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

// DocsTrigger asks the documentation host to rebuild for a new version.
type DocsTrigger struct {
	cfg    DocsConfig
	client *http.Client
}

func (d *DocsTrigger) Enabled() bool {
	return d != nil && d.cfg.Url != ""
}

func (d *DocsTrigger) Trigger(ctx context.Context, name, version string) error {
	body, err := json.Marshal(map[string]string{"name": name, "version": version})
	if err != nil {
		return fmt.Errorf("unable to encode docs trigger: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("unable to create docs trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("unable to trigger docs rebuild: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("docs rebuild trigger returned %s", resp.Status)
	}
	return nil
}
