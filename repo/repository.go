package repo

import (
	"context"
	"time"

	"github.com/shono-io/shipwright/sdk"
)

type (
	Config struct {
		// Backend is "github" or "nats".
		Backend string

		Owner string
		Name  string
		// Token is a credential; it is never logged.
		Token     string
		BaseURL   string
		UploadURL string

		KeyValueBucket    string
		ObjectStoreBucket string
		Prefix            string

		Timeout       time.Duration
		UploadTimeout time.Duration
	}

	CreateRequest struct {
		Tag    string
		Name   string
		Notes  string
		Draft  bool
		Commit string
	}

	// Store is the remote release service. Get reports sdk.ErrReleaseNotFound for a missing
	// tag, distinct from any other failure. Create treats an existing tag as success and
	// returns the existing record with created=false. Upload replaces a same-named asset.
	Store interface {
		Get(ctx context.Context, tag string) (*sdk.ReleaseRecord, error)
		Create(ctx context.Context, req CreateRequest) (rec *sdk.ReleaseRecord, created bool, err error)
		Upload(ctx context.Context, tag string, path string) error
	}
)

const (
	GitHubBackend = "github"
	NatsBackend   = "nats"

	DefaultTimeout       = 60 * time.Second
	DefaultUploadTimeout = 10 * time.Minute
)

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c Config) uploadTimeout() time.Duration {
	if c.UploadTimeout > 0 {
		return c.UploadTimeout
	}
	return DefaultUploadTimeout
}
