package dist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/scm"
	"github.com/shono-io/shipwright/sdk"
)

type NpmConfig struct {
	// PackageDir holds the package.json to publish.
	PackageDir string
	// Targets, when set, are recorded under "checksums" in package.json so the postinstall
	// download can be verified.
	Targets  []string
	Registry string
	Access   string
	Token    string
}

// SetPackageVersion rewrites the version field of a package.json document and the
// checksums.<target> entries named in sums. Every other byte is kept.
func SetPackageVersion(doc []byte, v sdk.Version, sums map[string]string) ([]byte, error) {
	if _, _, _, err := jsonparser.Get(doc, "version"); err != nil {
		return nil, fmt.Errorf("package.json has no version: %w", err)
	}

	out, err := jsonparser.Set(doc, []byte(strconv.Quote(v.String())), "version")
	if err != nil {
		return nil, fmt.Errorf("unable to set version: %w", err)
	}

	for _, target := range sortedKeys(sums) {
		out, err = jsonparser.Set(out, []byte(strconv.Quote(sums[target])), "checksums", target)
		if err != nil {
			return nil, fmt.Errorf("unable to set checksum for %s: %w", target, err)
		}
	}
	return out, nil
}

func PackageVersion(doc []byte) (string, error) {
	s, err := jsonparser.GetString(doc, "version")
	if err != nil {
		return "", fmt.Errorf("unable to read package.json version: %w", err)
	}
	return s, nil
}

func NewNpmUpdater(cfg NpmConfig, runner scm.Runner, log zerolog.Logger) *NpmUpdater {
	return &NpmUpdater{cfg: cfg, runner: runner, log: log.With().Str("channel", "npm").Logger()}
}

type NpmUpdater struct {
	cfg    NpmConfig
	runner scm.Runner
	log    zerolog.Logger
}

func (n *NpmUpdater) path() string {
	return filepath.Join(n.cfg.PackageDir, "package.json")
}

// Render returns the updated package.json and which configured targets had no checksum.
func (n *NpmUpdater) Render(v sdk.Version, checksums map[string]sdk.Checksum) ([]byte, []string, error) {
	doc, err := os.ReadFile(n.path())
	if err != nil {
		return nil, nil, fmt.Errorf("unable to read package.json: %w", err)
	}

	sums := map[string]string{}
	var missing []string
	for _, t := range n.cfg.Targets {
		c, fnd := checksums[t]
		if !fnd || c.DigestHex == "" {
			missing = append(missing, t)
			continue
		}
		sums[t] = c.DigestHex
	}

	out, err := SetPackageVersion(doc, v, sums)
	if err != nil {
		return nil, nil, err
	}
	return out, missing, nil
}

// Update writes the new version into package.json and publishes the package. A version the
// registry already has is reported as a warning so reruns stay green.
func (n *NpmUpdater) Update(ctx context.Context, v sdk.Version, checksums map[string]sdk.Checksum) (*Outcome, error) {
	out := &Outcome{}

	doc, missing, err := n.Render(v, checksums)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		out.Skipped = true
		out.warn(n.log, "skipping npm update, no checksums for %v", missing)
		return out, nil
	}

	if err := os.WriteFile(n.path(), doc, 0o644); err != nil {
		return nil, fmt.Errorf("unable to write package.json: %w", err)
	}
	out.Changed = true

	args := []string{"publish"}
	if n.cfg.Access != "" {
		args = append(args, "--access", n.cfg.Access)
	}
	if n.cfg.Registry != "" {
		args = append(args, "--registry", n.cfg.Registry)
	}

	var env []string
	if n.cfg.Token != "" {
		env = append(env, "NPM_TOKEN="+n.cfg.Token, "NODE_AUTH_TOKEN="+n.cfg.Token)
	}

	if _, err := n.runner.Run(ctx, scm.Command{Dir: n.cfg.PackageDir, Name: "npm", Args: args, Env: env}); err != nil {
		if alreadyPublished(err) {
			out.warn(n.log, "npm already has version %s", v)
			return out, nil
		}
		return out, fmt.Errorf("unable to publish npm package: %w", err)
	}

	n.log.Info().Str("version", v.String()).Msg("npm package published")
	return out, nil
}

func alreadyPublished(err error) bool {
	msg := err.Error()
	for _, s := range []string{"EPUBLISHCONFLICT", "previously published", "cannot publish over", "already exists", "already uploaded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
