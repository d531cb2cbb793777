package dist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/scm"
	"github.com/shono-io/shipwright/sdk"
)

type (
	BrewConfig struct {
		// TapDir is a checkout of the tap repository.
		TapDir string
		// Formula is the formula path relative to TapDir, e.g. Formula/vtcode.rb.
		Formula string
		// Targets are the triples the formula ships.
		Targets []string
		Remote  string
		Branch  string
	}

	// Outcome reports what a distribution channel did; Skipped and Warnings never fail a run.
	Outcome struct {
		Changed  bool
		Skipped  bool
		Warnings []string
	}
)

func (o *Outcome) warn(log zerolog.Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warn().Msg(msg)
	o.Warnings = append(o.Warnings, msg)
}

func NewBrewUpdater(cfg BrewConfig, git scm.Git, log zerolog.Logger) *BrewUpdater {
	return &BrewUpdater{cfg: cfg, git: git, log: log.With().Str("channel", "brew").Logger()}
}

type BrewUpdater struct {
	cfg BrewConfig
	git scm.Git
	log zerolog.Logger
}

// Sums picks the checksums the formula needs and reports the targets that have none.
func (b *BrewUpdater) Sums(checksums map[string]sdk.Checksum) (map[string]string, []string) {
	sums := map[string]string{}
	var missing []string
	for _, t := range b.cfg.Targets {
		c, fnd := checksums[t]
		if !fnd || c.DigestHex == "" {
			missing = append(missing, t)
			continue
		}
		sums[t] = c.DigestHex
	}
	return sums, missing
}

// Render returns the updated formula without writing it.
func (b *BrewUpdater) Render(v sdk.Version, sums map[string]string) (string, string, error) {
	path := filepath.Join(b.cfg.TapDir, b.cfg.Formula)
	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("unable to read formula: %w", err)
	}

	f, err := ParseFormula(string(content), b.cfg.Targets)
	if err != nil {
		return "", "", fmt.Errorf("unable to parse formula %s: %w", path, err)
	}
	if err := f.Update(v.String(), sums); err != nil {
		return "", "", fmt.Errorf("unable to update formula %s: %w", path, err)
	}
	return path, f.String(), nil
}

// Update rewrites the formula for v and hands it to git. Missing checksums skip the update,
// a failed push is only a warning.
func (b *BrewUpdater) Update(ctx context.Context, v sdk.Version, checksums map[string]sdk.Checksum) (*Outcome, error) {
	out := &Outcome{}

	sums, missing := b.Sums(checksums)
	if len(missing) > 0 {
		out.Skipped = true
		out.warn(b.log, "skipping formula update, no checksums for %v", missing)
		return out, nil
	}

	path, content, err := b.Render(v, sums)
	if err != nil {
		return nil, err
	}

	current, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read formula: %w", err)
	}
	if string(current) == content {
		b.log.Info().Str("version", v.String()).Msg("formula already up to date")
		return out, nil
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("unable to write formula: %w", err)
	}
	out.Changed = true
	b.log.Info().Str("version", v.String()).Str("formula", path).Msg("formula updated")

	if b.git == nil {
		return out, nil
	}
	if err := b.git.Commit(ctx, fmt.Sprintf("%s %s", filepath.Base(b.cfg.Formula), v.String()), b.cfg.Formula); err != nil {
		out.warn(b.log, "unable to commit formula: %v", err)
		return out, nil
	}

	var refs []string
	if b.cfg.Branch != "" {
		refs = append(refs, b.cfg.Branch)
	}
	if err := b.git.Push(ctx, b.cfg.Remote, refs...); err != nil {
		out.warn(b.log, "unable to push formula: %v", err)
	}
	return out, nil
}
