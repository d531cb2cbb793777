package exec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shono-io/shipwright/sdk"
)

// PostBuild runs inside a target's unit of work right after a successful build.
type PostBuild func(ctx context.Context, t sdk.Target, binaryPath string) (*sdk.BuildArtifact, error)

func NewCoordinator(builders []Builder, parallelism int, log zerolog.Logger) *Coordinator {
	c := &Coordinator{
		builders:    map[sdk.BuildStrategy]Builder{},
		parallelism: parallelism,
		log:         log,
	}
	for _, b := range builders {
		c.builders[b.Strategy()] = b
	}
	return c
}

// Coordinator fans out one build job per target and joins them all before returning.
type Coordinator struct {
	builders    map[sdk.BuildStrategy]Builder
	parallelism int
	log         zerolog.Logger
}

func (c *Coordinator) Builder(s sdk.BuildStrategy) (Builder, bool) {
	b, fnd := c.builders[s]
	return b, fnd
}

// Run builds every target. A failure in one target never stops the others; the
// returned map always holds one entry per target.
func (c *Coordinator) Run(ctx context.Context, req BuildRequest, targets []sdk.Target, post PostBuild) map[string]*BuildResult {
	results := make([]*BuildResult, len(targets))

	var g errgroup.Group
	if c.parallelism > 0 {
		g.SetLimit(c.parallelism)
	}

	for i, t := range targets {
		g.Go(func() error {
			results[i] = c.runTarget(ctx, req, t, post)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]*BuildResult, len(targets))
	for _, r := range results {
		out[r.Target.Triple] = r
	}
	return out
}

func (c *Coordinator) runTarget(ctx context.Context, base BuildRequest, t sdk.Target, post PostBuild) *BuildResult {
	start := time.Now()
	res := &BuildResult{Target: t}
	log := c.log.With().Str("target", t.Triple).Str("strategy", string(t.Strategy)).Logger()

	defer func() {
		res.Duration = time.Since(start)
	}()

	b, fnd := c.builders[t.Strategy]
	if !fnd {
		res.Status = sdk.UnavailableStatus
		res.Err = unavailable(t, fmt.Errorf("no %s builder configured", t.Strategy))
		log.Warn().Err(res.Err).Msg("skipping target")
		return res
	}

	if err := b.Available(ctx); err != nil {
		res.Status = sdk.UnavailableStatus
		res.Err = unavailable(t, err)
		log.Warn().Err(err).Msg("build tooling unavailable, skipping target")
		return res
	}

	req := base
	req.Target = t

	log.Info().Msg("building")
	path, err := b.Build(ctx, req)
	if err != nil {
		res.Status = sdk.BuildFailedStatus
		res.Err = err
		if errors.Is(err, context.Canceled) {
			log.Warn().Msg("build cancelled")
		} else {
			log.Error().Err(err).Msg("build failed")
		}
		return res
	}

	res.Status = sdk.BuiltStatus
	res.BinaryPath = path
	log.Info().Str("binary", path).Dur("took", time.Since(start)).Msg("built")

	if post != nil {
		res.Artifact, res.PackageErr = post(ctx, t, path)
		if res.PackageErr != nil {
			log.Error().Err(res.PackageErr).Msg("packaging failed")
		}
	}
	return res
}
