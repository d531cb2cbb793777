package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/exec"
	"github.com/shono-io/shipwright/pkg"
	"github.com/shono-io/shipwright/repo"
	"github.com/shono-io/shipwright/scm"
	"github.com/shono-io/shipwright/sdk"
	natsconf "github.com/shono-io/shipwright/sdk/nats"
	"github.com/shono-io/shipwright/telemetry"
)

type closers []func()

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// builders returns the native builder and, when enabled, the docker cross builder. A docker
// client that cannot be created only disables cross targets.
func builders(cfg pkg.Config, log zerolog.Logger) ([]exec.Builder, closers) {
	ec := cfg.ExecConfig()
	result := []exec.Builder{exec.NewNativeBuilder(ec.Native, log)}
	if !cfg.Build.Docker.Enabled {
		return result, nil
	}

	db, err := exec.NewDockerBuilder(ec.Docker, log)
	if err != nil {
		log.Warn().Err(err).Msg("docker unavailable, cross targets disabled")
		return result, nil
	}
	return append(result, db), closers{func() { _ = db.Close() }}
}

func store(cfg pkg.Config, log zerolog.Logger) (repo.Store, closers, error) {
	switch cfg.Remote.Backend {
	case repo.NatsBackend:
		nc, err := natsconf.Connect("shipwright", cfg.NatsConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("unable to connect to nats: %w", err)
		}
		s, err := repo.NewNatsStore(nc, cfg.RepoConfig(), log)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return s, closers{func() { _ = nc.Drain() }}, nil
	default:
		s, err := repo.NewGitHubStore(cfg.RepoConfig(), log)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
}

// wire builds the collaborators of a run. The returned closers release them in reverse
// order and must be called even when err is set.
func wire(ctx context.Context, cfg pkg.Config, opts pkg.Options, log zerolog.Logger) (pkg.Deps, closers, error) {
	var cl closers

	shutdown, err := telemetry.Init(ctx, cfg.TelemetryConfig(), "shipwright", Version)
	if err != nil {
		return pkg.Deps{}, cl, err
	}
	cl = append(cl, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("unable to flush telemetry")
		}
	})

	runner := scm.NewCommandRunner(log)
	deps := pkg.Deps{
		Runner:   runner,
		Docs:     scm.NewDocsTrigger(cfg.DocsConfig()),
		Recorder: telemetry.NewRecorder(),
	}

	if _, err := os.Stat(filepath.Join(cfg.ProjectDir, ".git")); err == nil {
		deps.Git = scm.NewGit(cfg.ProjectDir, runner)
	} else {
		log.Warn().Str("dir", cfg.ProjectDir).Msg("not a git checkout, git stage disabled")
	}

	b, bc := builders(cfg, log)
	deps.Builders = b
	cl = append(cl, bc...)

	if !opts.DryRun && !slices.Contains(opts.Skip, sdk.ReleaseStage) {
		s, sc, err := store(cfg, log)
		if err != nil {
			return pkg.Deps{}, cl, fmt.Errorf("unable to create release store: %w", err)
		}
		deps.Store = s
		cl = append(cl, sc...)
	}

	return deps, cl, nil
}
