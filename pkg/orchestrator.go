// Package pkg sequences the release stages of a pipeline run.
package pkg

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/exec"
	"github.com/shono-io/shipwright/pack"
	"github.com/shono-io/shipwright/repo"
	"github.com/shono-io/shipwright/scm"
	"github.com/shono-io/shipwright/sdk"
	"github.com/shono-io/shipwright/telemetry"
	"github.com/shono-io/shipwright/version"
)

type (
	// Options are the per-invocation choices; Config holds everything else.
	Options struct {
		Bump        version.BumpKind
		Version     string
		Skip        []sdk.Stage
		PublishOnly bool
		DryRun      bool
		NotesFile   string
		// Targets are extra "triple[:strategy]" entries.
		Targets    []string
		ResumeFrom string
	}

	// Deps are the collaborators of a run. Nil members fall back to the command based
	// implementations, or disable the stages that need them.
	Deps struct {
		Store     repo.Store
		Builders  []exec.Builder
		Git       scm.Git
		TapGit    scm.Git
		Runner    scm.Runner
		Digesters []pack.Digester
		Docs      *scm.DocsTrigger
		Recorder  *telemetry.Recorder
	}

	// StageError labels the failure that ended a run.
	StageError struct {
		Stage sdk.Stage
		Err   error
	}
)

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// skippable lists the stages a flag can turn off; preflight and version always run.
var skippable = map[sdk.Stage]bool{
	sdk.ManifestStage:  true,
	sdk.GitStage:       true,
	sdk.BinariesStage:  true,
	sdk.ChangelogStage: true,
	sdk.ReleaseStage:   true,
	sdk.CratesStage:    true,
	sdk.NpmStage:       true,
	sdk.BrewStage:      true,
	sdk.DocsStage:      true,
}

func NewOrchestrator(cfg Config, deps Deps, log zerolog.Logger) *Orchestrator {
	if deps.Runner == nil {
		deps.Runner = scm.NewCommandRunner(log)
	}
	if deps.TapGit == nil && cfg.Brew.TapDir != "" {
		deps.TapGit = scm.NewGit(cfg.path(cfg.Brew.TapDir), deps.Runner)
	}
	if len(deps.Digesters) == 0 {
		deps.Digesters = pack.DefaultDigesters()
	}
	if deps.Recorder == nil {
		deps.Recorder = telemetry.NewRecorder()
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: log}
}

type Orchestrator struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger
}

// Plan returns the stages that will run with a reason for every stage that will not.
func (o *Orchestrator) Plan(opts Options) map[sdk.Stage]string {
	skips := map[sdk.Stage]string{}
	skip := func(s sdk.Stage, reason string) {
		if _, fnd := skips[s]; !fnd {
			skips[s] = reason
		}
	}

	for _, s := range opts.Skip {
		if skippable[s] {
			skip(s, "skipped by flag")
		}
	}

	if opts.PublishOnly {
		for _, s := range []sdk.Stage{sdk.ManifestStage, sdk.GitStage, sdk.BinariesStage, sdk.CratesStage, sdk.NpmStage, sdk.BrewStage, sdk.DocsStage} {
			skip(s, "publish only")
		}
	} else if _, fnd := skips[sdk.BinariesStage]; fnd {
		skip(sdk.ReleaseStage, "binaries skipped, nothing to upload")
		skip(sdk.BrewStage, "binaries skipped, no checksums")
		if len(o.cfg.Npm.Targets) > 0 {
			skip(sdk.NpmStage, "binaries skipped, no checksums")
		}
	}

	if o.deps.Git == nil {
		skip(sdk.GitStage, "no git repository")
	}
	if o.deps.Store == nil && !opts.DryRun {
		skip(sdk.ReleaseStage, "no release store configured")
	}
	if len(o.cfg.Crates.Packages) == 0 {
		skip(sdk.CratesStage, "no crates configured")
	}
	if o.cfg.Npm.PackageDir == "" {
		skip(sdk.NpmStage, "no npm package configured")
	}
	if o.cfg.Brew.TapDir == "" || o.cfg.Brew.Formula == "" {
		skip(sdk.BrewStage, "no homebrew tap configured")
	}
	if !o.deps.Docs.Enabled() {
		skip(sdk.DocsStage, "no docs trigger configured")
	}
	return skips
}

// Run executes one pipeline run. The returned run is complete even when err is a
// *StageError.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*sdk.PipelineRun, error) {
	run := sdk.NewPipelineRun(uuid.NewString(), opts.DryRun)
	log := o.log.With().Str("run_id", run.ID).Logger()

	scratch, err := os.MkdirTemp("", "shipwright-"+run.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("unable to create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn().Err(err).Str("dir", scratch).Msg("unable to remove scratch directory")
		}
	}()

	e := &execution{
		Orchestrator: o,
		opts:         opts,
		run:          run,
		log:          log,
		skips:        o.Plan(opts),
		scratch:      scratch,
		checksums:    map[string]sdk.Checksum{},
	}

	for _, s := range sdk.Stages {
		if _, fnd := e.skips[s]; !fnd {
			run.Requested = append(run.Requested, s)
		}
	}

	steps := []struct {
		stage sdk.Stage
		fn    func(ctx context.Context, res *sdk.StageResult) error
	}{
		{sdk.PreflightStage, e.preflight},
		{sdk.VersionStage, e.version},
		{sdk.ManifestStage, e.manifest},
		{sdk.GitStage, e.git},
		{sdk.BinariesStage, e.binaries},
		{sdk.ChangelogStage, e.changelog},
		{sdk.ReleaseStage, e.release},
		{sdk.CratesStage, e.crates},
		{sdk.NpmStage, e.npm},
		{sdk.BrewStage, e.brew},
		{sdk.DocsStage, e.docs},
	}

	var failure *StageError
	for _, step := range steps {
		res := run.Stage(step.stage)

		if failure != nil {
			res.Status = sdk.SkippedStatus
			res.Note(fmt.Sprintf("not run, %s failed", failure.Stage))
			run.SkippedAfter = append(run.SkippedAfter, step.stage)
			continue
		}
		if reason, fnd := e.skips[step.stage]; fnd {
			res.Status = sdk.SkippedStatus
			res.Note(reason)
			log.Info().Str("stage", string(step.stage)).Str("reason", reason).Msg("stage skipped")
			continue
		}

		res.Status = sdk.OkStatus
		if opts.DryRun {
			res.Status = sdk.DryRunStatus
		}

		stageCtx, end := o.deps.Recorder.Stage(ctx, run.ID, string(step.stage))
		log.Info().Str("stage", string(step.stage)).Msg("stage started")
		start := time.Now()

		err := ctx.Err()
		if err == nil {
			err = step.fn(stageCtx, res)
		}
		res.Duration = time.Since(start)

		if err != nil {
			res.Status = sdk.FailedStatus
			res.Note(err.Error())
			failure = &StageError{Stage: step.stage, Err: err}
			log.Error().Err(err).Str("stage", string(step.stage)).Msg("stage failed")
		} else {
			log.Info().Str("stage", string(step.stage)).Str("status", string(res.Status)).Dur("took", res.Duration).Msg("stage finished")
		}
		end(string(res.Status), err)
	}

	run.Finalize()
	log.Info().Str("status", string(run.Status)).Str("version", run.Version).Msg("run finished")

	if failure != nil {
		return run, failure
	}
	return run, nil
}
