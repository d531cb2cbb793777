package sdk

import "time"

type Stage string

var (
	PreflightStage Stage = "preflight"
	VersionStage   Stage = "version"
	ManifestStage  Stage = "manifest"
	GitStage       Stage = "git"
	BinariesStage  Stage = "binaries"
	ChangelogStage Stage = "changelog"
	ReleaseStage   Stage = "release"
	CratesStage    Stage = "crates"
	NpmStage       Stage = "npm"
	BrewStage      Stage = "brew"
	DocsStage      Stage = "docs"
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	PreflightStage, VersionStage, ManifestStage, GitStage, BinariesStage,
	ChangelogStage, ReleaseStage, CratesStage, NpmStage, BrewStage, DocsStage,
}

type StageStatus string

var (
	PendingStatus StageStatus = "pending"
	OkStatus      StageStatus = "ok"
	WarningStatus StageStatus = "warning"
	SkippedStatus StageStatus = "skipped"
	FailedStatus  StageStatus = "failed"
	DryRunStatus  StageStatus = "dry-run"
)

type BuildStatus string

var (
	BuiltStatus       BuildStatus = "built"
	BuildFailedStatus BuildStatus = "failed"
	UnavailableStatus BuildStatus = "unavailable"
	PlannedStatus     BuildStatus = "planned"
)

type RunStatus string

var (
	SuccessRun             RunStatus = "success"
	SuccessWithWarningsRun RunStatus = "success_with_warnings"
	FailedRun              RunStatus = "failed"
)

type (
	StageResult struct {
		Stage    Stage         `json:"stage" yaml:"stage"`
		Status   StageStatus   `json:"status" yaml:"status"`
		Messages []string      `json:"messages,omitempty" yaml:"messages,omitempty"`
		Duration time.Duration `json:"duration" yaml:"duration"`
	}

	TargetResult struct {
		Target      string      `json:"target" yaml:"target"`
		Build       BuildStatus `json:"build" yaml:"build"`
		Packaged    bool        `json:"packaged" yaml:"packaged"`
		Checksummed bool        `json:"checksummed" yaml:"checksummed"`
		Uploaded    bool        `json:"uploaded" yaml:"uploaded"`
		Archive     string      `json:"archive,omitempty" yaml:"archive,omitempty"`
		Error       string      `json:"error,omitempty" yaml:"error,omitempty"`
	}

	// PipelineRun lives only for the duration of one invocation.
	PipelineRun struct {
		ID           string                   `json:"id" yaml:"id"`
		Version      string                   `json:"version" yaml:"version"`
		DryRun       bool                     `json:"dry_run" yaml:"dry_run"`
		Requested    []Stage                  `json:"requested" yaml:"requested"`
		Stages       map[Stage]*StageResult   `json:"stages" yaml:"stages"`
		Targets      map[string]*TargetResult `json:"targets" yaml:"targets"`
		Status       RunStatus                `json:"status" yaml:"status"`
		FailedStage  Stage                    `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
		SkippedAfter []Stage                  `json:"skipped_after_failure,omitempty" yaml:"skipped_after_failure,omitempty"`
	}
)

func NewPipelineRun(id string, dryRun bool) *PipelineRun {
	return &PipelineRun{
		ID:      id,
		DryRun:  dryRun,
		Stages:  map[Stage]*StageResult{},
		Targets: map[string]*TargetResult{},
	}
}

// Stage returns the result slot for s, creating it on first use.
func (r *PipelineRun) Stage(s Stage) *StageResult {
	res, fnd := r.Stages[s]
	if !fnd {
		res = &StageResult{Stage: s, Status: PendingStatus}
		r.Stages[s] = res
	}
	return res
}

func (r *PipelineRun) Target(triple string) *TargetResult {
	res, fnd := r.Targets[triple]
	if !fnd {
		res = &TargetResult{Target: triple}
		r.Targets[triple] = res
	}
	return res
}

func (s *StageResult) Note(msg string) {
	s.Messages = append(s.Messages, msg)
}

// Warn records msg and downgrades an ok stage to a warning.
func (s *StageResult) Warn(msg string) {
	s.Note(msg)
	if s.Status == OkStatus || s.Status == PendingStatus {
		s.Status = WarningStatus
	}
}

// Finalize computes the overall status from the stage results.
func (r *PipelineRun) Finalize() {
	r.Status = SuccessRun
	for _, s := range Stages {
		res, fnd := r.Stages[s]
		if !fnd {
			continue
		}
		switch res.Status {
		case FailedStatus:
			r.Status = FailedRun
			if r.FailedStage == "" {
				r.FailedStage = s
			}
		case WarningStatus:
			if r.Status == SuccessRun {
				r.Status = SuccessWithWarningsRun
			}
		}
	}
	for _, t := range r.Targets {
		failed := t.Build == BuildFailedStatus || t.Build == UnavailableStatus
		if failed && r.Status == SuccessRun {
			r.Status = SuccessWithWarningsRun
		}
	}
}
