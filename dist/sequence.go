package dist

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/scm"
)

type (
	CratesConfig struct {
		ProjectDir string
		// Packages are published in order; later crates may depend on earlier ones.
		Packages []string
		Token    string
		// AllowDirty passes --allow-dirty, needed when the manifest bump is not committed.
		AllowDirty bool
	}

	ItemStatus string

	SequenceItem struct {
		Name   string
		Status ItemStatus
		Err    error
	}

	SequenceResult struct {
		Items []SequenceItem
		// ResumeHint names the item a rerun should resume from after a failure.
		ResumeHint string
	}
)

var (
	ItemPublished ItemStatus = "published"
	ItemExisting  ItemStatus = "already_published"
	ItemSkipped   ItemStatus = "skipped"
	ItemFailed    ItemStatus = "failed"
	ItemPending   ItemStatus = "pending"
	ItemPlanned   ItemStatus = "planned"
)

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func NewSequence(cfg CratesConfig, runner scm.Runner, log zerolog.Logger) *Sequence {
	return &Sequence{cfg: cfg, runner: runner, log: log.With().Str("channel", "crates").Logger()}
}

// Sequence publishes a list of crates one after the other.
type Sequence struct {
	cfg    CratesConfig
	runner scm.Runner
	log    zerolog.Logger
}

// Plan marks every item before resumeFrom as skipped. An unknown resumeFrom is an error so a
// typo never republishes the whole list.
func (s *Sequence) Plan(resumeFrom string) ([]SequenceItem, error) {
	start := 0
	if resumeFrom != "" {
		start = slices.Index(s.cfg.Packages, resumeFrom)
		if start < 0 {
			return nil, fmt.Errorf("unable to resume from %q: not in %v", resumeFrom, s.cfg.Packages)
		}
	}

	items := make([]SequenceItem, len(s.cfg.Packages))
	for i, p := range s.cfg.Packages {
		items[i] = SequenceItem{Name: p, Status: ItemPlanned}
		if i < start {
			items[i].Status = ItemSkipped
		}
	}
	return items, nil
}

// Publish runs `cargo publish -p NAME` for each planned item. The first failure stops the
// sequence and leaves the remaining items pending.
func (s *Sequence) Publish(ctx context.Context, resumeFrom string) (*SequenceResult, error) {
	items, err := s.Plan(resumeFrom)
	if err != nil {
		return nil, err
	}
	res := &SequenceResult{Items: items}

	var env []string
	if s.cfg.Token != "" {
		env = append(env, "CARGO_REGISTRY_TOKEN="+s.cfg.Token)
	}

	for i := range res.Items {
		item := &res.Items[i]
		if item.Status == ItemSkipped {
			s.log.Info().Str("crate", item.Name).Msg("skipped, resuming later in the sequence")
			continue
		}

		args := []string{"publish", "-p", item.Name}
		if s.cfg.AllowDirty {
			args = append(args, "--allow-dirty")
		}

		_, err := s.runner.Run(ctx, scm.Command{Dir: s.cfg.ProjectDir, Name: "cargo", Args: args, Env: env})
		switch {
		case err == nil:
			item.Status = ItemPublished
			s.log.Info().Str("crate", item.Name).Msg("published")
		case alreadyPublished(err):
			item.Status = ItemExisting
			s.log.Info().Str("crate", item.Name).Msg("version already on the registry")
		default:
			item.Status = ItemFailed
			item.Err = err
			res.ResumeHint = item.Name
			for j := i + 1; j < len(res.Items); j++ {
				res.Items[j].Status = ItemPending
			}
			return res, fmt.Errorf("unable to publish crate %s (resume with --resume-from %s): %w", item.Name, item.Name, err)
		}
	}
	return res, nil
}
