package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/pack"
	"github.com/shono-io/shipwright/repo"
	"github.com/shono-io/shipwright/sdk"
)

type (
	Config struct {
		// Draft is used only when a release has to be created.
		Draft  bool
		Policy Policy
	}

	Request struct {
		Tag    string
		Title  string
		Notes  string
		Commit string
		// Dir is the run's artifact directory.
		Dir string
	}

	AssetResult struct {
		Name string
		Path string
		Err  error
	}

	Result struct {
		State   PollState
		Created bool
		Record  *sdk.ReleaseRecord
		Assets  []AssetResult
		// Warnings are non-fatal observations, e.g. a draft flag that differs from the
		// configured one on a reused release.
		Warnings []string
	}
)

func (r *Result) Failed() []AssetResult {
	var out []AssetResult
	for _, a := range r.Assets {
		if a.Err != nil {
			out = append(out, a)
		}
	}
	return out
}

func (r *Result) Uploaded(name string) bool {
	for _, a := range r.Assets {
		if a.Name == name {
			return a.Err == nil
		}
	}
	return false
}

func NewPublisher(store repo.Store, cfg Config, log zerolog.Logger) *Publisher {
	return &Publisher{
		store:  store,
		cfg:    cfg,
		poller: NewPoller(store, cfg.Policy, log),
		log:    log,
	}
}

type Publisher struct {
	store  repo.Store
	cfg    Config
	poller *Poller
	log    zerolog.Logger
}

// Plan lists, in upload order, every file in dir that Publish would upload: each archive
// followed by its sidecar, then the aggregate manifest.
func (p *Publisher) Plan(dir string) ([]string, error) {
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: no artifacts directory at %s", sdk.ErrPublishFailed, dir)
	}

	archives, err := pack.Archives(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to list artifacts: %v", sdk.ErrPublishFailed, err)
	}
	if len(archives) == 0 {
		return nil, fmt.Errorf("%w: no artifacts in %s", sdk.ErrPublishFailed, dir)
	}

	var files []string
	for _, a := range archives {
		files = append(files, a)
		if _, err := os.Stat(a + pack.SidecarSuffix); err == nil {
			files = append(files, a+pack.SidecarSuffix)
		}
	}
	manifest := filepath.Join(dir, pack.ManifestName)
	if _, err := os.Stat(manifest); err == nil {
		files = append(files, manifest)
	}
	return files, nil
}

// Publish reuses the release for the tag if it exists (after polling for it), creates it
// otherwise, then uploads every file Plan lists with replace semantics. It fails only when
// there is nothing to upload, the release cannot be obtained, or every upload fails.
func (p *Publisher) Publish(ctx context.Context, req Request) (*Result, error) {
	files, err := p.Plan(req.Dir)
	if err != nil {
		return nil, err
	}
	return p.PublishFiles(ctx, req, files)
}

// PublishFiles is Publish for an explicit file list, used when the run knows exactly which
// artifacts it produced.
func (p *Publisher) PublishFiles(ctx context.Context, req Request, files []string) (*Result, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no artifacts to upload for %s", sdk.ErrPublishFailed, req.Tag)
	}

	res := &Result{}
	log := p.log.With().Str("tag", req.Tag).Logger()

	poll, err := p.poller.Poll(ctx, req.Tag)
	if err != nil {
		return nil, fmt.Errorf("unable to poll release %s: %w", req.Tag, err)
	}
	res.State = poll.State

	switch poll.State {
	case Found:
		res.Record = poll.Record
		log.Info().Bool("draft", poll.Record.Draft).Int("assets", len(poll.Record.Assets)).Msg("reusing existing release")
		if poll.Record.Draft != p.cfg.Draft {
			w := fmt.Sprintf("existing release %s has draft=%t, configured draft=%t; keeping existing", req.Tag, poll.Record.Draft, p.cfg.Draft)
			log.Warn().Msg(w)
			res.Warnings = append(res.Warnings, w)
		}

	default:
		log.Info().Int("attempts", poll.Attempts).Msg("release not found, creating")
		rec, created, err := p.store.Create(ctx, repo.CreateRequest{
			Tag:    req.Tag,
			Name:   req.Title,
			Notes:  req.Notes,
			Draft:  p.cfg.Draft,
			Commit: req.Commit,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: unable to create release %s: %v", sdk.ErrPublishFailed, req.Tag, err)
		}
		res.Record = rec
		res.Created = created
		res.State = Created
		if !created {
			log.Info().Msg("release appeared concurrently, reusing")
		}
	}

	for _, f := range files {
		name := filepath.Base(f)
		err := p.store.Upload(ctx, req.Tag, f)
		res.Assets = append(res.Assets, AssetResult{Name: name, Path: f, Err: err})
		if err != nil {
			log.Error().Err(err).Str("asset", name).Msg("upload failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		log.Info().Str("asset", name).Msg("uploaded")
	}

	if failed := res.Failed(); len(failed) == len(res.Assets) {
		return res, fmt.Errorf("%w: all %d uploads failed: %v", sdk.ErrPublishFailed, len(failed), failed[0].Err)
	}

	res.State = AssetsUploaded
	return res, nil
}
