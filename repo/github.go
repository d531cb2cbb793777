package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/sdk"
)

func NewGitHubStore(cfg Config, log zerolog.Logger) (*GitHubStore, error) {
	if cfg.Owner == "" || cfg.Name == "" {
		return nil, fmt.Errorf("github repository owner and name are required")
	}

	gh := github.NewClient(&http.Client{})
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}

	if cfg.BaseURL != "" {
		u, err := url.Parse(withSlash(cfg.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		gh.BaseURL = u
	}
	if cfg.UploadURL != "" {
		u, err := url.Parse(withSlash(cfg.UploadURL))
		if err != nil {
			return nil, fmt.Errorf("invalid github upload url: %w", err)
		}
		gh.UploadURL = u
	}

	return &GitHubStore{
		cfg: cfg,
		gh:  gh,
		ids: map[string]int64{},
		log: log.With().Str("store", GitHubBackend).Logger(),
	}, nil
}

// GitHubStore publishes to GitHub Releases.
type GitHubStore struct {
	cfg Config
	gh  *github.Client
	log zerolog.Logger

	mu  sync.Mutex
	ids map[string]int64
}

func (g *GitHubStore) Get(ctx context.Context, tag string) (*sdk.ReleaseRecord, error) {
	rel, err := g.find(ctx, tag)
	if err != nil {
		return nil, err
	}
	return toRecord(rel), nil
}

func (g *GitHubStore) Create(ctx context.Context, req CreateRequest) (*sdk.ReleaseRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.timeout())
	defer cancel()

	in := &github.RepositoryRelease{
		TagName: github.String(req.Tag),
		Name:    github.String(req.Name),
		Body:    github.String(req.Notes),
		Draft:   github.Bool(req.Draft),
	}
	if req.Commit != "" {
		in.TargetCommitish = github.String(req.Commit)
	}

	rel, _, err := g.gh.Repositories.CreateRelease(ctx, g.cfg.Owner, g.cfg.Name, in)
	if err != nil {
		if alreadyExists(err) {
			g.log.Info().Str("tag", req.Tag).Msg("release already exists, reusing")
			existing, gerr := g.find(ctx, req.Tag)
			if gerr != nil {
				return nil, false, fmt.Errorf("release %s exists but cannot be read: %w", req.Tag, gerr)
			}
			return toRecord(existing), false, nil
		}
		return nil, false, fmt.Errorf("unable to create release %s: %w", req.Tag, err)
	}

	g.remember(req.Tag, rel.GetID())
	return toRecord(rel), true, nil
}

// Upload replaces an existing asset of the same name, then uploads the file.
func (g *GitHubStore) Upload(ctx context.Context, tag string, path string) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.uploadTimeout())
	defer cancel()

	name := filepath.Base(path)
	rel, err := g.find(ctx, tag)
	if err != nil {
		return err
	}

	if err := g.clobber(ctx, rel.GetID(), name); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open asset: %w", err)
	}
	defer f.Close()

	if _, _, err := g.gh.Repositories.UploadReleaseAsset(ctx, g.cfg.Owner, g.cfg.Name, rel.GetID(), &github.UploadOptions{Name: name}, f); err != nil {
		return fmt.Errorf("unable to upload %s: %w", name, err)
	}
	return nil
}

func (g *GitHubStore) clobber(ctx context.Context, releaseId int64, name string) error {
	opts := &github.ListOptions{PerPage: 100}
	for {
		assets, resp, err := g.gh.Repositories.ListReleaseAssets(ctx, g.cfg.Owner, g.cfg.Name, releaseId, opts)
		if err != nil {
			return fmt.Errorf("unable to list release assets: %w", err)
		}
		for _, a := range assets {
			if a.GetName() != name {
				continue
			}
			g.log.Debug().Str("asset", name).Msg("replacing existing asset")
			if _, err := g.gh.Repositories.DeleteReleaseAsset(ctx, g.cfg.Owner, g.cfg.Name, a.GetID()); err != nil {
				return fmt.Errorf("unable to replace asset %s: %w", name, err)
			}
			return nil
		}
		if resp == nil || resp.NextPage == 0 {
			return nil
		}
		opts.Page = resp.NextPage
	}
}

// find resolves a tag to its release. Draft releases are invisible to the tag lookup, so
// a miss falls back to scanning the release list.
func (g *GitHubStore) find(ctx context.Context, tag string) (*github.RepositoryRelease, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.timeout())
	defer cancel()

	if id, fnd := g.known(tag); fnd {
		rel, _, err := g.gh.Repositories.GetRelease(ctx, g.cfg.Owner, g.cfg.Name, id)
		if err == nil {
			return rel, nil
		}
		if !notFound(err) {
			return nil, err
		}
	}

	rel, _, err := g.gh.Repositories.GetReleaseByTag(ctx, g.cfg.Owner, g.cfg.Name, tag)
	if err == nil {
		g.remember(tag, rel.GetID())
		return rel, nil
	}
	if !notFound(err) {
		return nil, fmt.Errorf("unable to get release %s: %w", tag, err)
	}

	opts := &github.ListOptions{PerPage: 100}
	for {
		releases, resp, err := g.gh.Repositories.ListReleases(ctx, g.cfg.Owner, g.cfg.Name, opts)
		if err != nil {
			return nil, fmt.Errorf("unable to list releases: %w", err)
		}
		for _, r := range releases {
			if r.GetTagName() == tag {
				g.remember(tag, r.GetID())
				return r, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return nil, sdk.ErrReleaseNotFound
		}
		opts.Page = resp.NextPage
	}
}

func (g *GitHubStore) known(tag string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, fnd := g.ids[tag]
	return id, fnd
}

func (g *GitHubStore) remember(tag string, id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ids[tag] = id
}

func toRecord(rel *github.RepositoryRelease) *sdk.ReleaseRecord {
	rec := &sdk.ReleaseRecord{
		Tag:   rel.GetTagName(),
		Name:  rel.GetName(),
		Notes: rel.GetBody(),
		Draft: rel.GetDraft(),
	}
	if rel.PublishedAt != nil {
		t := rel.PublishedAt.Time
		rec.PublishedAt = &t
	}
	for _, a := range rel.Assets {
		rec.Assets = append(rec.Assets, a.GetName())
	}
	return rec
}

func notFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

func alreadyExists(err error) bool {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil || ghErr.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	for _, e := range ghErr.Errors {
		if e.Code == "already_exists" {
			return true
		}
	}
	return false
}

func withSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
