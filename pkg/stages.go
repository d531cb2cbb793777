package pkg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/dist"
	"github.com/shono-io/shipwright/exec"
	"github.com/shono-io/shipwright/pack"
	"github.com/shono-io/shipwright/publish"
	"github.com/shono-io/shipwright/repo"
	"github.com/shono-io/shipwright/scm"
	"github.com/shono-io/shipwright/sdk"
	"github.com/shono-io/shipwright/version"
)

// execution is the state carried from one stage to the next within a run.
type execution struct {
	*Orchestrator
	opts    Options
	run     *sdk.PipelineRun
	log     zerolog.Logger
	skips   map[sdk.Stage]string
	scratch string

	current     sdk.Version
	next        sdk.Version
	previousTag string
	commit      string
	dir         string
	notes       string

	// files are the artifacts this run produced, nil when binaries did not run.
	files     []string
	checksums map[string]sdk.Checksum
}

func (e *execution) enabled(s sdk.Stage) bool {
	_, skipped := e.skips[s]
	return !skipped
}

func (e *execution) packager() *pack.Packager {
	return pack.NewPackager(e.cfg.PackConfig(), e.log)
}

// preview writes a would-be file into the scratch directory.
func (e *execution) preview(res *sdk.StageResult, name string, content []byte) {
	path := filepath.Join(e.scratch, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		res.Note(fmt.Sprintf("unable to write preview %s: %v", name, err))
		return
	}
	res.Note("preview written to " + path)
}

func (e *execution) preflight(ctx context.Context, res *sdk.StageResult) error {
	var problems []string

	if e.enabled(sdk.ReleaseStage) && e.cfg.Remote.Backend == repo.GitHubBackend {
		if e.cfg.Remote.Token == "" {
			problems = append(problems, "no release service token (GITHUB_TOKEN)")
		}
		if e.cfg.Remote.Owner == "" || e.cfg.Remote.Repository == "" {
			problems = append(problems, "remote.owner and remote.repository are required")
		}
	}
	if e.enabled(sdk.CratesStage) && e.cfg.Crates.Token == "" {
		problems = append(problems, "no crates registry token (CARGO_REGISTRY_TOKEN)")
	}
	if e.enabled(sdk.NpmStage) && e.cfg.Npm.Token == "" {
		problems = append(problems, "no npm token (NPM_TOKEN)")
	}

	if e.enabled(sdk.GitStage) {
		clean, err := e.deps.Git.IsClean(ctx)
		switch {
		case err != nil:
			problems = append(problems, err.Error())
		case !clean:
			problems = append(problems, "working tree has uncommitted changes")
		}

		if len(e.cfg.Git.Branches) > 0 {
			branch, err := e.deps.Git.Branch(ctx)
			if err != nil {
				problems = append(problems, err.Error())
			} else if !slices.Contains(e.cfg.Git.Branches, branch) {
				problems = append(problems, fmt.Sprintf("branch %s is not a release branch %v", branch, e.cfg.Git.Branches))
			}
		}
	}

	if len(problems) == 0 {
		res.Note("all preconditions met")
		return nil
	}
	if e.opts.DryRun {
		for _, p := range problems {
			res.Warn(p)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", sdk.ErrPrecondition, strings.Join(problems, "; "))
}

func (e *execution) version(ctx context.Context, res *sdk.StageResult) error {
	current, err := version.ReadCargoVersion(e.cfg.ManifestPath())
	if err != nil {
		return err
	}
	e.current = current

	if e.opts.PublishOnly && e.opts.Version == "" {
		e.next = current
	} else {
		next, err := version.Resolve(current, e.opts.Version, e.opts.Bump)
		if err != nil {
			return err
		}
		e.next = next
	}

	e.run.Version = e.next.String()
	e.dir = e.packager().Dir(e.next)
	res.Note(fmt.Sprintf("%s -> %s", e.current, e.next))

	if e.opts.Version != "" && !e.opts.PublishOnly && !e.current.Less(e.next) {
		res.Warn(fmt.Sprintf("version %s is not greater than current %s, treating as a rerun", e.next, e.current))
	}

	if e.deps.Git != nil {
		e.previousTag = e.findPreviousTag(ctx)
	}
	return nil
}

// findPreviousTag prefers the tag of the version being replaced, then the latest tag that is
// not the one being released.
func (e *execution) findPreviousTag(ctx context.Context) string {
	if e.current != e.next {
		if ok, err := e.deps.Git.TagExists(ctx, e.current.Tag()); err == nil && ok {
			return e.current.Tag()
		}
	}
	latest, err := e.deps.Git.LatestTag(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("unable to find previous tag")
		return ""
	}
	if latest == e.next.Tag() {
		return ""
	}
	return latest
}

func (e *execution) manifest(_ context.Context, res *sdk.StageResult) error {
	path := e.cfg.ManifestPath()
	if e.current == e.next {
		res.Note("manifest already at " + e.next.String())
		return nil
	}

	if e.opts.DryRun {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("unable to read manifest: %w", err)
		}
		updated, err := version.SetCargoVersion(content, e.next)
		if err != nil {
			return err
		}
		res.Note(fmt.Sprintf("would set %s version to %s", filepath.Base(path), e.next))
		e.preview(res, filepath.Base(path), updated)
		return nil
	}

	if err := version.WriteCargoVersion(path, e.next); err != nil {
		return err
	}
	res.Note(fmt.Sprintf("%s set to %s", filepath.Base(path), e.next))
	return nil
}

func (e *execution) git(ctx context.Context, res *sdk.StageResult) error {
	g := e.deps.Git
	tag := e.next.Tag()

	exists, err := g.TagExists(ctx, tag)
	if err != nil {
		return err
	}
	if exists {
		res.Note(fmt.Sprintf("tag %s already exists, nothing to commit", tag))
		if e.commit, err = g.Head(ctx); err != nil {
			res.Warn(fmt.Sprintf("unable to resolve HEAD: %v", err))
		}
		return nil
	}

	if e.opts.DryRun {
		res.Note(fmt.Sprintf("would commit %q, tag %s and push to %s", e.cfg.CommitMessage(e.next), tag, e.cfg.Git.Remote))
		return nil
	}

	clean, err := g.IsClean(ctx)
	if err != nil {
		return err
	}
	if !clean {
		if err := g.Commit(ctx, e.cfg.CommitMessage(e.next), e.cfg.Manifest); err != nil {
			return err
		}
		res.Note("committed " + e.cfg.Manifest)
	}

	if err := g.Tag(ctx, tag, tag); err != nil {
		return err
	}
	res.Note("tagged " + tag)

	if e.commit, err = g.Head(ctx); err != nil {
		return err
	}

	branch, err := g.Branch(ctx)
	if err != nil {
		res.Warn(fmt.Sprintf("unable to push: %v", err))
		return nil
	}
	if err := g.Push(ctx, e.cfg.Git.Remote, branch, tag); err != nil {
		res.Warn(fmt.Sprintf("push failed: %v", err))
		return nil
	}
	res.Note(fmt.Sprintf("pushed %s and %s", branch, tag))
	return nil
}

func (e *execution) binaries(ctx context.Context, res *sdk.StageResult) error {
	coord := exec.NewCoordinator(e.deps.Builders, e.cfg.Build.Parallelism, e.log)
	targets := coord.Discover(ctx, e.cfg.TargetSet(), e.opts.Targets)
	packager := e.packager()
	if !e.opts.DryRun {
		e.files = []string{}
	}

	if len(targets) == 0 {
		res.Warn("no targets to build")
		return nil
	}

	if e.opts.DryRun {
		for _, t := range targets {
			tr := e.run.Target(t.Triple)
			tr.Build = sdk.PlannedStatus
			tr.Archive = sdk.ArchiveName(e.cfg.Name, e.next, t.Triple, packager.Format(t))
			res.Note(fmt.Sprintf("would build %s (%s) into %s", t.Triple, t.Strategy, tr.Archive))
		}
		return nil
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("unable to create output directory: %w", err)
	}

	req := exec.BuildRequest{Version: e.next, ProjectDir: e.cfg.ProjectDir, BinaryName: e.cfg.Binary}
	results := coord.Run(ctx, req, targets, func(ctx context.Context, t sdk.Target, binaryPath string) (*sdk.BuildArtifact, error) {
		return packager.Package(e.next, t, binaryPath)
	})

	var archives []string
	owner := map[string]string{}
	for _, t := range targets {
		r := results[t.Triple]
		tr := e.run.Target(t.Triple)
		tr.Build = r.Status
		e.deps.Recorder.Target(ctx, t.Triple, string(r.Status))

		switch {
		case r.Err != nil:
			tr.Error = r.Err.Error()
			res.Warn(fmt.Sprintf("%s: %v", t.Triple, r.Err))
		case r.PackageErr != nil:
			tr.Error = r.PackageErr.Error()
			res.Warn(fmt.Sprintf("%s: %v", t.Triple, r.PackageErr))
		case r.Artifact != nil:
			tr.Packaged = true
			tr.Archive = filepath.Base(r.Artifact.ArchivePath)
			archives = append(archives, r.Artifact.ArchivePath)
			owner[r.Artifact.ArchivePath] = t.Triple
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(archives) == 0 {
		res.Warn("no target produced an artifact")
		return nil
	}

	calc := pack.NewCalculator(e.deps.Digesters, e.log)
	sums, err := calc.Compute(ctx, e.dir, archives)
	if err != nil {
		return err
	}

	for _, s := range sums {
		triple := owner[s.ArtifactPath]
		e.run.Target(triple).Checksummed = true
		e.checksums[triple] = *s
		e.files = append(e.files, s.ArtifactPath, s.ArtifactPath+pack.SidecarSuffix)
	}
	e.files = append(e.files, filepath.Join(e.dir, pack.ManifestName))

	res.Note(fmt.Sprintf("%d of %d targets packaged into %s", len(archives), len(targets), e.dir))
	return nil
}

func (e *execution) changelog(ctx context.Context, res *sdk.StageResult) error {
	cl := scm.Changelog{Git: e.deps.Git, NotesFile: e.opts.NotesFile}
	notes, err := cl.Generate(ctx, e.previousTag, e.next.Tag())
	if err != nil {
		if e.opts.NotesFile != "" {
			return err
		}
		res.Warn(fmt.Sprintf("unable to generate notes: %v", err))
		notes = scm.Notes(e.next.Tag(), nil)
	}
	e.notes = notes

	switch {
	case e.opts.NotesFile != "":
		res.Note("notes read from " + e.opts.NotesFile)
	case e.previousTag != "":
		res.Note(fmt.Sprintf("notes generated from %s..HEAD", e.previousTag))
	default:
		res.Note("notes generated from full history")
	}

	if e.opts.DryRun {
		e.preview(res, "NOTES.md", []byte(notes))
	}
	return nil
}

// plannedFiles lists the upload set of a dry run from the planned targets.
func (e *execution) plannedFiles() []string {
	var files []string
	for _, t := range e.run.Targets {
		if t.Archive == "" {
			continue
		}
		p := filepath.Join(e.dir, t.Archive)
		files = append(files, p, p+pack.SidecarSuffix)
	}
	if len(files) > 0 {
		files = append(files, filepath.Join(e.dir, pack.ManifestName))
	}
	return files
}

func (e *execution) release(ctx context.Context, res *sdk.StageResult) error {
	tag := e.next.Tag()
	pub := publish.NewPublisher(e.deps.Store, e.cfg.PublishConfig(), e.log)

	files := e.files
	if files == nil && e.opts.DryRun && e.enabled(sdk.BinariesStage) {
		files = e.plannedFiles()
	}
	if files == nil {
		planned, err := pub.Plan(e.dir)
		if err != nil {
			if e.opts.DryRun {
				res.Warn(err.Error())
				return nil
			}
			return err
		}
		files = planned
		e.adoptArchives(files)
	}

	if e.opts.DryRun {
		policy := e.cfg.PublishConfig().Policy
		res.Note(fmt.Sprintf("would poll %s up to %d times every %s, create it as %q (draft=%t) if missing",
			tag, policy.Attempts, policy.Interval, e.cfg.Title(e.next), e.cfg.Release.Draft))
		for _, f := range files {
			res.Note("would upload " + filepath.Base(f))
		}
		return nil
	}

	result, err := pub.PublishFiles(ctx, publish.Request{
		Tag:    tag,
		Title:  e.cfg.Title(e.next),
		Notes:  e.notes,
		Commit: e.commit,
		Dir:    e.dir,
	}, files)
	if err != nil {
		return err
	}

	if result.Created {
		res.Note("created release " + tag)
	} else {
		res.Note("reused release " + tag)
	}
	for _, w := range result.Warnings {
		res.Warn(w)
	}
	for _, a := range result.Failed() {
		res.Warn(fmt.Sprintf("upload of %s failed: %v", a.Name, a.Err))
	}

	for _, t := range e.run.Targets {
		if t.Archive != "" && result.Uploaded(t.Archive) && result.Uploaded(t.Archive+pack.SidecarSuffix) {
			t.Uploaded = true
		}
	}
	res.Note(fmt.Sprintf("%d of %d assets uploaded", len(result.Assets)-len(result.Failed()), len(files)))
	return nil
}

// adoptArchives adds target rows for archives found on disk by a publish-only run.
func (e *execution) adoptArchives(files []string) {
	prefix := fmt.Sprintf("%s-v%s-", e.cfg.Name, e.next)
	for _, f := range files {
		name := filepath.Base(f)
		for _, format := range []sdk.ArchiveFormat{sdk.TarGzFormat, sdk.ZipFormat} {
			suffix := "." + string(format)
			if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix) {
				tr := e.run.Target(strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix))
				tr.Archive = name
				tr.Packaged = true
				_, err := os.Stat(f + pack.SidecarSuffix)
				tr.Checksummed = err == nil
			}
		}
	}
}

func (e *execution) crates(ctx context.Context, res *sdk.StageResult) error {
	seq := dist.NewSequence(e.cfg.CratesConfig(), e.deps.Runner, e.log)

	if e.opts.DryRun {
		items, err := seq.Plan(e.opts.ResumeFrom)
		if err != nil {
			return err
		}
		for _, i := range items {
			if i.Status == dist.ItemSkipped {
				res.Note("would skip " + i.Name)
			} else {
				res.Note("would publish " + i.Name)
			}
		}
		return nil
	}

	result, err := seq.Publish(ctx, e.opts.ResumeFrom)
	if result == nil {
		return err
	}
	for _, i := range result.Items {
		res.Note(fmt.Sprintf("%s: %s", i.Name, i.Status))
	}
	if err != nil {
		res.Warn(err.Error())
	}
	return nil
}

func (e *execution) applyOutcome(res *sdk.StageResult, out *dist.Outcome, err error) {
	if err != nil {
		res.Warn(err.Error())
		return
	}
	for _, w := range out.Warnings {
		res.Warn(w)
	}
	if out.Changed {
		res.Note("updated to " + e.next.String())
	} else if !out.Skipped {
		res.Note("already at " + e.next.String())
	}
}

func (e *execution) npm(ctx context.Context, res *sdk.StageResult) error {
	n := dist.NewNpmUpdater(e.cfg.NpmConfig(), e.deps.Runner, e.log)

	if e.opts.DryRun {
		doc, _, err := n.Render(e.next, e.checksums)
		if err != nil {
			res.Warn(err.Error())
			return nil
		}
		res.Note(fmt.Sprintf("would publish npm package at %s", e.next))
		if len(e.cfg.Npm.Targets) > 0 {
			res.Note(fmt.Sprintf("would record checksums for %v", e.cfg.Npm.Targets))
		}
		e.preview(res, "package.json", doc)
		return nil
	}

	out, err := n.Update(ctx, e.next, e.checksums)
	e.applyOutcome(res, out, err)
	return nil
}

func (e *execution) brew(ctx context.Context, res *sdk.StageResult) error {
	b := dist.NewBrewUpdater(e.cfg.BrewConfig(), e.deps.TapGit, e.log)

	if e.opts.DryRun {
		_, content, err := b.Render(e.next, map[string]string{})
		if err != nil {
			res.Warn(err.Error())
			return nil
		}
		res.Note(fmt.Sprintf("would set formula version %s and sha256 for %v", e.next, e.cfg.Brew.Targets))
		e.preview(res, filepath.Base(e.cfg.Brew.Formula), []byte(content))
		return nil
	}

	out, err := b.Update(ctx, e.next, e.checksums)
	e.applyOutcome(res, out, err)
	return nil
}

func (e *execution) docs(ctx context.Context, res *sdk.StageResult) error {
	if e.opts.DryRun {
		res.Note("would trigger a docs rebuild for " + e.next.String())
		return nil
	}

	if err := e.deps.Docs.Trigger(ctx, e.cfg.Name, e.next.String()); err != nil {
		res.Warn(err.Error())
		return nil
	}
	res.Note("docs rebuild triggered")
	return nil
}
