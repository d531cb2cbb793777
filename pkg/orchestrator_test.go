package pkg

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shono-io/shipwright/exec"
	"github.com/shono-io/shipwright/pack"
	"github.com/shono-io/shipwright/repo"
	"github.com/shono-io/shipwright/scm"
	"github.com/shono-io/shipwright/sdk"
	"github.com/shono-io/shipwright/version"
)

const (
	darwin = "x86_64-apple-darwin"
	musl   = "x86_64-unknown-linux-musl"
)

const cargoToml = `[package]
name = "vtcode"
version = "0.58.5"
edition = "2021"
`

type fakeBuilder struct {
	strategy     sdk.BuildStrategy
	availableErr error
	fail         map[string]error

	mu     sync.Mutex
	builds int
}

func (f *fakeBuilder) Strategy() sdk.BuildStrategy { return f.strategy }

func (f *fakeBuilder) Available(context.Context) error { return f.availableErr }

func (f *fakeBuilder) Build(_ context.Context, req exec.BuildRequest) (string, error) {
	f.mu.Lock()
	f.builds++
	f.mu.Unlock()

	if err := f.fail[req.Target.Triple]; err != nil {
		return "", err
	}
	path := exec.BinaryPath(req.ProjectDir, req.BinaryName, req.Target)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, []byte("binary for "+req.Target.Triple), 0o755)
}

// fakeGit tracks the manifest against its last committed content.
type fakeGit struct {
	manifest  string
	committed []byte
	tags      []string
	commits   []string
	pushes    int
	headErr   error
}

func newFakeGit(t *testing.T, manifest string) *fakeGit {
	b, err := os.ReadFile(manifest)
	require.NoError(t, err)
	return &fakeGit{manifest: manifest, committed: b}
}

func (g *fakeGit) IsClean(context.Context) (bool, error) {
	b, err := os.ReadFile(g.manifest)
	if err != nil {
		return false, err
	}
	return bytes.Equal(b, g.committed), nil
}

func (g *fakeGit) Branch(context.Context) (string, error) { return "main", nil }

func (g *fakeGit) Head(context.Context) (string, error) {
	if g.headErr != nil {
		return "", g.headErr
	}
	return "0123456789abcdef", nil
}

func (g *fakeGit) LatestTag(context.Context) (string, error) {
	if len(g.tags) == 0 {
		return "", nil
	}
	return g.tags[len(g.tags)-1], nil
}

func (g *fakeGit) TagExists(_ context.Context, tag string) (bool, error) {
	for _, t := range g.tags {
		if t == tag {
			return true, nil
		}
	}
	return false, nil
}

func (g *fakeGit) Log(context.Context, string, string) ([]scm.Commit, error) {
	return []scm.Commit{{Hash: "abcdef0123", Subject: "fix: tolerate missing toolchains"}}, nil
}

func (g *fakeGit) Commit(_ context.Context, message string, _ ...string) error {
	b, err := os.ReadFile(g.manifest)
	if err != nil {
		return err
	}
	g.committed = b
	g.commits = append(g.commits, message)
	return nil
}

func (g *fakeGit) Tag(_ context.Context, tag, _ string) error {
	g.tags = append(g.tags, tag)
	return nil
}

func (g *fakeGit) Push(context.Context, string, ...string) error {
	g.pushes++
	return nil
}

type fixture struct {
	dir    string
	cfg    Config
	store  *repo.MemoryStore
	native *fakeBuilder
	cross  *fakeBuilder
	git    *fakeGit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(cargoToml), 0o644))

	f := &fixture{
		dir:    dir,
		store:  repo.NewMemoryStore(),
		native: &fakeBuilder{strategy: sdk.NativeStrategy},
		cross:  &fakeBuilder{strategy: sdk.CrossStrategy, availableErr: errors.New("docker daemon not reachable")},
		git:    newFakeGit(t, filepath.Join(dir, "Cargo.toml")),
	}
	f.cfg = Config{
		ProjectDir: dir,
		Name:       "vtcode",
		Binary:     "vtcode",
		Manifest:   "Cargo.toml",
		OutputDir:  "dist",
		Release:    ReleaseConfig{Title: "{tag}", PollAttempts: 2},
		Remote:     RemoteConfig{Backend: repo.GitHubBackend, Owner: "vinhnx", Repository: "vtcode", Token: "secret"},
		Build: BuildConfig{Targets: []TargetConfig{
			{Triple: darwin},
			{Triple: musl, Strategy: string(sdk.CrossStrategy)},
		}},
		Package: PackageConfig{Zip: true},
		Git:     GitConfig{Remote: "origin"},
	}
	return f
}

func (f *fixture) orchestrator() *Orchestrator {
	return NewOrchestrator(f.cfg, Deps{
		Store:     f.store,
		Builders:  []exec.Builder{f.native, f.cross},
		Git:       f.git,
		Digesters: []pack.Digester{pack.BuiltinDigester{}},
	}, zerolog.Nop())
}

func (f *fixture) releaseDir() string {
	return filepath.Join(f.dir, "dist", "v0.58.6")
}

func TestRun_PatchWithMissingToolchain(t *testing.T) {
	f := newFixture(t)

	run, err := f.orchestrator().Run(context.Background(), Options{Bump: version.PatchBump})
	require.NoError(t, err)

	assert.Equal(t, "0.58.6", run.Version)
	assert.Equal(t, sdk.SuccessWithWarningsRun, run.Status)
	assert.Empty(t, run.FailedStage)

	v, err := version.ReadCargoVersion(filepath.Join(f.dir, "Cargo.toml"))
	require.NoError(t, err)
	assert.Equal(t, "0.58.6", v.String())
	assert.Equal(t, []string{"chore(release): v0.58.6"}, f.git.commits)
	assert.Equal(t, []string{"v0.58.6"}, f.git.tags)

	built := run.Targets[darwin]
	require.NotNil(t, built)
	assert.Equal(t, sdk.BuiltStatus, built.Build)
	assert.True(t, built.Packaged)
	assert.True(t, built.Checksummed)
	assert.True(t, built.Uploaded)
	assert.Equal(t, "vtcode-v0.58.6-x86_64-apple-darwin.tar.gz", built.Archive)

	skipped := run.Targets[musl]
	require.NotNil(t, skipped)
	assert.Equal(t, sdk.UnavailableStatus, skipped.Build)
	assert.False(t, skipped.Uploaded)
	assert.Equal(t, 0, f.cross.builds)

	manifest, err := os.ReadFile(filepath.Join(f.releaseDir(), pack.ManifestName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(manifest)), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], "  vtcode-v0.58.6-x86_64-apple-darwin.tar.gz"))

	rec, err := f.store.Get(context.Background(), "v0.58.6")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"vtcode-v0.58.6-x86_64-apple-darwin.tar.gz",
		"vtcode-v0.58.6-x86_64-apple-darwin.tar.gz.sha256",
		"checksums.txt",
	}, rec.Assets)
	assert.Contains(t, rec.Notes, "fix: tolerate missing toolchains")

	assert.Equal(t, sdk.WarningStatus, run.Stages[sdk.BinariesStage].Status)
	assert.Equal(t, sdk.OkStatus, run.Stages[sdk.ReleaseStage].Status)
	assert.Equal(t, sdk.SkippedStatus, run.Stages[sdk.BrewStage].Status)
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	f.cfg.Build.Targets = []TargetConfig{{Triple: darwin}, {Triple: "aarch64-apple-darwin"}}
	f.native.fail = map[string]error{"aarch64-apple-darwin": errors.New("linker error")}

	run, err := f.orchestrator().Run(context.Background(), Options{Bump: version.PatchBump})
	require.NoError(t, err)

	assert.Equal(t, sdk.SuccessWithWarningsRun, run.Status)
	assert.Equal(t, sdk.BuildFailedStatus, run.Targets["aarch64-apple-darwin"].Build)
	assert.Contains(t, run.Targets["aarch64-apple-darwin"].Error, "linker error")
	assert.True(t, run.Targets[darwin].Uploaded)
	assert.Equal(t, 1, f.store.Creates)
}

func TestRun_TwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orchestrator().Run(ctx, Options{Version: "0.58.6"})
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(f.releaseDir(), pack.ManifestName))
	require.NoError(t, err)
	firstRec, err := f.store.Get(ctx, "v0.58.6")
	require.NoError(t, err)

	run, err := f.orchestrator().Run(ctx, Options{Version: "0.58.6"})
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(f.releaseDir(), pack.ManifestName))
	require.NoError(t, err)
	secondRec, err := f.store.Get(ctx, "v0.58.6")
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second), "checksums are stable across runs")
	assert.ElementsMatch(t, firstRec.Assets, secondRec.Assets)
	assert.Len(t, secondRec.Assets, 3)
	assert.Equal(t, 1, f.store.Creates)
	assert.Len(t, f.git.commits, 1)
	assert.Len(t, f.git.tags, 1)

	archives, err := pack.Archives(f.releaseDir())
	require.NoError(t, err)
	assert.Len(t, archives, 1)
	assert.Contains(t, run.Stages[sdk.GitStage].Messages[0], "already exists")
}

func TestRun_DryRunHasNoSideEffects(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	f := newFixture(t)
	run, err := f.orchestrator().Run(context.Background(), Options{Bump: version.PatchBump, DryRun: true})
	require.NoError(t, err)

	assert.True(t, run.DryRun)
	assert.Equal(t, "0.58.6", run.Version)
	assert.Equal(t, sdk.SuccessRun, run.Status)
	assert.Equal(t, sdk.PlannedStatus, run.Targets[darwin].Build)
	assert.Equal(t, sdk.PlannedStatus, run.Targets[musl].Build)

	b, err := os.ReadFile(filepath.Join(f.dir, "Cargo.toml"))
	require.NoError(t, err)
	assert.Equal(t, cargoToml, string(b))

	_, err = os.Stat(filepath.Join(f.dir, "dist"))
	assert.True(t, os.IsNotExist(err))

	assert.Zero(t, f.store.Gets)
	assert.Zero(t, f.store.Creates)
	assert.Zero(t, f.store.Uploads)
	assert.Zero(t, f.native.builds)
	assert.Empty(t, f.git.commits)
	assert.Empty(t, f.git.tags)
	assert.Zero(t, f.git.pushes)

	leftovers, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, leftovers, "scratch directory is removed")

	var uploads []string
	for _, m := range run.Stages[sdk.ReleaseStage].Messages {
		if strings.HasPrefix(m, "would upload ") {
			uploads = append(uploads, strings.TrimPrefix(m, "would upload "))
		}
	}
	assert.Contains(t, uploads, "vtcode-v0.58.6-x86_64-apple-darwin.tar.gz")
	assert.Contains(t, uploads, "checksums.txt")
}

func TestRun_PublishOnlyReusesRelease(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, version.WriteCargoVersion(filepath.Join(f.dir, "Cargo.toml"), sdk.Version{Minor: 58, Patch: 6}))

	const asset = "vtcode-v0.58.6-x86_64-apple-darwin.tar.gz"
	require.NoError(t, os.MkdirAll(f.releaseDir(), 0o755))
	archive := filepath.Join(f.releaseDir(), asset)
	require.NoError(t, os.WriteFile(archive, []byte("archive bytes"), 0o644))
	_, err := pack.NewCalculator([]pack.Digester{pack.BuiltinDigester{}}, zerolog.Nop()).
		Compute(context.Background(), f.releaseDir(), []string{archive})
	require.NoError(t, err)

	f.store.Seed(sdk.ReleaseRecord{Tag: "v0.58.6", Notes: "published earlier", Assets: []string{asset}})

	run, err := f.orchestrator().Run(context.Background(), Options{PublishOnly: true})
	require.NoError(t, err)

	assert.Equal(t, sdk.SuccessRun, run.Status)
	assert.Equal(t, 0, f.store.Creates)
	assert.Zero(t, f.native.builds)
	assert.True(t, run.Targets[darwin].Uploaded)

	rec, err := f.store.Get(context.Background(), "v0.58.6")
	require.NoError(t, err)
	count := 0
	for _, a := range rec.Assets {
		if a == asset {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, "published earlier", rec.Notes)

	b, fnd := f.store.Asset("v0.58.6", asset)
	require.True(t, fnd)
	assert.Equal(t, "archive bytes", string(b))
}

func TestRun_PublishWithoutArtifactsFails(t *testing.T) {
	f := newFixture(t)

	run, err := f.orchestrator().Run(context.Background(), Options{PublishOnly: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, sdk.ErrPublishFailed)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, sdk.ReleaseStage, stageErr.Stage)
	assert.Equal(t, sdk.FailedRun, run.Status)
	assert.Equal(t, sdk.ReleaseStage, run.FailedStage)
	assert.Contains(t, run.SkippedAfter, sdk.DocsStage)
}

func TestRun_InvalidVersionStopsRun(t *testing.T) {
	f := newFixture(t)

	run, err := f.orchestrator().Run(context.Background(), Options{Version: "1.2"})
	assert.ErrorIs(t, err, sdk.ErrInvalidVersionFormat)
	assert.Equal(t, sdk.VersionStage, run.FailedStage)
	assert.Equal(t, []sdk.Stage{
		sdk.ManifestStage, sdk.GitStage, sdk.BinariesStage, sdk.ChangelogStage,
		sdk.ReleaseStage, sdk.CratesStage, sdk.NpmStage, sdk.BrewStage, sdk.DocsStage,
	}, run.SkippedAfter)
	assert.Zero(t, f.native.builds)
}

func TestRun_MissingCredentialsFailPreflight(t *testing.T) {
	f := newFixture(t)
	f.cfg.Remote.Token = ""

	run, err := f.orchestrator().Run(context.Background(), Options{Bump: version.PatchBump})
	assert.ErrorIs(t, err, sdk.ErrPrecondition)
	assert.Equal(t, sdk.PreflightStage, run.FailedStage)

	b, err := os.ReadFile(filepath.Join(f.dir, "Cargo.toml"))
	require.NoError(t, err)
	assert.Equal(t, cargoToml, string(b))
}

func TestPlan_SkipBinariesSkipsDependents(t *testing.T) {
	f := newFixture(t)
	f.cfg.Brew = BrewConfig{TapDir: "tap", Formula: "Formula/vtcode.rb", Targets: []string{darwin}}
	f.cfg.Npm = NpmConfig{PackageDir: "npm", Targets: []string{darwin}}

	skips := f.orchestrator().Plan(Options{Skip: []sdk.Stage{sdk.BinariesStage, sdk.PreflightStage}})

	assert.Equal(t, "skipped by flag", skips[sdk.BinariesStage])
	assert.Contains(t, skips[sdk.ReleaseStage], "binaries skipped")
	assert.Contains(t, skips[sdk.BrewStage], "no checksums")
	assert.Contains(t, skips[sdk.NpmStage], "no checksums")
	assert.NotContains(t, skips, sdk.PreflightStage)
	assert.NotContains(t, skips, sdk.ChangelogStage)
}

func TestRun_ExistingTagWithUnreadableHead(t *testing.T) {
	f := newFixture(t)
	f.git.tags = []string{"v0.58.6"}
	f.git.headErr = errors.New("bad object HEAD")

	run, err := f.orchestrator().Run(context.Background(), Options{Version: "0.58.6"})
	require.NoError(t, err)

	res := run.Stages[sdk.GitStage]
	assert.Equal(t, sdk.WarningStatus, res.Status)
	assert.Contains(t, res.Messages, "unable to resolve HEAD: bad object HEAD")
	assert.Empty(t, f.git.commits)
	assert.True(t, run.Targets[darwin].Uploaded)
}
