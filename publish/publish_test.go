package publish_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shono-io/shipwright/pack"
	"github.com/shono-io/shipwright/publish"
	"github.com/shono-io/shipwright/repo"
	"github.com/shono-io/shipwright/sdk"
)

const tag = "v0.58.6"

var fastPolicy = publish.Policy{Attempts: 3, Interval: 0}

// artifactDir lays out archives with sidecars and a manifest the way the checksum stage does.
func artifactDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	var archives []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte(n), 0o644))
		archives = append(archives, p)
	}
	calc := pack.NewCalculator([]pack.Digester{pack.BuiltinDigester{}}, zerolog.Nop())
	_, err := calc.Compute(context.Background(), dir, archives)
	require.NoError(t, err)
	return dir
}

func TestPublish_CreatesWhenMissing(t *testing.T) {
	store := repo.NewMemoryStore()
	pub := publish.NewPublisher(store, publish.Config{Policy: fastPolicy}, zerolog.Nop())
	dir := artifactDir(t, "vtcode-v0.58.6-x86_64-apple-darwin.tar.gz")

	res, err := pub.Publish(context.Background(), publish.Request{Tag: tag, Title: tag, Notes: "notes", Dir: dir})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, publish.AssetsUploaded, res.State)
	assert.Equal(t, 1, store.Creates)
	assert.Equal(t, 3, store.Gets, "poller exhausts its attempts before creating")

	rec, err := store.Get(context.Background(), tag)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"vtcode-v0.58.6-x86_64-apple-darwin.tar.gz",
		"vtcode-v0.58.6-x86_64-apple-darwin.tar.gz.sha256",
		"checksums.txt",
	}, rec.Assets)
	assert.Equal(t, "notes", rec.Notes)
}

func TestPublish_WaitsForEventuallyVisibleRelease(t *testing.T) {
	store := repo.NewMemoryStore()
	store.Seed(sdk.ReleaseRecord{Tag: tag, Notes: "from automation", Draft: true})
	store.HideFor(tag, 2)

	pub := publish.NewPublisher(store, publish.Config{Draft: true, Policy: publish.Policy{Attempts: 5}}, zerolog.Nop())
	res, err := pub.Publish(context.Background(), publish.Request{Tag: tag, Notes: "local", Dir: artifactDir(t, "a.tar.gz")})
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, 0, store.Creates)
	assert.Equal(t, 3, store.Gets)
	assert.Equal(t, "from automation", res.Record.Notes)
	assert.Empty(t, res.Warnings)
}

func TestPublish_RerunAgainstPublishedRelease(t *testing.T) {
	const asset = "vtcode-v0.58.6-x86_64-apple-darwin.tar.gz"
	published := time.Now()
	store := repo.NewMemoryStore()
	store.Seed(sdk.ReleaseRecord{Tag: tag, Notes: "shipped", PublishedAt: &published, Assets: []string{asset}})

	pub := publish.NewPublisher(store, publish.Config{Policy: fastPolicy}, zerolog.Nop())
	res, err := pub.Publish(context.Background(), publish.Request{Tag: tag, Notes: "rewritten", Dir: artifactDir(t, asset)})
	require.NoError(t, err)

	assert.Equal(t, publish.AssetsUploaded, res.State)
	assert.Equal(t, 0, store.Creates, "existing release is reused")

	rec, err := store.Get(context.Background(), tag)
	require.NoError(t, err)
	count := 0
	for _, a := range rec.Assets {
		if a == asset {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, "shipped", rec.Notes)

	b, fnd := store.Asset(tag, asset)
	assert.True(t, fnd)
	assert.Equal(t, asset, string(b), "asset content replaced by the re-upload")
}

func TestPublish_DraftMismatchIsWarning(t *testing.T) {
	store := repo.NewMemoryStore()
	store.Seed(sdk.ReleaseRecord{Tag: tag, Draft: false})

	pub := publish.NewPublisher(store, publish.Config{Draft: true, Policy: fastPolicy}, zerolog.Nop())
	res, err := pub.Publish(context.Background(), publish.Request{Tag: tag, Dir: artifactDir(t, "a.tar.gz")})
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 1)
}

func TestPublish_SingleUploadFailureIsContained(t *testing.T) {
	store := repo.NewMemoryStore()
	store.FailUpload("b.tar.gz", errors.New("502 bad gateway"))

	pub := publish.NewPublisher(store, publish.Config{Policy: fastPolicy}, zerolog.Nop())
	res, err := pub.Publish(context.Background(), publish.Request{Tag: tag, Dir: artifactDir(t, "a.tar.gz", "b.tar.gz")})
	require.NoError(t, err)

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "b.tar.gz", failed[0].Name)
	assert.True(t, res.Uploaded("a.tar.gz"))
	assert.True(t, res.Uploaded("b.tar.gz.sha256"))
	assert.True(t, res.Uploaded("checksums.txt"))
}

func TestPublish_AllUploadsFailing(t *testing.T) {
	store := repo.NewMemoryStore()
	boom := errors.New("boom")
	for _, n := range []string{"a.tar.gz", "a.tar.gz.sha256", "checksums.txt"} {
		store.FailUpload(n, boom)
	}

	pub := publish.NewPublisher(store, publish.Config{Policy: fastPolicy}, zerolog.Nop())
	_, err := pub.Publish(context.Background(), publish.Request{Tag: tag, Dir: artifactDir(t, "a.tar.gz")})
	assert.ErrorIs(t, err, sdk.ErrPublishFailed)
}

func TestPublish_NoArtifacts(t *testing.T) {
	store := repo.NewMemoryStore()
	pub := publish.NewPublisher(store, publish.Config{Policy: fastPolicy}, zerolog.Nop())

	_, err := pub.Publish(context.Background(), publish.Request{Tag: tag, Dir: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorIs(t, err, sdk.ErrPublishFailed)

	_, err = pub.Publish(context.Background(), publish.Request{Tag: tag, Dir: t.TempDir()})
	assert.ErrorIs(t, err, sdk.ErrPublishFailed)
	assert.Equal(t, 0, store.Gets, "nothing is polled when there is nothing to upload")
}

func TestPublish_ConcurrentInvocationsConverge(t *testing.T) {
	store := repo.NewMemoryStore()
	dir := artifactDir(t, "a.tar.gz")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub := publish.NewPublisher(store, publish.Config{Policy: publish.Policy{Attempts: 1}}, zerolog.Nop())
			_, errs[i] = pub.Publish(context.Background(), publish.Request{Tag: tag, Dir: dir})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, store.Creates)

	rec, err := store.Get(context.Background(), tag)
	require.NoError(t, err)
	assert.Len(t, rec.Assets, 3)
}

func TestPlan(t *testing.T) {
	dir := artifactDir(t, "b.zip", "a.tar.gz")
	pub := publish.NewPublisher(repo.NewMemoryStore(), publish.Config{}, zerolog.Nop())

	files, err := pub.Plan(dir)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	assert.Equal(t, []string{"a.tar.gz", "a.tar.gz.sha256", "b.zip", "b.zip.sha256", "checksums.txt"}, names)
}

type flakyStore struct {
	repo.Store
	gets int
	err  error
}

func (f *flakyStore) Get(context.Context, string) (*sdk.ReleaseRecord, error) {
	f.gets++
	return nil, f.err
}

func TestPoller_BoundedOnErrors(t *testing.T) {
	store := &flakyStore{err: errors.New("503")}
	p := publish.NewPoller(store, publish.Policy{Attempts: 4}, zerolog.Nop())

	res, err := p.Poll(context.Background(), tag)
	require.NoError(t, err)
	assert.Equal(t, publish.NotFoundAfterRetries, res.State)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 4, store.gets)
	assert.EqualError(t, res.LastErr, "503")
}

func TestPoller_Cancelled(t *testing.T) {
	store := &flakyStore{err: sdk.ErrReleaseNotFound}
	p := publish.NewPoller(store, publish.Policy{Attempts: 10, Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Poll(ctx, tag)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, 1, store.gets)
}

func TestPolicy_MaxWait(t *testing.T) {
	assert.Equal(t, 12*time.Second, publish.DefaultPolicy.MaxWait())
	assert.Equal(t, time.Duration(0), publish.Policy{Attempts: 1, Interval: time.Hour}.MaxWait())
}
