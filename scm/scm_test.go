package scm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner answers commands by their rendered string and records every call.
type scriptedRunner struct {
	replies map[string]string
	fail    map[string]error
	calls   []string
}

func (r *scriptedRunner) Run(_ context.Context, cmd Command) ([]byte, error) {
	key := cmd.String()
	r.calls = append(r.calls, key)
	if err := r.fail[key]; err != nil {
		return nil, err
	}
	return []byte(r.replies[key]), nil
}

func TestCommandGit_Queries(t *testing.T) {
	r := &scriptedRunner{replies: map[string]string{
		"git status --porcelain":                              " M Cargo.toml\n",
		"git rev-parse --abbrev-ref HEAD":                     "main\n",
		"git tag --merged HEAD --sort=-v:refname --list v*":   "v0.58.5\nv0.58.4\n",
		"git tag --list v0.58.5":                              "v0.58.5\n",
		"git log --no-merges --format=%H\x1f%s v0.58.5..HEAD": "abcdef0123\x1ffeat: add thing\n0123456789\x1ffix(ui): color\n",
	}}
	g := NewGit("/repo", r)
	ctx := context.Background()

	clean, err := g.IsClean(ctx)
	require.NoError(t, err)
	assert.False(t, clean)

	branch, err := g.Branch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	tag, err := g.LatestTag(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v0.58.5", tag)

	exists, err := g.TagExists(ctx, "v0.58.5")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = g.TagExists(ctx, "v0.58.6")
	require.NoError(t, err)
	assert.False(t, exists)

	commits, err := g.Log(ctx, "v0.58.5", "")
	require.NoError(t, err)
	assert.Equal(t, []Commit{{Hash: "abcdef0123", Subject: "feat: add thing"}, {Hash: "0123456789", Subject: "fix(ui): color"}}, commits)
}

func TestCommandGit_Actions(t *testing.T) {
	r := &scriptedRunner{fail: map[string]error{"git push origin main v0.58.6": errors.New("rejected")}}
	g := NewGit("/repo", r)
	ctx := context.Background()

	require.NoError(t, g.Commit(ctx, "chore(release): v0.58.6", "Cargo.toml"))
	require.NoError(t, g.Tag(ctx, "v0.58.6", "v0.58.6"))
	err := g.Push(ctx, "", "main", "v0.58.6")
	assert.ErrorContains(t, err, "rejected")

	assert.Equal(t, []string{
		"git add -- Cargo.toml",
		"git commit -m chore(release): v0.58.6",
		"git tag -a v0.58.6 -m v0.58.6",
		"git push origin main v0.58.6",
	}, r.calls)
}

func TestNotes(t *testing.T) {
	notes := Notes("v0.58.6", []Commit{
		{Hash: "1111111111", Subject: "feat(cli): new flag"},
		{Hash: "2222222222", Subject: "fix: crash on start"},
		{Hash: "3333333333", Subject: "chore(release): v0.58.5"},
		{Hash: "4444444444", Subject: "refactor internals"},
		{Hash: "5555555555", Subject: "feature flags cleanup"},
	})

	assert.Contains(t, notes, "## v0.58.6")
	assert.Contains(t, notes, "### Features\n\n- feat(cli): new flag (1111111)\n")
	assert.Contains(t, notes, "### Fixes\n\n- fix: crash on start (2222222)\n")
	assert.Contains(t, notes, "### Other changes\n\n- refactor internals (4444444)\n- feature flags cleanup (5555555)\n")
	assert.NotContains(t, notes, "v0.58.5")
	assert.Equal(t, "## v1.0.0\n\nNo notable changes.\n", Notes("v1.0.0", nil))
}

func TestChangelog_NotesFileWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "NOTES.md")
	require.NoError(t, os.WriteFile(path, []byte("hand written"), 0o644))

	r := &scriptedRunner{}
	c := Changelog{Git: NewGit("/repo", r), NotesFile: path}
	notes, err := c.Generate(context.Background(), "v0.58.5", "v0.58.6")
	require.NoError(t, err)
	assert.Equal(t, "hand written", notes)
	assert.Empty(t, r.calls)
}

func TestDocsTrigger(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got["version"] == "0.0.0" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewDocsTrigger(DocsConfig{Url: srv.URL, Token: "t0k", Timeout: time.Second})
	require.True(t, d.Enabled())
	require.NoError(t, d.Trigger(context.Background(), "vtcode", "0.58.6"))
	assert.Equal(t, map[string]string{"name": "vtcode", "version": "0.58.6"}, got)
	assert.Equal(t, "Bearer t0k", auth)

	err := d.Trigger(context.Background(), "vtcode", "0.0.0")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "502"))

	assert.False(t, NewDocsTrigger(DocsConfig{}).Enabled())
}
