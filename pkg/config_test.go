package pkg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shono-io/shipwright/publish"
	"github.com/shono-io/shipwright/sdk"
)

func loadFrom(t *testing.T, yaml string) (Config, error) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(cargoToml), 0o644))

	v := viper.New()
	SetDefaults(v)
	require.NoError(t, BindCredentials(v))
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	v.Set("project_dir", dir)
	return LoadConfig(v)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadFrom(t, "remote:\n  owner: vinhnx\n  repository: vtcode\n")
	require.NoError(t, err)

	assert.Equal(t, "vtcode", cfg.Name)
	assert.Equal(t, "vtcode", cfg.Binary)
	assert.Equal(t, DefaultTargets, cfg.Build.Targets)
	assert.Equal(t, DefaultCrossTargets, cfg.Build.Cross)
	assert.Equal(t, publish.DefaultPolicy, cfg.PublishConfig().Policy)
	assert.Equal(t, "chore(release): v0.58.6", cfg.CommitMessage(sdk.Version{Minor: 58, Patch: 6}))
	assert.Equal(t, filepath.Join(cfg.ProjectDir, "dist"), cfg.PackConfig().OutputDir)
}

func TestLoadConfig_CredentialsFromEnvironment(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_secret")
	t.Setenv("CARGO_REGISTRY_TOKEN", "cargo_secret")

	cfg, err := loadFrom(t, "name: vt\n")
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", cfg.Remote.Token)
	assert.Equal(t, "cargo_secret", cfg.Crates.Token)

	r := cfg.Redacted()
	assert.Equal(t, "***", r.Remote.Token)
	assert.Equal(t, "***", r.Crates.Token)
	assert.Empty(t, r.Npm.Token)
	assert.Equal(t, "ghp_secret", cfg.Remote.Token, "redaction works on a copy")
}

func TestLoadConfig_ExplicitCrossListReplacesDefaults(t *testing.T) {
	cfg, err := loadFrom(t, "build:\n  cross: []\n  targets:\n    - triple: aarch64-apple-darwin\n")
	require.NoError(t, err)
	assert.Empty(t, cfg.Build.Cross)
	require.Len(t, cfg.Build.Targets, 1)
	assert.Equal(t, "aarch64-apple-darwin", cfg.Build.Targets[0].Triple)
}

func TestLoadConfig_UnknownBackend(t *testing.T) {
	_, err := loadFrom(t, "remote:\n  backend: s3\n")
	assert.ErrorContains(t, err, "unknown remote backend")
}

func TestConfig_Title(t *testing.T) {
	cfg := Config{Name: "vtcode", Release: ReleaseConfig{Title: "{name} {version} ({tag})"}}
	assert.Equal(t, "vtcode 1.2.3 (v1.2.3)", cfg.Title(sdk.Version{Major: 1, Minor: 2, Patch: 3}))
}
