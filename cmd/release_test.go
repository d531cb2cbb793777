package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shono-io/shipwright/sdk"
	"github.com/shono-io/shipwright/version"
)

func TestReleaseFlags_Options(t *testing.T) {
	var f releaseFlags
	c := &cobra.Command{Use: "release"}
	f.register(c, true)

	require.NoError(t, c.ParseFlags([]string{
		"--skip-brew", "--skip-docs", "--dry-run",
		"--target", "aarch64-unknown-linux-gnu:cross",
		"--resume-from", "vtcode-core",
	}))

	opts := f.options(version.MinorBump)
	assert.Equal(t, version.MinorBump, opts.Bump)
	assert.True(t, opts.DryRun)
	assert.Equal(t, []sdk.Stage{sdk.BrewStage, sdk.DocsStage}, opts.Skip)
	assert.Equal(t, []string{"aarch64-unknown-linux-gnu:cross"}, opts.Targets)
	assert.Equal(t, "vtcode-core", opts.ResumeFrom)
}

func TestPublishFlags_HaveNoSkips(t *testing.T) {
	var f releaseFlags
	c := &cobra.Command{Use: "publish"}
	f.register(c, false)

	require.NoError(t, c.ParseFlags([]string{"--version", "0.58.6"}))
	assert.Nil(t, c.Flags().Lookup("skip-brew"))

	opts := f.options("")
	assert.Equal(t, "0.58.6", opts.Version)
	assert.Empty(t, opts.Skip)
}
