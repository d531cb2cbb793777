package exec

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shono-io/shipwright/sdk"
)

type (
	Config struct {
		// Parallelism bounds concurrent build jobs; zero means one job per target.
		Parallelism int
		Native      NativeConfig
		Docker      DockerConfig
	}

	NativeConfig struct {
		// Command is the build command; "{target}" is replaced by the target triple.
		Command []string
	}

	DockerConfig struct {
		FromEnv bool
		Url     string
		// ImageTemplate names the cross image; "{target}" is replaced by the target triple.
		ImageTemplate string
		Images        map[string]string
		Command       []string
		Workdir       string
		Pull          bool
	}

	BuildRequest struct {
		Version    sdk.Version
		Target     sdk.Target
		ProjectDir string
		BinaryName string
	}

	// Builder is the opaque "build a release binary for target T" collaborator.
	Builder interface {
		Strategy() sdk.BuildStrategy
		Available(ctx context.Context) error
		Build(ctx context.Context, req BuildRequest) (string, error)
	}

	BuildResult struct {
		Target     sdk.Target
		Status     sdk.BuildStatus
		BinaryPath string
		Duration   time.Duration
		Err        error

		// Artifact is set when the post-build step packaged the binary.
		Artifact   *sdk.BuildArtifact
		PackageErr error
	}
)

const (
	DefaultImageTemplate = "ghcr.io/cross-rs/{target}:main"
	DefaultWorkdir       = "/project"
)

var DefaultCommand = []string{"cargo", "build", "--release", "--target", "{target}"}

// BinaryPath is where the toolchain leaves the release binary for a target.
func BinaryPath(projectDir, binaryName string, t sdk.Target) string {
	name := binaryName
	if t.IsWindows() {
		name += ".exe"
	}
	return filepath.Join(projectDir, "target", t.Triple, "release", name)
}

func expand(args []string, t sdk.Target) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, "{target}", t.Triple)
	}
	return out
}

func unavailable(t sdk.Target, err error) error {
	return fmt.Errorf("%w for %s: %v", sdk.ErrToolingUnavailable, t.Triple, err)
}
