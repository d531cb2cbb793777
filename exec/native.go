package exec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/sdk"
)

func NewNativeBuilder(cfg NativeConfig, log zerolog.Logger) *NativeBuilder {
	cmd := cfg.Command
	if len(cmd) == 0 {
		cmd = DefaultCommand
	}

	return &NativeBuilder{
		command: cmd,
		environ: os.Environ,
		log:     log.With().Str("builder", string(sdk.NativeStrategy)).Logger(),
	}
}

// NativeBuilder runs the host toolchain as a child process.
type NativeBuilder struct {
	command []string
	environ func() []string
	log     zerolog.Logger
}

func (n *NativeBuilder) Strategy() sdk.BuildStrategy {
	return sdk.NativeStrategy
}

func (n *NativeBuilder) Available(ctx context.Context) error {
	if _, err := osexec.LookPath(n.command[0]); err != nil {
		return fmt.Errorf("%s not found on PATH: %w", n.command[0], err)
	}
	return nil
}

func (n *NativeBuilder) Build(ctx context.Context, req BuildRequest) (string, error) {
	args := expand(n.command, req.Target)

	cmd := osexec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = req.ProjectDir
	cmd.Env = overlayEnv(n.environ(), req.Target)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	n.log.Debug().Str("target", req.Target.Triple).Strs("cmd", args).Msg("starting build")
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("build for %s failed: %w: %s", req.Target.Triple, err, tail(out.String(), 20))
	}

	return BinaryPath(req.ProjectDir, req.BinaryName, req.Target), nil
}

// overlayEnv builds a child environment from the host environment: the target's clear
// list is removed and its overlay applied. The host process environment is never modified.
func overlayEnv(host []string, t sdk.Target) []string {
	env := make(map[string]string, len(host)+len(t.Env))
	for _, kv := range host {
		k, v, fnd := strings.Cut(kv, "=")
		if !fnd {
			continue
		}
		env[k] = v
	}

	for _, k := range t.Clear {
		delete(env, k)
	}
	for k, v := range t.Env {
		env[k] = v
	}

	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

func tail(s string, lines int) string {
	parts := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}
