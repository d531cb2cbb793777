// Package scm holds the source-control collaborators of a release: git plumbing, release
// notes generation and the documentation rebuild ping.
package scm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"

	"github.com/rs/zerolog"
)

type (
	// Command is one invocation of an external tool.
	Command struct {
		Dir  string
		Name string
		Args []string
		// Env is appended to the host environment.
		Env []string
	}

	// Runner runs external tools and returns their combined output.
	Runner interface {
		Run(ctx context.Context, cmd Command) ([]byte, error)
	}
)

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

func NewCommandRunner(log zerolog.Logger) *CommandRunner {
	return &CommandRunner{log: log}
}

type CommandRunner struct {
	log zerolog.Logger
}

func (r *CommandRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	c := osexec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	r.log.Debug().Str("dir", cmd.Dir).Str("cmd", cmd.String()).Msg("running")
	if err := c.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("unable to run %q: %w: %s", cmd.String(), err, strings.TrimSpace(out.String()))
	}
	return out.Bytes(), nil
}
