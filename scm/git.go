package scm

import (
	"context"
	"fmt"
	"strings"
)

type (
	Commit struct {
		Hash    string
		Subject string
	}

	// Git is the subset of git plumbing a release needs.
	Git interface {
		IsClean(ctx context.Context) (bool, error)
		Branch(ctx context.Context) (string, error)
		Head(ctx context.Context) (string, error)
		// LatestTag returns the most recent tag reachable from HEAD, or "" when there is none.
		LatestTag(ctx context.Context) (string, error)
		TagExists(ctx context.Context, tag string) (bool, error)
		Log(ctx context.Context, from, to string) ([]Commit, error)
		Commit(ctx context.Context, message string, paths ...string) error
		Tag(ctx context.Context, tag, message string) error
		Push(ctx context.Context, remote string, refs ...string) error
	}
)

// logSeparator splits hash and subject in `git log` output; subjects cannot contain it.
const logSeparator = "\x1f"

func NewGit(dir string, runner Runner) *CommandGit {
	return &CommandGit{dir: dir, runner: runner}
}

// CommandGit drives the git binary in a working tree.
type CommandGit struct {
	dir    string
	runner Runner
}

func (g *CommandGit) git(ctx context.Context, args ...string) (string, error) {
	out, err := g.runner.Run(ctx, Command{Dir: g.dir, Name: "git", Args: args})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *CommandGit) IsClean(ctx context.Context) (bool, error) {
	out, err := g.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("unable to get working tree status: %w", err)
	}
	return out == "", nil
}

func (g *CommandGit) Branch(ctx context.Context) (string, error) {
	out, err := g.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("unable to get current branch: %w", err)
	}
	return out, nil
}

func (g *CommandGit) Head(ctx context.Context) (string, error) {
	out, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("unable to resolve HEAD: %w", err)
	}
	return out, nil
}

func (g *CommandGit) LatestTag(ctx context.Context) (string, error) {
	out, err := g.git(ctx, "tag", "--merged", "HEAD", "--sort=-v:refname", "--list", "v*")
	if err != nil {
		return "", fmt.Errorf("unable to list tags: %w", err)
	}
	if out == "" {
		return "", nil
	}
	return strings.SplitN(out, "\n", 2)[0], nil
}

func (g *CommandGit) TagExists(ctx context.Context, tag string) (bool, error) {
	out, err := g.git(ctx, "tag", "--list", tag)
	if err != nil {
		return false, fmt.Errorf("unable to list tags: %w", err)
	}
	return out == tag, nil
}

func (g *CommandGit) Log(ctx context.Context, from, to string) ([]Commit, error) {
	if to == "" {
		to = "HEAD"
	}
	rng := to
	if from != "" {
		rng = from + ".." + to
	}

	out, err := g.git(ctx, "log", "--no-merges", "--format=%H"+logSeparator+"%s", rng)
	if err != nil {
		return nil, fmt.Errorf("unable to read commit log %s: %w", rng, err)
	}
	return parseLog(out), nil
}

func parseLog(out string) []Commit {
	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		hash, subject, ok := strings.Cut(line, logSeparator)
		if !ok {
			continue
		}
		commits = append(commits, Commit{Hash: hash, Subject: strings.TrimSpace(subject)})
	}
	return commits
}

func (g *CommandGit) Commit(ctx context.Context, message string, paths ...string) error {
	if len(paths) > 0 {
		if _, err := g.git(ctx, append([]string{"add", "--"}, paths...)...); err != nil {
			return fmt.Errorf("unable to stage changes: %w", err)
		}
	}
	if _, err := g.git(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("unable to commit: %w", err)
	}
	return nil
}

func (g *CommandGit) Tag(ctx context.Context, tag, message string) error {
	if _, err := g.git(ctx, "tag", "-a", tag, "-m", message); err != nil {
		return fmt.Errorf("unable to create tag %s: %w", tag, err)
	}
	return nil
}

func (g *CommandGit) Push(ctx context.Context, remote string, refs ...string) error {
	if remote == "" {
		remote = "origin"
	}
	if _, err := g.git(ctx, append([]string{"push", remote}, refs...)...); err != nil {
		return fmt.Errorf("unable to push to %s: %w", remote, err)
	}
	return nil
}
