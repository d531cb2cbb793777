package scm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

type section struct {
	title    string
	prefixes []string
	commits  []Commit
}

// Notes renders release notes for commits, grouped by conventional-commit type. Release
// housekeeping commits are left out.
func Notes(tag string, commits []Commit) string {
	sections := []*section{
		{title: "Features", prefixes: []string{"feat"}},
		{title: "Fixes", prefixes: []string{"fix"}},
		{title: "Performance", prefixes: []string{"perf"}},
		{title: "Documentation", prefixes: []string{"docs"}},
		{title: "Other changes"},
	}

	for _, c := range commits {
		if isReleaseCommit(c.Subject) {
			continue
		}
		placed := false
		for _, s := range sections[:len(sections)-1] {
			if hasType(c.Subject, s.prefixes) {
				s.commits = append(s.commits, c)
				placed = true
				break
			}
		}
		if !placed {
			sections[len(sections)-1].commits = append(sections[len(sections)-1].commits, c)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", tag)
	empty := true
	for _, s := range sections {
		if len(s.commits) == 0 {
			continue
		}
		empty = false
		fmt.Fprintf(&b, "\n### %s\n\n", s.title)
		for _, c := range s.commits {
			fmt.Fprintf(&b, "- %s (%s)\n", c.Subject, short(c.Hash))
		}
	}
	if empty {
		b.WriteString("\nNo notable changes.\n")
	}
	return b.String()
}

func hasType(subject string, types []string) bool {
	for _, t := range types {
		rest, ok := strings.CutPrefix(subject, t)
		if !ok {
			continue
		}
		// feat: x, feat(scope): x, feat!: x
		if strings.HasPrefix(rest, ":") || strings.HasPrefix(rest, "(") || strings.HasPrefix(rest, "!") {
			return true
		}
	}
	return false
}

func isReleaseCommit(subject string) bool {
	return strings.HasPrefix(subject, "chore(release)") || strings.HasPrefix(subject, "chore: release")
}

func short(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// Changelog produces the notes of a release, either from a pre-written file or from the
// commits since the previous tag.
type Changelog struct {
	Git Git
	// NotesFile, when set, replaces generation.
	NotesFile string
}

func (c Changelog) Generate(ctx context.Context, previousTag, tag string) (string, error) {
	if c.NotesFile != "" {
		b, err := os.ReadFile(c.NotesFile)
		if err != nil {
			return "", fmt.Errorf("unable to read notes file: %w", err)
		}
		return string(b), nil
	}
	if c.Git == nil {
		return Notes(tag, nil), nil
	}

	commits, err := c.Git.Log(ctx, previousTag, "HEAD")
	if err != nil {
		return "", err
	}
	return Notes(tag, commits), nil
}
