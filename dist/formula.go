// Package dist propagates a finished release to secondary distribution channels: a Homebrew
// tap, the npm registry and the crates registry.
package dist

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	versionLine = regexp.MustCompile(`^(\s*version\s+)"([^"]*)"(.*)$`)
	urlLine     = regexp.MustCompile(`^(\s*url\s+)"([^"]*)"(.*)$`)
	shaLine     = regexp.MustCompile(`^(\s*sha256\s+)"([^"]*)"(.*)$`)
)

type (
	// FormulaSection is the part of a formula that starts at a `url` line and runs to the
	// next one. Target is set when the url names one of the known targets.
	FormulaSection struct {
		Target  string
		Url     string
		Sha256  string
		urlLine int
		shaLine int
	}

	// Formula is a Homebrew formula parsed down to the few fields a release touches. Every
	// other line is kept verbatim.
	Formula struct {
		Version     string
		Sections    []*FormulaSection
		lines       []string
		versionLine int
	}
)

// ParseFormula reads the version line and the url/sha256 sections of a formula. targets are
// matched against each url to decide which section belongs to which target.
func ParseFormula(content string, targets []string) (*Formula, error) {
	f := &Formula{lines: strings.Split(content, "\n"), versionLine: -1}

	var current *FormulaSection
	for i, line := range f.lines {
		if m := versionLine.FindStringSubmatch(line); m != nil && f.versionLine < 0 {
			f.versionLine = i
			f.Version = m[2]
			continue
		}
		if m := urlLine.FindStringSubmatch(line); m != nil {
			current = &FormulaSection{Url: m[2], urlLine: i, shaLine: -1, Target: matchTarget(m[2], targets)}
			f.Sections = append(f.Sections, current)
			continue
		}
		if m := shaLine.FindStringSubmatch(line); m != nil && current != nil && current.shaLine < 0 {
			current.Sha256 = m[2]
			current.shaLine = i
		}
	}

	if f.versionLine < 0 {
		return nil, fmt.Errorf("formula has no version line")
	}
	return f, nil
}

// matchTarget picks the longest target contained in url, so that a triple that is a prefix
// of another does not steal its section.
func matchTarget(url string, targets []string) string {
	best := ""
	for _, t := range targets {
		if strings.Contains(url, t) && len(t) > len(best) {
			best = t
		}
	}
	return best
}

func (f *Formula) Section(target string) *FormulaSection {
	for _, s := range f.Sections {
		if s.Target == target {
			return s
		}
	}
	return nil
}

// Update sets the version, rewrites the version inside every target url and sets the sha256
// of each target section named in sums. It fails without modifying f when a target in sums
// has no section or its section has no sha256 line.
func (f *Formula) Update(version string, sums map[string]string) error {
	for target := range sums {
		s := f.Section(target)
		if s == nil {
			return fmt.Errorf("formula has no section for target %s", target)
		}
		if s.shaLine < 0 {
			return fmt.Errorf("formula section for target %s has no sha256", target)
		}
	}

	previous := f.Version
	f.Version = version
	for _, s := range f.Sections {
		if s.Target == "" {
			continue
		}
		if previous != "" && previous != version {
			s.Url = strings.ReplaceAll(s.Url, previous, version)
		}
		if sum, fnd := sums[s.Target]; fnd {
			s.Sha256 = sum
		}
	}
	return nil
}

// String re-serializes the formula; only the version, url and sha256 values change.
func (f *Formula) String() string {
	out := make([]string, len(f.lines))
	copy(out, f.lines)

	out[f.versionLine] = replaceQuoted(versionLine, out[f.versionLine], f.Version)
	for _, s := range f.Sections {
		if s.Target == "" {
			continue
		}
		out[s.urlLine] = replaceQuoted(urlLine, out[s.urlLine], s.Url)
		if s.shaLine >= 0 {
			out[s.shaLine] = replaceQuoted(shaLine, out[s.shaLine], s.Sha256)
		}
	}
	return strings.Join(out, "\n")
}

func replaceQuoted(re *regexp.Regexp, line, value string) string {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return line
	}
	return m[1] + `"` + value + `"` + m[3]
}
