package pkg

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/shono-io/shipwright/sdk"
)

type ReportFormat string

var (
	TextReport ReportFormat = "text"
	JsonReport ReportFormat = "json"
	YamlReport ReportFormat = "yaml"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#D29922"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F85149")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8B949E"))
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
)

// WriteReport renders run in the given format.
func WriteReport(w io.Writer, run *sdk.PipelineRun, format ReportFormat) error {
	switch format {
	case JsonReport:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	case YamlReport:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(run); err != nil {
			return err
		}
		return enc.Close()
	case TextReport, "":
		_, err := io.WriteString(w, TextSummary(run))
		return err
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func styleFor(status string) lipgloss.Style {
	switch status {
	case string(sdk.OkStatus), string(sdk.SuccessRun), string(sdk.BuiltStatus), "yes":
		return okStyle
	case string(sdk.WarningStatus), string(sdk.SuccessWithWarningsRun), string(sdk.UnavailableStatus):
		return warnStyle
	case string(sdk.FailedStatus), string(sdk.FailedRun), string(sdk.BuildFailedStatus):
		return failStyle
	default:
		return mutedStyle
	}
}

func pad(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// TextSummary is the human readable report: overall status, per-stage outcome and one row
// per target.
func TextSummary(run *sdk.PipelineRun) string {
	var b strings.Builder

	title := fmt.Sprintf("release %s", run.Version)
	if run.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintf(&b, "%s  %s\n", headingStyle.Render(title), styleFor(string(run.Status)).Render(string(run.Status)))
	if run.FailedStage != "" {
		fmt.Fprintf(&b, "%s %s\n", failStyle.Render("failed stage:"), run.FailedStage)
	}
	if len(run.SkippedAfter) > 0 {
		names := make([]string, len(run.SkippedAfter))
		for i, s := range run.SkippedAfter {
			names[i] = string(s)
		}
		fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("not run as a consequence:"), strings.Join(names, ", "))
	}

	b.WriteString("\n" + headingStyle.Render("stages") + "\n")
	for _, s := range sdk.Stages {
		res, fnd := run.Stages[s]
		if !fnd {
			continue
		}
		status := string(res.Status)
		fmt.Fprintf(&b, "  %s %s", pad(string(s), 10), styleFor(status).Render(pad(status, 8)))
		if res.Duration > 0 {
			fmt.Fprintf(&b, " %s", mutedStyle.Render(res.Duration.Round(time.Millisecond).String()))
		}
		b.WriteString("\n")
		for _, m := range res.Messages {
			fmt.Fprintf(&b, "      %s\n", mutedStyle.Render(m))
		}
	}

	if len(run.Targets) > 0 {
		triples := make([]string, 0, len(run.Targets))
		width := len("target")
		for t := range run.Targets {
			triples = append(triples, t)
			width = max(width, len(t))
		}
		sort.Strings(triples)

		b.WriteString("\n" + headingStyle.Render("targets") + "\n")
		fmt.Fprintf(&b, "  %s %s %s %s %s\n", pad("target", width), pad("build", 11), pad("packaged", 9), pad("checksum", 9), "uploaded")
		for _, triple := range triples {
			t := run.Targets[triple]
			build := string(t.Build)
			if build == "" {
				build = "-"
			}
			fmt.Fprintf(&b, "  %s %s %s %s %s\n",
				pad(triple, width),
				styleFor(build).Render(pad(build, 11)),
				styleFor(yesNo(t.Packaged)).Render(pad(yesNo(t.Packaged), 9)),
				styleFor(yesNo(t.Checksummed)).Render(pad(yesNo(t.Checksummed), 9)),
				styleFor(yesNo(t.Uploaded)).Render(yesNo(t.Uploaded)),
			)
			if t.Error != "" {
				fmt.Fprintf(&b, "      %s\n", failStyle.Render(t.Error))
			}
		}
	}
	return b.String()
}
