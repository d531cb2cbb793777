package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shono-io/shipwright/pkg"
	"github.com/shono-io/shipwright/sdk"
	"github.com/shono-io/shipwright/version"
)

var skipFlags = []sdk.Stage{
	sdk.ManifestStage, sdk.GitStage, sdk.BinariesStage, sdk.ChangelogStage, sdk.ReleaseStage,
	sdk.CratesStage, sdk.NpmStage, sdk.BrewStage, sdk.DocsStage,
}

type releaseFlags struct {
	version     string
	skip        map[sdk.Stage]*bool
	publishOnly bool
	dryRun      bool
	notesFile   string
	targets     []string
	resumeFrom  string
	format      string
}

func (f *releaseFlags) register(cmd *cobra.Command, withSkips bool) {
	cmd.Flags().StringVar(&f.version, "version", "", "release this exact version (X.Y.Z) instead of bumping")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "compute and report every step without changing anything")
	cmd.Flags().StringVar(&f.notesFile, "notes-file", "", "use this file as release notes")
	cmd.Flags().StringVar(&f.format, "format", string(pkg.TextReport), "report format: text, json or yaml")

	if !withSkips {
		return
	}
	cmd.Flags().BoolVar(&f.publishOnly, "publish-only", false, "upload existing artifacts only")
	cmd.Flags().StringSliceVar(&f.targets, "target", nil, "additional target, as triple or triple:strategy")
	cmd.Flags().StringVar(&f.resumeFrom, "resume-from", "", "first crate to publish in the crates sequence")

	f.skip = map[sdk.Stage]*bool{}
	for _, s := range skipFlags {
		f.skip[s] = cmd.Flags().Bool("skip-"+string(s), false, fmt.Sprintf("skip the %s stage", s))
	}
}

func (f *releaseFlags) options(bump version.BumpKind) pkg.Options {
	opts := pkg.Options{
		Bump:        bump,
		Version:     f.version,
		PublishOnly: f.publishOnly,
		DryRun:      f.dryRun,
		NotesFile:   f.notesFile,
		Targets:     f.targets,
		ResumeFrom:  f.resumeFrom,
	}
	for _, s := range skipFlags {
		if set, fnd := f.skip[s]; fnd && *set {
			opts.Skip = append(opts.Skip, s)
		}
	}
	return opts
}

var release releaseFlags

var releaseCmd = &cobra.Command{
	Use:       "release [major|minor|patch]",
	Short:     "run the release pipeline",
	ValidArgs: []string{string(version.MajorBump), string(version.MinorBump), string(version.PatchBump)},
	Args:      cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bump := version.PatchBump
		if len(args) == 1 {
			bump = version.BumpKind(args[0])
		}
		if release.version == "" && !release.publishOnly && !slices.Contains(cmd.ValidArgs, string(bump)) {
			return fmt.Errorf("%w: %q", sdk.ErrUnknownBumpKind, bump)
		}
		return runPipeline(cmd, release.options(bump), pkg.ReportFormat(release.format))
	},
}

var publishing releaseFlags

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "upload the existing artifacts of a version to the release service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := publishing.options("")
		opts.PublishOnly = true
		return runPipeline(cmd, opts, pkg.ReportFormat(publishing.format))
	},
}

func init() {
	release.register(releaseCmd, true)
	publishing.register(publishCmd, false)
	rootCmd.AddCommand(releaseCmd, publishCmd)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runPipeline(cmd *cobra.Command, opts pkg.Options, format pkg.ReportFormat) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	deps, cl, err := wire(ctx, cfg, opts, log.Logger)
	defer cl.Close()
	if err != nil {
		return err
	}

	run, err := pkg.NewOrchestrator(cfg, deps, log.Logger).Run(ctx, opts)
	if run != nil {
		if rerr := pkg.WriteReport(cmd.OutOrStdout(), run, format); rerr != nil {
			log.Warn().Err(rerr).Msg("unable to write report")
		}
	}
	return err
}
