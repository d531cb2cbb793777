package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shono-io/shipwright/exec"
	"github.com/shono-io/shipwright/pack"
	"github.com/shono-io/shipwright/version"
)

var extraTargets []string

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "list the targets a release would build",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		b, cl := builders(cfg, log.Logger)
		defer cl.Close()

		coord := exec.NewCoordinator(b, cfg.Build.Parallelism, log.Logger)
		packager := pack.NewPackager(cfg.PackConfig(), log.Logger)
		for _, t := range coord.Discover(ctx, cfg.TargetSet(), extraTargets) {
			state := "available"
			if builder, fnd := coord.Builder(t.Strategy); !fnd {
				state = "no builder"
			} else if err := builder.Available(ctx); err != nil {
				state = "unavailable: " + err.Error()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-32s %-7s %-7s %s\n", t.Triple, t.Strategy, packager.Format(t), state)
		}
		return nil
	},
}

var checksumsCmd = &cobra.Command{
	Use:   "checksums",
	Short: "work with release checksums",
}

var verifyCmd = &cobra.Command{
	Use:   "verify DIR",
	Short: "recompute the digests of a release directory and compare them with checksums.txt and the sidecars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mismatches, err := pack.Verify(args[0])
		if err != nil {
			return err
		}
		if len(mismatches) > 0 {
			for _, m := range mismatches {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return fmt.Errorf("%d checksum problems in %s", len(mismatches), args[0])
		}

		fmt.Fprintf(cmd.OutOrStdout(), "all checksums in %s match\n", filepath.Join(args[0], pack.ManifestName))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "inspect the project version",
}

var nextCmd = &cobra.Command{
	Use:       "next major|minor|patch",
	Short:     "print the version a bump would produce",
	ValidArgs: []string{string(version.MajorBump), string(version.MinorBump), string(version.PatchBump)},
	Args:      cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		current, err := version.ReadCargoVersion(cfg.ManifestPath())
		if err != nil {
			return err
		}
		next, err := version.Bump(current, version.BumpKind(strings.ToLower(args[0])))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), next)
		return nil
	},
}

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "print the version in the project manifest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		v, err := version.ReadCargoVersion(cfg.ManifestPath())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

func init() {
	targetsCmd.Flags().StringSliceVar(&extraTargets, "target", nil, "additional target, as triple or triple:strategy")

	checksumsCmd.AddCommand(verifyCmd)
	versionCmd.AddCommand(nextCmd, currentCmd)
	rootCmd.AddCommand(targetsCmd, checksumsCmd, versionCmd)
}
