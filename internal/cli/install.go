package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/siavashoutadi/pishro-lib/internal/engine"
)

// newInstallCommand creates the "install" subcommand.
func newInstallCommand(opts *Options) *cobra.Command {
	var flags applyFlags

	cmd := &cobra.Command{
		Use:   "install <package>[@constraint]...",
		Short: "Install packages and their dependencies",
		Long: "Install resolves the requested packages and their transitive\n" +
			"dependencies into an ordered plan, renders every manifest up front and\n" +
			"applies the plan to the cluster. Packages already installed at a\n" +
			"satisfying version are skipped.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := parseRequirements(args)
			if err != nil {
				return err
			}

			logger := LoggerFromContext(cmd.Context())
			eng, cleanup, err := buildEngine(opts.cfg, logger, true)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := eng.Install(cmd.Context(), reqs, flags.applyOptions(opts.cfg))
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	flags.registerValueFlags(cmd)
	flags.registerWaitFlags(cmd)
	return cmd
}

// newUpgradeCommand creates the "upgrade" subcommand.
func newUpgradeCommand(opts *Options) *cobra.Command {
	var flags applyFlags

	cmd := &cobra.Command{
		Use:   "upgrade <package>[@constraint]...",
		Short: "Re-apply packages at the catalog version",
		Long: "Upgrade re-applies the requested packages even when the installed\n" +
			"version already satisfies the constraint. Steps whose rendered manifest\n" +
			"is identical to the installed one are skipped.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := parseRequirements(args)
			if err != nil {
				return err
			}

			logger := LoggerFromContext(cmd.Context())
			eng, cleanup, err := buildEngine(opts.cfg, logger, true)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := eng.Upgrade(cmd.Context(), reqs, flags.applyOptions(opts.cfg))
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	flags.registerValueFlags(cmd)
	flags.registerWaitFlags(cmd)
	return cmd
}

// printResult writes the executed plan as a table.
func printResult(w io.Writer, res *engine.Result) {
	skipped := make(map[string]bool, len(res.Skipped))
	for _, name := range res.Skipped {
		skipped[name] = true
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKAGE\tVERSION\tACTION\tRESULT")
	for _, step := range res.Steps {
		result := "applied"
		if skipped[step.Package] {
			result = "skipped"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", step.Package, step.Version, step.Op, result)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nplan %s: %d applied, %d skipped\n", res.PlanID, len(res.Applied), len(res.Skipped))
}
