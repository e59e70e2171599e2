package cli

import (
	"github.com/spf13/cobra"

	"github.com/siavashoutadi/pishro-lib/internal/engine"
)

// newUninstallCommand creates the "uninstall" subcommand.
func newUninstallCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uninstall <package>...",
		Short: "Remove packages from the cluster",
		Long: "Uninstall removes the named packages' stacks from the cluster and\n" +
			"deletes their records. Dependents are removed before their dependencies;\n" +
			"a package still required by an installed package outside the removal set\n" +
			"is refused.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())
			eng, cleanup, err := buildEngine(opts.cfg, logger, true)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := eng.Uninstall(cmd.Context(), args, engine.ApplyOptions{})
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	return cmd
}
