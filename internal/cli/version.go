package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCommand creates the "version" subcommand.
func newVersionCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "pishro %s (built %s)\n", opts.build.Version, opts.build.BuildTime)
			return nil
		},
	}
}
