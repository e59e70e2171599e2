package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newListCommand creates the "list" subcommand.
func newListCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())
			eng, cleanup, err := buildEngine(opts.cfg, logger, false)
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := eng.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tVERSION\tSTACK\tENVIRONMENT\tSTATUS\tUPDATED")
			for _, r := range records {
				version := r.Version
				if version == "" {
					version = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Name, version, r.Stack, r.Environment, r.Status,
					r.UpdatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	return cmd
}
