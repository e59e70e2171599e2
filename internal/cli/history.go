package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newHistoryCommand creates the "history" subcommand.
func newHistoryCommand(opts *Options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <package>",
		Short: "Show a package's status history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())
			eng, cleanup, err := buildEngine(opts.cfg, logger, false)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := eng.Events(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tFROM\tTO\tMESSAGE")
			for _, e := range events {
				from := string(e.FromStatus)
				if from == "" {
					from = "-"
				}
				to := string(e.ToStatus)
				if to == "" {
					to = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					e.CreatedAt.UTC().Format(time.RFC3339), from, to, e.Message)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of events to show")
	return cmd
}
