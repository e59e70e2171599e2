package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newRepoCommand creates the "repo" subcommand group.
func newRepoCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Inspect configured catalog repositories",
	}

	cmd.AddCommand(newRepoListCommand(opts))
	return cmd
}

// newRepoListCommand creates "repo list". Credentials are never printed,
// only whether a repository has any configured.
func newRepoListCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the repositories from the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tURL\tBRANCH\tAUTH")
			for _, rc := range opts.cfg.Repositories {
				branch := rc.Branch
				if branch == "" {
					branch = "-"
				}
				auth := "none"
				if rc.Username != "" || rc.Token != "" {
					auth = "token"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rc.Name, rc.URL, branch, auth)
			}
			return tw.Flush()
		},
	}
}
