package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/siavashoutadi/pishro-lib/internal/shell/catalog"
	"github.com/siavashoutadi/pishro-lib/internal/shell/gitsource"
)

// newPackageCommand creates the "package" subcommand group.
func newPackageCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Work with packages in git catalog repositories",
	}

	cmd.AddCommand(
		newPackageDownloadCommand(opts),
		newPackageListCommand(opts),
	)
	return cmd
}

// newPackageDownloadCommand creates "package download".
func newPackageDownloadCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <repository> <package> [version]",
		Short: "Download a package from a git repository into the local catalog",
		Long: "Download clones the repository's package branch (named\n" +
			"\"<package>-<version>\", or the default branch when no version is given)\n" +
			"and copies the package directory into the catalog.",
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ok := opts.cfg.Repository(args[0])
			if !ok {
				return fmt.Errorf("repository %q is not configured", args[0])
			}
			version := ""
			if len(args) == 3 {
				version = args[2]
			}

			logger := LoggerFromContext(cmd.Context())
			fetcher := gitsource.NewFetcher(logger)
			destDir := filepath.Join(opts.cfg.Catalog.Dir, catalog.PackagesDir)

			dest, err := fetcher.DownloadPackage(cmd.Context(), repo, args[1], version, destDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "downloaded %s to %s\n", args[1], dest)
			return nil
		},
	}

	return cmd
}

// newPackageListCommand creates "package list".
func newPackageListCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <repository>",
		Short: "List the packages available in a git repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ok := opts.cfg.Repository(args[0])
			if !ok {
				return fmt.Errorf("repository %q is not configured", args[0])
			}

			logger := LoggerFromContext(cmd.Context())
			fetcher := gitsource.NewFetcher(logger)

			descriptors, err := fetcher.ListPackages(cmd.Context(), repo)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tVERSION\tDESCRIPTION")
			for _, d := range descriptors {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Version, d.Description)
			}
			return tw.Flush()
		},
	}

	return cmd
}
