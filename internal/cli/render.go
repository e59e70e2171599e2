package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newRenderCommand creates the "render" subcommand.
func newRenderCommand(opts *Options) *cobra.Command {
	var flags applyFlags
	var outputDir string

	cmd := &cobra.Command{
		Use:   "render <package>",
		Short: "Render a package's manifest without applying it",
		Long: "Render merges the package's values the same way install would and\n" +
			"prints the rendered manifest. The manifest passes the same validation an\n" +
			"apply runs, so a render that succeeds here deploys cleanly.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())
			eng, cleanup, err := buildEngine(opts.cfg, logger, false)
			if err != nil {
				return err
			}
			defer cleanup()

			manifest, err := eng.Render(cmd.Context(), args[0], flags.applyOptions(opts.cfg))
			if err != nil {
				return err
			}

			if outputDir == "" {
				out := cmd.OutOrStdout()
				for _, f := range manifest.Files {
					fmt.Fprintf(out, "---\n# %s\n%s", f.Name, f.Content)
				}
				return nil
			}

			for _, f := range manifest.Files {
				path := filepath.Join(outputDir, filepath.FromSlash(f.Name))
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(path, f.Content, 0o644); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d files to %s\n", len(manifest.Files), outputDir)
			return nil
		},
	}

	flags.registerValueFlags(cmd)
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Write rendered files under this directory instead of stdout")
	return cmd
}
