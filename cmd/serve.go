package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/ocrbase/internal/bootstrap"
)

func serveCommand(d *deps) *cobra.Command {
	var opts bootstrap.ServeOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API, the realtime endpoint and, unless --workers=false,
the job workers. With the memory queue the workers always run in-process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.Serve(cmd.Context(), d.Config, d.Logger, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Workers, "workers", true, "run job workers in this process")
	return cmd
}
