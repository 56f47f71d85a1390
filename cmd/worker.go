package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/ocrbase/internal/bootstrap"
)

func workerCommand(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run job workers only",
		Long:  `Run job workers against the redis queue. Job events are published to redis for API processes to relay.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.Work(cmd.Context(), d.Config, d.Logger)
		},
	}
}
