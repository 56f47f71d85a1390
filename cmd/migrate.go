package cmd

import (
	"github.com/spf13/cobra"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/internal/database"
)

func migrateCommand(d *deps) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", database.DefaultMigrationsDir, "migrations directory")

	withMigrator := func(fn func(*database.Migrator) error) error {
		m, err := database.NewMigrator(d.Config.Database, dir, d.Logger)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil {
				d.Logger.Warn("Failed to close migrator", infralogger.Error(closeErr))
			}
		}()
		return fn(m)
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withMigrator(func(m *database.Migrator) error { return m.Down(steps) })
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return withMigrator((*database.Migrator).Up)
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied migration version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(func(m *database.Migrator) error {
					v, dirty, err := m.Version()
					if err != nil {
						return err
					}
					cmd.Printf("version %d (dirty: %t)\n", v, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}
