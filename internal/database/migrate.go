package database

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres:// driver
	_ "github.com/golang-migrate/migrate/v4/source/file"       // file:// source

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
)

// DefaultMigrationsDir is resolved against the working directory.
const DefaultMigrationsDir = "migrations"

// Migrator applies the SQL files in a directory to one database.
type Migrator struct {
	m   *migrate.Migrate
	dir string
	log infralogger.Logger
}

func NewMigrator(cfg Config, dir string, log infralogger.Logger) (*Migrator, error) {
	if dir == "" {
		dir = DefaultMigrationsDir
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	m, err := migrate.New("file://"+filepath.ToSlash(dir), cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return &Migrator{m: m, dir: dir, log: log}, nil
}

// Up applies every pending migration.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mg.log.Info("No pending migrations", infralogger.String("migrations_path", mg.dir))
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}
	mg.log.Info("Migrations applied successfully", infralogger.String("migrations_path", mg.dir))
	return nil
}

// Down rolls back steps migrations, one when steps is not positive.
func (mg *Migrator) Down(steps int) error {
	if steps <= 0 {
		steps = 1
	}
	if err := mg.m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mg.log.Info("No migrations to roll back", infralogger.String("migrations_path", mg.dir))
			return nil
		}
		return fmt.Errorf("roll back migrations: %w", err)
	}
	mg.log.Info("Migrations rolled back successfully",
		infralogger.String("migrations_path", mg.dir),
		infralogger.Int("steps", steps))
	return nil
}

// Version reports the applied version; zero means none.
func (mg *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get migration version: %w", err)
	}
	return version, dirty, nil
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}
