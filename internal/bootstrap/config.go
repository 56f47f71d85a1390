package bootstrap

import (
	"fmt"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/internal/config"
	"github.com/jonesrussell/ocrbase/internal/wideevent"
)

// CreateLogger creates a logger instance from configuration.
func CreateLogger(cfg *config.Config) (infralogger.Logger, error) {
	log, err := infralogger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(
		infralogger.String("service", cfg.Service.Name),
		infralogger.String("version", cfg.Service.Version),
	), nil
}

// Environment is the deployment context stamped on every wide event.
func Environment(cfg *config.Config) wideevent.Env {
	return wideevent.Env{
		Service:     cfg.Service.Name,
		Version:     cfg.Service.Version,
		Commit:      cfg.Service.Commit,
		Region:      cfg.Service.Region,
		Environment: cfg.Service.Environment,
	}
}
