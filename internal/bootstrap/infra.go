package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	infraredis "github.com/jonesrussell/ocrbase/infrastructure/redis"
	"github.com/jonesrussell/ocrbase/internal/config"
	"github.com/jonesrussell/ocrbase/internal/database"
	"github.com/jonesrussell/ocrbase/internal/filestore"
	"github.com/jonesrussell/ocrbase/internal/metrics"
)

// Infra holds the connections shared by the API and the workers. Redis is
// nil unless enabled.
type Infra struct {
	DB      *sqlx.DB
	Redis   *redis.Client
	Files   filestore.Store
	Metrics *metrics.Metrics
	Log     infralogger.Logger
}

// SetupInfra opens the database, redis and the file store.
func SetupInfra(ctx context.Context, cfg *config.Config, log infralogger.Logger) (*Infra, error) {
	infra := &Infra{Metrics: metrics.New(), Log: log}

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database connection: %w", err)
	}
	infra.DB = db
	log.Info("Connected to database",
		infralogger.String("host", cfg.Database.Host),
		infralogger.String("database", cfg.Database.DBName))

	if cfg.Redis.Enabled {
		client, redisErr := infraredis.NewClient(ctx, cfg.Redis.Config)
		if redisErr != nil {
			infra.Close()
			return nil, fmt.Errorf("redis connection: %w", redisErr)
		}
		infra.Redis = client
		log.Info("Connected to redis", infralogger.String("address", client.Options().Addr))
	}

	files, err := filestore.New(ctx, cfg.Storage)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("file store: %w", err)
	}
	infra.Files = files
	log.Info("File store ready", infralogger.String("backend", cfg.Storage.Backend))

	return infra, nil
}

// Close releases everything SetupInfra opened.
func (i *Infra) Close() {
	var errs []error
	if i.Files != nil {
		errs = append(errs, i.Files.Close())
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.DB != nil {
		errs = append(errs, i.DB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		i.Log.Error("Failed to close resources", infralogger.Error(err))
	}
}
