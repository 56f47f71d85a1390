package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	infrahttp "github.com/jonesrussell/ocrbase/infrastructure/http"
	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/internal/config"
	"github.com/jonesrussell/ocrbase/internal/database"
	"github.com/jonesrussell/ocrbase/internal/job"
	"github.com/jonesrussell/ocrbase/internal/llm"
	"github.com/jonesrussell/ocrbase/internal/notify"
	"github.com/jonesrussell/ocrbase/internal/ocr"
)

var errRedisRequired = errors.New("redis driver needs redis.enabled")

// Jobs is the processing half of ocrbase.
type Jobs struct {
	Manager *job.Manager
	Pool    *job.Pool
	Reaper  *job.Reaper
	OCR     *ocr.Client
}

// SetupJobs wires the job manager to its collaborators. Events go to
// notifier, which is the local bus in memory mode and redis otherwise.
func SetupJobs(cfg *config.Config, infra *Infra, notifier notify.Notifier) (*Jobs, error) {
	deps := job.Deps{
		Repo:     database.NewJobRepository(infra.DB),
		Schemas:  database.NewSchemaRepository(infra.DB),
		Files:    infra.Files,
		Notifier: notifier,
		Metrics:  infra.Metrics,
		Log:      infra.Log,
	}

	ocrClient := ocr.NewClient(cfg.OCR, infra.Log)
	deps.OCR = ocrClient
	deps.Fetcher = job.NewHTTPFetcher(
		infrahttp.NewClient(infrahttp.ClientConfig{Timeout: cfg.OCR.Timeout}),
		cfg.Worker.MaxFileSize,
	)

	if cfg.LLM.Enabled() {
		extractor, err := llm.NewAnthropic(cfg.LLM.Config)
		if err != nil {
			return nil, fmt.Errorf("llm client: %w", err)
		}
		deps.Extractor = extractor
	} else {
		infra.Log.Warn("No LLM api key configured, extract jobs with a schema are disabled")
	}

	switch cfg.Worker.QueueDriver {
	case config.DriverRedis:
		if infra.Redis == nil {
			return nil, errRedisRequired
		}
		deps.Queue = job.NewRedisQueue(infra.Redis, job.DefaultQueueKey)
		deps.Locker = job.NewRedisLocker(infra.Redis, cfg.Worker.LockTTL)
	default:
		deps.Queue = job.NewMemoryQueue(cfg.Worker.QueueSize)
		deps.Locker = job.NewKeyedMutex()
	}

	manager := job.NewManager(job.Config{
		MaxRetries:  cfg.Worker.MaxRetries,
		RetryDelay:  cfg.Worker.RetryDelay,
		OCRTimeout:  cfg.OCR.Timeout,
		LLMTimeout:  cfg.LLM.Timeout,
		MaxFileSize: cfg.Worker.MaxFileSize,
	}, deps)

	pool := job.NewPool(deps.Queue, manager, cfg.Worker.Concurrency, infra.Log,
		job.WithShutdownGrace(cfg.Worker.ShutdownGrace),
		job.WithPoolMetrics(infra.Metrics),
	)

	return &Jobs{
		Manager: manager,
		Pool:    pool,
		Reaper:  job.NewReaper(manager, cfg.Worker.StallTimeout, cfg.Worker.PendingDelay),
		OCR:     ocrClient,
	}, nil
}

// Schedule registers the periodic job sweep on c.
func (j *Jobs) Schedule(ctx context.Context, c *cron.Cron, cfg *config.Config, log infralogger.Logger) error {
	if err := j.Reaper.Register(ctx, c, cfg.Worker.ReapSchedule); err != nil {
		return err
	}
	log.Info("Job sweep scheduled", infralogger.String("schedule", cfg.Worker.ReapSchedule))
	return nil
}
