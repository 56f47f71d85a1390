// Package bootstrap handles application initialization and lifecycle management
// for the ocrbase API and worker processes.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	infracontext "github.com/jonesrussell/ocrbase/infrastructure/context"
	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/infrastructure/profiling"
	"github.com/jonesrussell/ocrbase/internal/config"
	"github.com/jonesrussell/ocrbase/internal/notify"
	"github.com/jonesrussell/ocrbase/internal/ratelimit"
)

const limiterSweepSchedule = "@every 1m"

var errWorkerNeedsRedis = errors.New("worker mode needs worker.queue_driver=redis")

// ServeOptions tune the API process.
type ServeOptions struct {
	// Workers runs the job pool in-process. Always on with the memory queue.
	Workers bool
}

// Serve runs the HTTP API until ctx ends.
func Serve(ctx context.Context, cfg *config.Config, log infralogger.Logger, opts ServeOptions) error {
	prof, err := profiling.Start(cfg.Profiling, cfg.Service.Name, cfg.Service.Version, cfg.Service.Environment, log)
	if err != nil {
		return fmt.Errorf("start profiling: %w", err)
	}
	defer stopProfiling(ctx, prof, log)

	infra, err := SetupInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	bus := notify.NewBus(log)
	distributed := cfg.WorkerDriverRedis()
	var notifier notify.Notifier = bus
	if distributed {
		notifier = notify.NewRedisPublisher(infra.Redis, notify.DefaultChannel)
	}

	jobs, err := SetupJobs(cfg, infra, notifier)
	if err != nil {
		return err
	}
	httpAPI, err := SetupHTTPServer(cfg, infra, jobs, bus)
	if err != nil {
		return err
	}

	runWorkers := opts.Workers
	if !distributed && !runWorkers {
		log.Warn("The memory queue is only served in-process, starting workers anyway")
		runWorkers = true
	}

	scheduler := cron.New()
	g, gctx := errgroup.WithContext(ctx)

	if runWorkers {
		if err = jobs.Schedule(gctx, scheduler, cfg, log); err != nil {
			return err
		}
	}
	if mem, ok := httpAPI.Limiter.(*ratelimit.MemoryLimiter); ok {
		if _, err = scheduler.AddFunc(limiterSweepSchedule, func() { mem.Sweep() }); err != nil {
			return fmt.Errorf("schedule limiter sweep: %w", err)
		}
	}

	g.Go(func() error { return httpAPI.Server.Run(gctx) })
	if distributed {
		relay := notify.NewRelay(infra.Redis, notify.DefaultChannel, bus, log)
		g.Go(func() error { return relay.Run(gctx) })
	}
	if runWorkers {
		g.Go(func() error { return jobs.Pool.Run(gctx) })
	}
	runScheduler(gctx, g, scheduler)

	log.Info("ocrbase API started",
		infralogger.Int("port", cfg.Service.Port),
		infralogger.String("queue", cfg.Worker.QueueDriver),
		infralogger.String("rate_limit", cfg.RateLimit.Driver),
		infralogger.Bool("workers", runWorkers))

	err = g.Wait()

	drainCtx, cancel := infracontext.WithShutdownTimeout(ctx)
	defer cancel()
	if drainErr := httpAPI.Keys.Wait(drainCtx); drainErr != nil {
		log.Warn("API key usage writes still pending at exit", infralogger.Error(drainErr))
	}

	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("Server exited")
	return nil
}

// Work runs job workers without an HTTP listener. Events reach API
// processes through redis.
func Work(ctx context.Context, cfg *config.Config, log infralogger.Logger) error {
	if !cfg.WorkerDriverRedis() {
		return errWorkerNeedsRedis
	}

	prof, err := profiling.Start(cfg.Profiling, cfg.Service.Name+"-worker", cfg.Service.Version, cfg.Service.Environment, log)
	if err != nil {
		return fmt.Errorf("start profiling: %w", err)
	}
	defer stopProfiling(ctx, prof, log)

	infra, err := SetupInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	jobs, err := SetupJobs(cfg, infra, notify.NewRedisPublisher(infra.Redis, notify.DefaultChannel))
	if err != nil {
		return err
	}

	scheduler := cron.New()
	g, gctx := errgroup.WithContext(ctx)
	if err = jobs.Schedule(gctx, scheduler, cfg, log); err != nil {
		return err
	}
	g.Go(func() error { return jobs.Pool.Run(gctx) })
	runScheduler(gctx, g, scheduler)

	log.Info("ocrbase worker started", infralogger.Int("concurrency", cfg.Worker.Concurrency))
	if err = g.Wait(); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}
	log.Info("Worker exited")
	return nil
}

// runScheduler starts c and stops it, waiting for running entries, once
// ctx ends.
func runScheduler(ctx context.Context, g *errgroup.Group, c *cron.Cron) {
	c.Start()
	g.Go(func() error {
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	})
}

func stopProfiling(ctx context.Context, p *profiling.Profiler, log infralogger.Logger) {
	stopCtx, cancel := infracontext.WithShutdownTimeout(ctx)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		log.Warn("Failed to stop profiler", infralogger.Error(err))
	}
}
