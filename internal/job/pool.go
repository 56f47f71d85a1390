package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/internal/metrics"
)

const (
	DefaultConcurrency   = 5
	DefaultShutdownGrace = 30 * time.Second
	dequeueBackoff       = time.Second
)

// Processor runs one job.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// Pool runs Processor for ids taken from a Queue with fixed concurrency.
type Pool struct {
	queue   Queue
	proc    Processor
	size    int
	grace   time.Duration
	log     infralogger.Logger
	metrics *metrics.Metrics
}

type PoolOption func(*Pool)

// WithShutdownGrace bounds how long in-flight jobs may run after Run's
// context ends.
func WithShutdownGrace(d time.Duration) PoolOption {
	return func(p *Pool) { p.grace = d }
}

func WithPoolMetrics(m *metrics.Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

func NewPool(queue Queue, proc Processor, size int, log infralogger.Logger, opts ...PoolOption) *Pool {
	if size <= 0 {
		size = DefaultConcurrency
	}
	p := &Pool{queue: queue, proc: proc, size: size, grace: DefaultShutdownGrace, log: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx ends and every worker has returned. In-flight jobs
// keep running for the shutdown grace period once ctx ends.
func (p *Pool) Run(ctx context.Context) error {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	stopGrace := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancelWork()
		case <-workCtx.Done():
		}
	})
	defer stopGrace()

	p.log.Info("Job workers started", infralogger.Int("concurrency", p.size))

	var wg sync.WaitGroup
	for i := range p.size {
		wg.Go(func() { p.work(ctx, workCtx, i) })
	}
	wg.Wait()

	p.log.Info("Job workers stopped")
	return nil
}

func (p *Pool) work(ctx, workCtx context.Context, worker int) {
	log := p.log.With(infralogger.Int("worker", worker))
	for {
		jobID, err := p.queue.Dequeue(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error("Failed to dequeue job", infralogger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}

		p.metrics.WorkerBusy(1)
		if err = p.run(workCtx, jobID); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Job processing failed", infralogger.String("job_id", jobID), infralogger.Error(err))
		}
		p.metrics.WorkerBusy(-1)
	}
}

func (p *Pool) run(ctx context.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.WorkerPanicked()
			p.log.Error("Job worker panicked",
				infralogger.String("job_id", jobID),
				infralogger.String("panic", fmt.Sprint(r)),
				infralogger.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic processing job %s: %v", jobID, r)
		}
	}()
	return p.proc.Process(ctx, jobID)
}
