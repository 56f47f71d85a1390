package job

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/notify"
)

const (
	DefaultReapSchedule = "@every 1m"
	DefaultStallTimeout = 15 * time.Minute
	DefaultPendingDelay = 2 * time.Minute
	reapBatch           = 100
)

// Reaper finds jobs abandoned by crashed workers or lost queue entries.
type Reaper struct {
	repo         Repository
	queue        Queue
	locker       Locker
	notifier     notify.Notifier
	log          infralogger.Logger
	stallTimeout time.Duration
	pendingDelay time.Duration
	now          func() time.Time
}

func NewReaper(m *Manager, stallTimeout, pendingDelay time.Duration) *Reaper {
	if stallTimeout <= 0 {
		stallTimeout = DefaultStallTimeout
	}
	if pendingDelay <= 0 {
		pendingDelay = DefaultPendingDelay
	}
	return &Reaper{
		repo:         m.Repo,
		queue:        m.Queue,
		locker:       m.Locker,
		notifier:     m.Notifier,
		log:          m.Log,
		stallTimeout: stallTimeout,
		pendingDelay: pendingDelay,
		now:          time.Now,
	}
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Requeued int
	Failed   int
}

// Sweep re-enqueues pending jobs nobody picked up and fails in-flight jobs
// whose lock is free, meaning no worker is on them.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := r.now()

	pending, err := r.repo.ListStale(ctx, []domain.JobStatus{domain.JobStatusPending}, now.Add(-r.pendingDelay), reapBatch)
	if err != nil {
		return res, err
	}
	for _, id := range pending {
		if err = r.queue.Enqueue(ctx, id); err != nil {
			return res, fmt.Errorf("requeue job %s: %w", id, err)
		}
		res.Requeued++
	}

	stalled, err := r.repo.ListStale(ctx,
		[]domain.JobStatus{domain.JobStatusProcessing, domain.JobStatusExtracting}, now.Add(-r.stallTimeout), reapBatch)
	if err != nil {
		return res, err
	}
	for _, id := range stalled {
		failed, failErr := r.failIfAbandoned(ctx, id)
		if failErr != nil {
			return res, failErr
		}
		if failed {
			res.Failed++
		}
	}
	return res, nil
}

func (r *Reaper) failIfAbandoned(ctx context.Context, id string) (bool, error) {
	release, ok, err := r.locker.TryLock(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	defer release()

	job, err := r.repo.Fail(ctx, id, domain.ErrorCodeJobStalled,
		fmt.Sprintf("job made no progress for %s", r.stallTimeout))
	if err != nil {
		if isStale(err) {
			return false, nil
		}
		return false, err
	}
	if r.notifier != nil {
		if err = r.notifier.Notify(ctx, notify.JobEvent(job)); err != nil {
			r.log.Warn("Failed to publish job event", infralogger.String("job_id", id), infralogger.Error(err))
		}
	}
	r.log.Warn("Failed stalled job", infralogger.String("job_id", id))
	return true, nil
}

// Register schedules Sweep on c.
func (r *Reaper) Register(ctx context.Context, c *cron.Cron, schedule string) error {
	if schedule == "" {
		schedule = DefaultReapSchedule
	}
	_, err := c.AddFunc(schedule, func() {
		res, err := r.Sweep(ctx)
		if err != nil {
			r.log.Error("Job sweep failed", infralogger.Error(err))
			return
		}
		if res.Requeued > 0 || res.Failed > 0 {
			r.log.Info("Job sweep finished",
				infralogger.Int("requeued", res.Requeued),
				infralogger.Int("failed", res.Failed))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule job sweep %q: %w", schedule, err)
	}
	return nil
}
