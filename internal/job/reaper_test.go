package job_test

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/job"
)

func TestReaper_Sweep(t *testing.T) {
	t.Parallel()

	f := newFixture()
	old := time.Now().Add(-time.Hour)

	lostPending := f.seed(&domain.Job{Type: domain.JobTypeParse, UpdatedAt: old})
	freshPending := f.seed(&domain.Job{Type: domain.JobTypeParse})
	abandoned := f.seed(&domain.Job{Type: domain.JobTypeParse, Status: domain.JobStatusProcessing, UpdatedAt: old})
	working := f.seed(&domain.Job{Type: domain.JobTypeExtract, Status: domain.JobStatusExtracting, UpdatedAt: old})
	finished := f.seed(&domain.Job{Type: domain.JobTypeParse, Status: domain.JobStatusCompleted, UpdatedAt: old})

	release, ok, err := f.locker.TryLock(t.Context(), working.ID)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	r := job.NewReaper(f.m, 15*time.Minute, 2*time.Minute)
	res, err := r.Sweep(t.Context())
	require.NoError(t, err)

	assert.Equal(t, job.SweepResult{Requeued: 1, Failed: 1}, res)
	assert.Equal(t, []string{lostPending.ID}, f.queue.enqueued())

	got := f.repo.get(abandoned.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, domain.ErrorCodeJobStalled, *got.ErrorCode)
	assert.Equal(t, []string{"error:failed"}, f.events.statuses(abandoned.ID))

	assert.Equal(t, domain.JobStatusExtracting, f.repo.get(working.ID).Status, "locked jobs belong to a live worker")
	assert.Equal(t, domain.JobStatusPending, f.repo.get(freshPending.ID).Status)
	assert.Equal(t, domain.JobStatusCompleted, f.repo.get(finished.ID).Status)
	assert.Equal(t, 1, f.locker.Held())
}

func TestReaper_Register(t *testing.T) {
	t.Parallel()

	f := newFixture()
	r := job.NewReaper(f.m, 0, 0)
	c := cron.New()

	require.NoError(t, r.Register(context.Background(), c, ""))
	assert.Len(t, c.Entries(), 1)
	require.Error(t, r.Register(context.Background(), c, "not a schedule"))
}
