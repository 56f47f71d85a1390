package wideevent

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
)

func fixedClock(start time.Time, steps ...time.Duration) func() time.Time {
	i := 0
	return func() time.Time {
		if i == 0 {
			i++
			return start
		}
		d := steps[min(i-1, len(steps)-1)]
		i++
		return start.Add(d)
	}
}

func TestFinalize_OnlyOnce(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := newAt(fixedClock(start, 250*time.Millisecond), "req_1", "GET", "/v1/jobs", "curl", Env{Service: "ocrbase"})

	rec, ok := e.Finalize(http.StatusOK)
	require.True(t, ok)
	assert.Equal(t, int64(250), rec.DurationMs)
	assert.Equal(t, OutcomeSuccess, rec.Outcome)

	_, ok = e.Finalize(http.StatusInternalServerError)
	assert.False(t, ok)
}

func TestFinalize_Outcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   Outcome
	}{
		{http.StatusOK, OutcomeSuccess},
		{http.StatusCreated, OutcomeSuccess},
		{http.StatusFound, OutcomeSuccess},
		{http.StatusBadRequest, OutcomeError},
		{http.StatusTooManyRequests, OutcomeError},
		{http.StatusInternalServerError, OutcomeError},
		{http.StatusSwitchingProtocols, OutcomeError},
	}
	for _, tt := range tests {
		e := New("req", "GET", "/", "", Env{})
		rec, _ := e.Finalize(tt.status)
		assert.Equal(t, tt.want, rec.Outcome, "status %d", tt.status)
	}
}

func TestSetJob_Merges(t *testing.T) {
	t.Parallel()

	e := New("req", "POST", "/v1/parse", "", Env{})
	e.SetJob(JobFacts{ID: "job_1", Type: "parse", FileSize: 10})
	e.SetJob(JobFacts{Status: "pending", MimeType: "application/pdf"})

	rec, _ := e.Finalize(http.StatusCreated)
	require.NotNil(t, rec.Job)
	assert.Equal(t, JobFacts{ID: "job_1", Type: "parse", Status: "pending", FileSize: 10, MimeType: "application/pdf"}, *rec.Job)
}

func TestSetters_IgnoredAfterFinalize(t *testing.T) {
	t.Parallel()

	e := New("req", "GET", "/", "", Env{})
	e.SetUser("usr_1")
	rec, _ := e.Finalize(http.StatusOK)

	e.SetUser("usr_2")
	e.SetError("INTERNAL_ERROR", "late", "")

	assert.Equal(t, "usr_1", rec.UserID)
	assert.Nil(t, rec.Error)
	assert.False(t, e.HasError())
}

func TestNilEvent_IsSafe(t *testing.T) {
	t.Parallel()

	e := FromContext(context.Background())
	assert.Nil(t, e)
	e.SetUser("usr_1")
	e.SetJob(JobFacts{ID: "job_1"})
	_, ok := e.Finalize(http.StatusOK)
	assert.False(t, ok)
}

func TestConcurrentSetters(t *testing.T) {
	t.Parallel()

	e := New("req", "GET", "/", "", Env{})
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			e.SetJob(JobFacts{ID: "job_1"})
			e.SetOrganization("org_1", "Acme")
		})
	}
	wg.Wait()

	rec, ok := e.Finalize(http.StatusOK)
	require.True(t, ok)
	assert.Equal(t, "org_1", rec.OrganizationID)
	assert.Equal(t, "job_1", rec.Job.ID)
}

func TestRecordFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	log := infralogger.NewWithCore(core)

	e := New("req_1", "POST", "/v1/extract", "sdk/1.0", Env{Service: "ocrbase", Version: "1.2.0", Region: "us-east1"})
	e.SetUser("usr_1")
	e.SetOrganization("org_1", "Acme")
	e.SetJob(JobFacts{ID: "job_1", SchemaID: "sch_1"})
	e.SetError("INTERNAL_ERROR", "boom", "goroutine 1")
	rec, _ := e.Finalize(http.StatusInternalServerError)

	log.Error("request", rec.Fields()...)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req_1", fields["request_id"])
	assert.Equal(t, "error", fields["outcome"])
	assert.Equal(t, "Acme", fields["organization_name"])
	assert.Equal(t, "us-east1", fields["region"])
	assert.NotContains(t, fields, "commit")
	assert.Equal(t, map[string]any{"id": "job_1", "schema_id": "sch_1"}, fields["job"])
	assert.Equal(t, "boom", fields["error"].(map[string]any)["message"])
}

func TestAddWarning(t *testing.T) {
	t.Parallel()

	e := New("req_1", "GET", "/v1/jobs", "", Env{})
	e.AddWarning("rate limiter unavailable")

	rec, ok := e.Finalize(http.StatusOK)
	require.True(t, ok)
	assert.Equal(t, []string{"rate limiter unavailable"}, rec.Warnings)
	assert.Equal(t, OutcomeSuccess, rec.Outcome, "warnings do not change the outcome")

	e.AddWarning("late")
	assert.Len(t, rec.Warnings, 1)
}
