package database_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/ocrbase/internal/database"
	"github.com/jonesrussell/ocrbase/internal/domain"
)

var jobColumnNames = []string{
	"id", "organization_id", "user_id", "type", "status", "file_key", "source_url", "file_name",
	"file_size", "mime_type", "schema_id", "hints", "llm_provider", "llm_model", "markdown_result",
	"json_result", "page_count", "token_count", "processing_time_ms", "error_code", "error_message",
	"retry_count", "created_at", "started_at", "completed_at", "updated_at",
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = mockDB.Close()
	})
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func jobRow(id string, status domain.JobStatus, markdown any, completedAt any) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, "org_1", "usr_1", "parse", string(status), "org_1/" + id + "/a.pdf", nil, "a.pdf",
		int64(1024), "application/pdf", nil, nil, nil, nil, markdown,
		nil, nil, nil, nil, nil, nil,
		int64(0), now, nil, completedAt, now,
	}
}

func TestJobRepository_Insert(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)

	key := "org_1/job_1/a.pdf"
	job := &domain.Job{
		ID: "job_1", OrganizationID: "org_1", UserID: "usr_1", Type: domain.JobTypeParse,
		Status: domain.JobStatusPending, FileKey: &key, FileName: "a.pdf", FileSize: 1024,
		MimeType: "application/pdf",
	}
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs("job_1", "org_1", "usr_1", "parse", "pending", key, nil, "a.pdf", int64(1024),
			"application/pdf", nil, nil, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, created))

	require.NoError(t, repo.Insert(context.Background(), job))
	assert.Equal(t, created, job.CreatedAt)
	assert.Equal(t, created, job.UpdatedAt)
}

func TestJobRepository_GetByID_ScopedToOrganization(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = \\$1 AND organization_id = \\$2").
		WithArgs("job_1", "org_other").
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	_, err := repo.GetByID(context.Background(), "org_other", "job_1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepository_List(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)

	filter := domain.JobListFilter{Status: domain.JobStatusCompleted, Page: 2, Limit: 10}
	require.NoError(t, filter.Normalize())

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM jobs").
		WithArgs("org_1", "", "completed", "").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectQuery("ORDER BY created_at DESC, id DESC LIMIT \\$5 OFFSET \\$6").
		WithArgs("org_1", "", "completed", "", 10, 10).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).
			AddRow(jobRow("job_11", domain.JobStatusCompleted, "# md", time.Now())...))

	jobs, total, err := repo.List(context.Background(), "org_1", "", filter)
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job_11", jobs[0].ID)
	require.NotNil(t, jobs[0].MarkdownResult)
	assert.Equal(t, "# md", *jobs[0].MarkdownResult)
}

func TestJobRepository_List_SortAscending(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)

	filter := domain.JobListFilter{SortBy: domain.SortByUpdatedAt, SortOrder: domain.SortAsc}
	require.NoError(t, filter.Normalize())

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("ORDER BY updated_at ASC, id ASC").
		WithArgs("org_1", "usr_1", "", "", 20, 0).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	jobs, total, err := repo.List(context.Background(), "org_1", "usr_1", filter)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, jobs)
	assert.Empty(t, jobs)
}

func TestJobRepository_Claim(t *testing.T) {
	t.Parallel()

	t.Run("pending job is claimed", func(t *testing.T) {
		t.Parallel()

		db, mock := newMockDB(t)
		repo := database.NewJobRepository(db)

		mock.ExpectQuery("UPDATE jobs SET status = 'processing'").
			WithArgs("job_1").
			WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(jobRow("job_1", domain.JobStatusProcessing, nil, nil)...))

		job, err := repo.Claim(context.Background(), "job_1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusProcessing, job.Status)
	})

	t.Run("non-pending job is stale", func(t *testing.T) {
		t.Parallel()

		db, mock := newMockDB(t)
		repo := database.NewJobRepository(db)

		mock.ExpectQuery("UPDATE jobs SET status = 'processing'").
			WithArgs("job_1").
			WillReturnRows(sqlmock.NewRows(jobColumnNames))

		_, err := repo.Claim(context.Background(), "job_1")
		require.ErrorIs(t, err, domain.ErrStaleState)
	})
}

func TestJobRepository_StoreMarkdown_Stale(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)

	mock.ExpectExec("UPDATE jobs SET markdown_result").
		WithArgs("job_1", "# hi", 2, "processing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.StoreMarkdown(context.Background(), "job_1", domain.JobStatusProcessing, "# hi", 2)
	require.ErrorIs(t, err, domain.ErrStaleState)
}

func TestJobRepository_SetStatus_RejectsInvalidTransition(t *testing.T) {
	t.Parallel()

	db, _ := newMockDB(t)
	repo := database.NewJobRepository(db)

	_, err := repo.SetStatus(context.Background(), "job_1", domain.JobStatusCompleted, domain.JobStatusProcessing)
	require.ErrorIs(t, err, domain.ErrStaleState)
}

func TestJobRepository_Complete(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)

	result := types.JSONText(`{"total":3}`)
	tokens := 120
	row := jobRow("job_1", domain.JobStatusCompleted, "# md", time.Now())
	row[15] = []byte(`{"total":3}`)

	mock.ExpectQuery("UPDATE jobs SET status = 'completed'").
		WithArgs("job_1", "extracting", sqlmock.AnyArg(), 120).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(row...))

	job, err := repo.Complete(context.Background(), "job_1", domain.JobStatusExtracting, &result, &tokens)
	require.NoError(t, err)
	assert.True(t, job.HasJSONResult())
	assert.NotNil(t, job.CompletedAt)
}

func TestJobRepository_Fail_TerminalIsStale(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)

	mock.ExpectQuery("UPDATE jobs SET status = 'failed'").
		WithArgs("job_1", domain.ErrorCodeOCRFailed, "boom").
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	_, err := repo.Fail(context.Background(), "job_1", domain.ErrorCodeOCRFailed, "boom")
	require.ErrorIs(t, err, domain.ErrStaleState)
}

func TestJobRepository_IncrementRetry(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)

	mock.ExpectQuery("UPDATE jobs SET retry_count = retry_count \\+ 1").
		WithArgs("job_1").
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(2))

	n, err := repo.IncrementRetry(context.Background(), "job_1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestJobRepository_Delete(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)

	mock.ExpectQuery("DELETE FROM jobs WHERE id = \\$1 AND organization_id = \\$2 RETURNING").
		WithArgs("job_1", "org_1").
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(jobRow("job_1", domain.JobStatusPending, nil, nil)...))

	job, err := repo.Delete(context.Background(), "org_1", "job_1")
	require.NoError(t, err)
	require.NotNil(t, job.FileKey)
	assert.Equal(t, "org_1/job_1/a.pdf", *job.FileKey)
}

func TestJobRepository_ListStale(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)
	cutoff := time.Now().Add(-time.Hour)

	mock.ExpectQuery("SELECT id FROM jobs").
		WithArgs(sqlmock.AnyArg(), cutoff, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job_a").AddRow("job_b"))

	ids, err := repo.ListStale(context.Background(),
		[]domain.JobStatus{domain.JobStatusProcessing, domain.JobStatusExtracting}, cutoff, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"job_a", "job_b"}, ids)
}

func TestJobRepository_QueryErrorIsWrapped(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)
	errConn := errors.New("connection reset")

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = \\$1").WithArgs("job_1").WillReturnError(errConn)

	_, err := repo.Find(context.Background(), "job_1")
	require.ErrorIs(t, err, errConn)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}
