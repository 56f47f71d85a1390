package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/jonesrussell/ocrbase/internal/domain"
)

const jobColumns = `id, organization_id, user_id, type, status, file_key, source_url, file_name,
	file_size, mime_type, schema_id, hints, llm_provider, llm_model, markdown_result, json_result,
	page_count, token_count, processing_time_ms, error_code, error_message, retry_count,
	created_at, started_at, completed_at, updated_at`

// touch keeps updated_at non-decreasing even if the database clock steps back.
const touch = `updated_at = GREATEST(updated_at, NOW())`

// elapsed is the wall-clock processing time in milliseconds.
const elapsed = `(EXTRACT(EPOCH FROM (NOW() - COALESCE(started_at, created_at))) * 1000)::BIGINT`

// JobRepository persists jobs. Every state-changing statement is conditional
// on the expected current status and reports domain.ErrStaleState when the
// row exists in another state or was deleted.
type JobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Insert stores a new pending job and fills its timestamps.
func (r *JobRepository) Insert(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (id, organization_id, user_id, type, status, file_key, source_url,
			file_name, file_size, mime_type, schema_id, hints, llm_provider, llm_model)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		job.ID, job.OrganizationID, job.UserID, job.Type, job.Status, job.FileKey, job.SourceURL,
		job.FileName, job.FileSize, job.MimeType, job.SchemaID, job.Hints, job.LLMProvider, job.LLMModel,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID returns a job visible to orgID.
func (r *JobRepository) GetByID(ctx context.Context, orgID, id string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND organization_id = $2`
	if err := r.db.GetContext(ctx, &job, query, id, orgID); err != nil {
		return nil, fmt.Errorf("failed to get job: %w", noRows(err, domain.NotFound("job")))
	}
	return &job, nil
}

// Find loads a job regardless of organization. Worker use only.
func (r *JobRepository) Find(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to find job: %w", noRows(err, domain.NotFound("job")))
	}
	return &job, nil
}

var sortColumns = map[string]string{
	domain.SortByCreatedAt: "created_at",
	domain.SortByUpdatedAt: "updated_at",
}

// List returns one page of jobs for orgID (and userID when non-empty) along
// with the total match count. filter must already be normalized.
func (r *JobRepository) List(ctx context.Context, orgID, userID string, filter domain.JobListFilter) ([]*domain.Job, int, error) {
	where := `WHERE organization_id = $1
		AND ($2 = '' OR user_id = $2)
		AND ($3 = '' OR status = $3)
		AND ($4 = '' OR type = $4)`
	args := []any{orgID, userID, string(filter.Status), string(filter.Type)}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM jobs `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if filter.SortOrder == domain.SortAsc {
		direction = "ASC"
	}

	query := `SELECT ` + jobColumns + ` FROM jobs ` + where +
		` ORDER BY ` + column + ` ` + direction + `, id ` + direction + ` LIMIT $5 OFFSET $6`
	jobs := []*domain.Job{}
	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

// Delete removes a job of orgID and returns what was deleted.
func (r *JobRepository) Delete(ctx context.Context, orgID, id string) (*domain.Job, error) {
	var job domain.Job
	query := `DELETE FROM jobs WHERE id = $1 AND organization_id = $2 RETURNING ` + jobColumns
	if err := r.db.GetContext(ctx, &job, query, id, orgID); err != nil {
		return nil, fmt.Errorf("failed to delete job: %w", noRows(err, domain.NotFound("job")))
	}
	return &job, nil
}

// Claim moves a pending job to processing and stamps started_at.
func (r *JobRepository) Claim(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	query := `
		UPDATE jobs SET status = 'processing', started_at = COALESCE(started_at, NOW()), ` + touch + `
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + jobColumns
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", noRows(err, domain.ErrStaleState))
	}
	return &job, nil
}

// StoreMarkdown records OCR output while the job is still in status.
func (r *JobRepository) StoreMarkdown(ctx context.Context, id string, status domain.JobStatus, markdown string, pageCount int) error {
	query := `
		UPDATE jobs SET markdown_result = $2, page_count = $3, ` + touch + `
		WHERE id = $1 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, id, markdown, pageCount, status)
	if err = execRequireRows(result, err, domain.ErrStaleState); err != nil {
		return fmt.Errorf("failed to store markdown: %w", err)
	}
	return nil
}

// SetStatus performs a plain conditional transition.
func (r *JobRepository) SetStatus(ctx context.Context, id string, from, to domain.JobStatus) (*domain.Job, error) {
	if err := domain.ValidateTransition(from, to); err != nil {
		return nil, err
	}
	var job domain.Job
	query := `UPDATE jobs SET status = $3, ` + touch + ` WHERE id = $1 AND status = $2 RETURNING ` + jobColumns
	if err := r.db.GetContext(ctx, &job, query, id, from, to); err != nil {
		return nil, fmt.Errorf("failed to move job to %s: %w", to, noRows(err, domain.ErrStaleState))
	}
	return &job, nil
}

// Complete finishes a job from status from, storing the extraction result
// when one is given.
func (r *JobRepository) Complete(ctx context.Context, id string, from domain.JobStatus, jsonResult *types.JSONText, tokenCount *int) (*domain.Job, error) {
	if err := domain.ValidateTransition(from, domain.JobStatusCompleted); err != nil {
		return nil, err
	}
	var job domain.Job
	query := `
		UPDATE jobs SET status = 'completed', json_result = $3, token_count = $4,
			completed_at = NOW(), processing_time_ms = ` + elapsed + `,
			error_code = NULL, error_message = NULL, ` + touch + `
		WHERE id = $1 AND status = $2
		RETURNING ` + jobColumns
	if err := r.db.GetContext(ctx, &job, query, id, from, jsonResult, tokenCount); err != nil {
		return nil, fmt.Errorf("failed to complete job: %w", noRows(err, domain.ErrStaleState))
	}
	return &job, nil
}

// Fail moves any non-terminal job to failed.
func (r *JobRepository) Fail(ctx context.Context, id, code, message string) (*domain.Job, error) {
	var job domain.Job
	query := `
		UPDATE jobs SET status = 'failed', error_code = $2, error_message = $3,
			completed_at = NOW(), processing_time_ms = ` + elapsed + `, ` + touch + `
		WHERE id = $1 AND status IN ('pending', 'processing', 'extracting')
		RETURNING ` + jobColumns
	if err := r.db.GetContext(ctx, &job, query, id, code, message); err != nil {
		return nil, fmt.Errorf("failed to fail job: %w", noRows(err, domain.ErrStaleState))
	}
	return &job, nil
}

// IncrementRetry bumps retry_count on a non-terminal job and returns the new value.
func (r *JobRepository) IncrementRetry(ctx context.Context, id string) (int, error) {
	var n int
	query := `
		UPDATE jobs SET retry_count = retry_count + 1, ` + touch + `
		WHERE id = $1 AND status IN ('processing', 'extracting')
		RETURNING retry_count`
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		return 0, fmt.Errorf("failed to increment retry count: %w", noRows(err, domain.ErrStaleState))
	}
	return n, nil
}

// ListStale returns ids of jobs in statuses untouched since before.
func (r *JobRepository) ListStale(ctx context.Context, statuses []domain.JobStatus, before time.Time, limit int) ([]string, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	ids := []string{}
	query := `
		SELECT id FROM jobs
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`
	if err := r.db.SelectContext(ctx, &ids, query, pq.Array(names), before, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return ids, nil
}
