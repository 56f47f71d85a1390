// Package job owns the document-processing job lifecycle: creation, the
// background pipeline that runs OCR and extraction, and job queries.
package job

import (
	"context"
	"io"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/llm"
	"github.com/jonesrussell/ocrbase/internal/ocr"
)

// Repository persists jobs. State-changing calls are conditional and return
// domain.ErrStaleState when the row moved on or no longer exists.
type Repository interface {
	Insert(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, orgID, id string) (*domain.Job, error)
	Find(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, orgID, userID string, filter domain.JobListFilter) ([]*domain.Job, int, error)
	Delete(ctx context.Context, orgID, id string) (*domain.Job, error)
	Claim(ctx context.Context, id string) (*domain.Job, error)
	StoreMarkdown(ctx context.Context, id string, status domain.JobStatus, markdown string, pageCount int) error
	SetStatus(ctx context.Context, id string, from, to domain.JobStatus) (*domain.Job, error)
	Complete(ctx context.Context, id string, from domain.JobStatus, jsonResult *types.JSONText, tokenCount *int) (*domain.Job, error)
	Fail(ctx context.Context, id, code, message string) (*domain.Job, error)
	IncrementRetry(ctx context.Context, id string) (int, error)
	ListStale(ctx context.Context, statuses []domain.JobStatus, before time.Time, limit int) ([]string, error)
}

// Schemas resolves extraction schemas within an organization.
type Schemas interface {
	GetByID(ctx context.Context, orgID, id string) (*domain.Schema, error)
	MarkUsed(ctx context.Context, id string) error
}

// FileStore keeps uploaded documents.
type FileStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// OCR turns a document into markdown.
type OCR interface {
	Parse(ctx context.Context, data []byte, mimeType string) (*ocr.Result, error)
}

// Extractor turns markdown into JSON matching a schema.
type Extractor interface {
	Extract(ctx context.Context, req llm.Request) (*llm.Result, error)
	Provider() string
	Model() string
}

// Fetcher downloads the document behind a job's source URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Source, error)
}

// Source is a fetched document.
type Source struct {
	Data     []byte
	MimeType string
}
