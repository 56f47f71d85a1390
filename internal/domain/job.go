package domain

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

type JobType string

const (
	JobTypeParse   JobType = "parse"
	JobTypeExtract JobType = "extract"
)

func (t JobType) Valid() bool { return t == JobTypeParse || t == JobTypeExtract }

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusExtracting JobStatus = "extracting"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Rank orders statuses along the lifecycle; failed shares the terminal rank.
func (s JobStatus) Rank() int { return statusRank[s] }

var statusRank = map[JobStatus]int{
	JobStatusPending:    0,
	JobStatusProcessing: 1,
	JobStatusExtracting: 2,
	JobStatusCompleted:  3,
	JobStatusFailed:     3,
}

var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusExtracting, JobStatusCompleted, JobStatusFailed},
	JobStatusExtracting: {JobStatusCompleted, JobStatusFailed},
}

// ValidateTransition rejects any move not on the lifecycle graph.
func ValidateTransition(from, to JobStatus) error {
	for _, next := range validTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: job cannot move from %s to %s", ErrStaleState, from, to)
}

// Error codes recorded on failed jobs.
const (
	ErrorCodeOCRFailed         = "OCR_FAILED"
	ErrorCodeExtractionFailed  = "EXTRACTION_FAILED"
	ErrorCodeSourceFetchFailed = "SOURCE_FETCH_FAILED"
	ErrorCodeSchemaNotFound    = "SCHEMA_NOT_FOUND"
	ErrorCodeJobStalled        = "JOB_STALLED"
)

// MaxHintsLength bounds extraction hints.
const MaxHintsLength = 2000

// Job is one unit of document processing.
type Job struct {
	ID             string    `db:"id"              json:"id"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	UserID         string    `db:"user_id"         json:"userId"`
	Type           JobType   `db:"type"            json:"type"`
	Status         JobStatus `db:"status"          json:"status"`

	FileKey     *string `db:"file_key"     json:"fileKey"`
	SourceURL   *string `db:"source_url"   json:"sourceUrl"`
	FileName    string  `db:"file_name"    json:"fileName"`
	FileSize    int64   `db:"file_size"    json:"fileSize"`
	MimeType    string  `db:"mime_type"    json:"mimeType"`
	SchemaID    *string `db:"schema_id"    json:"schemaId"`
	Hints       *string `db:"hints"        json:"hints,omitempty"`
	LLMProvider *string `db:"llm_provider" json:"llmProvider"`
	LLMModel    *string `db:"llm_model"    json:"llmModel"`

	MarkdownResult   *string         `db:"markdown_result"    json:"markdownResult"`
	JSONResult       *types.JSONText `db:"json_result"        json:"jsonResult,omitempty"`
	PageCount        *int            `db:"page_count"         json:"pageCount"`
	TokenCount       *int            `db:"token_count"        json:"tokenCount"`
	ProcessingTimeMs *int64          `db:"processing_time_ms" json:"processingTimeMs"`

	ErrorCode    *string `db:"error_code"    json:"errorCode"`
	ErrorMessage *string `db:"error_message" json:"errorMessage"`
	RetryCount   int     `db:"retry_count"   json:"retryCount"`

	CreatedAt   time.Time  `db:"created_at"   json:"createdAt"`
	StartedAt   *time.Time `db:"started_at"   json:"startedAt"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updatedAt"`
}

// HasJSONResult reports whether extraction produced a result.
func (j *Job) HasJSONResult() bool {
	return j.JSONResult != nil && len(*j.JSONResult) > 0 && string(*j.JSONResult) != "null"
}

// Owner identifies the organization and user a resource belongs to.
type Owner struct {
	OrganizationID string
	UserID         string
}

// JobListFilter narrows a job listing. Zero values mean "any".
type JobListFilter struct {
	Status    JobStatus
	Type      JobType
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

const (
	SortByCreatedAt = "createdAt"
	SortByUpdatedAt = "updatedAt"
	SortAsc         = "asc"
	SortDesc        = "desc"

	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize validates f and fills defaults.
func (f *JobListFilter) Normalize() error {
	if f.Status != "" && !f.Status.Valid() {
		return InvalidInput("invalid status %q", f.Status)
	}
	if f.Type != "" && !f.Type.Valid() {
		return InvalidInput("invalid type %q", f.Type)
	}
	switch f.SortBy {
	case "":
		f.SortBy = SortByCreatedAt
	case SortByCreatedAt, SortByUpdatedAt:
	default:
		return InvalidInput("sortBy must be createdAt or updatedAt")
	}
	switch f.SortOrder {
	case "":
		f.SortOrder = SortDesc
	case SortAsc, SortDesc:
	default:
		return InvalidInput("sortOrder must be asc or desc")
	}
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultPageLimit
	case f.Limit > MaxPageLimit:
		f.Limit = MaxPageLimit
	}
	return nil
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}
