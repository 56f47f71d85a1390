// Package wideevent accumulates the facts of one HTTP request into a single
// structured record that is emitted exactly once.
package wideevent

import (
	"context"
	"slices"
	"sync"
	"time"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
)

// Outcome is derived from the final status code.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Env describes the running process.
type Env struct {
	Service     string
	Version     string
	Commit      string
	Region      string
	Environment string
}

// JobFacts are merged into the event as they become known. Zero fields are
// ignored by SetJob.
type JobFacts struct {
	ID        string
	Type      string
	Status    string
	FileSize  int64
	MimeType  string
	PageCount int
	SchemaID  string
}

func (j *JobFacts) merge(other JobFacts) {
	if other.ID != "" {
		j.ID = other.ID
	}
	if other.Type != "" {
		j.Type = other.Type
	}
	if other.Status != "" {
		j.Status = other.Status
	}
	if other.FileSize != 0 {
		j.FileSize = other.FileSize
	}
	if other.MimeType != "" {
		j.MimeType = other.MimeType
	}
	if other.PageCount != 0 {
		j.PageCount = other.PageCount
	}
	if other.SchemaID != "" {
		j.SchemaID = other.SchemaID
	}
}

// ErrorFacts describe the failure that determined the response.
type ErrorFacts struct {
	Code    string
	Message string
	Stack   string
}

// Record is the immutable result of Finalize.
type Record struct {
	RequestID  string
	Method     string
	Path       string
	UserAgent  string
	Env        Env
	StartedAt  time.Time
	DurationMs int64
	StatusCode int
	Outcome    Outcome

	UserID           string
	OrganizationID   string
	OrganizationName string
	APIKeyID         string
	Job              *JobFacts
	Error            *ErrorFacts
	Warnings         []string
}

// Event is owned by a single request. Setters are safe for concurrent use
// and become no-ops after Finalize.
type Event struct {
	mu        sync.Mutex
	rec       Record
	job       JobFacts
	hasJob    bool
	finalized bool
	now       func() time.Time
}

func New(requestID, method, path, userAgent string, env Env) *Event {
	return newAt(time.Now, requestID, method, path, userAgent, env)
}

func newAt(now func() time.Time, requestID, method, path, userAgent string, env Env) *Event {
	return &Event{
		now: now,
		rec: Record{
			RequestID: requestID,
			Method:    method,
			Path:      path,
			UserAgent: userAgent,
			Env:       env,
			StartedAt: now(),
		},
	}
}

func (e *Event) update(fn func()) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return
	}
	fn()
}

func (e *Event) SetUser(id string) {
	e.update(func() { e.rec.UserID = id })
}

func (e *Event) SetOrganization(id, name string) {
	e.update(func() {
		e.rec.OrganizationID = id
		e.rec.OrganizationName = name
	})
}

func (e *Event) SetAPIKey(id string) {
	e.update(func() { e.rec.APIKeyID = id })
}

// SetJob merges facts into whatever job facts were recorded before.
func (e *Event) SetJob(facts JobFacts) {
	e.update(func() {
		e.job.merge(facts)
		e.hasJob = true
	})
}

// SetError records the error that determined the response. A later call
// replaces an earlier one.
func (e *Event) SetError(code, message, stack string) {
	e.update(func() {
		e.rec.Error = &ErrorFacts{Code: code, Message: message, Stack: stack}
	})
}

// AddWarning notes a degraded but non-fatal condition, such as a limiter
// backend that could not be reached.
func (e *Event) AddWarning(msg string) {
	e.update(func() { e.rec.Warnings = append(e.rec.Warnings, msg) })
}

// HasError reports whether SetError was called.
func (e *Event) HasError() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Error != nil
}

// Finalize closes the event with the response status. Only the first call
// returns ok=true.
func (e *Event) Finalize(statusCode int) (Record, bool) {
	if e == nil {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return Record{}, false
	}
	e.finalized = true

	rec := e.rec
	rec.StatusCode = statusCode
	rec.DurationMs = e.now().Sub(rec.StartedAt).Milliseconds()
	rec.Outcome = OutcomeError
	if statusCode >= 200 && statusCode < 400 {
		rec.Outcome = OutcomeSuccess
	}
	if e.hasJob {
		job := e.job
		rec.Job = &job
	}
	if rec.Error != nil {
		errCopy := *rec.Error
		rec.Error = &errCopy
	}
	rec.Warnings = slices.Clone(rec.Warnings)
	return rec, true
}

// Fields flattens the record for structured logging.
func (r Record) Fields() []infralogger.Field {
	fields := []infralogger.Field{
		infralogger.String("request_id", r.RequestID),
		infralogger.String("method", r.Method),
		infralogger.String("path", r.Path),
		infralogger.Int("status_code", r.StatusCode),
		infralogger.Int64("duration_ms", r.DurationMs),
		infralogger.String("outcome", string(r.Outcome)),
		infralogger.Time("started_at", r.StartedAt),
		infralogger.String("service", r.Env.Service),
		infralogger.String("version", r.Env.Version),
	}
	fields = appendNonEmpty(fields,
		"user_agent", r.UserAgent,
		"commit", r.Env.Commit,
		"region", r.Env.Region,
		"environment", r.Env.Environment,
		"user_id", r.UserID,
		"organization_id", r.OrganizationID,
		"organization_name", r.OrganizationName,
		"api_key_id", r.APIKeyID,
	)
	if r.Job != nil {
		job := map[string]any{"id": r.Job.ID}
		if r.Job.Type != "" {
			job["type"] = r.Job.Type
		}
		if r.Job.Status != "" {
			job["status"] = r.Job.Status
		}
		if r.Job.FileSize > 0 {
			job["file_size"] = r.Job.FileSize
		}
		if r.Job.MimeType != "" {
			job["mime_type"] = r.Job.MimeType
		}
		if r.Job.PageCount > 0 {
			job["page_count"] = r.Job.PageCount
		}
		if r.Job.SchemaID != "" {
			job["schema_id"] = r.Job.SchemaID
		}
		fields = append(fields, infralogger.Object("job", job))
	}
	if r.Error != nil {
		errFields := map[string]any{"code": r.Error.Code, "message": r.Error.Message}
		if r.Error.Stack != "" {
			errFields["stack"] = r.Error.Stack
		}
		fields = append(fields, infralogger.Object("error", errFields))
	}
	if len(r.Warnings) > 0 {
		fields = append(fields, infralogger.Strings("warnings", r.Warnings))
	}
	return fields
}

func appendNonEmpty(fields []infralogger.Field, kv ...string) []infralogger.Field {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			fields = append(fields, infralogger.String(kv[i], kv[i+1]))
		}
	}
	return fields
}

type ctxKey struct{}

func WithContext(ctx context.Context, e *Event) context.Context {
	return context.WithValue(ctx, ctxKey{}, e)
}

// FromContext returns the request's event, or nil. All Event methods accept
// a nil receiver.
func FromContext(ctx context.Context) *Event {
	e, _ := ctx.Value(ctxKey{}).(*Event)
	return e
}
