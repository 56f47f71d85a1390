package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.opentelemetry.io/otel/attribute"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/infrastructure/retry"
	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/llm"
	"github.com/jonesrussell/ocrbase/internal/notify"
)

const maxRetryDelay = 30 * time.Second

// stageError is a collaborator failure that ends the job.
type stageError struct {
	code string
	err  error
}

func (e *stageError) Error() string { return e.code + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// Process runs the pipeline for jobID. Concurrent and repeated calls are
// safe: only the lock holder works, terminal jobs are left alone, and a job
// that is deleted or moved mid-run has its result discarded.
func (m *Manager) Process(ctx context.Context, jobID string) error {
	ctx, span := m.tracer.start(ctx, "job.process", jobID)
	defer span.End()

	release, ok, err := m.Locker.TryLock(ctx, jobID)
	if err != nil {
		return fmt.Errorf("lock job %s: %w", jobID, err)
	}
	if !ok {
		m.Log.Debug("Job is already being processed", infralogger.String("job_id", jobID))
		return nil
	}
	defer release()

	log := m.Log.With(infralogger.String("job_id", jobID))
	job, err := m.Repo.Find(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("Job no longer exists, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	r := &run{m: m, job: job, log: log.With(infralogger.String("job_type", string(job.Type))), started: time.Now()}
	err = r.finish(ctx, r.execute(ctx))
	recordSpanError(span, err)
	return err
}

type run struct {
	m       *Manager
	job     *domain.Job
	log     infralogger.Logger
	started time.Time
}

func (r *run) execute(ctx context.Context) error {
	m, id := r.m, r.job.ID

	if r.job.Status == domain.JobStatusPending {
		claimed, err := m.Repo.Claim(ctx, id)
		if err != nil {
			return err
		}
		r.job = claimed
		r.publish(ctx)
	}

	if r.job.MarkdownResult == nil {
		if err := r.recognize(ctx); err != nil {
			return err
		}
	}

	if r.job.SchemaID == nil {
		done, err := m.Repo.Complete(ctx, id, r.job.Status, nil, nil)
		if err != nil {
			return err
		}
		r.job = done
		r.publish(ctx)
		return nil
	}

	if r.job.Status == domain.JobStatusProcessing {
		extracting, err := m.Repo.SetStatus(ctx, id, domain.JobStatusProcessing, domain.JobStatusExtracting)
		if err != nil {
			return err
		}
		r.job = extracting
		r.publish(ctx)
	}
	return r.extract(ctx)
}

func (r *run) recognize(ctx context.Context) error {
	m := r.m

	var src *Source
	err := r.attempt(ctx, domain.ErrorCodeSourceFetchFailed, "fetch", m.cfg.OCRTimeout, func(ctx context.Context) error {
		var loadErr error
		src, loadErr = r.load(ctx)
		return loadErr
	})
	if err != nil {
		return err
	}

	var result *ocrResult
	err = r.attempt(ctx, domain.ErrorCodeOCRFailed, "ocr", m.cfg.OCRTimeout, func(ctx context.Context) error {
		res, parseErr := m.OCR.Parse(ctx, src.Data, src.MimeType)
		if parseErr != nil {
			return parseErr
		}
		result = &ocrResult{markdown: res.Markdown, pages: max(res.PageCount, 1)}
		return nil
	})
	if err != nil {
		return err
	}

	if err = m.Repo.StoreMarkdown(ctx, r.job.ID, r.job.Status, result.markdown, result.pages); err != nil {
		return err
	}
	r.job.MarkdownResult = &result.markdown
	r.job.PageCount = &result.pages
	return nil
}

type ocrResult struct {
	markdown string
	pages    int
}

func (r *run) load(ctx context.Context) (*Source, error) {
	job := r.job
	if job.FileKey != nil {
		data, err := r.m.Files.Get(ctx, *job.FileKey)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, retry.Permanent(err)
		}
		if err != nil {
			return nil, err
		}
		return &Source{Data: data, MimeType: job.MimeType}, nil
	}
	if job.SourceURL == nil {
		return nil, retry.Permanent(errors.New("job has neither a file nor a source url"))
	}

	src, err := r.m.Fetcher.Fetch(ctx, *job.SourceURL)
	if err != nil {
		return nil, err
	}
	mimeType := resolveMime(src.MimeType, job.MimeType, src.Data)
	if mimeType == "" {
		return nil, retry.Permanent(fmt.Errorf("unsupported content type %q", src.MimeType))
	}
	src.MimeType = mimeType
	return src, nil
}

// resolveMime prefers the served type, then the type implied by the URL,
// then content sniffing.
func resolveMime(served, guessed string, data []byte) string {
	for _, candidate := range []string{normalizeMime(served), guessed, normalizeMime(http.DetectContentType(data))} {
		if SupportedMimeTypes[candidate] {
			return candidate
		}
	}
	return ""
}

func (r *run) extract(ctx context.Context) error {
	m, job := r.m, r.job

	schema, err := m.Schemas.GetByID(ctx, job.OrganizationID, *job.SchemaID)
	if errors.Is(err, domain.ErrNotFound) {
		return &stageError{code: domain.ErrorCodeSchemaNotFound, err: err}
	}
	if err != nil {
		return err
	}

	req := llm.Request{
		Markdown:   *job.MarkdownResult,
		Schema:     json.RawMessage(schema.JSONSchema),
		SchemaName: schema.Name,
	}
	if job.Hints != nil {
		req.Hints = *job.Hints
	}

	var result *llm.Result
	err = r.attempt(ctx, domain.ErrorCodeExtractionFailed, "extract", m.cfg.LLMTimeout, func(ctx context.Context) error {
		var extractErr error
		result, extractErr = m.Extractor.Extract(ctx, req)
		return extractErr
	})
	if err != nil {
		return err
	}

	if markErr := m.Schemas.MarkUsed(ctx, schema.ID); markErr != nil {
		r.log.Warn("Failed to update schema usage", infralogger.String("schema_id", schema.ID), infralogger.Error(markErr))
	}

	out := types.JSONText(result.JSON)
	tokens := result.TokenCount
	done, err := m.Repo.Complete(ctx, job.ID, domain.JobStatusExtracting, &out, &tokens)
	if err != nil {
		return err
	}
	r.job = done
	r.publish(ctx)
	return nil
}

// attempt runs fn with a per-call timeout and the retry policy. Every
// failure bumps retry_count; exhaustion or a permanent error becomes a
// stageError carrying code.
func (r *run) attempt(ctx context.Context, code, stage string, timeout time.Duration, fn func(context.Context) error) error {
	m := r.m
	policy := retry.Config{
		MaxAttempts:  m.cfg.MaxRetries + 1,
		InitialDelay: m.cfg.RetryDelay,
		MaxDelay:     maxRetryDelay,
	}

	err := retry.Do(ctx, policy, func(attempt int) error {
		stageCtx, span := m.tracer.start(ctx, "job."+stage, r.job.ID)
		span.SetAttributes(attribute.Int("job.attempt", attempt))
		defer span.End()

		callCtx, cancel := context.WithTimeout(stageCtx, timeout)
		defer cancel()

		callErr := fn(callCtx)
		if callErr == nil {
			return nil
		}
		recordSpanError(span, callErr)
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}

		count, incErr := m.Repo.IncrementRetry(ctx, r.job.ID)
		if incErr != nil {
			return retry.Permanent(incErr)
		}
		r.job.RetryCount = count
		m.Metrics.JobRetried(stage)
		r.log.Warn("Job stage failed",
			infralogger.String("stage", stage),
			infralogger.Int("attempt", attempt),
			infralogger.Int("retry_count", count),
			infralogger.Bool("permanent", retry.IsPermanent(callErr)),
			infralogger.Error(callErr))
		return callErr
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrStaleState):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return &stageError{code: code, err: err}
	}
}

func (r *run) finish(ctx context.Context, err error) error {
	m, job := r.m, r.job
	elapsed := time.Since(r.started)

	var stage *stageError
	switch {
	case err == nil:
		m.Metrics.JobFinished(string(job.Type), string(job.Status), elapsed)
		r.log.Info("Job completed",
			infralogger.Int64("duration_ms", elapsed.Milliseconds()),
			infralogger.Int("retry_count", job.RetryCount))
		return nil
	case errors.Is(err, domain.ErrStaleState):
		m.Metrics.JobDiscarded()
		r.log.Info("Job changed while processing, result discarded", infralogger.Error(err))
		return nil
	case ctx.Err() != nil:
		r.log.Info("Job processing interrupted", infralogger.String("status", string(job.Status)))
		return ctx.Err()
	case errors.As(err, &stage):
	default:
		return fmt.Errorf("process job %s: %w", job.ID, err)
	}

	failed, failErr := m.Repo.Fail(ctx, job.ID, stage.code, stage.err.Error())
	if errors.Is(failErr, domain.ErrStaleState) {
		m.Metrics.JobDiscarded()
		return nil
	}
	if failErr != nil {
		return fmt.Errorf("record failure of job %s: %w", job.ID, errors.Join(failErr, err))
	}
	r.job = failed
	r.publish(ctx)
	m.Metrics.JobFinished(string(job.Type), string(failed.Status), elapsed)
	r.log.Warn("Job failed",
		infralogger.String("error_code", stage.code),
		infralogger.Int("retry_count", failed.RetryCount),
		infralogger.Error(stage.err))
	return nil
}

func (r *run) publish(ctx context.Context) {
	if r.m.Notifier == nil {
		return
	}
	ev := notify.JobEvent(r.job)
	if err := r.m.Notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		r.log.Warn("Failed to publish job event",
			infralogger.String("status", string(r.job.Status)), infralogger.Error(err))
		return
	}
	r.m.Metrics.EventPublished(string(ev.Type))
}

func isStale(err error) bool { return errors.Is(err, domain.ErrStaleState) }
