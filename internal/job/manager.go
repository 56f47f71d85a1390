package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/metrics"
	"github.com/jonesrussell/ocrbase/internal/notify"
	"github.com/jonesrussell/ocrbase/internal/wideevent"
)

const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 2 * time.Second
	DefaultOCRTimeout  = 120 * time.Second
	DefaultLLMTimeout  = 120 * time.Second
	DefaultMaxFileSize = 50 << 20

	defaultFileName = "document"
)

// SupportedMimeTypes are the document formats the OCR engine accepts.
var SupportedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"image/tiff":      true,
}

type Config struct {
	MaxRetries  int
	RetryDelay  time.Duration
	OCRTimeout  time.Duration
	LLMTimeout  time.Duration
	MaxFileSize int64
}

func (c *Config) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.OCRTimeout <= 0 {
		c.OCRTimeout = DefaultOCRTimeout
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = DefaultLLMTimeout
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
}

// Deps are the collaborators of a Manager. Metrics may be nil.
type Deps struct {
	Repo      Repository
	Schemas   Schemas
	Files     FileStore
	OCR       OCR
	Extractor Extractor
	Fetcher   Fetcher
	Notifier  notify.Notifier
	Queue     Queue
	Locker    Locker
	Metrics   *metrics.Metrics
	Log       infralogger.Logger
}

// Manager owns every job state change.
type Manager struct {
	cfg Config
	Deps
	tracer *tracer
}

func NewManager(cfg Config, deps Deps) *Manager {
	cfg.setDefaults()
	if deps.Locker == nil {
		deps.Locker = NewKeyedMutex()
	}
	if deps.Log == nil {
		deps.Log = infralogger.NewNop()
	}
	return &Manager{cfg: cfg, Deps: deps, tracer: newTracer()}
}

// Upload is a document received with the create request.
type Upload struct {
	Name     string
	Size     int64
	MimeType string
	Body     io.Reader
}

type CreateInput struct {
	Type     domain.JobType
	File     *Upload
	URL      string
	SchemaID string
	Hints    string
}

// Create validates input, stores the upload and persists a pending job,
// then hands it to the queue. It does not wait for processing.
func (m *Manager) Create(ctx context.Context, owner domain.Owner, in CreateInput) (*domain.Job, error) {
	if !in.Type.Valid() {
		return nil, domain.InvalidInput("type must be parse or extract")
	}
	hints := strings.TrimSpace(in.Hints)
	if len(hints) > domain.MaxHintsLength {
		return nil, domain.InvalidInput("hints must be at most %d characters", domain.MaxHintsLength)
	}
	schemaID := strings.TrimSpace(in.SchemaID)
	if in.Type == domain.JobTypeParse && (schemaID != "" || hints != "") {
		return nil, domain.InvalidInput("schemaId and hints are only supported for extract jobs")
	}

	job := &domain.Job{
		ID:             domain.NewJobID(),
		OrganizationID: owner.OrganizationID,
		UserID:         owner.UserID,
		Type:           in.Type,
		Status:         domain.JobStatusPending,
	}
	if hints != "" {
		job.Hints = &hints
	}

	switch {
	case in.File != nil:
		if err := m.describeUpload(job, in.File); err != nil {
			return nil, err
		}
	case strings.TrimSpace(in.URL) != "":
		if err := describeURL(job, strings.TrimSpace(in.URL)); err != nil {
			return nil, err
		}
	default:
		return nil, domain.InvalidInput("file or url is required")
	}

	if schemaID != "" {
		if m.Extractor == nil {
			return nil, domain.InvalidInput("structured extraction is not configured on this server")
		}
		if _, err := m.Schemas.GetByID(ctx, owner.OrganizationID, schemaID); err != nil {
			return nil, err
		}
		job.SchemaID = &schemaID
		provider, model := m.Extractor.Provider(), m.Extractor.Model()
		job.LLMProvider, job.LLMModel = &provider, &model
	}

	if in.File != nil {
		key := path.Join(owner.OrganizationID, job.ID, job.FileName)
		if err := m.Files.Put(ctx, key, in.File.Body, in.File.Size, job.MimeType); err != nil {
			return nil, err
		}
		job.FileKey = &key
	}

	if err := m.Repo.Insert(ctx, job); err != nil {
		m.releaseFile(ctx, job)
		return nil, err
	}

	wideevent.FromContext(ctx).SetJob(wideevent.JobFacts{
		ID: job.ID, Type: string(job.Type), Status: string(job.Status),
		FileSize: job.FileSize, MimeType: job.MimeType, SchemaID: schemaID,
	})
	m.Metrics.JobCreated(string(job.Type))

	if err := m.Queue.Enqueue(context.WithoutCancel(ctx), job.ID); err != nil {
		// The job stays pending; the reaper re-enqueues it.
		m.Log.Warn("Failed to enqueue job",
			infralogger.String("job_id", job.ID), infralogger.Error(err))
	}
	return job, nil
}

func (m *Manager) describeUpload(job *domain.Job, file *Upload) error {
	if file.Body == nil || file.Size <= 0 {
		return domain.InvalidInput("file is empty")
	}
	if file.Size > m.cfg.MaxFileSize {
		return domain.InvalidInput("file exceeds the %d MB limit", m.cfg.MaxFileSize>>20)
	}
	name := safeFileName(file.Name)
	mimeType := normalizeMime(file.MimeType)
	if !SupportedMimeTypes[mimeType] {
		mimeType = normalizeMime(mime.TypeByExtension(path.Ext(name)))
	}
	if !SupportedMimeTypes[mimeType] {
		return domain.InvalidInput("unsupported file type; use PDF, PNG, JPEG, WebP or TIFF")
	}
	job.FileName = name
	job.FileSize = file.Size
	job.MimeType = mimeType
	return nil
}

func describeURL(job *domain.Job, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.InvalidInput("url must be an absolute http or https URL")
	}
	job.SourceURL = &raw
	job.FileName = safeFileName(path.Base(u.Path))
	job.MimeType = normalizeMime(mime.TypeByExtension(path.Ext(job.FileName)))
	return nil
}

func safeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return defaultFileName
	}
	return name
}

func normalizeMime(t string) string {
	if t == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}
	return parsed
}

// ListResult is one page of jobs.
type ListResult struct {
	Data       []*domain.Job     `json:"data"`
	Pagination domain.Pagination `json:"pagination"`
}

// List returns jobs of orgID, narrowed to userID when it is non-empty.
func (m *Manager) List(ctx context.Context, orgID, userID string, filter domain.JobListFilter) (*ListResult, error) {
	if err := filter.Normalize(); err != nil {
		return nil, err
	}
	jobs, total, err := m.Repo.List(ctx, orgID, userID, filter)
	if err != nil {
		return nil, err
	}
	return &ListResult{Data: jobs, Pagination: domain.NewPagination(filter.Page, filter.Limit, total)}, nil
}

func (m *Manager) Get(ctx context.Context, orgID, id string) (*domain.Job, error) {
	job, err := m.Repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	wideevent.FromContext(ctx).SetJob(wideevent.JobFacts{ID: job.ID, Type: string(job.Type), Status: string(job.Status)})
	return job, nil
}

// Delete removes a job and its stored upload. An in-flight worker notices
// the missing row and drops its result.
func (m *Manager) Delete(ctx context.Context, orgID, id string) error {
	job, err := m.Repo.Delete(ctx, orgID, id)
	if err != nil {
		return err
	}
	m.releaseFile(ctx, job)
	wideevent.FromContext(ctx).SetJob(wideevent.JobFacts{ID: job.ID, Type: string(job.Type), Status: string(job.Status)})
	return nil
}

func (m *Manager) releaseFile(ctx context.Context, job *domain.Job) {
	if job.FileKey == nil {
		return
	}
	if err := m.Files.Delete(context.WithoutCancel(ctx), *job.FileKey); err != nil {
		m.Log.Warn("Failed to delete stored file",
			infralogger.String("job_id", job.ID),
			infralogger.String("file_key", *job.FileKey),
			infralogger.Error(err))
	}
}

// Download formats.
const (
	FormatMarkdown = "md"
	FormatJSON     = "json"
)

// Download is a job result rendered as a file.
type Download struct {
	FileName    string
	ContentType string
	Body        []byte
}

// DownloadContent renders a job result. json requires an extraction result.
func (m *Manager) DownloadContent(ctx context.Context, orgID, id, format string) (*Download, error) {
	if format == "" {
		format = FormatMarkdown
	}
	if format != FormatMarkdown && format != FormatJSON {
		return nil, domain.InvalidInput("format must be md or json")
	}

	job, err := m.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(job.FileName, path.Ext(job.FileName))
	if base == "" || job.FileName == defaultFileName {
		base = job.ID
	}

	if format == FormatJSON {
		if !job.HasJSONResult() {
			return nil, domain.InvalidInput("job has no JSON result")
		}
		var buf bytes.Buffer
		if err = json.Indent(&buf, *job.JSONResult, "", "  "); err != nil {
			return nil, errors.Join(errors.New("stored json result is invalid"), err)
		}
		return &Download{FileName: base + ".json", ContentType: "application/json", Body: buf.Bytes()}, nil
	}

	if job.MarkdownResult == nil {
		return nil, domain.InvalidInput("job has no markdown result yet")
	}
	return &Download{FileName: base + ".md", ContentType: "text/markdown; charset=utf-8", Body: []byte(*job.MarkdownResult)}, nil
}
