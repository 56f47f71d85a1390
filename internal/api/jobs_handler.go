package api

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/job"
)

// multipartOverhead is the slack allowed above the file limit for the other
// form fields and part headers.
const multipartOverhead = 1 << 20

// JobService is implemented by *job.Manager.
type JobService interface {
	Create(ctx context.Context, owner domain.Owner, in job.CreateInput) (*domain.Job, error)
	List(ctx context.Context, orgID, userID string, filter domain.JobListFilter) (*job.ListResult, error)
	Get(ctx context.Context, orgID, id string) (*domain.Job, error)
	Delete(ctx context.Context, orgID, id string) error
	DownloadContent(ctx context.Context, orgID, id, format string) (*job.Download, error)
}

type JobsHandler struct {
	jobs        JobService
	maxFileSize int64
}

func NewJobsHandler(jobs JobService, maxFileSize int64) *JobsHandler {
	if maxFileSize <= 0 {
		maxFileSize = job.DefaultMaxFileSize
	}
	return &JobsHandler{jobs: jobs, maxFileSize: maxFileSize}
}

// createRequest is the JSON form of a create call; multipart requests carry
// the same fields as form values.
type createRequest struct {
	URL      string `json:"url"`
	SchemaID string `json:"schemaId"`
	Hints    string `json:"hints"`
}

// Parse handles POST /v1/parse.
func (h *JobsHandler) Parse(c *gin.Context) { h.create(c, domain.JobTypeParse) }

// Extract handles POST /v1/extract.
func (h *JobsHandler) Extract(c *gin.Context) { h.create(c, domain.JobTypeExtract) }

func (h *JobsHandler) create(c *gin.Context, jobType domain.JobType) {
	in, cleanup, err := h.bindCreate(c)
	if err != nil {
		respondError(c, err)
		return
	}
	defer cleanup()
	in.Type = jobType

	created, err := h.jobs.Create(c.Request.Context(), owner(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, created)
}

func (h *JobsHandler) bindCreate(c *gin.Context) (job.CreateInput, func(), error) {
	noop := func() {}
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return job.CreateInput{}, noop, domain.InvalidInput("invalid JSON body")
		}
		return job.CreateInput{URL: req.URL, SchemaID: req.SchemaID, Hints: req.Hints}, noop, nil
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+multipartOverhead)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return job.CreateInput{}, noop, err
		}
		return job.CreateInput{}, noop, domain.InvalidInput("expected a multipart form with a file or url field")
	}
	cleanup := func() { _ = form.RemoveAll() }

	in := job.CreateInput{
		URL:      formValue(form, "url"),
		SchemaID: formValue(form, "schemaId"),
		Hints:    formValue(form, "hints"),
	}
	if files := form.File["file"]; len(files) > 0 {
		f, openErr := files[0].Open()
		if openErr != nil {
			cleanup()
			return job.CreateInput{}, noop, openErr
		}
		in.File = &job.Upload{
			Name:     files[0].Filename,
			Size:     files[0].Size,
			MimeType: files[0].Header.Get("Content-Type"),
			Body:     f,
		}
		cleanup = func() {
			_ = f.Close()
			_ = form.RemoveAll()
		}
	}
	return in, cleanup, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// List handles GET /v1/jobs. mine=true narrows the listing to the caller's
// own jobs.
func (h *JobsHandler) List(c *gin.Context) {
	filter := domain.JobListFilter{
		Status:    domain.JobStatus(c.Query("status")),
		Type:      domain.JobType(c.Query("type")),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	var err error
	if filter.Page, err = queryInt(c, "page"); err != nil {
		respondError(c, err)
		return
	}
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		respondError(c, err)
		return
	}

	o := owner(c)
	userID := ""
	if c.Query("mine") == "true" {
		userID = o.UserID
	}
	result, err := h.jobs.List(c.Request.Context(), o.OrganizationID, userID, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, domain.InvalidInput("%s must be a positive integer", key)
	}
	return n, nil
}

// Get handles GET /v1/jobs/:id.
func (h *JobsHandler) Get(c *gin.Context) {
	j, err := h.jobs.Get(c.Request.Context(), owner(c).OrganizationID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

// Delete handles DELETE /v1/jobs/:id.
func (h *JobsHandler) Delete(c *gin.Context) {
	if err := h.jobs.Delete(c.Request.Context(), owner(c).OrganizationID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Download handles GET /v1/jobs/:id/download?format=md|json.
func (h *JobsHandler) Download(c *gin.Context) {
	d, err := h.jobs.DownloadContent(c.Request.Context(), owner(c).OrganizationID, c.Param("id"), c.Query("format"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(d.FileName, `"`, "")+`"`)
	c.Data(http.StatusOK, d.ContentType, d.Body)
}
