package job_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/job"
	"github.com/jonesrussell/ocrbase/internal/llm"
	"github.com/jonesrussell/ocrbase/internal/notify"
	"github.com/jonesrussell/ocrbase/internal/ocr"
)

// memRepo applies the same conditional updates as the postgres repository.
type memRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time

	insertErr error
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[string]*domain.Job), now: time.Now}
}

func clone(j *domain.Job) *domain.Job {
	c := *j
	return &c
}

func (r *memRepo) put(j *domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = r.now()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = j.UpdatedAt
	}
	r.jobs[j.ID] = clone(j)
}

func (r *memRepo) get(id string) *domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil
	}
	return clone(j)
}

func (r *memRepo) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

func (r *memRepo) Insert(_ context.Context, j *domain.Job) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.put(j)
	return nil
}

func (r *memRepo) GetByID(_ context.Context, orgID, id string) (*domain.Job, error) {
	j := r.get(id)
	if j == nil || j.OrganizationID != orgID {
		return nil, domain.NotFound("job")
	}
	return j, nil
}

func (r *memRepo) Find(_ context.Context, id string) (*domain.Job, error) {
	j := r.get(id)
	if j == nil {
		return nil, domain.NotFound("job")
	}
	return j, nil
}

func (r *memRepo) List(_ context.Context, orgID, userID string, f domain.JobListFilter) ([]*domain.Job, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Job
	for _, id := range slices.Sorted(maps.Keys(r.jobs)) {
		j := r.jobs[id]
		if j.OrganizationID != orgID || (userID != "" && j.UserID != userID) {
			continue
		}
		if (f.Status != "" && j.Status != f.Status) || (f.Type != "" && j.Type != f.Type) {
			continue
		}
		out = append(out, clone(j))
	}
	total := len(out)
	start := min((f.Page-1)*f.Limit, total)
	end := min(start+f.Limit, total)
	return out[start:end], total, nil
}

func (r *memRepo) Delete(_ context.Context, orgID, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.OrganizationID != orgID {
		return nil, domain.NotFound("job")
	}
	delete(r.jobs, id)
	return clone(j), nil
}

// update runs fn on the stored job when its status is one of from.
func (r *memRepo) update(id string, fn func(*domain.Job), from ...domain.JobStatus) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || !slices.Contains(from, j.Status) {
		return nil, domain.ErrStaleState
	}
	fn(j)
	j.UpdatedAt = r.now()
	return clone(j), nil
}

func (r *memRepo) Claim(_ context.Context, id string) (*domain.Job, error) {
	return r.update(id, func(j *domain.Job) {
		j.Status = domain.JobStatusProcessing
		if j.StartedAt == nil {
			now := r.now()
			j.StartedAt = &now
		}
	}, domain.JobStatusPending)
}

func (r *memRepo) StoreMarkdown(_ context.Context, id string, status domain.JobStatus, markdown string, pages int) error {
	_, err := r.update(id, func(j *domain.Job) {
		j.MarkdownResult = &markdown
		j.PageCount = &pages
	}, status)
	return err
}

func (r *memRepo) SetStatus(_ context.Context, id string, from, to domain.JobStatus) (*domain.Job, error) {
	if err := domain.ValidateTransition(from, to); err != nil {
		return nil, err
	}
	return r.update(id, func(j *domain.Job) { j.Status = to }, from)
}

func (r *memRepo) Complete(_ context.Context, id string, from domain.JobStatus, out *types.JSONText, tokens *int) (*domain.Job, error) {
	if err := domain.ValidateTransition(from, domain.JobStatusCompleted); err != nil {
		return nil, err
	}
	return r.update(id, func(j *domain.Job) {
		j.Status = domain.JobStatusCompleted
		j.JSONResult = out
		j.TokenCount = tokens
		r.stamp(j)
	}, from)
}

func (r *memRepo) Fail(_ context.Context, id, code, message string) (*domain.Job, error) {
	return r.update(id, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.ErrorCode = &code
		j.ErrorMessage = &message
		r.stamp(j)
	}, domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusExtracting)
}

func (r *memRepo) stamp(j *domain.Job) {
	now := r.now()
	j.CompletedAt = &now
	if j.StartedAt != nil {
		ms := now.Sub(*j.StartedAt).Milliseconds()
		j.ProcessingTimeMs = &ms
	}
}

func (r *memRepo) IncrementRetry(_ context.Context, id string) (int, error) {
	j, err := r.update(id, func(j *domain.Job) { j.RetryCount++ },
		domain.JobStatusProcessing, domain.JobStatusExtracting)
	if err != nil {
		return 0, err
	}
	return j.RetryCount, nil
}

func (r *memRepo) ListStale(_ context.Context, statuses []domain.JobStatus, before time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, id := range slices.Sorted(maps.Keys(r.jobs)) {
		j := r.jobs[id]
		if slices.Contains(statuses, j.Status) && j.UpdatedAt.Before(before) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type memSchemas struct {
	mu      sync.Mutex
	schemas map[string]*domain.Schema
	used    map[string]int
}

func newMemSchemas(schemas ...*domain.Schema) *memSchemas {
	s := &memSchemas{schemas: make(map[string]*domain.Schema), used: make(map[string]int)}
	for _, sc := range schemas {
		s.schemas[sc.ID] = sc
	}
	return s
}

func (s *memSchemas) GetByID(_ context.Context, orgID, id string) (*domain.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schemas[id]
	if !ok || sc.OrganizationID != orgID {
		return nil, domain.NotFound("schema")
	}
	return sc, nil
}

func (s *memSchemas) MarkUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used[id]++
	return nil
}

func (s *memSchemas) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schemas, id)
}

func (s *memSchemas) usage(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[id]
}

type memFiles struct {
	mu     sync.Mutex
	files  map[string][]byte
	putErr error
}

func newMemFiles() *memFiles { return &memFiles{files: make(map[string][]byte)} }

func (f *memFiles) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = data
	return nil
}

func (f *memFiles) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[key]
	if !ok {
		return nil, domain.NotFound("file")
	}
	return bytes.Clone(data), nil
}

func (f *memFiles) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, key)
	return nil
}

func (f *memFiles) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[key]
	return ok
}

// fakeOCR answers with markdown unless parse is set.
type fakeOCR struct {
	calls atomic.Int32
	parse func(ctx context.Context, call int) (*ocr.Result, error)
}

func (o *fakeOCR) Parse(ctx context.Context, _ []byte, _ string) (*ocr.Result, error) {
	n := int(o.calls.Add(1))
	if o.parse != nil {
		return o.parse(ctx, n)
	}
	return &ocr.Result{Markdown: "# Invoice\n\nTotal: 12.50", PageCount: 2}, nil
}

type fakeExtractor struct {
	calls   atomic.Int32
	lastReq atomic.Pointer[llm.Request]
	extract func(call int) (*llm.Result, error)
}

func (e *fakeExtractor) Extract(_ context.Context, req llm.Request) (*llm.Result, error) {
	n := int(e.calls.Add(1))
	e.lastReq.Store(&req)
	if e.extract != nil {
		return e.extract(n)
	}
	return &llm.Result{JSON: []byte(`{"total":12.5}`), TokenCount: 42}, nil
}

func (e *fakeExtractor) Provider() string { return "anthropic" }
func (e *fakeExtractor) Model() string    { return "test-model" }

type fakeFetcher struct {
	src *job.Source
	err error
}

func (f *fakeFetcher) Fetch(context.Context, string) (*job.Source, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.src, nil
}

// recorder keeps every published event in order.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) statuses(jobID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.JobID == jobID {
			out = append(out, string(ev.Type)+":"+string(ev.Data.Status))
		}
	}
	return out
}

// slowQueue records enqueued ids without a consumer.
type slowQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *slowQueue) Enqueue(_ context.Context, id string) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

func (q *slowQueue) Dequeue(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (q *slowQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.ids)
}

var errBoom = errors.New("boom")

type fixture struct {
	m         *job.Manager
	repo      *memRepo
	schemas   *memSchemas
	files     *memFiles
	ocr       *fakeOCR
	extractor *fakeExtractor
	fetcher   *fakeFetcher
	events    *recorder
	queue     *slowQueue
	locker    *job.KeyedMutex
}

const (
	testOrg    = "org_1"
	testUser   = "usr_1"
	testSchema = "sch_1"
)

var owner = domain.Owner{OrganizationID: testOrg, UserID: testUser}

func newFixture() *fixture {
	f := &fixture{
		repo: newMemRepo(),
		schemas: newMemSchemas(&domain.Schema{
			ID: testSchema, OrganizationID: testOrg, Name: "invoice",
			JSONSchema: types.JSONText(`{"type":"object","properties":{"total":{"type":"number"}}}`),
		}),
		files:     newMemFiles(),
		ocr:       &fakeOCR{},
		extractor: &fakeExtractor{},
		fetcher:   &fakeFetcher{},
		events:    &recorder{},
		queue:     &slowQueue{},
		locker:    job.NewKeyedMutex(),
	}
	f.m = job.NewManager(job.Config{MaxRetries: 2, RetryDelay: time.Millisecond}, job.Deps{
		Repo:      f.repo,
		Schemas:   f.schemas,
		Files:     f.files,
		OCR:       f.ocr,
		Extractor: f.extractor,
		Fetcher:   f.fetcher,
		Notifier:  f.events,
		Queue:     f.queue,
		Locker:    f.locker,
	})
	return f
}

func (f *fixture) seed(j *domain.Job) *domain.Job {
	if j.ID == "" {
		j.ID = domain.NewJobID()
	}
	if j.OrganizationID == "" {
		j.OrganizationID = testOrg
	}
	if j.UserID == "" {
		j.UserID = testUser
	}
	if j.Status == "" {
		j.Status = domain.JobStatusPending
	}
	if j.FileKey == nil && j.SourceURL == nil {
		key := j.OrganizationID + "/" + j.ID + "/doc.pdf"
		j.FileKey = &key
		j.FileName = "doc.pdf"
		j.MimeType = "application/pdf"
		f.files.files[key] = []byte("%PDF-1.7")
	}
	f.repo.put(j)
	return j
}

func ptr[T any](v T) *T { return &v }
