package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/ocrbase/internal/api/middleware"
	"github.com/jonesrussell/ocrbase/internal/apikey"
	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/identity"
	"github.com/jonesrussell/ocrbase/internal/job"
	"github.com/jonesrussell/ocrbase/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testOrg  = "org_1"
	testUser = "usr_1"
)

var member = &domain.Identity{
	User:         domain.User{ID: testUser, Name: "Ada"},
	Organization: &domain.Organization{ID: testOrg, Name: "Acme"},
}

type stubResolver struct {
	id  *domain.Identity
	err error
}

func (s stubResolver) Resolve(context.Context, *http.Request, ...identity.ResolveOption) (*domain.Identity, error) {
	return s.id, s.err
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: true, Limit: 100, Remaining: 99}, nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Limit: 100}, nil
}

type noUsage struct{}

func (noUsage) RecordUsage(context.Context, apikey.Usage) {}

// fakeJobs records the calls the handler makes.
type fakeJobs struct {
	mu sync.Mutex

	input    job.CreateInput
	upload   []byte
	owner    domain.Owner
	filter   domain.JobListFilter
	listUser string
	format   string
	deleted  string

	jobs map[string]*domain.Job
	err  error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]*domain.Job)}
}

func (f *fakeJobs) Create(_ context.Context, owner domain.Owner, in job.CreateInput) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input, f.owner = in, owner
	if in.File != nil {
		f.upload, _ = io.ReadAll(in.File.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Job{ID: "job_new", Type: in.Type, Status: domain.JobStatusPending, OrganizationID: owner.OrganizationID}, nil
}

func (f *fakeJobs) List(_ context.Context, orgID, userID string, filter domain.JobListFilter) (*job.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter, f.listUser = filter, userID
	if f.err != nil {
		return nil, f.err
	}
	return &job.ListResult{Data: []*domain.Job{}, Pagination: domain.NewPagination(1, 20, 0)}, nil
}

func (f *fakeJobs) Get(_ context.Context, orgID, id string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	j, ok := f.jobs[id]
	if !ok || j.OrganizationID != orgID {
		return nil, domain.NotFound("job")
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) Delete(_ context.Context, orgID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; !ok || j.OrganizationID != orgID {
		return domain.NotFound("job")
	}
	f.deleted = id
	delete(f.jobs, id)
	return nil
}

func (f *fakeJobs) DownloadContent(_ context.Context, orgID, id, format string) (*job.Download, error) {
	f.mu.Lock()
	f.format = format
	f.mu.Unlock()
	if _, err := f.Get(context.Background(), orgID, id); err != nil {
		return nil, err
	}
	return &job.Download{FileName: "invoice.md", ContentType: "text/markdown; charset=utf-8", Body: []byte("# Invoice")}, nil
}

func (f *fakeJobs) put(j *domain.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.ID] = j
}

type fakeKeys struct {
	created string
	err     error
}

func (f *fakeKeys) Create(_ context.Context, owner domain.Owner, name string) (*apikey.Created, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = name
	return &apikey.Created{
		Key: &domain.APIKey{
			ID: "key_1", OrganizationID: owner.OrganizationID, UserID: owner.UserID,
			Name: name, KeyHash: "deadbeef", KeyPrefix: "sk_abcde", IsActive: true,
		},
		Secret: "sk_abcdefsecret",
	}, nil
}

func (f *fakeKeys) List(context.Context, string) ([]*domain.APIKey, error) {
	return []*domain.APIKey{{ID: "key_1", KeyHash: "deadbeef", KeyPrefix: "sk_abcde"}}, f.err
}

func (f *fakeKeys) GetUsage(_ context.Context, _, id string) (*domain.APIKeyUsageReport, error) {
	if id != "key_1" {
		return nil, domain.NotFound("api key")
	}
	return &domain.APIKeyUsageReport{Key: domain.APIKey{ID: id}, Counts: domain.UsageCounts{Last24h: 3}}, nil
}

func (f *fakeKeys) Revoke(_ context.Context, _, id string) error {
	if id != "key_1" {
		return domain.NotFound("api key")
	}
	return nil
}

func (f *fakeKeys) Delete(_ context.Context, _, id string) error {
	if id != "key_1" {
		return domain.NotFound("api key")
	}
	return nil
}

type fakeSchemas struct {
	mu      sync.Mutex
	schemas map[string]*domain.Schema
}

func newFakeSchemas() *fakeSchemas {
	return &fakeSchemas{schemas: make(map[string]*domain.Schema)}
}

func (f *fakeSchemas) Insert(_ context.Context, s *domain.Schema) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemas[s.ID] = s
	return nil
}

func (f *fakeSchemas) GetByID(_ context.Context, orgID, id string) (*domain.Schema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schemas[id]
	if !ok || s.OrganizationID != orgID {
		return nil, domain.NotFound("schema")
	}
	return s, nil
}

func (f *fakeSchemas) List(_ context.Context, orgID string) ([]*domain.Schema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*domain.Schema{}
	for _, s := range f.schemas {
		if s.OrganizationID == orgID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSchemas) Delete(ctx context.Context, orgID, id string) error {
	if _, err := f.GetByID(ctx, orgID, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.schemas, id)
	return nil
}

// authed mounts handlers under /v1 behind the identity and auth checks.
func authed(id *domain.Identity, mount func(g *gin.RouterGroup)) *gin.Engine {
	router := gin.New()
	mount(router.Group("/v1", middleware.Identity(stubResolver{id: id}), middleware.RequireAuth()))
	return router
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}
