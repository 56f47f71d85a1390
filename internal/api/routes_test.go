package api_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/internal/api"
	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/metrics"
	"github.com/jonesrussell/ocrbase/internal/notify"
	"github.com/jonesrussell/ocrbase/internal/ratelimit"
)

func newRoutes(id *domain.Identity, limiter ratelimit.Limiter) (*gin.Engine, *fakeJobs) {
	jobs := newFakeJobs()
	resolver := stubResolver{id: id}
	m := metrics.New()
	routes := api.Routes{
		Resolver: resolver,
		Limiter:  limiter,
		Usage:    noUsage{},
		Metrics:  m,
		Jobs:     api.NewJobsHandler(jobs, 0),
		Keys:     api.NewKeysHandler(&fakeKeys{}),
		Schemas:  api.NewSchemasHandler(newFakeSchemas()),
		Realtime: api.NewRealtimeHandler(api.RealtimeConfig{}, resolver, jobs, notify.NewBus(infralogger.NewNop()), m, infralogger.NewNop()),
	}
	router := gin.New()
	routes.Setup(router)
	return router, jobs
}

func TestRoutes_AuthenticatedGroup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      *domain.Identity
		limiter ratelimit.Limiter
		want    int
	}{
		{"member", member, allowAll{}, http.StatusOK},
		{"anonymous", nil, allowAll{}, http.StatusUnauthorized},
		{"rate limited before auth", nil, denyAll{}, http.StatusTooManyRequests},
		{"rate limited member", member, denyAll{}, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router, _ := newRoutes(tt.id, tt.limiter)
			w := serve(t, router, httptest.NewRequest(http.MethodGet, "/v1/schemas", http.NoBody))

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
		})
	}
}

func TestRoutes_Metrics(t *testing.T) {
	t.Parallel()

	router, _ := newRoutes(member, allowAll{})
	serve(t, router, httptest.NewRequest(http.MethodGet, "/v1/keys", http.NoBody))

	w := serve(t, router, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `ocrbase_http_requests_total{method="GET",route="/v1/keys",status="200"} 1`)
}

func TestRoutes_RealtimeRateLimited(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      *domain.Identity
		limiter ratelimit.Limiter
		want    int
	}{
		// A plain GET is not a websocket handshake, so an admitted request
		// reaches the upgrader and gets its 400.
		{"admitted anonymous", nil, allowAll{}, http.StatusBadRequest},
		{"admitted member", member, allowAll{}, http.StatusBadRequest},
		{"rejected", member, denyAll{}, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router, _ := newRoutes(tt.id, tt.limiter)
			w := serve(t, router, httptest.NewRequest(http.MethodGet, "/v1/realtime?job_id=job_1", http.NoBody))

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
		})
	}
}

func TestRoutes_RealtimeConnectionsShareBudget(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewMemoryLimiter(ratelimit.Policy{Limit: 1, Window: time.Minute})
	router, jobs := newRoutes(member, limiter)
	jobs.put(&domain.Job{ID: "job_1", OrganizationID: testOrg, Status: domain.JobStatusPending})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/realtime?job_id=job_1"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	assert.Equal(t, "status", read(t, conn).Type)

	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, 1, limiter.Len())
}
