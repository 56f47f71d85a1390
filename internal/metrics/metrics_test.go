package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/ocrbase/internal/metrics"
)

func TestNilMetrics_AreNoOps(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.JobCreated("parse")
		m.JobFinished("parse", "completed", time.Second)
		m.JobRetried("ocr")
		m.JobDiscarded()
		m.WorkerBusy(1)
		m.WorkerPanicked()
		m.EventPublished("status")
		m.RealtimeConnected(1)
		m.RateLimited("ip")
	})
}

func TestMiddleware_RecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := metrics.New()

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/v1/jobs/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs/job_1", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	m.JobCreated("extract")
	m.JobCreated("extract")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, `ocrbase_http_requests_total{method="GET",route="/v1/jobs/:id",status="404"} 1`)
	assert.Contains(t, body, `ocrbase_jobs_created_total{type="extract"} 2`)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestGatherCounts(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.JobRetried("ocr")
	m.JobRetried("ocr")
	m.JobRetried("extract")

	count, err := testutil.GatherAndCount(m.Registry(), "ocrbase_jobs_stage_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
