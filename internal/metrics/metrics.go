// Package metrics exposes ocrbase Prometheus metrics. Every method is safe
// on a nil *Metrics so collaborators may run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ocrbase"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	rateLimited  *prometheus.CounterVec

	jobsCreated   *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobRetries    *prometheus.CounterVec
	jobsDiscarded prometheus.Counter
	workersBusy   prometheus.Gauge
	workerPanics  prometheus.Counter

	eventsPublished     *prometheus.CounterVec
	realtimeConnections prometheus.Gauge
}

// New registers every collector on a private registry, plus the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "rate_limited_total",
			Help: "Requests rejected by the rate limiter, by key scope.",
		}, []string{"scope"}),
		jobsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "created_total",
			Help: "Jobs created by type.",
		}, []string{"type"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "finished_total",
			Help: "Jobs reaching a terminal status.",
		}, []string{"type", "status"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "processing_seconds",
			Help:    "Worker time spent on a job run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"type"}),
		jobRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "stage_failures_total",
			Help: "Failed collaborator calls by pipeline stage.",
		}, []string{"stage"}),
		jobsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "discarded_total",
			Help: "Job runs whose result was dropped because the job changed or was deleted.",
		}),
		workersBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "workers", Name: "busy",
			Help: "Workers currently processing a job.",
		}),
		workerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "workers", Name: "panics_total",
			Help: "Recovered worker panics.",
		}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "published_total",
			Help: "Job events published by type.",
		}, []string{"type"}),
		realtimeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "connections",
			Help: "Open realtime subscriptions.",
		}),
	}
}

// Registry exposes the registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency by matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

func (m *Metrics) JobCreated(jobType string) {
	if m == nil {
		return
	}
	m.jobsCreated.WithLabelValues(jobType).Inc()
}

func (m *Metrics) JobFinished(jobType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(jobType, status).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

func (m *Metrics) JobRetried(stage string) {
	if m == nil {
		return
	}
	m.jobRetries.WithLabelValues(stage).Inc()
}

func (m *Metrics) JobDiscarded() {
	if m == nil {
		return
	}
	m.jobsDiscarded.Inc()
}

func (m *Metrics) WorkerBusy(delta int) {
	if m == nil {
		return
	}
	m.workersBusy.Add(float64(delta))
}

func (m *Metrics) WorkerPanicked() {
	if m == nil {
		return
	}
	m.workerPanics.Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RealtimeConnected(delta int) {
	if m == nil {
		return
	}
	m.realtimeConnections.Add(float64(delta))
}
