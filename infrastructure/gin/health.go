package gin

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const healthCheckTimeout = 3 * time.Second

type HealthResponse struct {
	Status  HealthStatus           `json:"status"`
	Service string                 `json:"service"`
	Version string                 `json:"version"`
	Uptime  string                 `json:"uptime"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthChecker probes one dependency.
type HealthChecker func(ctx context.Context) CheckResult

// RegisterHealthRoutes mounts GET/HEAD /health and GET /health/memory.
// Checks run concurrently; any unhealthy check turns the response into a 503.
func RegisterHealthRoutes(router gin.IRouter, service, version string, checks map[string]HealthChecker) {
	started := time.Now()

	router.GET("/health", func(c *gin.Context) {
		resp := HealthResponse{
			Status:  HealthStatusHealthy,
			Service: service,
			Version: version,
			Uptime:  time.Since(started).Round(time.Second).String(),
		}

		if len(checks) > 0 {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
			defer cancel()
			resp.Checks = runChecks(ctx, checks)
			resp.Status = overall(resp.Checks)
		}

		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	})
	router.HEAD("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/health/memory", memoryHandler)
}

func runChecks(ctx context.Context, checks map[string]HealthChecker) map[string]CheckResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(checks))
	)
	for name, check := range checks {
		wg.Go(func() {
			res := check(ctx)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		})
	}
	wg.Wait()
	return results
}

func overall(results map[string]CheckResult) HealthStatus {
	status := HealthStatusHealthy
	for _, r := range results {
		switch r.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		case HealthStatusHealthy:
		}
	}
	return status
}

func memoryHandler(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	const mb = 1 << 20
	c.JSON(http.StatusOK, gin.H{
		"heap_alloc_mb": float64(m.HeapAlloc) / mb,
		"heap_inuse_mb": float64(m.HeapInuse) / mb,
		"sys_mb":        float64(m.Sys) / mb,
		"num_gc":        m.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	})
}

// PingChecker wraps a ping function. A failure reports failStatus, so
// optional dependencies can degrade rather than fail the service.
func PingChecker(component string, failStatus HealthStatus, ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		err := ping(ctx)
		latency := time.Since(start).String()
		if err != nil {
			return CheckResult{Status: failStatus, Message: component + " unreachable: " + err.Error(), Latency: latency}
		}
		return CheckResult{Status: HealthStatusHealthy, Message: component + " OK", Latency: latency}
	}
}
