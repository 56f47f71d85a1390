package api

import (
	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/ocrbase/internal/api/middleware"
	"github.com/jonesrussell/ocrbase/internal/identity"
	"github.com/jonesrussell/ocrbase/internal/metrics"
	"github.com/jonesrussell/ocrbase/internal/ratelimit"
)

// Routes carries everything the public API mounts. Metrics may be nil.
type Routes struct {
	Resolver middleware.Resolver
	Limiter  ratelimit.Limiter
	Usage    middleware.UsageRecorder
	Metrics  *metrics.Metrics

	Jobs     *JobsHandler
	Keys     *KeysHandler
	Schemas  *SchemasHandler
	Realtime *RealtimeHandler
}

// Setup mounts the API on router. Every /v1 route runs identity and rate
// limiting first. The realtime endpoint reports auth failures over the
// socket, so it skips usage recording and the auth check; every other route
// runs both after the limiter.
func (r Routes) Setup(router *gin.Engine) {
	router.Use(r.Metrics.Middleware())
	if r.Metrics != nil {
		router.GET("/metrics", gin.WrapH(r.Metrics.Handler()))
	}

	v1 := router.Group("/v1")
	v1.GET("/realtime",
		middleware.Identity(r.Resolver, identity.WithoutUsageTracking()),
		middleware.RateLimit(r.Limiter, r.Metrics),
		r.Realtime.Serve,
	)

	authed := v1.Group("",
		middleware.Identity(r.Resolver),
		middleware.RateLimit(r.Limiter, r.Metrics),
		middleware.Usage(r.Usage),
		middleware.RequireAuth(),
	)

	authed.POST("/parse", r.Jobs.Parse)
	authed.POST("/extract", r.Jobs.Extract)
	authed.GET("/jobs", r.Jobs.List)
	authed.GET("/jobs/:id", r.Jobs.Get)
	authed.DELETE("/jobs/:id", r.Jobs.Delete)
	authed.GET("/jobs/:id/download", r.Jobs.Download)

	authed.POST("/keys", r.Keys.Create)
	authed.GET("/keys", r.Keys.List)
	authed.GET("/keys/:id/usage", r.Keys.Usage)
	authed.POST("/keys/:id/revoke", r.Keys.Revoke)
	authed.DELETE("/keys/:id", r.Keys.Delete)

	authed.POST("/schemas", r.Schemas.Create)
	authed.GET("/schemas", r.Schemas.List)
	authed.GET("/schemas/:id", r.Schemas.Get)
	authed.DELETE("/schemas/:id", r.Schemas.Delete)
}
