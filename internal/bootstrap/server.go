package bootstrap

import (
	"context"
	"fmt"

	infragin "github.com/jonesrussell/ocrbase/infrastructure/gin"
	infrajwt "github.com/jonesrussell/ocrbase/infrastructure/jwt"
	"github.com/jonesrussell/ocrbase/internal/api"
	"github.com/jonesrussell/ocrbase/internal/api/middleware"
	"github.com/jonesrussell/ocrbase/internal/apikey"
	"github.com/jonesrussell/ocrbase/internal/config"
	"github.com/jonesrussell/ocrbase/internal/database"
	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/identity"
	"github.com/jonesrussell/ocrbase/internal/notify"
	"github.com/jonesrussell/ocrbase/internal/ratelimit"
)

// HTTP is the API surface and the pieces that need a shutdown hook.
type HTTP struct {
	Server   *infragin.Server
	Realtime *api.RealtimeHandler
	Keys     *apikey.Store
	Limiter  ratelimit.Limiter
}

// SetupHTTPServer creates and configures the HTTP server.
func SetupHTTPServer(cfg *config.Config, infra *Infra, jobs *Jobs, bus *notify.Bus) (*HTTP, error) {
	codec, err := infrajwt.NewCodec(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("session codec: %w", err)
	}

	keys := apikey.NewStore(database.NewAPIKeyRepository(infra.DB), infra.Log)
	resolver := identity.NewResolver(
		keys,
		identity.NewJWTSessions(codec),
		database.NewIdentityRepository(infra.DB),
		cfg.Auth.SessionCookie,
	)

	limiter, err := setupLimiter(cfg, infra)
	if err != nil {
		return nil, err
	}

	realtime := api.NewRealtimeHandler(
		api.RealtimeConfig{AllowedOrigins: cfg.Realtime.AllowedOrigins, SendBuffer: cfg.Realtime.SendBuffer},
		resolver, jobs.Manager, bus, infra.Metrics, infra.Log,
	)

	routes := api.Routes{
		Resolver: resolver,
		Limiter:  limiter,
		Usage:    keys,
		Metrics:  infra.Metrics,
		Jobs:     api.NewJobsHandler(jobs.Manager, cfg.Worker.MaxFileSize),
		Keys:     api.NewKeysHandler(keys),
		Schemas:  api.NewSchemasHandler(database.NewSchemaRepository(infra.DB)),
		Realtime: realtime,
	}

	builder := infragin.NewServerBuilder(cfg.Service.Name, cfg.Service.Port).
		WithLogger(infra.Log).
		WithDebug(cfg.Service.Debug).
		WithVersion(cfg.Service.Version).
		WithCORSOrigins(cfg.CORS.Origins).
		WithTimeouts(cfg.Service.ReadTimeout, cfg.Service.WriteTimeout, 0).
		WithRequestIDGenerator(domain.NewRequestID).
		WithRequestLogger(middleware.WideEvent(infra.Log, Environment(cfg))).
		WithHealthCheck("database", infragin.PingChecker("database", infragin.HealthStatusUnhealthy, infra.DB.PingContext)).
		WithHealthCheck("ocr", infragin.PingChecker("ocr", infragin.HealthStatusDegraded, jobs.OCR.Health)).
		WithRoutes(routes.Setup)
	if infra.Redis != nil {
		builder = builder.WithHealthCheck("redis", infragin.PingChecker("redis", infragin.HealthStatusUnhealthy,
			func(ctx context.Context) error { return infra.Redis.Ping(ctx).Err() }))
	}

	server := builder.Build()
	server.RegisterOnShutdown(realtime.CloseAll)

	return &HTTP{Server: server, Realtime: realtime, Keys: keys, Limiter: limiter}, nil
}

func setupLimiter(cfg *config.Config, infra *Infra) (ratelimit.Limiter, error) {
	policy := ratelimit.Policy{Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window}
	if cfg.RateLimit.Driver == config.DriverRedis {
		if infra.Redis == nil {
			return nil, fmt.Errorf("rate limiter: %w", errRedisRequired)
		}
		return ratelimit.NewRedisLimiter(infra.Redis, policy, ""), nil
	}
	return ratelimit.NewMemoryLimiter(policy), nil
}
