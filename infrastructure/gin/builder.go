package gin

import (
	"time"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
)

// ServerBuilder assembles a Server fluently.
type ServerBuilder struct {
	config       *Config
	log          infralogger.Logger
	setupRoutes  func(*gin.Engine)
	healthChecks map[string]HealthChecker
}

func NewServerBuilder(serviceName string, port int) *ServerBuilder {
	return &ServerBuilder{
		config:       NewConfig(serviceName, port),
		healthChecks: make(map[string]HealthChecker),
	}
}

func (b *ServerBuilder) WithLogger(log infralogger.Logger) *ServerBuilder {
	b.log = log
	return b
}

func (b *ServerBuilder) WithDebug(debug bool) *ServerBuilder {
	b.config.Debug = debug
	return b
}

func (b *ServerBuilder) WithVersion(version string) *ServerBuilder {
	b.config.ServiceVersion = version
	return b
}

// WithCORSOrigins restricts CORS to origins and enables credentials so the
// session cookie travels on cross-origin requests.
func (b *ServerBuilder) WithCORSOrigins(origins []string) *ServerBuilder {
	if len(origins) > 0 {
		b.config.CORS.AllowedOrigins = origins
		b.config.CORS.AllowCredentials = true
	}
	return b
}

func (b *ServerBuilder) WithTimeouts(read, write, idle time.Duration) *ServerBuilder {
	if read > 0 {
		b.config.ReadTimeout = read
	}
	if write > 0 {
		b.config.WriteTimeout = write
	}
	if idle > 0 {
		b.config.IdleTimeout = idle
	}
	return b
}

func (b *ServerBuilder) WithRequestIDGenerator(gen func() string) *ServerBuilder {
	b.config.RequestIDGenerator = gen
	return b
}

// WithRequestLogger swaps the default request log line for mw.
func (b *ServerBuilder) WithRequestLogger(mw gin.HandlerFunc) *ServerBuilder {
	b.config.RequestLogger = mw
	return b
}

func (b *ServerBuilder) WithHealthCheck(name string, checker HealthChecker) *ServerBuilder {
	b.healthChecks[name] = checker
	return b
}

func (b *ServerBuilder) WithRoutes(setupRoutes func(*gin.Engine)) *ServerBuilder {
	b.setupRoutes = setupRoutes
	return b
}

func (b *ServerBuilder) Build() *Server {
	if b.log == nil {
		b.log = infralogger.NewNop()
	}
	return NewServer(b.config, b.log, func(router *gin.Engine) {
		RegisterHealthRoutes(router, b.config.ServiceName, b.config.ServiceVersion, b.healthChecks)
		if b.setupRoutes != nil {
			b.setupRoutes(router)
		}
	})
}
