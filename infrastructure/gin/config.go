// Package gin wires the shared gin engine: request ids, request logging,
// panic recovery, CORS, health endpoints and server lifecycle.
package gin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 120 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultCORSMaxAge      = 12 * time.Hour
)

// Config holds the HTTP server settings.
type Config struct {
	Port            int
	Debug           bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORS            CORSConfig
	ServiceName     string
	ServiceVersion  string

	// RequestIDGenerator produces ids for requests that arrive without a
	// usable X-Request-ID. Defaults to 32 random hex characters.
	RequestIDGenerator func() string
	// RequestLogger replaces LoggerMiddleware as the per-request log emitter.
	RequestLogger gin.HandlerFunc
}

// CORSConfig configures CORSMiddleware.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

func (c *Config) SetDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "dev"
	}
	if c.RequestIDGenerator == nil {
		c.RequestIDGenerator = randomHexID
	}
	c.CORS.SetDefaults()
}

func (c *CORSConfig) SetDefaults() {
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		}
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{
			"Origin", "Content-Type", "Content-Length", "Accept", "Accept-Encoding",
			"Authorization", "Cache-Control", "X-Requested-With", HeaderRequestID, "X-Organization-Id",
		}
	}
	if len(c.ExposedHeaders) == 0 {
		c.ExposedHeaders = []string{
			HeaderRequestID, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining",
			"X-RateLimit-Reset", "Content-Disposition",
		}
	}
	if c.MaxAge == 0 {
		c.MaxAge = DefaultCORSMaxAge
	}
}

// NewConfig returns a Config with defaults applied and CORS enabled.
func NewConfig(serviceName string, port int) *Config {
	cfg := &Config{Port: port, ServiceName: serviceName, CORS: CORSConfig{Enabled: true}}
	cfg.SetDefaults()
	return cfg
}
