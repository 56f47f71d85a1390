package gin

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
)

const (
	// HeaderRequestID carries the request id in both directions.
	HeaderRequestID = "X-Request-Id"
	// ContextKeyRequestID is the gin context key holding the request id.
	ContextKeyRequestID = "request_id"

	maxInboundRequestIDLen = 128
)

// RequestIDLoggerMiddleware assigns every request an id, echoes it in the
// response and stores a logger carrying it in the request context. A sane
// inbound X-Request-Id is kept; anything oversized or containing unexpected
// characters is replaced with a fresh id from gen.
func RequestIDLoggerMiddleware(log infralogger.Logger, gen func() string) gin.HandlerFunc {
	if gen == nil {
		gen = randomHexID
	}
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if !validRequestID(id) {
			id = gen()
		}

		c.Set(ContextKeyRequestID, id)
		c.Header(HeaderRequestID, id)

		reqLog := log.With(infralogger.String("request_id", id))
		c.Request = c.Request.WithContext(infralogger.WithContext(c.Request.Context(), reqLog))

		c.Next()
	}
}

// RequestID returns the id assigned by RequestIDLoggerMiddleware.
func RequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxInboundRequestIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return false
		}
	}
	return true
}

func randomHexID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// LoggerMiddleware logs each request once after it completes, folding any
// errors attached to the gin context into the same entry.
func LoggerMiddleware(log infralogger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []infralogger.Field{
			infralogger.String("request_id", RequestID(c)),
			infralogger.String("method", c.Request.Method),
			infralogger.String("path", c.Request.URL.Path),
			infralogger.Int("status", status),
			infralogger.Duration("duration", time.Since(start)),
			infralogger.String("client_ip", c.ClientIP()),
		}
		if msgs := c.Errors.Errors(); len(msgs) > 0 {
			fields = append(fields, infralogger.Strings("errors", msgs))
		}

		switch {
		case status >= http.StatusInternalServerError || len(c.Errors) > 0:
			log.Error("HTTP request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

// PanicError is attached to the gin context when a handler panics.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// RecoveryMiddleware turns a panic into a 500 and attaches a *PanicError to
// c.Errors. It does not log; the request logger reports the failure.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			_ = c.Error(&PanicError{Value: rec, Stack: string(debug.Stack())}).SetType(gin.ErrorTypePrivate)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "Internal server error",
				"code":    "INTERNAL_ERROR",
				"message": "An unexpected error occurred",
			})
		}()
		c.Next()
	}
}

// CORSMiddleware answers preflight requests and decorates responses for
// allowed origins. With credentials enabled a wildcard echoes the caller's
// origin, since browsers reject "*" for credentialed requests.
func CORSMiddleware(cfg CORSConfig) gin.HandlerFunc {
	cfg.SetDefaults()

	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !cfg.Enabled || origin == "" {
			c.Next()
			return
		}

		allowed := allowedOrigin(origin, cfg.AllowedOrigins, cfg.AllowCredentials)
		if allowed == "" {
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", allowed)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Methods", methods)
		h.Set("Access-Control-Allow-Headers", headers)
		h.Set("Access-Control-Expose-Headers", exposed)
		h.Set("Access-Control-Max-Age", maxAge)
		if cfg.AllowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func allowedOrigin(origin string, allowed []string, credentials bool) string {
	for _, a := range allowed {
		if a == origin {
			return origin
		}
		if a == "*" {
			if credentials {
				return origin
			}
			return "*"
		}
	}
	return ""
}
