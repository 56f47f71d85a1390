// Package middleware holds the gin middleware of the public API: the
// per-request wide event, identity resolution, rate limiting and API-key
// usage recording.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	infragin "github.com/jonesrussell/ocrbase/infrastructure/gin"
	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/internal/wideevent"
)

const codeInternal = "INTERNAL_ERROR"

// WideEvent opens a wide event for each request and emits it as a single
// log line once the handler chain returns. It replaces the default request
// logger, so it must run before RecoveryMiddleware to see recovered panics.
func WideEvent(log infralogger.Logger, env wideevent.Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		ev := wideevent.New(infragin.RequestID(c), c.Request.Method, c.Request.URL.Path, c.Request.UserAgent(), env)
		c.Request = c.Request.WithContext(wideevent.WithContext(c.Request.Context(), ev))

		c.Next()

		recordContextErrors(ev, c.Errors)
		rec, ok := ev.Finalize(c.Writer.Status())
		if !ok {
			return
		}

		switch {
		case rec.StatusCode >= http.StatusInternalServerError:
			log.Error("request", rec.Fields()...)
		case rec.StatusCode >= http.StatusBadRequest:
			log.Warn("request", rec.Fields()...)
		default:
			log.Info("request", rec.Fields()...)
		}
	}
}

// recordContextErrors folds a recovered panic, or the last error a handler
// attached, into ev. A panic always wins.
func recordContextErrors(ev *wideevent.Event, errs []*gin.Error) {
	for _, ginErr := range errs {
		var p *infragin.PanicError
		if errors.As(ginErr.Err, &p) {
			ev.SetError(codeInternal, p.Error(), p.Stack)
			return
		}
	}
	if len(errs) > 0 && !ev.HasError() {
		ev.SetError(codeInternal, errs[len(errs)-1].Error(), "")
	}
}
