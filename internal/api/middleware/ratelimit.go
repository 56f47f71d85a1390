package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/metrics"
	"github.com/jonesrussell/ocrbase/internal/ratelimit"
	"github.com/jonesrussell/ocrbase/internal/wideevent"
)

// RateLimit admits requests through l, keyed by API key, then user, then
// client address. A backend failure lets the request through.
func RateLimit(l ratelimit.Limiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ev := wideevent.FromContext(c.Request.Context())
		key := ratelimit.KeyFor(IdentityFrom(c), c.ClientIP())

		d, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			ev.AddWarning("rate limiter unavailable: " + err.Error())
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		if d.Allowed {
			c.Next()
			return
		}

		m.RateLimited(scope(key))
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
		ev.SetError("RATE_LIMITED", domain.ErrRateLimited.Error(), "")
		abortJSON(c, http.StatusTooManyRequests, domain.ErrRateLimited.Error(), "RATE_LIMITED")
	}
}

func scope(key string) string {
	prefix, _, ok := strings.Cut(key, ":")
	if !ok {
		return "unknown"
	}
	return prefix
}
