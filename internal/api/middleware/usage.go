package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/ocrbase/internal/apikey"
)

// UsageRecorder is implemented by *apikey.Store.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u apikey.Usage)
}

// Usage appends an audit row for every request authenticated with an API
// key, after the handler has written the response.
func Usage(rec UsageRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		id := IdentityFrom(c)
		if id == nil || id.APIKeyID == "" {
			return
		}
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		rec.RecordUsage(c.Request.Context(), apikey.Usage{
			APIKeyID:   id.APIKeyID,
			Endpoint:   endpoint,
			Method:     c.Request.Method,
			StatusCode: c.Writer.Status(),
			Duration:   time.Since(start),
		})
	}
}
