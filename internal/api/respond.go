// Package api implements the public HTTP API of ocrbase.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/ocrbase/internal/api/middleware"
	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/wideevent"
)

const (
	codeInvalidInput    = "INVALID_INPUT"
	codeUnauthorized    = "UNAUTHORIZED"
	codeForbidden       = "FORBIDDEN"
	codeNotFound        = "NOT_FOUND"
	codeRateLimited     = "RATE_LIMITED"
	codePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	codeInternal        = "INTERNAL_ERROR"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{domain.ErrInvalidInput, http.StatusBadRequest, codeInvalidInput, "Invalid request"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, codeUnauthorized, "Unauthorized"},
	{domain.ErrForbidden, http.StatusForbidden, codeForbidden, "Forbidden"},
	{domain.ErrNotFound, http.StatusNotFound, codeNotFound, "Not found"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded"},
}

// respondError maps err onto a status and the {error, code} body. Anything
// outside the domain taxonomy becomes an opaque 500; the detail goes to the
// wide event only.
func respondError(c *gin.Context, err error) {
	ev := wideevent.FromContext(c.Request.Context())

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		ev.SetError(codePayloadTooLarge, err.Error(), "")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "request body exceeds " + strconv.FormatInt(tooLarge.Limit>>20, 10) + " MB",
			"code":  codePayloadTooLarge,
		})
		return
	}

	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if public, ok := domain.PublicMessage(err); ok {
			msg = public
		}
		ev.SetError(m.code, err.Error(), "")
		c.JSON(m.status, gin.H{"error": msg, "code": m.code})
		return
	}

	ev.SetError(codeInternal, err.Error(), "")
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Internal server error",
		"code":    codeInternal,
		"message": "An unexpected error occurred",
	})
}

// owner returns the caller that RequireAuth admitted.
func owner(c *gin.Context) domain.Owner {
	id := middleware.IdentityFrom(c)
	return domain.Owner{OrganizationID: id.OrganizationID(), UserID: id.User.ID}
}
