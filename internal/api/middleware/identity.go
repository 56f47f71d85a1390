package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/identity"
	"github.com/jonesrussell/ocrbase/internal/wideevent"
)

const contextKeyIdentity = "identity"

// Resolver is implemented by *identity.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, req *http.Request, opts ...identity.ResolveOption) (*domain.Identity, error)
}

// Identity resolves the caller and stores it on the gin context. An
// unauthenticated request continues with no identity; only a resolver
// failure stops the chain.
func Identity(r Resolver, opts ...identity.ResolveOption) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := r.Resolve(c.Request.Context(), c.Request, opts...)
		if err != nil {
			wideevent.FromContext(c.Request.Context()).SetError(codeInternal, err.Error(), "")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "Internal server error",
				"code":    codeInternal,
				"message": "An unexpected error occurred",
			})
			return
		}
		// Stored even when nil so later handlers can tell an anonymous
		// caller from a route that never ran Identity.
		c.Set(contextKeyIdentity, id)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Identity, or nil.
func IdentityFrom(c *gin.Context) *domain.Identity {
	id, _ := ResolvedIdentity(c)
	return id
}

// ResolvedIdentity reports whether Identity ran for c, and the caller it
// found. A resolved anonymous caller is (nil, true).
func ResolvedIdentity(c *gin.Context) (*domain.Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return nil, false
	}
	id, _ := v.(*domain.Identity)
	return id, true
}

// RequireAuth rejects requests without a user and an organization.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := IdentityFrom(c)
		if id == nil || id.OrganizationID() == "" {
			abortJSON(c, http.StatusUnauthorized, "Unauthorized", "UNAUTHORIZED")
			return
		}
		c.Next()
	}
}

func abortJSON(c *gin.Context, status int, msg, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}
