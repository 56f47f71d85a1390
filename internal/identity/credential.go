// Package identity resolves request credentials into a single Identity.
package identity

import (
	"net/http"
	"strings"
)

// Credential is what a request presented. Exactly one of the concrete types
// below is returned by ExtractCredential.
type Credential interface {
	credential()
}

// APIKeyCredential is a bearer token from the Authorization header.
type APIKeyCredential struct {
	Token string
}

// SessionCredential is a session token from the session cookie.
type SessionCredential struct {
	Token string
}

// NoCredential means the request is anonymous.
type NoCredential struct{}

func (APIKeyCredential) credential()  {}
func (SessionCredential) credential() {}
func (NoCredential) credential()      {}

const bearerScheme = "bearer"

// ExtractCredential picks the credential of r. A well-formed bearer header
// wins; a header with another scheme or an empty token is ignored and the
// session cookie is consulted instead.
func ExtractCredential(r *http.Request, sessionCookie string) Credential {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return APIKeyCredential{Token: token}
	}
	if sessionCookie != "" {
		if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
			return SessionCredential{Token: c.Value}
		}
	}
	return NoCredential{}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
