package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/ocrbase/infrastructure/jwt"
)

// Session is what the session provider knows about a signed-in user.
type Session struct {
	UserID               string
	ActiveOrganizationID string
	ExpiresAt            time.Time
}

// SessionProvider resolves a session token. An unknown or expired token
// yields (nil, nil); an error means the provider itself failed.
type SessionProvider interface {
	ResolveSession(ctx context.Context, token string) (*Session, error)
}

// JWTSessions reads sessions from signed tokens.
type JWTSessions struct {
	codec *jwt.Codec
}

func NewJWTSessions(codec *jwt.Codec) *JWTSessions {
	return &JWTSessions{codec: codec}
}

func (s *JWTSessions) ResolveSession(_ context.Context, token string) (*Session, error) {
	claims, err := s.codec.Parse(token)
	if errors.Is(err, jwt.ErrInvalidToken) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	session := &Session{UserID: claims.Sub, ActiveOrganizationID: claims.ActiveOrganizationID}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// Issue signs a session token. Used by the CLI and tests.
func (s *JWTSessions) Issue(userID, activeOrgID string, ttl time.Duration) (string, error) {
	return s.codec.Sign(userID, activeOrgID, ttl)
}
