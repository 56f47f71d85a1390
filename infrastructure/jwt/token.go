// Package jwt signs and parses HS256 session tokens.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers malformed, expired and wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims carries the session subject and its active organization.
type Claims struct {
	Sub                  string `json:"sub"`
	ActiveOrganizationID string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens with a shared secret.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewCodec(secret, issuer string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Codec{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Sign issues a token for userID valid for ttl.
func (c *Codec) Sign(userID, activeOrgID string, ttl time.Duration) (string, error) {
	now := c.now()
	claims := Claims{
		Sub:                  userID,
		ActiveOrganizationID: activeOrgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Parse validates tokenString and returns its claims.
func (c *Codec) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Sub == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
