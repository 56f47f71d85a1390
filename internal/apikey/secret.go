// Package apikey issues, verifies and accounts for API keys.
package apikey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/jonesrussell/ocrbase/internal/domain"
)

const (
	// SecretPrefix starts every plaintext key.
	SecretPrefix = "sk_"
	secretLength = 32
	// DisplayPrefixLength is how much of the secret is kept for display.
	DisplayPrefixLength = 8
)

// GenerateSecret returns a new plaintext key such as sk_4fK9....
func GenerateSecret() (string, error) {
	body, err := gonanoid.Generate(domain.Alphanumeric, secretLength)
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return SecretPrefix + body, nil
}

// HashSecret is the lookup digest stored instead of the secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the leading characters shown in key listings.
func DisplayPrefix(secret string) string {
	if len(secret) <= DisplayPrefixLength {
		return secret
	}
	return secret[:DisplayPrefixLength]
}
