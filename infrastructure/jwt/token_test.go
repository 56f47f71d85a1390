package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	c, err := NewCodec("s3cret", "ocrbase")
	require.NoError(t, err)

	token, err := c.Sign("usr_1", "org_1", time.Hour)
	require.NoError(t, err)

	claims, err := c.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", claims.Sub)
	assert.Equal(t, "org_1", claims.ActiveOrganizationID)
}

func TestCodec_Rejects(t *testing.T) {
	t.Parallel()

	c, err := NewCodec("s3cret", "ocrbase")
	require.NoError(t, err)
	other, err := NewCodec("different", "ocrbase")
	require.NoError(t, err)

	wrongKey, err := other.Sign("usr_1", "", time.Hour)
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	c.now = func() time.Time { return past }
	expired, err := c.Sign("usr_1", "", time.Hour)
	require.NoError(t, err)
	c.now = time.Now

	none, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, Claims{Sub: "usr_1"}).
		SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":   "not-a-token",
		"wrong key": wrongKey,
		"expired":   expired,
		"alg none":  none,
	} {
		_, err := c.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestNewCodec_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewCodec("", "")
	require.Error(t, err)
}
