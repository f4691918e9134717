package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_RoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	signed, err := tokens.Issue(Identity{UserID: "u-1", Role: "admin"})
	require.NoError(t, err)

	id, err := tokens.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.Equal(t, "admin", id.Role)
}

func TestTokens_Rejects(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	signed, err := tokens.Issue(Identity{UserID: "u-1"})
	require.NoError(t, err)

	_, err = NewTokens("other", time.Hour).Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokens("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Parse(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), &Identity{UserID: "u-1"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u-1", id.UserID)
}
