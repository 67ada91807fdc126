package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "tapcard/pkg/domain"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-signing-key", "tapcard", "tapcard-api")
	uid := id.NewUserID()

	token, err := svc.GenerateAccessToken(uid, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uid.String(), claims.UserID)

	parsed, err := svc.ExtractUserIDFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, uid, parsed)
}

func TestValidateToken_Rejections(t *testing.T) {
	svc := NewJWTService("test-signing-key", "tapcard", "tapcard-api")

	t.Run("expired token", func(t *testing.T) {
		token, err := svc.GenerateAccessToken(id.NewUserID(), -time.Minute)
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		other := NewJWTService("other-key", "tapcard", "tapcard-api")
		token, err := other.GenerateAccessToken(id.NewUserID(), time.Hour)
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-jwt")
		assert.Error(t, err)
	})
}
