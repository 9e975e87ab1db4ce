package api

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   int
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), 42),
			userId:   42,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %d", tc.userId)
		})
	}
}

func Test_extractUserIdFromToken(t *testing.T) {
	app := &TypeRaceApp{signingKey: []byte("test-signing-key")}

	t.Run("round trip", func(t *testing.T) {
		token, err := app.createJwtForSession(12, time.Minute)
		require.NoError(t, err)

		userId, err := app.extractUserIdFromToken(token)
		require.NoError(t, err)
		assert.Equal(t, 12, userId)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := app.createJwtForSession(12, -time.Minute)
		require.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := &TypeRaceApp{signingKey: []byte("another-key")}
		token, err := other.createJwtForSession(12, time.Minute)
		require.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})

	t.Run("missing user id claim", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			expClaim: time.Now().Add(time.Minute).Unix(),
		}).SignedString(app.signingKey)
		require.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.EqualError(t, err, "invalid user id claim")
	})
}

func Test_passwordHashing(t *testing.T) {
	hash, err := hashPassword("hunter22")
	require.NoError(t, err)

	assert.NotEqual(t, "hunter22", hash)
	assert.True(t, verifyPassword(hash, "hunter22"))
	assert.False(t, verifyPassword(hash, "hunter23"))
}
