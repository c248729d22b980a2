package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTestSecret(t *testing.T) *JWTManager {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-key-for-testing-purposes-only")
	jm, err := NewJWTManager()
	require.NoError(t, err)
	return jm
}

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := NewJWTManager()
	require.Error(t, err)
}

func TestGenerateAndValidateToken(t *testing.T) {
	jm := withTestSecret(t)
	ctx := context.Background()

	token, err := jm.GenerateToken(ctx, "user-1", "dev@bizmatters.dev", []string{"user"}, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jm.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "dev@bizmatters.dev", claims.Username)
	assert.Equal(t, []string{"user"}, claims.Roles)
	assert.Equal(t, "site-orchestrator", claims.Issuer)
}

func TestValidateExpiredToken(t *testing.T) {
	jm := withTestSecret(t)
	ctx := context.Background()

	token, err := jm.GenerateToken(ctx, "user-1", "dev@bizmatters.dev", nil, -time.Minute)
	require.NoError(t, err)

	_, err = jm.ValidateToken(ctx, token)
	require.Error(t, err)
}

func TestValidateGarbageToken(t *testing.T) {
	jm := withTestSecret(t)

	_, err := jm.ValidateToken(context.Background(), "not-a-token")
	require.Error(t, err)
}
