package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("test-secret", 60)

	token, err := svc.GenerateToken("user-1", "user")
	require.NoError(t, err)

	userID, role, err := svc.ParseAuthContext(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.Equal(t, "user", role)
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := NewService("test-secret", -1)

	token, err := svc.GenerateToken("user-1", "user")
	require.NoError(t, err)

	_, err = svc.ParseToken(token)
	assert.Error(t, err)
}

func TestWrongSecretRejected(t *testing.T) {
	issuer := NewService("secret-a", 60)
	verifier := NewService("secret-b", 60)

	token, err := issuer.GenerateToken("user-1", "user")
	require.NoError(t, err)

	_, err = verifier.ParseToken(token)
	assert.Error(t, err)
}

func TestMalformedTokenRejected(t *testing.T) {
	svc := NewService("test-secret", 60)

	_, err := svc.ParseToken("not.a.token")
	assert.Error(t, err)
}
