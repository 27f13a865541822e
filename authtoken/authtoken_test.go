package authtoken_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chigozirigeorge/verinest/authtoken"
)

func TestJWTAuthenticatorIssueAndDecodeRoundTrips(t *testing.T) {
	a := authtoken.NewJWTAuthenticator("test-secret", time.Hour)
	userID := uuid.New()

	token, err := a.Issue(userID, "vendor")
	require.NoError(t, err)

	id, err := a.Decode(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, userID, id.UserID)
	require.Equal(t, "vendor", id.Role)
}

func TestJWTAuthenticatorRejectsExpiredToken(t *testing.T) {
	a := authtoken.NewJWTAuthenticator("test-secret", -time.Hour)
	token, err := a.Issue(uuid.New(), "buyer")
	require.NoError(t, err)

	_, err = a.Decode(context.Background(), token)
	require.ErrorIs(t, err, authtoken.ErrExpiredToken)
}

func TestJWTAuthenticatorRejectsWrongSecret(t *testing.T) {
	a := authtoken.NewJWTAuthenticator("secret-a", time.Hour)
	token, err := a.Issue(uuid.New(), "buyer")
	require.NoError(t, err)

	b := authtoken.NewJWTAuthenticator("secret-b", time.Hour)
	_, err = b.Decode(context.Background(), token)
	require.ErrorIs(t, err, authtoken.ErrInvalidToken)
}

func TestHashServiceHashAndVerify(t *testing.T) {
	h := authtoken.NewHashService()

	encoded, err := h.HashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := h.VerifyPassword("correct horse battery staple", encoded)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.VerifyPassword("wrong password", encoded)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashServiceSHA256Hex(t *testing.T) {
	h := authtoken.NewHashService()
	require.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		h.SHA256Hex("hello"),
	)
}
