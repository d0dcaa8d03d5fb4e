package auth

import (
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ademajagon/dynamic-app/internal/domain"
)

func TestIssueAndParse(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer("super-secret", time.Hour, 24*time.Hour)

	access, err := issuer.IssueAccess("alice@example.com")
	require.NoError(t, err)

	claims, err := issuer.Parse(access)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Subject)
	assert.Equal(t, AccessToken, claims.Kind)

	refresh, err := issuer.IssueRefresh("alice@example.com")
	require.NoError(t, err)

	claims, err = issuer.Parse(refresh)
	require.NoError(t, err)
	assert.Equal(t, RefreshToken, claims.Kind)
}

func TestParse_Expired(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer("secret", -time.Second, time.Hour)
	tok, err := issuer.IssueAccess("u1@example.com")
	require.NoError(t, err)

	_, err = issuer.Parse(tok)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestParse_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := NewTokenIssuer("right-secret", time.Hour, time.Hour).IssueAccess("u2@example.com")
	require.NoError(t, err)

	_, err = NewTokenIssuer("wrong-secret", time.Hour, time.Hour).Parse(tok)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestParse_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "mallory@example.com"},
	})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenIssuer("k", time.Hour, time.Hour).Parse(s)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	_, err := NewTokenIssuer("k", time.Hour, time.Hour).Parse("not.a.jwt")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestPasswordHasher(t *testing.T) {
	t.Parallel()

	h := NewBcryptHasher(4)
	hash, err := h.Hash("s3cret!")
	require.NoError(t, err)

	ok, err := h.Verify("s3cret!", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerateOTP(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		code, err := GenerateOTP()
		require.NoError(t, err)
		require.Len(t, code, 6)

		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}
