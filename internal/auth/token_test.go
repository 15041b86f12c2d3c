package auth

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/heritage-console/internal/domain"
)

var issueTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testUser() *domain.User {
	return &domain.User{ID: 7, Email: "guide@example.com", Role: domain.RoleUser, Status: domain.UserStatusActive}
}

func newManagerAt(t *time.Time) *TokenManager {
	return NewTokenManager("secret", 60, 10).WithClock(func() time.Time { return *t })
}

func TestTokenManager_RoundTrip(t *testing.T) {
	now := issueTime
	tm := newManagerAt(&now)

	tok, exp, err := tm.GenerateToken(testUser())
	require.NoError(t, err)
	assert.Equal(t, issueTime.Add(time.Hour), exp)

	claims, err := tm.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "guide@example.com", claims.Email())
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, domain.RoleUser, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_TokensAreUnique(t *testing.T) {
	now := issueTime
	tm := newManagerAt(&now)
	a, _, err := tm.GenerateToken(testUser())
	require.NoError(t, err)
	b, _, err := tm.GenerateToken(testUser())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTokenManager_RefreshGrace(t *testing.T) {
	now := issueTime
	tm := newManagerAt(&now)
	tok, _, err := tm.GenerateToken(testUser())
	require.NoError(t, err)

	now = issueTime.Add(65 * time.Minute)
	_, err = tm.ParseToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = tm.ParseForRefresh(tok)
	assert.NoError(t, err)

	now = issueTime.Add(71 * time.Minute)
	_, err = tm.ParseForRefresh(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_RejectsForeignTokens(t *testing.T) {
	now := issueTime
	tm := newManagerAt(&now)
	claims := jwt.MapClaims{"sub": "guide@example.com", "uid": 7, "role": "ADMIN", "exp": issueTime.Add(time.Hour).Unix()}

	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other"))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "guide@example.com", "uid": 7}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, tok := range map[string]string{"other key": otherKey, "alg none": unsigned, "no exp": noExp, "garbage": "a.b.c"} {
		t.Run(name, func(t *testing.T) {
			_, err := tm.ParseToken(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestValidatePassword(t *testing.T) {
	assert.ErrorIs(t, ValidatePassword("short"), ErrWeakPassword)
	assert.NoError(t, ValidatePassword("long-enough"))
	assert.ErrorIs(t, ValidatePassword(string(make([]byte, 73))), ErrWeakPassword)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("long-enough", 4)
	require.NoError(t, err)
	assert.NoError(t, ComparePassword(hash, "long-enough"))
	assert.Error(t, ComparePassword(hash, "wrong-password"))
}
