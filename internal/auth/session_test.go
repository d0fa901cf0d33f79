package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/wishlist-sync/pkg/middleware"
)

const (
	testSecret   = "test-secret-with-enough-entropy"
	testAudience = "wishlist-app-key"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims *Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() *Claims {
	now := time.Now()
	return &Claims{
		Dest: "https://Demo.myshopify.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			Audience:  jwt.ClaimStrings{testAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
}

func TestIssueAndValidate(t *testing.T) {
	m := NewSessionManager(testSecret, testAudience)

	token, err := m.Issue("demo.myshopify.com", "admin", time.Minute)
	require.NoError(t, err)

	session, err := m.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, &middleware.Session{Shop: "demo.myshopify.com", Subject: "admin"}, session)
}

func TestValidate_ShopIsLowercasedHost(t *testing.T) {
	m := NewSessionManager(testSecret, testAudience)

	session, err := m.Validate(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "demo.myshopify.com", session.Shop)
	assert.Equal(t, "42", session.Subject)
}

func TestValidate_Rejects(t *testing.T) {
	m := NewSessionManager(testSecret, testAudience)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"someone-else"}

	noShop := validClaims()
	noShop.Dest = ""

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other-secret"), validClaims())},
		{"wrong algorithm", sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims())},
		{"unsigned", sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims())},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(testSecret), expired)},
		{"no expiry", sign(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry)},
		{"wrong audience", sign(t, jwt.SigningMethodHS256, []byte(testSecret), wrongAudience)},
		{"no shop", sign(t, jwt.SigningMethodHS256, []byte(testSecret), noShop)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := m.Validate(context.Background(), tt.token)
			require.Error(t, err)
			assert.Nil(t, session)
		})
	}
}

func TestValidate_NoShopSentinel(t *testing.T) {
	m := NewSessionManager(testSecret, "")
	claims := validClaims()
	claims.Dest = "   "

	_, err := m.Validate(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), claims))
	assert.True(t, errors.Is(err, ErrMissingShop))
}

func TestValidate_AudienceOptional(t *testing.T) {
	m := NewSessionManager(testSecret, "")
	claims := validClaims()
	claims.Audience = nil

	session, err := m.Validate(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), claims))
	require.NoError(t, err)
	assert.Equal(t, "demo.myshopify.com", session.Shop)
}

func TestShopFromDest(t *testing.T) {
	cases := map[string]string{
		"https://demo.myshopify.com":       "demo.myshopify.com",
		"https://demo.myshopify.com/admin": "demo.myshopify.com",
		"demo.myshopify.com":               "demo.myshopify.com",
		"DEMO.myshopify.com:443":           "demo.myshopify.com",
		"":                                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ShopFromDest(in), in)
	}
}

func TestValidate_SatisfiesSessionValidator(t *testing.T) {
	var _ middleware.SessionValidator = NewSessionManager(testSecret, "").Validate
}
