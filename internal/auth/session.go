// Package auth validates the session tokens that identify the calling shop.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/utafrali/wishlist-sync/pkg/middleware"
)

const leeway = 5 * time.Second

// ErrMissingShop is returned for a token whose dest claim names no shop.
var ErrMissingShop = errors.New("session token has no shop")

// Claims are the claims of a session token. Dest carries the shop domain,
// optionally as a URL.
type Claims struct {
	Dest string `json:"dest"`
	jwt.RegisteredClaims
}

// SessionManager issues and validates HS256 session tokens.
type SessionManager struct {
	secret   []byte
	audience string
}

// NewSessionManager creates a manager. An empty audience disables the
// audience check.
func NewSessionManager(secret, audience string) *SessionManager {
	return &SessionManager{secret: []byte(secret), audience: audience}
}

// Issue signs a token for shop valid for ttl. It backs the seed command and tests.
func (m *SessionManager) Issue(shop, subject string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		Dest: "https://" + shop,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Validate parses a session token and resolves its shop. It satisfies
// middleware.SessionValidator.
func (m *SessionManager) Validate(_ context.Context, tokenString string) (*middleware.Session, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token claims")
	}

	shop := ShopFromDest(claims.Dest)
	if shop == "" {
		return nil, ErrMissingShop
	}
	return &middleware.Session{Shop: shop, Subject: claims.Subject}, nil
}

// ShopFromDest extracts the lower-cased shop domain from a dest claim given
// either as a URL or as a bare host.
func ShopFromDest(dest string) string {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return ""
	}
	if !strings.Contains(dest, "://") {
		dest = "https://" + dest
	}
	u, err := url.Parse(dest)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
