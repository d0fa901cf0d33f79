package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/utafrali/wishlist-sync/pkg/errors"
	"github.com/utafrali/wishlist-sync/pkg/httputil"
	"github.com/utafrali/wishlist-sync/pkg/logger"
)

type contextKeyType string

const sessionKey contextKeyType = "session"

// Session is the authenticated caller resolved from a bearer token.
type Session struct {
	Shop    string
	Subject string
}

// SessionValidator resolves a bearer token into a session. Any error is
// reported to the client as 401.
type SessionValidator func(ctx context.Context, token string) (*Session, error)

// Auth validates the bearer session token and stores the session in context.
// Requests without a valid token never reach next.
func Auth(validate SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httputil.WriteError(w, r, apperrors.Unauthorized("missing or malformed bearer token"), nil)
				return
			}

			session, err := validate(r.Context(), token)
			if err != nil || session == nil || session.Shop == "" {
				httputil.WriteError(w, r, apperrors.Unauthorized("invalid or expired session token"), nil)
				return
			}

			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("wishlist.shop", session.Shop))

			ctx := WithSession(r.Context(), session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header. Browsers
// cannot set headers on a WebSocket upgrade, so the access_token query
// parameter is accepted there as well.
func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("access_token"); token != "" && isUpgrade(r) {
		return token, true
	}
	return "", false
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// SessionFromContext returns the authenticated session, or nil.
func SessionFromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey).(*Session); ok {
		return s
	}
	return nil
}

// ShopFromContext returns the authenticated shop, or "" when the request was
// not authenticated.
func ShopFromContext(ctx context.Context) string {
	if s := SessionFromContext(ctx); s != nil {
		return s.Shop
	}
	return ""
}

// WithSession stores s in ctx. Handler tests use it to bypass Auth.
func WithSession(ctx context.Context, s *Session) context.Context {
	ctx = context.WithValue(ctx, sessionKey, s)
	return logger.WithShop(ctx, s.Shop)
}
