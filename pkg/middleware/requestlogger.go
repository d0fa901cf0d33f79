package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/wishlist-sync/pkg/logger"
)

// RequestLogger stores a logger bound to the request's correlation id, shop
// and trace ids in the context. Handlers retrieve it with logger.FromContext.
//
// Mount it after RequestLogging and Tracing, and again after Auth when the
// shop should appear on handler log lines.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
