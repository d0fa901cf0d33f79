package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// PollInterval advertises how often clients without a push connection should
// re-fetch a GET resource. The response is private since it is tenant scoped.
func PollInterval(interval time.Duration) func(http.Handler) http.Handler {
	secs := int(interval / time.Second)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", secs))
				w.Header().Set("X-Poll-Interval", strconv.Itoa(secs))
			}
			next.ServeHTTP(w, r)
		})
	}
}
