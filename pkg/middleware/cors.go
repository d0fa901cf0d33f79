package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	// AllowedOrigins lists exact origins (e.g. "https://admin.example.com").
	// "*" allows every origin.
	AllowedOrigins []string

	// AllowedOriginSuffixes matches storefront origins by host suffix, e.g.
	// ".myshopify.com" accepts "https://demo.myshopify.com".
	AllowedOriginSuffixes []string

	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string

	// MaxAge is how long (in seconds) preflight results can be cached.
	MaxAge int

	AllowCredentials bool

	// Environment "development" allows every origin.
	Environment string
}

var (
	defaultCORSMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	defaultCORSHeaders = []string{"Accept", "Authorization", "Content-Type", CorrelationIDHeader}
	defaultCORSExposed = []string{CorrelationIDHeader, "X-Poll-Interval"}
)

// DefaultCORSConfig returns a permissive configuration for local development.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins:        []string{"*"},
		AllowedOriginSuffixes: []string{".myshopify.com"},
		AllowedMethods:        defaultCORSMethods,
		AllowedHeaders:        defaultCORSHeaders,
		ExposedHeaders:        defaultCORSExposed,
		MaxAge:                3600,
		Environment:           "development",
	}
}

// CORS returns middleware that sets Cross-Origin Resource Sharing headers.
// Preflight requests are answered with 204 and never reach next.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	if len(cfg.AllowedMethods) == 0 {
		cfg.AllowedMethods = defaultCORSMethods
	}
	if len(cfg.AllowedHeaders) == 0 {
		cfg.AllowedHeaders = defaultCORSHeaders
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 3600
	}

	anyOrigin := cfg.allowsAny()
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case anyOrigin:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && cfg.OriginAllowed(origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			if exposed != "" {
				w.Header().Set("Access-Control-Expose-Headers", exposed)
			}
			w.Header().Set("Access-Control-Max-Age", maxAge)

			if cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (cfg CORSConfig) allowsAny() bool {
	if cfg.Environment == "development" {
		return true
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// OriginAllowed reports whether origin matches the configured origins or
// suffixes. It is also used to vet WebSocket upgrades.
func (cfg CORSConfig) OriginAllowed(origin string) bool {
	if cfg.allowsAny() {
		return true
	}
	for _, o := range cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	for _, suffix := range cfg.AllowedOriginSuffixes {
		if suffix != "" && strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
