package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/wishlist-sync/pkg/health"
	"github.com/utafrali/wishlist-sync/pkg/middleware"
)

// DefaultPollInterval is advertised to dashboards that cannot hold a socket.
const DefaultPollInterval = 30 * time.Second

// RateLimitConfig bounds storefront mutations per shop. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// RouterConfig carries everything the router mounts.
type RouterConfig struct {
	ServiceName    string
	Handler        *WishlistHandler
	Health         *health.Handler
	Sessions       middleware.SessionValidator
	Metrics        *middleware.HTTPMetrics
	MetricsHandler http.Handler
	CORS           middleware.CORSConfig
	PprofCIDRs     []string
	SeedEnabled    bool
	PollInterval   time.Duration
	RateLimit      RateLimitConfig
	Logger         *slog.Logger
}

// NewRouter creates a chi router with all wishlist service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.RequestLogger(cfg.Logger))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", cfg.MetricsHandler)
	middleware.RegisterPprof(r, cfg.PprofCIDRs, cfg.Logger)

	h := cfg.Handler

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Sessions))
		r.Use(middleware.RequestLogger(cfg.Logger))

		// Storefront
		r.Route("/wishlist", func(r chi.Router) {
			limited := r.With(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.Logger))
			limited.Post("/items", h.AddItem)
			limited.Delete("/items", h.RemoveItem)
			r.Get("/items", h.ListItems)
			r.Get("/page", h.GetPage)
		})

		// Admin dashboard
		r.Route("/admin/wishlist", func(r chi.Router) {
			r.With(middleware.PollInterval(cfg.PollInterval)).Get("/stats", h.GetStats)
			r.Post("/stats/reconcile", h.ReconcileStats)
			r.Get("/stats/stream", h.StreamStats)
			r.With(middleware.PollInterval(cfg.PollInterval)).Get("/dashboard", h.GetDashboard)
			if cfg.SeedEnabled {
				r.Post("/seed", h.Seed)
			}
		})
	})

	return r
}
