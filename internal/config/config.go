package config

import (
	"fmt"
	"time"

	"github.com/utafrali/wishlist-sync/pkg/database"
	pkgconfig "github.com/utafrali/wishlist-sync/pkg/config"
)

// Relay drivers for cross-instance stats fan-out.
const (
	RelayNone  = "none"
	RelayRedis = "redis"
	RelayNATS  = "nats"
)

// Config holds all configuration for the wishlist service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"wishlist"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"wishlist_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"wishlist"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Cross-instance stats relay
	RelayDriver string `env:"RELAY_DRIVER" envDefault:"redis"`
	NATSURL     string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	// Catalog collaborator
	CatalogURL     string        `env:"CATALOG_URL" envDefault:"http://localhost:8001"`
	CatalogTimeout time.Duration `env:"CATALOG_TIMEOUT" envDefault:"3s"`

	// Session tokens
	SessionSecret   string `env:"SESSION_SECRET"`
	SessionAudience string `env:"SESSION_AUDIENCE" envDefault:""`

	// Storefront mutation rate limit per shop; 0 disables it.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// Reconcile sweeper
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"10m"`
	ReconcileWorkers  int           `env:"RECONCILE_WORKERS" envDefault:"4"`

	// Demo data
	SeedEnabled bool `env:"WISHLIST_SEED_ENABLED" envDefault:"false"`

	// OpenTelemetry; tracing is off while the endpoint is empty.
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"https://admin.shopify.com" envSeparator:","`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load wishlist config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field invariants after parsing.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	switch c.RelayDriver {
	case RelayNone, RelayRedis:
	case RelayNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required when RELAY_DRIVER=nats")
		}
	default:
		return fmt.Errorf("RELAY_DRIVER must be one of none, redis, nats; got %q", c.RelayDriver)
	}
	if c.CatalogTimeout <= 0 {
		return fmt.Errorf("CATALOG_TIMEOUT must be > 0, got %s", c.CatalogTimeout)
	}
	if c.ReconcileInterval < time.Second {
		return fmt.Errorf("RECONCILE_INTERVAL must be at least 1s, got %s", c.ReconcileInterval)
	}
	if c.ReconcileWorkers < 1 {
		return fmt.Errorf("RECONCILE_WORKERS must be > 0, got %d", c.ReconcileWorkers)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0, got %f", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be > 0 when rate limiting is on, got %d", c.RateLimitBurst)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// Postgres returns the pool configuration for database.NewPostgresPool.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:               c.PostgresHost,
		Port:               c.PostgresPort,
		User:               c.PostgresUser,
		Password:           c.PostgresPass,
		DBName:             c.PostgresDB,
		SSLMode:            c.PostgresSSL,
		MaxConns:           c.DBMaxConns,
		MinConns:           c.DBMinConns,
		MaxConnLifetime:    time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime:    time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
		SlowQueryThreshold: time.Duration(c.SlowQueryThresholdMs) * time.Millisecond,
	}
}

// Redis returns the client configuration for database.NewRedisClient.
func (c *Config) Redis() database.RedisConfig {
	r := database.DefaultRedisConfig()
	r.Host = c.RedisHost
	r.Port = c.RedisPort
	r.Password = c.RedisPassword
	r.DB = c.RedisDB
	return r
}
