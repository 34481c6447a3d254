// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// Database. DB_URL wins when set; otherwise the discrete DB_* parts are
	// assembled into a DSN.
	DBURL      string `env:"DB_URL"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"social_inbox"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// Upstream aggregator.
	SocialAPIURL          string        `env:"SOCIAL_MEDIA_API_URL" envDefault:"http://localhost:9090"`
	SocialAPIKey          string        `env:"SOCIAL_MEDIA_API_KEY"`
	SocialHistoryLastDays int           `env:"SOCIAL_MEDIA_API_HISTORY_LAST_DAYS" envDefault:"7"`
	SocialPlatforms       []string      `env:"SOCIAL_PLATFORMS" envSeparator:"," envDefault:"twitter,facebook,bluesky"`
	SocialRequestTimeout  time.Duration `env:"SOCIAL_MEDIA_API_TIMEOUT" envDefault:"30s"`

	// Auth.
	JWTSecret    string        `env:"JWT_SECRET"`
	JWTExpiresIn time.Duration `env:"JWT_EXPIRES_IN" envDefault:"24h"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Circuit breaker.
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"60s"`

	// Retry.
	RetryMaxRetries   int           `env:"RETRY_MAX_RETRIES" envDefault:"3"`
	RetryInitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"1s"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"10s"`
	RetryMultiplier   float64       `env:"RETRY_MULTIPLIER" envDefault:"2.0"`

	// Mention engine.
	ListMentionsWait time.Duration `env:"LIST_MENTIONS_WAIT" envDefault:"2s"`
	ReplyInterval    time.Duration `env:"REPLY_INTERVAL" envDefault:"5m"`
	FetchInterval    time.Duration `env:"FETCH_INTERVAL" envDefault:"10m"`
	FanOutLimit      int           `env:"FAN_OUT_LIMIT" envDefault:"10"`

	// HTTP server.
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"social-inbox"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// DatabaseURL returns DB_URL when set, otherwise a DSN assembled from the
// discrete DB_* parts.
func (c Config) DatabaseURL() string {
	if c.DBURL != "" {
		return c.DBURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// Platforms returns the configured platform list with blanks trimmed out.
func (c Config) Platforms() []string {
	out := make([]string, 0, len(c.SocialPlatforms))
	for _, p := range c.SocialPlatforms {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }
