// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Public URL used in reminder emails (e.g., https://selah.app)
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// HMAC key for session tokens issued by the auth provider bridge
	SessionSecret string `env:"SESSION_SECRET,required"`
	// Shared secret presented by the reminder cron trigger
	CronSecret string `env:"CRON_SECRET,required"`
	// Key for one-click pause links; falls back to SessionSecret when empty
	ReminderLinkSecret string `env:"REMINDER_LINK_SECRET" envDefault:""`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting
	RateLimitEnabled        bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitUserRPM        int  `env:"RATE_LIMIT_USER_RPM" envDefault:"120"`
	RateLimitUserBurst      int  `env:"RATE_LIMIT_USER_BURST" envDefault:"30"`
	RateLimitPublicRPS      int  `env:"RATE_LIMIT_PUBLIC_RPS" envDefault:"5"`
	RateLimitPublicBurst    int  `env:"RATE_LIMIT_PUBLIC_BURST" envDefault:"10"`
	RateLimitCheckInPerHour int  `env:"RATE_LIMIT_CHECKIN_PER_HOUR" envDefault:"12"`
	RateLimitCheckInBurst   int  `env:"RATE_LIMIT_CHECKIN_BURST" envDefault:"6"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Mail delivery
	MailProvider string `env:"MAIL_PROVIDER" envDefault:"log"`
	MailAPIURL   string `env:"MAIL_API_URL" envDefault:""`
	MailAPIKey   string `env:"MAIL_API_KEY" envDefault:""`
	MailFrom     string `env:"MAIL_FROM" envDefault:""`

	// Caching and scheduling
	ReviewCacheTTL  time.Duration `env:"REVIEW_CACHE_TTL" envDefault:"10m"`
	ReminderLockTTL time.Duration `env:"REMINDER_LOCK_TTL" envDefault:"10m"`
	PauseLinkTTL    time.Duration `env:"PAUSE_LINK_TTL" envDefault:"168h"`
	InviteTTL       time.Duration `env:"INVITE_TTL" envDefault:"168h"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// PauseLinkSecret returns the key used to sign reminder pause links.
func (c *Config) PauseLinkSecret() string {
	if c.ReminderLinkSecret != "" {
		return c.ReminderLinkSecret
	}
	return c.SessionSecret
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	switch c.MailProvider {
	case "log":
		if c.IsProduction() {
			return fmt.Errorf("MAIL_PROVIDER=log is not allowed in production")
		}
	case "http":
		if c.MailAPIURL == "" || c.MailFrom == "" {
			return fmt.Errorf("MAIL_PROVIDER=http requires MAIL_API_URL and MAIL_FROM")
		}
	default:
		return fmt.Errorf("unsupported MAIL_PROVIDER %q", c.MailProvider)
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	return nil
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
