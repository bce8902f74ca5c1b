// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"
	StaticDir string
	AppURL    string // public base URL used for checkout/portal redirects

	// Database (Supabase Postgres connection string; in-memory stores if empty)
	DatabaseURL string

	// Identity provider (Clerk)
	ClerkSecretKey         string
	ClerkJWKSURL           string
	ClerkAuthorizedParties []string

	// Payments (Stripe)
	StripeSecretKey       string
	StripeWebhookSecret   string
	StripePriceIndividual string
	StripePricePremium    string

	// AI provider (Anthropic)
	AnthropicAPIKey       string
	AnthropicBaseURL      string
	AnthropicDefaultModel string
	UpstreamTimeout       time.Duration

	// News search
	NewsAPIKey   string
	NewsAPIURL   string
	NewsCacheTTL time.Duration
	RedisURL     string

	// Waitlist email
	SendGridAPIKey    string
	WaitlistFromEmail string

	// Entitlements
	BetaMode      bool // new accounts start on premium instead of free
	FreeChatLimit int64

	// Feature flags
	NewsEnabled     bool
	WaitlistEnabled bool
	PortalEnabled   bool

	// HTTP hardening
	RateLimitRPM   int
	AllowedOrigins []string

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultStaticDir       = "public"
	DefaultAppURL          = "http://localhost:8080"
	DefaultClerkJWKSURL    = "https://api.clerk.com/v1/jwks"
	DefaultAnthropicURL    = "https://api.anthropic.com/v1/messages"
	DefaultModel           = "claude-sonnet-4-20250514"
	DefaultUpstreamTimeout = 60 * time.Second
	DefaultNewsAPIURL      = "https://newsapi.org/v2/everything"
	DefaultNewsCacheTTL    = 15 * time.Minute
	DefaultFreeChatLimit   = 3
	DefaultRateLimitRPM    = 120
	DefaultFromEmail       = "hello@coachgate.app"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:              getEnv("LOG_FORMAT", DefaultLogFormat),
		StaticDir:              getEnv("STATIC_DIR", DefaultStaticDir),
		AppURL:                 strings.TrimSuffix(getEnv("APP_URL", DefaultAppURL), "/"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		ClerkSecretKey:         os.Getenv("CLERK_SECRET_KEY"),
		ClerkJWKSURL:           getEnv("CLERK_JWKS_URL", DefaultClerkJWKSURL),
		ClerkAuthorizedParties: getEnvList("CLERK_AUTHORIZED_PARTIES"),
		StripeSecretKey:        os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:    os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePriceIndividual:  os.Getenv("STRIPE_PRICE_INDIVIDUAL"),
		StripePricePremium:     os.Getenv("STRIPE_PRICE_PREMIUM"),
		AnthropicAPIKey:        os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL:       getEnv("ANTHROPIC_BASE_URL", DefaultAnthropicURL),
		AnthropicDefaultModel:  getEnv("ANTHROPIC_DEFAULT_MODEL", DefaultModel),
		UpstreamTimeout:        getEnvDuration("UPSTREAM_TIMEOUT", DefaultUpstreamTimeout),
		NewsAPIKey:             os.Getenv("NEWS_API_KEY"),
		NewsAPIURL:             getEnv("NEWS_API_URL", DefaultNewsAPIURL),
		NewsCacheTTL:           getEnvDuration("NEWS_CACHE_TTL", DefaultNewsCacheTTL),
		RedisURL:               os.Getenv("REDIS_URL"),
		SendGridAPIKey:         os.Getenv("SENDGRID_API_KEY"),
		WaitlistFromEmail:      getEnv("WAITLIST_FROM_EMAIL", DefaultFromEmail),
		BetaMode:               getEnvBool("BETA_MODE", false),
		FreeChatLimit:          getEnvInt64("FREE_CHAT_LIMIT", DefaultFreeChatLimit),
		NewsEnabled:            getEnvBool("FEATURE_NEWS", true),
		WaitlistEnabled:        getEnvBool("FEATURE_WAITLIST", true),
		PortalEnabled:          getEnvBool("FEATURE_PORTAL", true),
		RateLimitRPM:           int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		AllowedOrigins:         getEnvList("ALLOWED_ORIGINS"),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects structurally invalid settings. Missing provider secrets are
// not an error here: each endpoint reports its own ConfigurationError.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.FreeChatLimit < 0 {
		return fmt.Errorf("FREE_CHAT_LIMIT must not be negative")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}
	if c.StripePriceIndividual != "" && c.StripePriceIndividual == c.StripePricePremium {
		return fmt.Errorf("STRIPE_PRICE_INDIVIDUAL and STRIPE_PRICE_PREMIUM must differ")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ClerkConfigured reports whether identity verification can run.
func (c *Config) ClerkConfigured() bool { return c.ClerkSecretKey != "" }

// StripeConfigured reports whether the payments client can run.
func (c *Config) StripeConfigured() bool { return c.StripeSecretKey != "" }

// DatabaseConfigured reports whether a persistent store is in use.
func (c *Config) DatabaseConfigured() bool { return c.DatabaseURL != "" }

// AnthropicConfigured reports whether the AI provider credential is present.
func (c *Config) AnthropicConfigured() bool { return c.AnthropicAPIKey != "" }

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
