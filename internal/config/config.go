package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config defines all environment-driven runtime options.
type Config struct {
	Host     string `env:"HOST" envDefault:"0.0.0.0"`
	Port     int    `env:"PORT" envDefault:"8000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv   string `env:"APP_ENV" envDefault:"dev"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://./data/fub-assistant.db"`
	RedisURL    string `env:"REDIS_URL"`

	EmbedSecret string        `env:"FUB_EMBED_SECRET"`
	JWTSecret   string        `env:"JWT_SECRET"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	FUBClientID     string  `env:"FUB_CLIENT_ID"`
	FUBClientSecret string  `env:"FUB_CLIENT_SECRET"`
	FUBRedirectURL  string  `env:"FUB_REDIRECT_URL"`
	FUBAPIBaseURL   string  `env:"FUB_API_BASE_URL" envDefault:"https://api.followupboss.com/v1"`
	FUBAuthorizeURL string  `env:"FUB_OAUTH_AUTHORIZE_URL" envDefault:"https://app.followupboss.com/oauth/authorize"`
	FUBTokenURL     string  `env:"FUB_OAUTH_TOKEN_URL" envDefault:"https://app.followupboss.com/oauth/token"`
	FUBSystem       string  `env:"FUB_SYSTEM"`
	FUBSystemKey    string  `env:"FUB_SYSTEM_KEY"`
	FUBMaxRPS       float64 `env:"FUB_MAX_RPS" envDefault:"10"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	StripeSecretKey       string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret   string `env:"STRIPE_WEBHOOK_SECRET"`
	StripePriceIDMonthly  string `env:"STRIPE_PRICE_ID_MONTHLY"`
	StripeSuccessURL      string `env:"STRIPE_SUCCESS_URL"`
	StripeCancelURL       string `env:"STRIPE_CANCEL_URL"`
	StripePortalReturnURL string `env:"STRIPE_PORTAL_RETURN_URL"`

	RateLimitPerAccount int           `env:"RATE_LIMIT_RPM" envDefault:"10"`
	RateLimitPerIP      int           `env:"RATE_LIMIT_RPM_IP" envDefault:"100"`
	RateLimitWindow     time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	TrustProxyHeaders   bool          `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
	MaxBodyBytes        int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

// Load reads .env (if present) and parses environment variables into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.AppEnv)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

// Validate checks the settings the HTTP server cannot run safely without.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("invalid SESSION_TTL: %s", c.SessionTTL)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("invalid RATE_LIMIT_WINDOW: %s", c.RateLimitWindow)
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL must be set")
	}
	if c.IsProduction() {
		if strings.TrimSpace(c.EmbedSecret) == "" {
			return errors.New("FUB_EMBED_SECRET must be set in production")
		}
		if strings.TrimSpace(c.JWTSecret) == "" {
			return errors.New("JWT_SECRET must be set in production")
		}
	}
	return nil
}
