// Package config loads the storefront's settings from the environment.
//
// Every setting is an environment variable with a default, so the server
// starts with zero configuration for local development:
//
//	PORT=8080 DB_PATH=data/storefront.db go run ./cmd/server
//
// Optional integrations switch off when their credentials are missing:
//   - no JWT_SECRET          → shopper routes (addresses, own orders) are not mounted
//   - no STRIPE_SECRET_KEY   → payment-intent creation is not mounted
//   - no SANITY_PROJECT_ID   → the order mirror is disabled (sync routes answer 503)
//   - no SYNC_API_KEY_HASH   → operator routes are open
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port      int    `envconfig:"PORT" default:"8080"`
	DBPath    string `envconfig:"DB_PATH" default:"data/storefront.db"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	JWTSecret string `envconfig:"JWT_SECRET"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"storefront"`

	// SyncAPIKeyHash is a bcrypt hash; see `storectl hash-key`.
	SyncAPIKeyHash string `envconfig:"SYNC_API_KEY_HASH"`

	Stripe Stripe
	Sanity Sanity

	SyncConcurrency int `envconfig:"SYNC_CONCURRENCY" default:"4"`
}

type Stripe struct {
	SecretKey        string        `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret    string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	APIURL           string        `envconfig:"STRIPE_API_URL"`
	WebhookTolerance time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	Currency         string        `envconfig:"STRIPE_CURRENCY" default:"usd"`
}

type Sanity struct {
	ProjectID  string `envconfig:"SANITY_PROJECT_ID"`
	Dataset    string `envconfig:"SANITY_DATASET" default:"production"`
	Token      string `envconfig:"SANITY_API_TOKEN"`
	APIVersion string `envconfig:"SANITY_API_VERSION" default:"2023-05-03"`
	APIURL     string `envconfig:"SANITY_API_URL"`
}

// Load reads the environment. Field names are given explicitly in the
// struct tags, so no prefix is applied.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		return fmt.Errorf("config: JWT_SECRET must be at least 16 characters")
	}
	if c.Stripe.WebhookTolerance < 0 {
		return fmt.Errorf("config: STRIPE_WEBHOOK_TOLERANCE must not be negative")
	}
	if c.SyncConcurrency < 1 {
		return fmt.Errorf("config: SYNC_CONCURRENCY must be at least 1")
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return l, nil
}

// MirrorEnabled reports whether a document store is configured.
func (c *Config) MirrorEnabled() bool {
	return c.Sanity.ProjectID != "" || c.Sanity.APIURL != ""
}
