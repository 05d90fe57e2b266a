// Package config defines the configuration structure for the PlateMask billing
// sync service. Configuration is loaded once at process initialization and is
// immutable thereafter, following 12-Factor principles.
//
// Values come from the OS environment, with a .env file as a development
// convenience. Any missing required value or invalid format fails startup
// immediately (fail fast).
package config

import (
	"time"

	"platemask/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// BillingConfig holds the Stripe integration credentials and webhook tuning.
//
// RecognizedEvents is the set of provider event types the normalizer maps into
// the internal vocabulary; everything outside it is acknowledged and dropped.
// WebhookTolerance is the signature freshness window: events whose embedded
// timestamp is older are rejected as possible replays.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	WebhookTolerance      time.Duration `envconfig:"WEBHOOK_TOLERANCE" default:"5m"`
	CustomerLookupTimeout time.Duration `envconfig:"CUSTOMER_LOOKUP_TIMEOUT" default:"5s"`
	RecognizedEvents      []string      `envconfig:"STRIPE_EVENTS" default:"customer.subscription.created,customer.subscription.updated,customer.subscription.deleted"`

	// PlanPrices maps Stripe price IDs to plan tier names. Each environment
	// (test mode, live mode) points at its own price objects.
	PlanPrices map[string]string `envconfig:"PLAN_PRICE_MAP" default:"price_starter:starter,price_pro:pro,price_business:business"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
