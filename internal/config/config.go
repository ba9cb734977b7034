// Package config defines the process configuration for the parking engine.
// Configuration is loaded once at startup (or Lambda cold start) and is
// immutable thereafter.
//
// Values are resolved from the OS environment, falling back to a local
// .env file during development. Any missing required value or invalid
// format fails startup.
package config

import (
	"time"

	"parking/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"parking-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Lot           LotConfig
	Payments      PaymentsConfig
	AWS           AWSConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	MetricsPath     string        `envconfig:"METRICS_PATH" default:"/metrics"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// LotConfig holds the operational rules shared by every lot.
type LotConfig struct {
	// Timezone is the IANA zone lot-local calendar days are computed in.
	Timezone            string        `envconfig:"LOT_TIMEZONE" default:"America/Argentina/Buenos_Aires" validate:"required,timezone"`
	PaymentHoldTTL      time.Duration `envconfig:"PAYMENT_HOLD_TTL" default:"15m" validate:"gt=0"`
	DefaultGraceMinutes int           `envconfig:"DEFAULT_GRACE_MINUTES" default:"15" validate:"min=0,max=240"`
	MaxDurationHours    int           `envconfig:"MAX_DURATION_HOURS" default:"24" validate:"min=1,max=24"`
	SweepItemDelay      time.Duration `envconfig:"SWEEP_ITEM_DELAY" default:"100ms"`
}

// Location resolves Timezone. Load validates the zone, so the error is only
// reachable for hand-built configs.
func (c LotConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// PaymentsConfig holds payment provider webhook settings.
type PaymentsConfig struct {
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	// ReservationMetadataKey is the PaymentIntent metadata key carrying the reservation code.
	ReservationMetadataKey string `envconfig:"STRIPE_RESERVATION_METADATA_KEY" default:"reservation_code"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region         string `envconfig:"AWS_REGION" default:"us-east-1"`
	EventsQueueURL string `envconfig:"SQS_RESERVATION_EVENTS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SecurityConfig holds ops credentials and CORS settings.
type SecurityConfig struct {
	// OpsTokenHash is the bcrypt hash of the bearer token required on
	// maintenance endpoints. Empty disables those endpoints.
	OpsTokenHash       SecretString `envconfig:"OPS_TOKEN_HASH"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Parking"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
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
