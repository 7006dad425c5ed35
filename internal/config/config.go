// Package config defines the global configuration structure for the TicketWatch
// alert engine. Configuration is loaded once at process initialization (Lambda
// cold start) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Secret references (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"ticketwatch/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only the
// config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"ticketwatch-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Engine        EngineConfig
	Purchase      PurchaseConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration for cmd/api.
type ServerConfig struct {
	Port               string   `envconfig:"PORT" default:"8080"`
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds queue identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	NotificationQueue string `envconfig:"SQS_NOTIFICATIONS" validate:"required,url"`
	PurchaseQueue     string `envconfig:"SQS_PURCHASE_INTENTS" validate:"omitempty,url"`
	ListingDLQ        string `envconfig:"SQS_LISTINGS_DLQ" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EngineConfig tunes the listing pipeline and the sweeper jobs.
type EngineConfig struct {
	Concurrency            int           `envconfig:"ENGINE_CONCURRENCY" default:"8" validate:"min=1,max=64"`
	PreferenceFetchTimeout time.Duration `envconfig:"ENGINE_PREFERENCE_TIMEOUT" default:"5s"`
	DispatchTimeout        time.Duration `envconfig:"ENGINE_DISPATCH_TIMEOUT" default:"10s"`
	PreferenceCacheTTL     time.Duration `envconfig:"ENGINE_PREFERENCE_CACHE_TTL" default:"30s"`
	MaxRetries             int           `envconfig:"ENGINE_MAX_RETRIES" default:"3" validate:"min=1,max=10"`

	FlushLookahead   time.Duration `envconfig:"SWEEPER_FLUSH_LOOKAHEAD" default:"5m"`
	HistoryRetention time.Duration `envconfig:"SWEEPER_HISTORY_RETENTION" default:"2160h"`
	ExpiryBatchSize  int           `envconfig:"SWEEPER_EXPIRY_BATCH" default:"500" validate:"min=1"`
	FlushBatchSize   int           `envconfig:"SWEEPER_FLUSH_BATCH" default:"200" validate:"min=1"`
	RedriveBatchSize int           `envconfig:"SWEEPER_REDRIVE_BATCH" default:"100" validate:"min=1"`
	ArchiveBatchSize int           `envconfig:"SWEEPER_ARCHIVE_BATCH" default:"1000" validate:"min=1"`
}

// PurchaseConfig selects how purchase intents leave the engine. "sqs" publishes
// to AWS.PurchaseQueue; "http" posts to the purchase execution service.
type PurchaseConfig struct {
	Mode    string        `envconfig:"PURCHASE_MODE" default:"sqs" validate:"oneof=sqs http"`
	BaseURL string        `envconfig:"PURCHASE_BASE_URL" validate:"required_if=Mode http"`
	APIKey  SecretString  `envconfig:"PURCHASE_API_KEY" validate:"required_if=Mode http"`
	Timeout time.Duration `envconfig:"PURCHASE_TIMEOUT" default:"10s"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"TicketWatch"`
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
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a secret reference could not be resolved.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
