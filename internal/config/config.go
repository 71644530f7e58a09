// Package config defines the configuration of the entitlement service.
// Configuration is loaded once at process start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"flui/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Database drivers accepted by DatabaseConfig.Driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the top-level configuration struct.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"flui-entitlements"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Entitlement   EntitlementConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	// Public URL of the web app, used for checkout redirects (no trailing slash).
	DashboardURL string `envconfig:"DASHBOARD_URL" default:"http://localhost:3000" validate:"required,url"`
}

// DatabaseConfig selects and tunes the ledger store.
type DatabaseConfig struct {
	Driver string `envconfig:"DB_DRIVER" default:"postgres" validate:"oneof=postgres sqlite memory"`

	// Postgres DSN or SQLite path, resolved from SSM or Env.
	URL SecretString `envconfig:"DATABASE_URL" validate:"required_unless=Driver memory"`

	// Tuning Parameters (postgres only)
	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	AutoMigrate       bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Gate analytics queue. Empty disables SQS publishing.
	AnalyticsQueueURL string `envconfig:"SQS_GATE_EVENTS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds the Stripe credentials and subscription prices.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeBaseURL       string       `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com" validate:"url"`
	// Recurring price IDs for each paid tier.
	PriceGrowth string `envconfig:"STRIPE_PRICE_GROWTH"`
	PricePro    string `envconfig:"STRIPE_PRICE_PRO"`
}

// EntitlementConfig tunes the access engine.
type EntitlementConfig struct {
	// UnknownFeaturePolicy is "deny" (fail-closed) or "allow" (fail-open).
	UnknownFeaturePolicy string  `envconfig:"ENTITLEMENT_UNKNOWN_FEATURE" default:"deny" validate:"oneof=deny allow"`
	Locale               string  `envconfig:"ENTITLEMENT_LOCALE" default:"pt-BR"`
	HighUsageThreshold   float64 `envconfig:"ENTITLEMENT_HIGH_USAGE_THRESHOLD" default:"0.8" validate:"gt=0,lte=1"`
	RolloverBatchSize    int     `envconfig:"ROLLOVER_BATCH_SIZE" default:"500" validate:"min=1"`
	RolloverConcurrency  int     `envconfig:"ROLLOVER_CONCURRENCY" default:"8" validate:"min=1"`
	// CycleMonths is the billing cycle length. Cycle ends are clamped to the
	// last day of the month.
	CycleMonths int `envconfig:"ENTITLEMENT_CYCLE_MONTHS" default:"1" validate:"min=1,max=12"`
}

// SecurityConfig holds the shared key upstream services authenticate with
// and CORS settings.
type SecurityConfig struct {
	ServiceAPIKey      SecretString `envconfig:"SERVICE_API_KEY" validate:"required"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	// Requests per account per minute. Zero disables rate limiting.
	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"600" validate:"min=0"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace  string `envconfig:"METRIC_NAMESPACE" default:"Flui/Entitlements"`
	EnableCloudWatch bool   `envconfig:"ENABLE_CLOUDWATCH" default:"false"`
	EnablePrometheus bool   `envconfig:"ENABLE_PROMETHEUS" default:"true"`
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
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

// StripeEnabled reports whether checkout and webhook handling are configured.
func (c *Config) StripeEnabled() bool {
	return !c.Billing.StripeSecretKey.IsEmpty()
}

// PriceForTier returns the Stripe price ID of a paid tier.
func (b BillingConfig) PriceForTier(tier types.PlanTier) (string, bool) {
	switch tier {
	case types.PlanGrowth:
		return b.PriceGrowth, b.PriceGrowth != ""
	case types.PlanPro:
		return b.PricePro, b.PricePro != ""
	default:
		return "", false
	}
}
