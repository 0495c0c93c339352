// Package config defines the global configuration for the dailybrief
// service. Configuration is loaded once at process initialization and is
// immutable thereafter, following 12-Factor principles: values come from
// the OS environment (highest priority) with an optional .env file
// underneath. Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"dailybrief/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret
// type used throughout configuration to prevent accidental logging of
// sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive
// only the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"dailybrief"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Email     EmailConfig
	Content   ContentConfig
	Scheduler SchedulerConfig
	Security  SecurityConfig
	Metrics   MetricsConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public base URL used to build tracking pixel/click links (no trailing slash).
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers for the run queue and metrics.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	RunQueueURL string `envconfig:"SQS_RUN_QUEUE"` // continuation trigger target; empty disables
	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds outbound email provider credentials and sender identity.
type EmailConfig struct {
	APIBaseURL  string       `envconfig:"EMAIL_API_BASE_URL" default:"https://api.mailpump.io"`
	APIKey      SecretString `envconfig:"EMAIL_API_KEY" validate:"required"`
	FromAddress string       `envconfig:"EMAIL_FROM_ADDRESS" default:"digest@dailybrief.news"`
	FromName    string       `envconfig:"EMAIL_FROM_NAME" default:"Daily Brief"`
	SendTimeout time.Duration `envconfig:"EMAIL_SEND_TIMEOUT" default:"10s"`
}

// ContentConfig holds the content provider endpoint and fetch tuning.
type ContentConfig struct {
	APIBaseURL   string        `envconfig:"CONTENT_API_BASE_URL" validate:"required,url"`
	APIKey       SecretString  `envconfig:"CONTENT_API_KEY"`
	FetchTimeout time.Duration `envconfig:"CONTENT_FETCH_TIMEOUT" default:"15s"`
	MaxArticles  int           `envconfig:"CONTENT_MAX_ARTICLES" default:"10"`
	// Window is the lookback period for "top articles of the day".
	Window time.Duration `envconfig:"CONTENT_WINDOW" default:"24h"`
}

// SchedulerConfig holds the delivery scheduler's operational knobs.
type SchedulerConfig struct {
	// EnabledDigests is the kill switch: digest types absent from this
	// list refuse new enqueues while in-flight entries finish.
	EnabledDigests []string `envconfig:"ENABLED_DIGESTS" default:"daily"`

	BatchSize int `envconfig:"SCHEDULER_BATCH_SIZE" default:"50"`

	// RunBudget is the wall-clock budget per invocation; when nearly
	// exhausted the worker stops claiming and reports remaining work.
	RunBudget time.Duration `envconfig:"SCHEDULER_RUN_BUDGET" default:"10m"`

	// LockStaleness is the lease TTL for the run lock. Defaults to just
	// under the hourly trigger period so a crashed run never blocks the
	// next one.
	LockStaleness time.Duration `envconfig:"SCHEDULER_LOCK_STALENESS" default:"55m"`

	// ProcessingStaleness is how long a queue entry may sit in
	// 'processing' before the sweep reclaims it to 'pending'.
	ProcessingStaleness time.Duration `envconfig:"SCHEDULER_PROCESSING_STALENESS" default:"30m"`

	// SendRate is the per-second send pacing toward the email provider.
	SendRate float64 `envconfig:"SCHEDULER_SEND_RATE" default:"5"`

	// LedgerRetention is how long terminal ledger rows stay queryable
	// before the archival sweep compresses them out.
	LedgerRetention time.Duration `envconfig:"SCHEDULER_LEDGER_RETENTION" default:"2160h"` // 90 days
}

// SecurityConfig holds the trigger-endpoint credential.
type SecurityConfig struct {
	// TriggerTokenHash is the bcrypt hash of the bearer token accepted by
	// the run trigger endpoint. The plaintext token is never stored.
	TriggerTokenHash SecretString `envconfig:"TRIGGER_TOKEN_HASH" validate:"required"`
}

// MetricsConfig holds telemetry settings.
type MetricsConfig struct {
	Namespace        string `envconfig:"METRIC_NAMESPACE" default:"DailyBrief"`
	EnableCloudWatch bool   `envconfig:"ENABLE_CLOUDWATCH_METRICS" default:"false"`
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
