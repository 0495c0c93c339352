// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC process timezone to prevent drift bugs — every dedup
//     decision in the scheduler is keyed on recipient-local dates computed
//     from UTC instants.
//  2. Load a .env file via godotenv (non-fatal if absent; never overrides
//     existing environment variables).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by Load to aid debugging.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load loads and validates the dailybrief configuration from the
// environment. It fails fast: callers should treat a non-nil error as
// unrecoverable at startup.
func Load() (*Config, error) {
	// Step 1: all scheduling math is done in UTC; local-date conversion
	// happens explicitly through the tz resolver.
	time.Local = time.UTC

	// Step 2: .env is a development convenience only.
	_ = godotenv.Load()

	// Step 3: the empty prefix means envconfig uses the exact tag values.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 4: struct-level validation.
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// DigestEnabled reports whether the given digest type is allowed to
// enqueue new work. In-flight entries for disabled digests still finish;
// only new enqueues are refused.
func (c *Config) DigestEnabled(digestType string) bool {
	for _, d := range c.Scheduler.EnabledDigests {
		if d == digestType {
			return true
		}
	}
	return false
}
