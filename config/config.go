// Package config loads engine configuration from the environment.
// Variables are prefixed with SYNCCORE_, e.g. SYNCCORE_ROTATION_INTERVAL_DAYS.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the externally tunable knobs of the engine.
type Config struct {
	// RotationIntervalDays is the scheduled data-key rotation interval.
	RotationIntervalDays int `envconfig:"ROTATION_INTERVAL_DAYS" default:"90"`

	// VitalSignTolerance is the effective-time window within which two
	// diverging vital-sign observations are both kept.
	VitalSignTolerance time.Duration `envconfig:"VITAL_SIGN_TOLERANCE" default:"5m"`

	// KDFIterations is the PBKDF2-SHA256 iteration count for
	// password-derived keys. OWASP floor is 100000.
	KDFIterations int `envconfig:"KDF_ITERATIONS" default:"210000"`

	// KeyringService is the OS keyring service name used when the
	// master key is persisted on-device.
	KeyringService string `envconfig:"KEYRING_SERVICE" default:"synccore"`
}

// RotationInterval returns the rotation interval as a duration.
func (c *Config) RotationInterval() time.Duration {
	return time.Duration(c.RotationIntervalDays) * 24 * time.Hour
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.RotationIntervalDays <= 0 {
		return fmt.Errorf("rotation interval must be positive, got %d days", c.RotationIntervalDays)
	}
	if c.VitalSignTolerance < 0 {
		return fmt.Errorf("vital-sign tolerance must not be negative, got %s", c.VitalSignTolerance)
	}
	if c.KDFIterations < 100_000 {
		return fmt.Errorf("kdf iterations below safe floor: %d < 100000", c.KDFIterations)
	}
	if c.KeyringService == "" {
		return fmt.Errorf("keyring service name must not be empty")
	}
	return nil
}

// New parses SYNCCORE_* environment variables over the defaults.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("SYNCCORE", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without consulting the
// environment.
func Default() *Config {
	return &Config{
		RotationIntervalDays: 90,
		VitalSignTolerance:   5 * time.Minute,
		KDFIterations:        210_000,
		KeyringService:       "synccore",
	}
}
