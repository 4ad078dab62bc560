package auth

import (
	"errors"
	"time"
)

// Config configures JWT verification.
type Config struct {
	// Secret is the HMAC signing key shared with the token issuer.
	Secret string `yaml:"secret" mapstructure:"secret" validate:"required"`

	// Issuer is the expected "iss" claim (optional).
	Issuer string `yaml:"issuer" mapstructure:"issuer"`

	// Audience is the expected "aud" claim (optional).
	Audience string `yaml:"audience" mapstructure:"audience"`

	// Leeway tolerated on time-based claims (default: 30s).
	Leeway time.Duration `yaml:"leeway" mapstructure:"leeway"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Leeway == 0 {
		c.Leeway = 30 * time.Second
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("auth.secret is required")
	}
	return nil
}
