package store

import "fmt"

// Config holds database connection configuration.
type Config struct {
	// DSN is the SQLite data source name (file path or ":memory:").
	DSN          string `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	MaxRetries   int    `yaml:"max_retries" mapstructure:"max_retries"`
	// LogLevel controls GORM query logging: silent, error, warn, info.
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// ApplyDefaults sets sensible default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.DSN == "" {
		c.DSN = "tickstream.db"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("store.max_open_conns must be non-negative (got: %d)", c.MaxOpenConns)
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("store.max_idle_conns must be non-negative (got: %d)", c.MaxIdleConns)
	}
	return nil
}
