package config

import (
	"fmt"

	"github.com/skillsenselab/tickstream/auth"
	"github.com/skillsenselab/tickstream/logger"
	"github.com/skillsenselab/tickstream/observability"
	"github.com/skillsenselab/tickstream/poller"
	"github.com/skillsenselab/tickstream/server"
	"github.com/skillsenselab/tickstream/store"
	"github.com/skillsenselab/tickstream/stream"
	"github.com/skillsenselab/tickstream/validation"
)

// Config is the full tickstream configuration tree.
type Config struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`

	Logging       logger.Config        `yaml:"logging" mapstructure:"logging"`
	Server        server.Config        `yaml:"server" mapstructure:"server"`
	Stream        stream.Config        `yaml:"stream" mapstructure:"stream"`
	Poller        poller.Config        `yaml:"poller" mapstructure:"poller"`
	Auth          auth.Config          `yaml:"auth" mapstructure:"auth"`
	Store         store.Config         `yaml:"store" mapstructure:"store"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// ApplyDefaults applies defaults to every section and keeps the poller
// cadence in lockstep with the streaming layer's poll interval, which
// anchors the backpressure grace period.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "tickstream"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}

	c.Logging.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Stream.ApplyDefaults()
	c.Poller.ApplyDefaults()
	c.Auth.ApplyDefaults()
	c.Store.ApplyDefaults()
	c.Observability.ApplyDefaults()

	if c.Poller.PollIntervalMS != c.Stream.PollIntervalMS {
		c.Poller.PollIntervalMS = c.Stream.PollIntervalMS
	}
}

// Validate validates every section.
func (c *Config) Validate() error {
	validEnvs := []string{"development", "staging", "production"}
	found := false
	for _, v := range validEnvs {
		if c.Environment == v {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("config.environment must be one of [development, staging, production] (got: %s)", c.Environment)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("config.server: %w", err)
	}
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("config.stream: %w", err)
	}
	if err := c.Poller.Validate(); err != nil {
		return fmt.Errorf("config.poller: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("config.auth: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("config.store: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("config.observability: %w", err)
	}
	return nil
}

// Load reads configuration from the standard locations, applies
// defaults, and validates the result.
func Load(opts ...LoaderOption) (*Config, error) {
	var cfg Config
	if err := LoadConfig("tickstream", &cfg, opts...); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := validation.Validate(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
