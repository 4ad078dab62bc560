package server

import (
	"fmt"

	"github.com/skillsenselab/tickstream/server/middleware"
)

// Config holds HTTP server configuration. There is deliberately no
// server-wide write timeout: stream responses live for hours and manage
// their own per-write deadlines.
type Config struct {
	Host            string                `yaml:"host" mapstructure:"host"`
	Port            int                   `yaml:"port" mapstructure:"port"`
	ReadTimeout     int                   `yaml:"read_timeout" mapstructure:"read_timeout"`         // seconds
	IdleTimeout     int                   `yaml:"idle_timeout" mapstructure:"idle_timeout"`         // seconds
	ShutdownTimeout int                   `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
	CORS            middleware.CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// ApplyDefaults sets sensible default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Origin", "Accept", "Authorization", "Last-Event-ID"}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535 (got: %d)", c.Port)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("server.read_timeout must be non-negative (got: %d)", c.ReadTimeout)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("server.idle_timeout must be non-negative (got: %d)", c.IdleTimeout)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must be non-negative (got: %d)", c.ShutdownTimeout)
	}
	return nil
}
