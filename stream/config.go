package stream

import (
	"fmt"
	"time"
)

// Config holds streaming configuration. All intervals are in
// milliseconds to match the environment surface
// (STREAM_HEARTBEAT_INTERVAL_MS etc.).
type Config struct {
	// HeartbeatIntervalMS is the per-connection heartbeat cadence.
	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms" mapstructure:"heartbeat_interval_ms"`
	// PollIntervalMS is the change-detector cadence.
	PollIntervalMS int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	// MaxConnections is the per-instance connection ceiling.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`
	// BufferDepth is the per-connection outbound buffer capacity. It also
	// bounds the resume window.
	BufferDepth int `yaml:"buffer_depth" mapstructure:"buffer_depth"`
	// GraceCycles is how many poll cycles a connection's buffer may stay
	// saturated before the connection is forcibly disconnected.
	GraceCycles int `yaml:"grace_cycles" mapstructure:"grace_cycles"`
	// WriteTimeoutMS bounds a single outbound write.
	WriteTimeoutMS int `yaml:"write_timeout_ms" mapstructure:"write_timeout_ms"`
	// RetryHintMS is the reconnect delay suggested to clients.
	RetryHintMS int `yaml:"retry_hint_ms" mapstructure:"retry_hint_ms"`
}

// ApplyDefaults sets sensible default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.HeartbeatIntervalMS == 0 {
		c.HeartbeatIntervalMS = 30000
	}
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 5000
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 100
	}
	if c.BufferDepth == 0 {
		c.BufferDepth = 64
	}
	if c.GraceCycles == 0 {
		c.GraceCycles = 3
	}
	if c.WriteTimeoutMS == 0 {
		c.WriteTimeoutMS = 10000
	}
	if c.RetryHintMS == 0 {
		c.RetryHintMS = 5000
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.HeartbeatIntervalMS < 0 {
		return fmt.Errorf("stream.heartbeat_interval_ms must be non-negative (got: %d)", c.HeartbeatIntervalMS)
	}
	if c.PollIntervalMS <= 0 {
		return fmt.Errorf("stream.poll_interval_ms must be positive (got: %d)", c.PollIntervalMS)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("stream.max_connections must be positive (got: %d)", c.MaxConnections)
	}
	if c.BufferDepth <= 0 {
		return fmt.Errorf("stream.buffer_depth must be positive (got: %d)", c.BufferDepth)
	}
	if c.GraceCycles <= 0 {
		return fmt.Errorf("stream.grace_cycles must be positive (got: %d)", c.GraceCycles)
	}
	return nil
}

// HeartbeatInterval returns the heartbeat cadence as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// GracePeriod returns the backpressure grace period: GraceCycles poll cycles.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GraceCycles) * c.PollInterval()
}

// WriteTimeout returns the per-write deadline as a duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}
