package store

import (
	"context"
	"fmt"

	"github.com/skillsenselab/tickstream/component"
	"github.com/skillsenselab/tickstream/logger"
)

// Component wraps the database as a lifecycle-managed component.
type Component struct {
	cfg Config
	log *logger.Logger
	db  *DB
}

var _ component.Component = (*Component)(nil)

// NewComponent creates a database component. The connection is opened on Start.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	return &Component{cfg: cfg, log: log.WithComponent("store")}
}

// DB returns the open database handle. Valid only after Start.
func (c *Component) DB() *DB { return c.db }

// Name returns the component name.
func (c *Component) Name() string { return "store" }

// Start opens the connection and migrates the read-model tables. It is
// idempotent: callers that need the handle before the lifecycle
// registry runs can start the component early.
func (c *Component) Start(ctx context.Context) error {
	if c.db != nil {
		return nil
	}
	db, err := Open(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(); err != nil {
		_ = db.Close()
		return fmt.Errorf("store migration: %w", err)
	}
	c.db = db
	return nil
}

// Stop closes the connection pool.
func (c *Component) Stop(_ context.Context) error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Health pings the database.
func (c *Component) Health(ctx context.Context) component.Health {
	if c.db == nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "not started"}
	}
	if err := c.db.PingContext(ctx); err != nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: err.Error()}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}
