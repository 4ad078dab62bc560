package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/skillsenselab/tickstream/logger"
	"github.com/skillsenselab/tickstream/resilience"
)

// DB wraps a GORM database handle.
type DB struct {
	gormDB *gorm.DB
	log    *logger.Logger
	cfg    Config
	closed bool
	mu     sync.Mutex
}

// Open connects to the database with retry logic and connection pooling.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*DB, error) {
	cfg.ApplyDefaults()

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(parseLogLevel(cfg.LogLevel)),
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.MaxRetries
	retryCfg.InitialBackoff = time.Second
	retryCfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		log.Warn("Database connection attempt failed, retrying", logger.Fields(
			"attempt", attempt,
			"error", err.Error(),
			"backoff", backoff.String(),
		))
	}

	db, err := resilience.Retry(ctx, retryCfg, func() (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", cfg.MaxRetries, err)
	}

	log.Info("Database connection established", logger.Fields(
		"dsn", cfg.DSN,
	))
	return &DB{gormDB: db, log: log, cfg: cfg}, nil
}

// Close closes the underlying connection pool. Safe to call multiple times.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	sqlDB, err := d.gormDB.DB()
	if err != nil {
		return err
	}
	d.closed = true
	return sqlDB.Close()
}

// PingContext verifies the database connection is alive.
func (d *DB) PingContext(ctx context.Context) error {
	sqlDB, err := d.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// WithContext returns a GORM session scoped to the given context.
func (d *DB) WithContext(ctx context.Context) *gorm.DB {
	return d.gormDB.WithContext(ctx)
}

// AutoMigrate runs GORM auto-migration for the read-model tables.
func (d *DB) AutoMigrate() error {
	for _, model := range []interface{}{&Quote{}, &Watchlist{}, &WatchlistEntry{}} {
		if err := d.gormDB.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	return nil
}

func parseLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "info":
		return gormlogger.Info
	case "error":
		return gormlogger.Error
	default:
		return gormlogger.Warn
	}
}
