package storage

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteParams make a file database usable by several dispatch goroutines:
// WAL for concurrent readers, a busy timeout instead of immediate SQLITE_BUSY,
// and write locks taken at BEGIN so Complete never upgrades a read lock.
const sqliteParams = "_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"

// PoolConfig holds connection pool configuration.
type PoolConfig struct {
	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 25
	MaxOpenConns int

	// MaxIdleConns is the maximum number of connections in the idle pool.
	// Default: 10
	MaxIdleConns int

	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	// Default: 5 minutes
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle.
	// Default: 1 minute
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns defaults suitable for a handful of engines per process.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// PoolOption configures connection pool settings.
type PoolOption interface {
	applyPool(*PoolConfig)
}

type poolOptionFunc func(*PoolConfig)

func (f poolOptionFunc) applyPool(c *PoolConfig) { f(c) }

// MaxOpenConns sets the maximum number of open connections.
func MaxOpenConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.MaxOpenConns = n
	})
}

// MaxIdleConns sets the maximum number of idle connections.
func MaxIdleConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.MaxIdleConns = n
	})
}

// ConnMaxLifetime sets the maximum connection lifetime.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.ConnMaxLifetime = d
	})
}

// ConnMaxIdleTime sets the maximum idle time for connections.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.ConnMaxIdleTime = d
	})
}

// ConfigurePool applies pool configuration to a GORM database connection.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	config := DefaultPoolConfig()
	for _, opt := range opts {
		opt.applyPool(&config)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return nil
}

// IsPostgresDSN reports whether dsn addresses a PostgreSQL server.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// Dialector picks the GORM driver for dsn. Anything that is not a
// PostgreSQL DSN is treated as a SQLite path.
func Dialector(dsn string) gorm.Dialector {
	if IsPostgresDSN(dsn) {
		return postgres.Open(dsn)
	}
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?" + sqliteParams
	}
	return sqlite.Open(dsn)
}

// Open connects to dsn and configures the pool.
// An in-memory SQLite database is pinned to a single connection, since
// every new connection would otherwise see its own empty database.
func Open(dsn string, logLevel logger.LogLevel, opts ...PoolOption) (*gorm.DB, error) {
	db, err := gorm.Open(Dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dsn == ":memory:" {
		opts = append(opts, MaxOpenConns(1), MaxIdleConns(1), ConnMaxLifetime(0), ConnMaxIdleTime(0))
	}
	if err := ConfigurePool(db, opts...); err != nil {
		return nil, err
	}
	return db, nil
}

// NewGormStorageWithPool creates a GORM-backed storage with connection pooling configured.
//
// Example:
//
//	storage, err := NewGormStorageWithPool(db,
//	    MaxOpenConns(50),
//	    MaxIdleConns(20),
//	)
func NewGormStorageWithPool(db *gorm.DB, opts ...PoolOption) (*GormStorage, error) {
	if err := ConfigurePool(db, opts...); err != nil {
		return nil, err
	}
	return NewGormStorage(db), nil
}
