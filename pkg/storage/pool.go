package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ConnPoolConfig holds database connection pool configuration.
type ConnPoolConfig struct {
	// MaxOpenConns is the maximum number of open connections. Default: 25.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections. Default: 10.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum time a connection may be reused.
	// Default: 5 minutes.
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime is the maximum time a connection may sit idle.
	// Default: 1 minute.
	ConnMaxIdleTime time.Duration
}

// DefaultConnPoolConfig returns defaults suitable for a handful of concurrent
// pipeline workers sharing one database.
func DefaultConnPoolConfig() ConnPoolConfig {
	return ConnPoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// ConstrainedConnPoolConfig returns settings for memory-constrained
// deployments where the database shares the host with the pipeline.
func ConstrainedConnPoolConfig() ConnPoolConfig {
	return ConnPoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 3 * time.Minute,
		ConnMaxIdleTime: 30 * time.Second,
	}
}

// ConnPoolOption configures connection pool settings.
type ConnPoolOption interface {
	applyConnPool(*ConnPoolConfig)
}

type connPoolOptionFunc func(*ConnPoolConfig)

func (f connPoolOptionFunc) applyConnPool(c *ConnPoolConfig) { f(c) }

// MaxOpenConns sets the maximum number of open connections.
func MaxOpenConns(n int) ConnPoolOption {
	return connPoolOptionFunc(func(c *ConnPoolConfig) {
		c.MaxOpenConns = n
	})
}

// MaxIdleConns sets the maximum number of idle connections.
func MaxIdleConns(n int) ConnPoolOption {
	return connPoolOptionFunc(func(c *ConnPoolConfig) {
		c.MaxIdleConns = n
	})
}

// ConnMaxLifetime sets the maximum connection lifetime.
func ConnMaxLifetime(d time.Duration) ConnPoolOption {
	return connPoolOptionFunc(func(c *ConnPoolConfig) {
		c.ConnMaxLifetime = d
	})
}

// ConnMaxIdleTime sets the maximum idle time for connections.
func ConnMaxIdleTime(d time.Duration) ConnPoolOption {
	return connPoolOptionFunc(func(c *ConnPoolConfig) {
		c.ConnMaxIdleTime = d
	})
}

// ConfigureConnPool applies pool configuration to a GORM connection.
func ConfigureConnPool(db *gorm.DB, opts ...ConnPoolOption) error {
	config := DefaultConnPoolConfig()
	for _, opt := range opts {
		opt.applyConnPool(&config)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get underlying *sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return nil
}

// NewGormStorageWithConnPool creates a GORM-backed storage with connection
// pooling configured. Defaults can be overridden with ConnPoolOption values.
func NewGormStorageWithConnPool(db *gorm.DB, opts ...ConnPoolOption) (*GormStorage, error) {
	if err := ConfigureConnPool(db, opts...); err != nil {
		return nil, err
	}
	return NewGormStorage(db), nil
}
