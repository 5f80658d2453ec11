// Package container provides dependency injection and lifecycle management
// for the spend approval engine.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
type Config struct {
	Database DatabaseConfig
	Lock     LockConfig
	Server   ServerConfig

	// BudgetControl applies when the seed file does not set it
	BudgetControl bool

	// SeedFile is the YAML route/budget/user seed applied at Start. Empty skips seeding.
	SeedFile string

	// MetricsEnabled wires the Prometheus recorder into the ledger, guard and engine
	MetricsEnabled bool
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout and JournalMode become SQLite DSN flags
	BusyTimeout time.Duration
	JournalMode string
}

// LockConfig selects and tunes the lock backend.
type LockConfig struct {
	// Backend is "memory" or "redis"
	Backend string

	// WaitTimeout bounds how long the memory backend queues for a key
	WaitTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Expiry        time.Duration
	Tries         int
	RetryDelay    time.Duration
	Prefix        string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MetricsPath  string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/spend.db",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Hour,
			BusyTimeout:     5 * time.Second,
			JournalMode:     "WAL",
		},
		Lock: LockConfig{
			Backend:     "memory",
			WaitTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			MetricsPath:  "/metrics",
		},
		BudgetControl:  true,
		MetricsEnabled: true,
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}
	return nil
}
