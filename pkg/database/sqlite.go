package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Config holds database configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long a writer waits on a locked database
	BusyTimeout time.Duration
	// JournalMode is the SQLite journal mode, WAL unless set
	JournalMode string
}

// DSN builds the go-sqlite3 connection string. Foreign keys are always on.
func (c Config) DSN() string {
	mode := c.JournalMode
	if mode == "" {
		mode = "WAL"
	}
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	q := url.Values{}
	q.Set("_journal_mode", mode)
	q.Set("_busy_timeout", fmt.Sprint(busy.Milliseconds()))
	q.Set("_foreign_keys", "on")
	return "file:" + c.Path + "?" + q.Encode()
}

// DB wraps sql.DB with the logger used by the migrator
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// New opens and pings the spend database
func New(cfg Config, logger *zap.Logger) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Path, err)
	}

	logger.Info("Database connection established",
		zap.String("path", cfg.Path),
		zap.Duration("busy_timeout", cfg.BusyTimeout),
		zap.Int("max_open_conns", cfg.MaxOpenConns))
	return &DB{DB: sqlDB, logger: logger}, nil
}

// Logger returns the logger the connection was opened with
func (db *DB) Logger() *zap.Logger {
	return db.logger
}

// Close closes the database connection
func (db *DB) Close() error {
	db.logger.Info("Closing database connection")
	return db.DB.Close()
}
