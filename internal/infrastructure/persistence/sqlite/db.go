// Package sqlite implements the repository ports on database/sql with the
// go-sqlite3 driver. A transaction opened by DB.WithTransaction travels in
// the context, and every repository call made with that context joins it.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/pkg/database"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// txKey carries the open *sql.Tx
type txKey struct{}

// DB wraps sql.DB and implements TransactionManager
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB wraps an opened, migrated connection
func NewDB(conn *database.DB) *DB {
	return &DB{
		DB:     conn.DB,
		logger: conn.Logger(),
	}
}

// Migrate applies the embedded schema migrations
func Migrate(db *database.DB, logger *zap.Logger) error {
	return database.NewMigrator(db, logger).RunMigrations(migrationFS, "migrations")
}

// WithTransaction implements port.TransactionManager
// Executes the provided function within a database transaction
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// Check if already in a transaction
	if tx := extractTx(ctx); tx != nil {
		// Reuse existing transaction
		return fn(ctx)
	}

	// Start new transaction
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Add transaction to context
	txCtx := context.WithValue(ctx, txKey{}, tx)

	// Handle panic and ensure rollback
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	// Execute function
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// extractTx retrieves transaction from context if present
func extractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executor returns appropriate executor (transaction or database)
func (db *DB) executor(ctx context.Context) executor {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// executor interface covers both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Requests returns the spend request repository
func (db *DB) Requests() *RequestRepository { return &RequestRepository{db: db} }

// RouteSettings returns the route table repository
func (db *DB) RouteSettings() *RouteSettingRepository { return &RouteSettingRepository{db: db} }

// Budgets returns the budget repository
func (db *DB) Budgets() *BudgetRepository { return &BudgetRepository{db: db} }

// Reservations returns the reservation repository
func (db *DB) Reservations() *ReservationRepository { return &ReservationRepository{db: db} }

// Links returns the lifecycle link repository
func (db *DB) Links() *LinkRepository { return &LinkRepository{db: db} }

// History returns the approval history repository
func (db *DB) History() *HistoryRepository { return &HistoryRepository{db: db} }

// Directory returns the identity directory
func (db *DB) Directory() *DirectoryRepository { return &DirectoryRepository{db: db} }

// Verify interface compliance
var _ port.TransactionManager = (*DB)(nil)
