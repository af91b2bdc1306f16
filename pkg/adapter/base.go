package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotConnected is returned by adapter operations invoked before Connect
// succeeded or after Close.
var ErrNotConnected = errors.New("adapter is not connected")

// BaseSQLAdapter carries the database/sql plumbing shared by the concrete
// adapters: Close, Exec and Query over an open *sql.DB. Embedders populate
// DB and Cfg from their Connect implementation.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger
}

// Close releases the connection pool. Closing a never-connected adapter is
// a no-op.
func (b *BaseSQLAdapter) Close() error {
	if b.DB == nil {
		return nil
	}
	if b.Logger != nil {
		b.Logger.Debug("closing database connection")
	}
	return b.DB.Close()
}

// Exec runs a statement that produces no rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, stmt string) error {
	if b.DB == nil {
		return ErrNotConnected
	}
	if _, err := b.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query runs a statement and hands the rows to the caller, who owns closing
// them and checking rows.Err after iteration.
func (b *BaseSQLAdapter) Query(ctx context.Context, stmt string) (*Rows, error) {
	if b.DB == nil {
		return nil, ErrNotConnected
	}
	//nolint:rowserrcheck // rows.Err() must be checked by the caller after iteration
	rows, err := b.DB.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &Rows{Rows: rows}, nil
}

// IsConnected reports whether the adapter holds an open connection.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}
