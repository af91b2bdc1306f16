package core

import (
	"context"
	"database/sql"
)

// Adapter is the warehouse contract. The engine drives every target
// database through this interface and never touches a driver directly.
type Adapter interface {
	// Connect opens the connection described by the target profile.
	Connect(ctx context.Context, cfg TargetConfig) error

	Close() error

	// Exec runs a statement with no result set (DDL, INSERT, COPY).
	Exec(ctx context.Context, sql string) error

	// Query runs a statement and hands back its rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// LoadCSV replaces table with the contents of the CSV file at filePath,
	// inferring column types from the data.
	LoadCSV(ctx context.Context, table Relation, filePath string) error

	// Dialect names the SQL dialect spoken by this adapter, e.g. "postgres".
	Dialect() string
}

// Rows wraps sql.Rows to keep callers off the driver packages.
type Rows struct {
	*sql.Rows
}
