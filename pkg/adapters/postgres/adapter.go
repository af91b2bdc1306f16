// Package postgres provides the PostgreSQL warehouse adapter.
package postgres

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/leapdbt/pkg/adapter"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// Adapter implements core.Adapter for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New builds a disconnected adapter. A nil logger discards debug output.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Dialect returns the SQL dialect name for this adapter.
func (a *Adapter) Dialect() string {
	return "postgres"
}

// Connect opens a pgx connection pool against the target and verifies it
// with a ping.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	a.Logger.Debug("connecting to postgres",
		slog.String("host", cfg.Host),
		slog.String("dbname", cfg.DBName))

	db, err := sql.Open("pgx", buildDSN(cfg))
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// buildDSN renders the key=value connection string pgx expects. Host and
// port default to localhost:5432. sslmode comes from the target's options
// map and defaults to disable, fitting local development targets.
func buildDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := cfg.Options["sslmode"]
	if sslmode == "" {
		sslmode = "disable"
	}

	parts := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"dbname=" + cfg.DBName,
		"sslmode=" + sslmode,
	}
	if cfg.User != "" {
		parts = append(parts, "user="+cfg.User)
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+cfg.Password)
	}
	return strings.Join(parts, " ")
}

// LoadCSV loads a CSV file into a table using COPY FROM STDIN, replacing any
// previous version. All columns are created as TEXT.
func (a *Adapter) LoadCSV(ctx context.Context, table core.Relation, filePath string) error {
	if a.DB == nil {
		return adapter.ErrNotConnected
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	file, err := os.Open(absPath) //nolint:gosec // seed paths come from the project tree
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer func() { _ = file.Close() }()

	headers, err := csv.NewReader(file).Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	if err := a.Exec(ctx, createTableSQL(table, headers)); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to reset file: %w", err)
	}

	if err := a.copyFrom(ctx, copySQL(table), file); err != nil {
		return fmt.Errorf("failed to copy data: %w", err)
	}
	return nil
}

// createTableSQL builds a DROP + CREATE statement with all-TEXT columns.
// Column names are taken from the CSV header and always quoted.
func createTableSQL(table core.Relation, columns []string) string {
	colDefs := make([]string, 0, len(columns))
	for _, col := range columns {
		colDefs = append(colDefs, fmt.Sprintf("%s TEXT", quoteIdent(col)))
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s; CREATE TABLE %s (%s)",
		table.Render(), table.Render(), strings.Join(colDefs, ", "))
}

// copySQL builds the COPY statement for a CSV payload with a header row.
func copySQL(table core.Relation) string {
	return fmt.Sprintf("COPY %s FROM STDIN WITH (FORMAT csv, HEADER true)", table.Render())
}

// copyFrom streams the reader through the underlying pgx connection's COPY
// protocol support.
func (a *Adapter) copyFrom(ctx context.Context, copyStmt string, file *os.File) error {
	conn, err := a.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		pgxConn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		_, err := pgxConn.Conn().PgConn().CopyFrom(ctx, file, copyStmt)
		return err
	})
}

// quoteIdent double-quotes one identifier, escaping embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Ensure Adapter implements the core.Adapter interface.
var _ core.Adapter = (*Adapter)(nil)
