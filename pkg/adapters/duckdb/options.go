package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// sessionOptions are the DuckDB-specific keys recognized in a target's
// options map. Unknown keys are ignored.
type sessionOptions struct {
	// Extensions to INSTALL and LOAD, comma-separated ("httpfs, json").
	Extensions string `mapstructure:"extensions"`

	// Session settings applied with SET after connecting.
	MemoryLimit string `mapstructure:"memory_limit"`
	Threads     string `mapstructure:"threads"`
}

// applyOptions decodes the options map and applies it to a fresh connection.
func applyOptions(ctx context.Context, db *sql.DB, raw map[string]string) error {
	if len(raw) == 0 {
		return nil
	}

	var opts sessionOptions
	if err := mapstructure.Decode(raw, &opts); err != nil {
		return fmt.Errorf("invalid duckdb options: %w", err)
	}

	for _, ext := range strings.Split(opts.Extensions, ",") {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		stmt := fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to load duckdb extension %s: %w", ext, err)
		}
	}

	for _, setting := range []struct {
		name  string
		value string
	}{
		{"memory_limit", opts.MemoryLimit},
		{"threads", opts.Threads},
	} {
		if setting.value == "" {
			continue
		}
		stmt := fmt.Sprintf("SET %s = '%s'", setting.name, strings.ReplaceAll(setting.value, "'", "''"))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply duckdb setting %s: %w", setting.name, err)
		}
	}
	return nil
}
