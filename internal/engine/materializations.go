package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leapdbt/internal/relation"
	starctx "github.com/leapstack-labs/leapdbt/internal/starlark"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// materialize turns a rendered model into a warehouse object via the
// dispatched DDL macros and returns the resulting row count for tables.
func (e *Engine) materialize(ctx context.Context, node *core.Node, sql string) (int64, error) {
	rel, err := relation.FromNode(e.cfg.Target.Type, node)
	if err != nil {
		return 0, err
	}

	materialized := node.Config.Materialized
	if materialized == "ephemeral" {
		// There is no SQL rewriting pass to inline ephemeral models as
		// CTEs; a view gives downstream refs the same result set.
		e.logger.Debug("materializing ephemeral model as view",
			slog.String("unique_id", node.UniqueID))
		materialized = "view"
	}

	var createMacro, relType, otherType string
	switch materialized {
	case "table":
		createMacro, relType, otherType = "create_table_as", "table", "view"
	case "view":
		createMacro, relType, otherType = "create_view_as", "view", "table"
	default:
		return 0, fmt.Errorf("unknown materialization: %s", materialized)
	}

	e.ensureSchema(ctx, rel.Schema())

	// Drop whatever currently occupies the name so a model can switch
	// materializations between runs. Drop errors are ignored; the usual
	// case is that nothing exists under the other type.
	relValue := starctx.NewRelationValue(rel)
	e.dropRelation(ctx, node.PackageName, relValue, otherType)
	e.dropRelation(ctx, node.PackageName, relValue, relType)

	createSQL, err := e.callMacro(node.PackageName, createMacro, relValue, starlark.String(sql))
	if err != nil {
		return 0, err
	}
	if err := e.db.Exec(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("failed to create %s %s: %w", relType, rel.Render(), err)
	}

	if relType == "table" {
		return e.countRows(ctx, rel), nil
	}
	return 0, nil
}

// dropRelation dispatches drop_relation for the given type and executes
// it, ignoring failures.
func (e *Engine) dropRelation(ctx context.Context, pkg string, rel starlark.Value, relType string) {
	dropSQL, err := e.callMacro(pkg, "drop_relation", rel, starlark.String(relType))
	if err != nil {
		return
	}
	_ = e.db.Exec(ctx, dropSQL)
}

// ensureSchema creates the relation's schema when missing. Failures are
// ignored here and surface on the create statement instead.
func (e *Engine) ensureSchema(ctx context.Context, schema string) {
	if schema == "" {
		return
	}
	_ = e.db.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+e.dialect.QuoteIdent(schema))
}

// countRows returns the relation's row count, or zero when the count query
// fails.
func (e *Engine) countRows(ctx context.Context, rel core.Relation) int64 {
	rows, err := e.db.Query(ctx, "SELECT COUNT(*) FROM "+rel.Render())
	if err != nil {
		return 0
	}
	defer func() { _ = rows.Close() }()

	var count int64
	if rows.Next() {
		_ = rows.Scan(&count)
	}
	return count
}
