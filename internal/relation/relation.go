// Package relation builds the warehouse relation a node reads from or
// materializes into. The ref/source registry stores one relation per node,
// computed once at insert time with the active adapter's quoting rules.
package relation

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapdbt/pkg/core"
	"github.com/leapstack-labs/leapdbt/pkg/dialect"
)

// Relation is the dialect-aware core.Relation implementation.
type Relation struct {
	database   string
	schema     string
	identifier string
	d          *dialect.Dialect
}

// New builds a relation with explicit parts. Empty database or schema parts
// are omitted from rendering.
func New(d *dialect.Dialect, database, schema, identifier string) *Relation {
	return &Relation{database: database, schema: schema, identifier: identifier, d: d}
}

// FromNode builds the relation for a node using the adapter type's quoting
// rules and the node's database/schema/identifier.
func FromNode(adapterType string, node *core.Node) (*Relation, error) {
	d, ok := dialect.Get(adapterType)
	if !ok {
		return nil, &UnknownDialectError{Name: adapterType, Available: dialect.List()}
	}
	return New(d, node.Database, node.Schema, node.Identifier()), nil
}

// Database returns the database/catalog part, possibly empty.
func (r *Relation) Database() string { return r.database }

// Schema returns the schema part.
func (r *Relation) Schema() string { return r.schema }

// Identifier returns the object name part.
func (r *Relation) Identifier() string { return r.identifier }

// Render returns the quoted, dot-joined relation name.
func (r *Relation) Render() string {
	parts := make([]string, 0, 3)
	if r.database != "" {
		parts = append(parts, r.d.QuoteIdent(r.database))
	}
	if r.schema != "" {
		parts = append(parts, r.d.QuoteIdent(r.schema))
	}
	if r.identifier != "" {
		parts = append(parts, r.d.QuoteIdent(r.identifier))
	}
	return strings.Join(parts, ".")
}

// String renders the relation, so a relation interpolated into SQL text
// comes out fully quoted.
func (r *Relation) String() string { return r.Render() }

// WithIdentifier returns a copy pointing at a different object in the same
// database and schema. Materializations use it for staging names.
func (r *Relation) WithIdentifier(identifier string) *Relation {
	cp := *r
	cp.identifier = identifier
	return &cp
}

// Include returns a copy rendering only the selected parts. Dropping the
// database of a three-part relation leaves schema.identifier; dropping the
// identifier leaves the schema path templates prefix object names with.
func (r *Relation) Include(database, schema, identifier bool) *Relation {
	cp := *r
	if !database {
		cp.database = ""
	}
	if !schema {
		cp.schema = ""
	}
	if !identifier {
		cp.identifier = ""
	}
	return &cp
}

// UnknownDialectError is returned when a relation is requested for an
// adapter type with no registered dialect.
type UnknownDialectError struct {
	Name      string
	Available []string
}

func (e *UnknownDialectError) Error() string {
	return fmt.Sprintf("unknown dialect %q\nAvailable dialects: %v\nHint: Check your target type in profiles.yml", e.Name, e.Available)
}
