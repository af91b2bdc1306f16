package starlark

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/leapstack-labs/leapdbt/internal/relation"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// RelationValue wraps a core.Relation for template code. Rendering it into
// SQL (via str() or plain {{ ref(...) }} substitution) produces the fully
// quoted relation name; its attributes expose the raw parts.
type RelationValue struct {
	rel core.Relation
}

// NewRelationValue wraps rel for Starlark.
func NewRelationValue(rel core.Relation) *RelationValue {
	return &RelationValue{rel: rel}
}

// Relation returns the wrapped relation.
func (r *RelationValue) Relation() core.Relation { return r.rel }

var (
	_ starlark.Value    = (*RelationValue)(nil)
	_ starlark.HasAttrs = (*RelationValue)(nil)
)

// String implements starlark.Value; it renders the quoted relation.
func (r *RelationValue) String() string { return r.rel.Render() }

// Type implements starlark.Value.
func (r *RelationValue) Type() string { return "relation" }

// Freeze implements starlark.Value; relations are immutable.
func (r *RelationValue) Freeze() {}

// Truth implements starlark.Value.
func (r *RelationValue) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value.
func (r *RelationValue) Hash() (uint32, error) {
	return starlark.String(r.rel.Render()).Hash()
}

// Attr exposes the relation parts.
func (r *RelationValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "database":
		return starlark.String(r.rel.Database()), nil
	case "schema":
		return starlark.String(r.rel.Schema()), nil
	case "identifier", "name":
		return starlark.String(r.rel.Identifier()), nil
	case "render":
		return starlark.NewBuiltin("render", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs("render", args, kwargs, 0); err != nil {
				return nil, err
			}
			return starlark.String(r.rel.Render()), nil
		}), nil
	case "include":
		// include(database=True, schema=True, identifier=True): False drops
		// the part from rendering.
		return starlark.NewBuiltin("include", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			database, schema, identifier := true, true, true
			if err := starlark.UnpackArgs("include", args, kwargs,
				"database?", &database, "schema?", &schema, "identifier?", &identifier); err != nil {
				return nil, err
			}
			return r.withParts(database, schema, identifier)
		}), nil
	case "exclude":
		// exclude(database=False, schema=False, identifier=False): True drops
		// the part from rendering.
		return starlark.NewBuiltin("exclude", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			database, schema, identifier := false, false, false
			if err := starlark.UnpackArgs("exclude", args, kwargs,
				"database?", &database, "schema?", &schema, "identifier?", &identifier); err != nil {
				return nil, err
			}
			return r.withParts(!database, !schema, !identifier)
		}), nil
	}
	return nil, nil
}

// withParts wraps a copy of the relation limited to the selected parts.
func (r *RelationValue) withParts(database, schema, identifier bool) (starlark.Value, error) {
	rel, ok := r.rel.(*relation.Relation)
	if !ok {
		return nil, fmt.Errorf("relation %s does not support part selection", r.rel.Render())
	}
	return NewRelationValue(rel.Include(database, schema, identifier)), nil
}

// AttrNames implements starlark.HasAttrs.
func (r *RelationValue) AttrNames() []string {
	return []string{"database", "exclude", "identifier", "include", "name", "render", "schema"}
}

// CompareSameType allows equality checks between relations.
func (r *RelationValue) CompareSameType(op syntax.Token, y starlark.Value, _ int) (bool, error) {
	other, ok := y.(*RelationValue)
	if !ok {
		return false, fmt.Errorf("cannot compare relation with %s", y.Type())
	}
	eq := r.rel.Render() == other.rel.Render()
	switch op {
	case syntax.EQL:
		return eq, nil
	case syntax.NEQ:
		return !eq, nil
	default:
		return false, fmt.Errorf("relation supports only == and !=")
	}
}
