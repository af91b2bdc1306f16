// Package starlark builds the evaluation context model templates and macros
// run against: the ref/source/var builtins, the adapter and exceptions
// namespaces, and the Go<->Starlark value conversions.
package starlark

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// TargetInfo is the connection profile a render sees as the "target" global.
// Credentials stay out on purpose.
type TargetInfo struct {
	Name     string // target name from profiles.yml ("dev", "prod")
	Type     string // "duckdb", "postgres", "snowflake"
	Schema   string // default schema
	Database string // database name
	Threads  int
}

// ToStarlark converts TargetInfo to a Starlark struct value.
func (t *TargetInfo) ToStarlark() starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("target"), starlark.StringDict{
		"name":     starlark.String(t.Name),
		"type":     starlark.String(t.Type),
		"schema":   starlark.String(t.Schema),
		"database": starlark.String(t.Database),
		"threads":  starlark.MakeInt(t.Threads),
	})
}

// TargetInfoFromConfig extracts the template-visible fields of a target.
func TargetInfoFromConfig(name string, t *core.TargetConfig) *TargetInfo {
	if t == nil {
		return nil
	}
	return &TargetInfo{
		Name:     name,
		Type:     t.Type,
		Schema:   t.Schema,
		Database: t.DatabaseName(),
		Threads:  t.EffectiveThreads(),
	}
}

// GoToStarlark lifts a Go value into Starlark. It covers the types YAML
// config and vars decode into: nil, bool, string, int, int64, float64,
// []string, []any and map[string]any, nested arbitrarily.
func GoToStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case string:
		return starlark.String(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil

	case []string:
		elems := make([]starlark.Value, len(val))
		for i, s := range val {
			elems[i] = starlark.String(s)
		}
		return starlark.NewList(elems), nil

	case []any:
		elems := make([]starlark.Value, len(val))
		for i, item := range val {
			elem, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			elems[i] = elem
		}
		return starlark.NewList(elems), nil

	case map[string]any:
		dict := starlark.NewDict(len(val))
		for key, item := range val {
			elem, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			if err := dict.SetKey(starlark.String(key), elem); err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
		}
		return dict, nil

	default:
		return nil, fmt.Errorf("cannot represent %T as a starlark value", v)
	}
}

// ToGo lowers a Starlark value back to Go, producing nil, bool, string,
// int64, float64, []any or map[string]any. Relations lower to their
// rendered SQL name. Values with no natural Go shape fall back to their
// Starlark representation.
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Float:
		return float64(val), nil

	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			// Past int64 range the decimal representation is all we
			// can offer.
			return val.String(), nil
		}
		return i, nil

	case *starlark.List:
		return sequenceToGo(val)
	case starlark.Tuple:
		return sequenceToGo(val)

	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be a string, got %s", item[0].Type())
			}
			elem, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out[string(key)] = elem
		}
		return out, nil

	case *RelationValue:
		return val.Relation().Render(), nil

	default:
		return val.String(), nil
	}
}

// sequenceToGo lowers a list or tuple element by element.
func sequenceToGo(seq starlark.Indexable) ([]any, error) {
	out := make([]any, seq.Len())
	for i := range out {
		elem, err := ToGo(seq.Index(i))
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = elem
	}
	return out, nil
}

// VarsToStarlark converts a project vars map, failing on any value Starlark
// cannot represent.
func VarsToStarlark(vars map[string]any) (starlark.StringDict, error) {
	out := make(starlark.StringDict, len(vars))
	for name, value := range vars {
		sv, err := GoToStarlark(value)
		if err != nil {
			return nil, fmt.Errorf("var %q: %w", name, err)
		}
		out[name] = sv
	}
	return out, nil
}
