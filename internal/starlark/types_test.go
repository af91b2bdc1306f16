package starlark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leapdbt/pkg/core"
)

func TestGoToStarlark(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string // starlark representation
	}{
		{"nil", nil, "None"},
		{"bool true", true, "True"},
		{"bool false", false, "False"},
		{"string", "2024-01-01", `"2024-01-01"`},
		{"int", 42, "42"},
		{"int64", int64(7_000_000_000), "7000000000"},
		{"float64", 0.25, "0.25"},
		{"string slice", []string{"us", "eu"}, `["us", "eu"]`},
		{"empty slice", []string{}, "[]"},
		{"mixed slice", []any{"x", 1, true}, `["x", 1, True]`},
		{"map", map[string]any{"limit": 100}, `{"limit": 100}`},
		{
			"nested",
			map[string]any{"regions": []any{"us", map[string]any{"tier": 1}}},
			`{"regions": ["us", {"tier": 1}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GoToStarlark(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestGoToStarlarkRejectsUnknownTypes(t *testing.T) {
	_, err := GoToStarlark(struct{}{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "cannot represent")

	// The failing element is named in the error path.
	_, err = GoToStarlark(map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.ErrorContains(t, err, `key "bad"`)
}

func TestToGo(t *testing.T) {
	tests := []struct {
		name  string
		input starlark.Value
		want  any
	}{
		{"none", starlark.None, nil},
		{"bool true", starlark.Bool(true), true},
		{"bool false", starlark.Bool(false), false},
		{"string", starlark.String("hello"), "hello"},
		{"int", starlark.MakeInt(42), int64(42)},
		{"float", starlark.Float(3.14), 3.14},
		{
			name:  "list",
			input: starlark.NewList([]starlark.Value{starlark.String("a"), starlark.MakeInt(1)}),
			want:  []any{"a", int64(1)},
		},
		{
			name:  "tuple",
			input: starlark.Tuple{starlark.MakeInt(1), starlark.MakeInt(2)},
			want:  []any{int64(1), int64(2)},
		},
		{
			// Integers past int64 keep their decimal form.
			name:  "huge int",
			input: starlark.MakeUint64(1 << 63),
			want:  "9223372036854775808",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToGo(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToGoDict(t *testing.T) {
	dict := starlark.NewDict(2)
	require.NoError(t, dict.SetKey(starlark.String("a"), starlark.MakeInt(1)))
	require.NoError(t, dict.SetKey(starlark.String("b"), starlark.String("two")))

	got, err := ToGo(dict)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1), "b": "two"}, got)

	badKeys := starlark.NewDict(1)
	require.NoError(t, badKeys.SetKey(starlark.MakeInt(1), starlark.String("x")))
	_, err = ToGo(badKeys)
	require.Error(t, err)
	assert.ErrorContains(t, err, "dict key must be a string")
}

func TestTargetInfoToStarlark(t *testing.T) {
	target := &TargetInfo{
		Name:     "dev",
		Type:     "duckdb",
		Schema:   "analytics",
		Database: "warehouse",
		Threads:  4,
	}

	val := target.ToStarlark()
	attrs, ok := val.(starlark.HasAttrs)
	require.True(t, ok, "expected struct with attrs, got %T", val)

	name, err := attrs.Attr("name")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("dev"), name)

	threads, err := attrs.Attr("threads")
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(4), threads)
}

func TestTargetInfoFromConfig(t *testing.T) {
	cfg := &core.TargetConfig{
		Type:    "postgres",
		Schema:  "public",
		DBName:  "warehouse",
		Threads: 8,
	}

	info := TargetInfoFromConfig("prod", cfg)
	require.NotNil(t, info)
	assert.Equal(t, "prod", info.Name)
	assert.Equal(t, "postgres", info.Type)
	assert.Equal(t, "warehouse", info.Database)
	assert.Equal(t, 8, info.Threads)

	assert.Nil(t, TargetInfoFromConfig("prod", nil))
}

func TestVarsToStarlark(t *testing.T) {
	vars, err := VarsToStarlark(map[string]any{
		"start_date": "2024-01-01",
		"limit":      100,
		"regions":    []string{"us", "eu"},
	})
	require.NoError(t, err)

	assert.Equal(t, starlark.String("2024-01-01"), vars["start_date"])
	assert.Equal(t, starlark.MakeInt(100), vars["limit"])

	_, err = VarsToStarlark(map[string]any{"bad": struct{}{}})
	require.Error(t, err)
	assert.ErrorContains(t, err, `var "bad"`)
}
