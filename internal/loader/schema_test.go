package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchema_Sources(t *testing.T) {
	sf, err := parseSchema("schema.yml", []byte(`
version: 2

sources:
  - name: raw
    description: Landing zone
    database: landing
    schema: raw_data
    tables:
      - name: orders
        identifier: raw_orders_v1
        description: Raw order events
        columns:
          - name: id
            tests:
              - unique
              - not_null
      - name: customers
`))
	require.NoError(t, err)

	require.Len(t, sf.Sources, 1)
	src := sf.Sources[0]
	assert.Equal(t, "raw", src.Name)
	assert.Equal(t, "landing", src.Database)
	assert.Equal(t, "raw_data", src.Schema)

	require.Len(t, src.Tables, 2)
	assert.Equal(t, "orders", src.Tables[0].Name)
	assert.Equal(t, "raw_orders_v1", src.Tables[0].Identifier)
	require.Len(t, src.Tables[0].Columns, 1)
	tests := src.Tables[0].Columns[0].tests()
	require.Len(t, tests, 2)
	assert.Equal(t, "unique", tests[0].Name)
	assert.Equal(t, "not_null", tests[1].Name)
}

func TestParseSchema_ModelVersions(t *testing.T) {
	sf, err := parseSchema("schema.yml", []byte(`
version: 2

models:
  - name: dim_customers
    latest_version: 2
    config:
      materialized: table
    versions:
      - v: 1
      - v: 2
        config:
          alias: customers_current
    columns:
      - name: customer_id
        data_tests:
          - unique
`))
	require.NoError(t, err)

	require.Len(t, sf.Models, 1)
	def := sf.Models[0]
	assert.Equal(t, "dim_customers", def.Name)
	assert.Equal(t, "2", def.latestVersion())
	assert.Equal(t, "table", def.Config.Materialized)

	require.Len(t, def.Versions, 2)
	assert.Equal(t, "1", formatVersion(def.Versions[0].V))
	assert.Equal(t, "customers_current", def.Versions[1].Config.Alias)

	require.Len(t, def.Columns, 1)
	tests := def.Columns[0].tests()
	require.Len(t, tests, 1)
	assert.Equal(t, "unique", tests[0].Name)
}

func TestParseSchema_LatestVersionInferred(t *testing.T) {
	tests := []struct {
		name     string
		versions string
		want     string
	}{
		{"numeric order", "[{v: 1}, {v: 10}, {v: 2}]", "10"},
		{"single", "[{v: 3}]", "3"},
		{"lexical fallback", "[{v: alpha}, {v: beta}]", "beta"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sf, err := parseSchema("schema.yml", []byte(`
models:
  - name: m
    versions: `+tt.versions+`
`))
			require.NoError(t, err)
			require.Len(t, sf.Models, 1)
			assert.Equal(t, tt.want, sf.Models[0].latestVersion())
		})
	}
}

func TestParseSchema_TestEntryForms(t *testing.T) {
	sf, err := parseSchema("schema.yml", []byte(`
models:
  - name: orders
    columns:
      - name: status
        tests:
          - not_null
          - accepted_values:
              values: [placed, shipped]
`))
	require.NoError(t, err)

	tests := sf.Models[0].Columns[0].tests()
	require.Len(t, tests, 2)
	assert.Equal(t, "not_null", tests[0].Name)
	assert.Equal(t, "accepted_values", tests[1].Name)
}

func TestParseSchema_DataTestsPreferred(t *testing.T) {
	sf, err := parseSchema("schema.yml", []byte(`
models:
  - name: orders
    columns:
      - name: id
        data_tests: [unique]
        tests: [not_null]
`))
	require.NoError(t, err)

	tests := sf.Models[0].Columns[0].tests()
	require.Len(t, tests, 1)
	assert.Equal(t, "unique", tests[0].Name)
}

func TestParseSchema_UnknownTopLevelKey(t *testing.T) {
	_, err := parseSchema("schema.yml", []byte(`
version: 2
snapshots:
  - name: orders_snapshot
`))

	var unknownErr *UnknownFieldError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "snapshots", unknownErr.Field)
	assert.Contains(t, err.Error(), "schema.yml")
	assert.Contains(t, err.Error(), `unknown top-level key "snapshots"`)
}

func TestParseSchema_InvalidYAML(t *testing.T) {
	_, err := parseSchema("schema.yml", []byte("models:\n\t- bad tab indent"))

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "schema.yml", schemaErr.File)
}

func TestParseSchema_Seeds(t *testing.T) {
	sf, err := parseSchema("schema.yml", []byte(`
seeds:
  - name: country_codes
    description: ISO country codes
    config:
      schema: reference
`))
	require.NoError(t, err)

	require.Len(t, sf.Seeds, 1)
	assert.Equal(t, "country_codes", sf.Seeds[0].Name)
	assert.Equal(t, "reference", sf.Seeds[0].Config.Schema)
}

func TestNodeConfigMerge(t *testing.T) {
	on := true
	off := false

	base := nodeConfigDef{
		Enabled:      &on,
		Materialized: "view",
		Schema:       "staging",
		Tags:         []string{"base"},
		Meta:         map[string]any{"owner": "core", "layer": "staging"},
	}
	overlay := nodeConfigDef{
		Enabled:      &off,
		Materialized: "table",
		Alias:        "final",
		Meta:         map[string]any{"owner": "analytics"},
	}

	merged := base.merge(overlay)

	require.NotNil(t, merged.Enabled)
	assert.False(t, *merged.Enabled)
	assert.Equal(t, "table", merged.Materialized)
	assert.Equal(t, "staging", merged.Schema)
	assert.Equal(t, "final", merged.Alias)
	assert.Equal(t, []string{"base"}, merged.Tags)
	assert.Equal(t, map[string]any{"owner": "analytics", "layer": "staging"}, merged.Meta)

	// The overlay's zero values never clear base settings.
	unchanged := base.merge(nodeConfigDef{})
	assert.Equal(t, base, unchanged)
}

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"2", "2"},
		{2, "2"},
		{int64(12), "12"},
		{"beta", "beta"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatVersion(tt.in))
	}
}
