package relation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdbt/pkg/core"
	"github.com/leapstack-labs/leapdbt/pkg/dialect"
)

func TestFromNodeRendering(t *testing.T) {
	node := &core.Node{
		Name:     "stg_orders",
		Database: "analytics",
		Schema:   "staging",
	}

	tests := []struct {
		adapterType string
		want        string
	}{
		{"postgres", `"analytics"."staging"."stg_orders"`},
		{"duckdb", `"analytics"."staging"."stg_orders"`},
		{"bigquery", "`analytics`.`staging`.`stg_orders`"},
		{"snowflake", `"ANALYTICS"."STAGING"."STG_ORDERS"`},
	}

	for _, tt := range tests {
		t.Run(tt.adapterType, func(t *testing.T) {
			rel, err := FromNode(tt.adapterType, node)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rel.Render())
			assert.Equal(t, tt.want, rel.String())
		})
	}
}

func TestFromNodeUsesAliasAndVersion(t *testing.T) {
	aliased := &core.Node{Name: "stg_orders", Alias: "orders", Schema: "staging"}
	rel, err := FromNode("postgres", aliased)
	require.NoError(t, err)
	assert.Equal(t, `"staging"."orders"`, rel.Render())

	versioned := &core.Node{Name: "dim_customers", Version: "2", LatestVersion: "2", Schema: "marts"}
	rel, err = FromNode("postgres", versioned)
	require.NoError(t, err)
	assert.Equal(t, `"marts"."dim_customers_v2"`, rel.Render())
}

func TestEmptyPartsAreOmitted(t *testing.T) {
	node := &core.Node{Name: "stg_orders", Schema: "staging"}
	rel, err := FromNode("duckdb", node)
	require.NoError(t, err)
	assert.Equal(t, `"staging"."stg_orders"`, rel.Render())
	assert.Empty(t, rel.Database())
}

func TestUnknownDialect(t *testing.T) {
	_, err := FromNode("no_such_warehouse", &core.Node{Name: "m"})
	require.Error(t, err)

	var unknownErr *UnknownDialectError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "no_such_warehouse", unknownErr.Name)
	assert.Contains(t, err.Error(), "profiles.yml")
}

func TestWithIdentifier(t *testing.T) {
	d, ok := dialect.Get("duckdb")
	require.True(t, ok)

	rel := New(d, "db", "main", "orders")
	tmp := rel.WithIdentifier("orders__tmp")

	assert.Equal(t, `"db"."main"."orders__tmp"`, tmp.Render())
	assert.Equal(t, `"db"."main"."orders"`, rel.Render(), "original is unchanged")
}

func TestInclude(t *testing.T) {
	d, ok := dialect.Get("duckdb")
	require.True(t, ok)

	rel := New(d, "db", "main", "orders")

	tests := []struct {
		name                         string
		database, schema, identifier bool
		want                         string
	}{
		{"all parts", true, true, true, `"db"."main"."orders"`},
		{"no database", false, true, true, `"main"."orders"`},
		{"schema path only", true, true, false, `"db"."main"`},
		{"identifier only", false, false, true, `"orders"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rel.Include(tt.database, tt.schema, tt.identifier).Render())
		})
	}

	assert.Equal(t, `"db"."main"."orders"`, rel.Render(), "original is unchanged")
}
