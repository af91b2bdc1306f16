package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdbt/internal/template"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

func extract(t *testing.T, input string) *Declarations {
	t.Helper()
	tpl, err := template.ParseString(input, "model.sql")
	require.NoError(t, err)
	decls, err := ExtractDeclarations(tpl)
	require.NoError(t, err)
	return decls
}

func TestExtractDeclarations_Refs(t *testing.T) {
	decls := extract(t, `
select * from {{ ref("stg_orders") }}
join {{ ref("dbt_utils", "helper") }} using (id)
join {{ ref("dim_customers", version=2) }} using (customer_id)
join {{ ref("stg_payments", v="1") }} using (order_id)
`)

	assert.Equal(t, []core.RefCall{
		{Name: "stg_orders"},
		{Package: "dbt_utils", Name: "helper"},
		{Name: "dim_customers", Version: "2"},
		{Name: "stg_payments", Version: "1"},
	}, decls.Refs)
}

func TestExtractDeclarations_RefsDeduplicated(t *testing.T) {
	decls := extract(t, `
select * from {{ ref("stg_orders") }}
union all
select * from {{ ref("stg_orders") }}
`)

	assert.Equal(t, []core.RefCall{{Name: "stg_orders"}}, decls.Refs)
}

func TestExtractDeclarations_Sources(t *testing.T) {
	decls := extract(t, `
select * from {{ source("raw", "orders") }}
join {{ source("raw", "customers") }} using (customer_id)
`)

	assert.Equal(t, []core.SourceCall{
		{Source: "raw", Table: "orders"},
		{Source: "raw", Table: "customers"},
	}, decls.Sources)
}

func TestExtractDeclarations_Config(t *testing.T) {
	decls := extract(t, `
{{ config(materialized="table", enabled=True, tags=["daily", "core"], alias="orders_final", schema="marts", database="analytics", owner="data-team") }}
select 1
`)

	require.NotNil(t, decls.Config.Enabled)
	assert.True(t, *decls.Config.Enabled)
	assert.Equal(t, "table", decls.Config.Materialized)
	assert.Equal(t, []string{"daily", "core"}, decls.Config.Tags)
	assert.Equal(t, "orders_final", decls.Alias)
	assert.Equal(t, "marts", decls.Schema)
	assert.Equal(t, "analytics", decls.Database)
	assert.Equal(t, map[string]any{"owner": "data-team"}, decls.Config.Meta)
}

func TestExtractDeclarations_ConfigDisabled(t *testing.T) {
	decls := extract(t, `{{ config(enabled=False) }} select 1`)

	require.NotNil(t, decls.Config.Enabled)
	assert.False(t, *decls.Config.Enabled)
}

func TestExtractDeclarations_InsideControlFlow(t *testing.T) {
	decls := extract(t, `
{% set rels = [ref("inline_set")] %}
{% if target.name == "prod" %}
  select * from {{ ref("prod_model") }}
{% elif var("fallback") %}
  select * from {{ ref("elif_model") }}
{% else %}
  select * from {{ ref("else_model") }}
{% endif %}
{% for s in ["a"] %}
  {{ source("raw", "events") }}
{% endfor %}
`)

	assert.Equal(t, []core.RefCall{
		{Name: "inline_set"},
		{Name: "prod_model"},
		{Name: "elif_model"},
		{Name: "else_model"},
	}, decls.Refs)
	assert.Equal(t, []core.SourceCall{{Source: "raw", Table: "events"}}, decls.Sources)
}

func TestExtractDeclarations_NonLiteralArgsSkipped(t *testing.T) {
	decls := extract(t, `
select * from {{ ref(var("model_name")) }}
join {{ source(schema_var, "orders") }} using (id)
join {{ ref("real_dep") }} using (id)
`)

	assert.Equal(t, []core.RefCall{{Name: "real_dep"}}, decls.Refs)
	assert.Empty(t, decls.Sources)
}

func TestExtractDeclarations_ConfigPositionalArg(t *testing.T) {
	tpl, err := template.ParseString(`{{ config("table") }} select 1`, "bad.sql")
	require.NoError(t, err)

	_, err = ExtractDeclarations(tpl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.sql")
	assert.Contains(t, err.Error(), "keyword arguments only")
}

func TestExtractDeclarations_ConfigEnabledNotBool(t *testing.T) {
	tpl, err := template.ParseString(`{{ config(enabled="yes") }}`, "bad.sql")
	require.NoError(t, err)

	_, err = ExtractDeclarations(tpl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enabled")
}

func TestExtractDeclarations_IntVersionKwarg(t *testing.T) {
	decls := extract(t, `select * from {{ ref("dim_customers", version=12) }}`)

	assert.Equal(t, []core.RefCall{{Name: "dim_customers", Version: "12"}}, decls.Refs)
}

func TestExtractDeclarations_MetaLiteralValues(t *testing.T) {
	decls := extract(t, `{{ config(retries=3, critical=True, fallback=None, owners=["a", "b"]) }}`)

	assert.Equal(t, map[string]any{
		"retries":  int64(3),
		"critical": true,
		"fallback": nil,
		"owners":   []any{"a", "b"},
	}, decls.Config.Meta)
}

func TestExtractDeclarations_PlainSQL(t *testing.T) {
	decls := extract(t, `select 1 as id`)

	assert.Empty(t, decls.Refs)
	assert.Empty(t, decls.Sources)
	assert.Nil(t, decls.Config.Enabled)
}
