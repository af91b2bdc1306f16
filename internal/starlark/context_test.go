package starlark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/leapstack-labs/leapdbt/internal/macro"
	"github.com/leapstack-labs/leapdbt/internal/relation"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// testContext binds the shared test API to one freshly built node.
func testContext(t *testing.T, api *API, node *core.Node) *Context {
	t.Helper()
	rel, err := relation.FromNode("duckdb", node)
	require.NoError(t, err)
	return NewContext(api, node, rel)
}

// evalGlobals evaluates an expression against a context's globals on a thread
// rooted at the node's package.
func evalGlobals(t *testing.T, api *API, ctx *Context, pkg, expr string) (starlark.Value, error) {
	t.Helper()
	env := api.Environment()
	thread := env.NewThread("test", env.BaseState(pkg))
	return starlark.Eval(thread, "test", expr, ctx.Globals()) //nolint:staticcheck // SA1019: will migrate to EvalOptions later
}

func addExports(t *testing.T, api *API, pkg, src string) {
	t.Helper()
	exports, err := macro.ExecStar(pkg+".star", []byte(src), api.Predeclared())
	require.NoError(t, err)
	api.Environment().AddPackage(pkg, exports)
}

func TestContextGlobalsPerNodeValues(t *testing.T) {
	api := testAPI(t)
	node := modelNode("jaffle", "orders")
	ctx := testContext(t, api, node)

	globals := ctx.Globals()
	for _, name := range []string{"this", "config", "ref", "source", "target", "adapter", "exceptions"} {
		assert.Contains(t, globals, name)
	}

	v, err := evalGlobals(t, api, ctx, "jaffle", `str(this)`)
	require.NoError(t, err)
	assert.Equal(t, starlark.String(`"jaffle"."main"."orders"`), v)

	v, err = evalGlobals(t, api, ctx, "jaffle", `this.schema`)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("main"), v)
}

func TestContextUnqualifiedMacroTiers(t *testing.T) {
	api := testAPI(t)
	addExports(t, api, "jaffle", `
def greet():
    return "root"

def root_only():
    return "root-only"
`)
	addExports(t, api, "dbt_utils", `
def greet():
    return "package"
`)

	// A node in the root project sees the root macro.
	rootNode := modelNode("jaffle", "orders")
	v, err := evalGlobals(t, api, testContext(t, api, rootNode), "jaffle", `greet()`)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("root"), v)

	// A node inside dbt_utils sees its own package's macro instead.
	pkgNode := modelNode("dbt_utils", "helper_model")
	v, err = evalGlobals(t, api, testContext(t, api, pkgNode), "dbt_utils", `greet()`)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("package"), v)

	// Root macros stay visible from package nodes when not shadowed.
	v, err = evalGlobals(t, api, testContext(t, api, pkgNode), "dbt_utils", `root_only()`)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("root-only"), v)
}

func TestContextBuiltinsShadowMacros(t *testing.T) {
	api := testAPI(t)
	addExports(t, api, "jaffle", `
def ref():
    return "shadowed"
`)

	node := modelNode("jaffle", "orders")
	globals := testContext(t, api, node).Globals()

	_, isBuiltin := globals["ref"].(*starlark.Builtin)
	assert.True(t, isBuiltin, "ref must stay a builtin, got %T", globals["ref"])

	// The macro is still reachable through its package namespace.
	v, err := evalGlobals(t, api, testContext(t, api, node), "jaffle", `jaffle.ref()`)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("shadowed"), v)
}

func TestContextQualifiedNamespaces(t *testing.T) {
	api := testAPI(t)
	addExports(t, api, "dbt_utils", `
def star():
    return "*"
`)

	node := modelNode("jaffle", "orders")
	ctx := testContext(t, api, node)
	globals := ctx.Globals()

	mod, ok := globals["dbt_utils"].(*starlarkstruct.Module)
	require.True(t, ok, "expected module, got %T", globals["dbt_utils"])
	assert.Equal(t, "dbt_utils", mod.Name)

	v, err := evalGlobals(t, api, ctx, "jaffle", `dbt_utils.star()`)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("*"), v)

	// The dbt namespace exposes the combined builtin macros, while the
	// per-dialect internal packages stay hidden.
	v, err = evalGlobals(t, api, ctx, "jaffle", `dbt.default__type_string()`)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("text"), v)
	assert.NotContains(t, globals, "dbt_duckdb")
}

func TestConfigValueGet(t *testing.T) {
	api := testAPI(t)
	node := modelNode("jaffle", "orders")
	node.Config = core.NodeConfig{
		Materialized: "table",
		Tags:         []string{"daily", "finance"},
		Meta:         map[string]any{"owner": "data-eng"},
	}
	ctx := testContext(t, api, node)

	cases := []struct {
		name string
		expr string
		want starlark.Value
	}{
		{"known key", `config.get("materialized")`, starlark.String("table")},
		{"enabled defaults true", `config.get("enabled")`, starlark.True},
		{"missing key is None", `config.get("alias")`, starlark.None},
		{"missing key with default", `config.get("alias", "orders_v1")`, starlark.String("orders_v1")},
		{"meta key", `config.get("owner")`, starlark.String("data-eng")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := evalGlobals(t, api, ctx, "jaffle", tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.want, v)
		})
	}

	v, err := evalGlobals(t, api, ctx, "jaffle", `config.get("tags")`)
	require.NoError(t, err)
	list, ok := v.(*starlark.List)
	require.True(t, ok, "expected list, got %T", v)
	assert.Equal(t, 2, list.Len())
	assert.Equal(t, starlark.String("daily"), list.Index(0))
}

func TestConfigValueRequire(t *testing.T) {
	api := testAPI(t)
	node := modelNode("jaffle", "orders")
	node.Config.Materialized = "view"
	ctx := testContext(t, api, node)

	v, err := evalGlobals(t, api, ctx, "jaffle", `config.require("materialized")`)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("view"), v)

	_, err = evalGlobals(t, api, ctx, "jaffle", `config.require("alias")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is required by")
	assert.Contains(t, err.Error(), node.UniqueID)
}

func TestConfigValueCallIsNoOp(t *testing.T) {
	api := testAPI(t)
	node := modelNode("jaffle", "orders")
	ctx := testContext(t, api, node)

	v, err := evalGlobals(t, api, ctx, "jaffle", `config(materialized="table", tags=["x"])`)
	require.NoError(t, err)
	assert.Equal(t, starlark.None, v)

	// Calling config() never rewrites the node; parsing already did that.
	assert.Empty(t, node.Config.Materialized)
}

func TestContextRefUsesNodePackage(t *testing.T) {
	// Rendering a dbt_utils node resolves unqualified refs inside that
	// package before falling back to the root project.
	api := testAPI(t)
	node := modelNode("dbt_utils", "helper_model")
	ctx := testContext(t, api, node)

	v, err := evalGlobals(t, api, ctx, "dbt_utils", `str(ref("helper_model"))`)
	require.NoError(t, err)
	assert.Equal(t, starlark.String(`"jaffle"."main"."helper_model"`), v)
}
