package macro

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leapdbt/internal/deps"
)

// execSource compiles a macro source with the test predeclared names and
// returns its exports.
func execSource(t *testing.T, env *Environment, name, src string) starlark.StringDict {
	t.Helper()
	exports, err := ExecStar(name+".star", []byte(src), testPredeclared(env))
	require.NoError(t, err)
	return exports
}

// testPredeclared gives macro sources a minimal dispatch API: dispatch(name,
// namespace=...) and return_value(x).
func testPredeclared(env *Environment) starlark.StringDict {
	dispatch := starlark.NewBuiltin("dispatch", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name, namespace string
		if err := starlark.UnpackArgs("dispatch", args, kwargs, "macro_name", &name, "macro_namespace?", &namespace); err != nil {
			return nil, err
		}
		return NewDispatchObject(env, name, namespace, false, false, nil), nil
	})
	return starlark.StringDict{
		"dispatch":     dispatch,
		"return_value": ReturnValueBuiltin,
	}
}

func newTestEnv(t *testing.T, dialectName string, opts ...Option) *Environment {
	t.Helper()
	env, err := NewEnvironment(dialectName, opts...)
	require.NoError(t, err)
	env.SetDependencies(deps.NewSet("analytics", []string{"dbt_utils"}))
	return env
}

// call dispatches macroName from the root package and returns the result.
func call(t *testing.T, env *Environment, macroName, namespace string, args ...starlark.Value) (starlark.Value, error) {
	t.Helper()
	obj := NewDispatchObject(env, macroName, namespace, false, false, nil)
	thread := env.NewThread("test", env.BaseState("analytics"))
	return obj.CallInternal(thread, starlark.Tuple(args), nil)
}

func TestDispatchPrefersDialectPrefix(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	require.NoError(t, LoadBuiltins(env, nil))

	// duckdb__current_timestamp wins over default__current_timestamp.
	v, err := call(t, env, "current_timestamp", "")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("now()"), v)
}

func TestDispatchFallsBackToDefaultPrefix(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	require.NoError(t, LoadBuiltins(env, nil))

	// No duckdb__type_string exists; default__type_string answers.
	v, err := call(t, env, "type_string", "")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("text"), v)
}

func TestDispatchWalksParentDialects(t *testing.T) {
	env := newTestEnv(t, "redshift")
	require.NoError(t, LoadBuiltins(env, nil))

	// redshift__type_string is defined by the redshift package itself.
	v, err := call(t, env, "type_string", "")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("varchar(max)"), v)

	// redshift has no current_timestamp; the postgres parent beats default.
	v, err = call(t, env, "current_timestamp", "")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("now()"), v)

	// Neither redshift nor postgres defines hash; default answers.
	v, err = call(t, env, "hash", "", starlark.String("id"))
	require.NoError(t, err)
	assert.Equal(t, starlark.String("md5(cast(id as text))"), v)
}

func TestDispatchProjectOverridesInternal(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	require.NoError(t, LoadBuiltins(env, nil))

	// The root project redefines generate_schema_name; unqualified dispatch
	// finds it before the builtin.
	env.AddPackage("analytics", execSource(t, env, "analytics", `
def default__generate_schema_name(custom_schema_name, node_schema):
    return "override_" + node_schema
`))

	v, err := call(t, env, "generate_schema_name", "", starlark.None, starlark.String("main"))
	require.NoError(t, err)
	assert.Equal(t, starlark.String("override_main"), v)
}

func TestDispatchNamespaceHintSearchesRootFirst(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	env.AddPackage("dbt_utils", execSource(t, env, "dbt_utils", `
def default__star(relation):
    return "package " + relation
`))
	env.AddPackage("analytics", execSource(t, env, "analytics", `
def default__star(relation):
    return "project " + relation
`))

	// dbt_utils is an installed dependency, so the search order is
	// [root, dbt_utils]: the project's shadowing copy wins.
	v, err := call(t, env, "star", "dbt_utils", starlark.String("t"))
	require.NoError(t, err)
	assert.Equal(t, starlark.String("project t"), v)
}

func TestDispatchNamespaceHintFallsThroughToPackage(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	env.AddPackage("dbt_utils", execSource(t, env, "dbt_utils", `
def default__star(relation):
    return "package " + relation
`))

	v, err := call(t, env, "star", "dbt_utils", starlark.String("t"))
	require.NoError(t, err)
	assert.Equal(t, starlark.String("package t"), v)
}

func TestDispatchOrderOverrideReplacesDefault(t *testing.T) {
	// The configured order fully replaces [root, namespace]: the project's
	// shadowing copy is not consulted.
	env := newTestEnv(t, "duckdb", WithDispatchOrder(map[string][]string{
		"dbt_utils": {"dbt_utils"},
	}))
	env.AddPackage("dbt_utils", execSource(t, env, "dbt_utils", `
def default__star(relation):
    return "package " + relation
`))
	env.AddPackage("analytics", execSource(t, env, "analytics", `
def default__star(relation):
    return "project " + relation
`))

	v, err := call(t, env, "star", "dbt_utils", starlark.String("t"))
	require.NoError(t, err)
	assert.Equal(t, starlark.String("package t"), v)
}

func TestDispatchUnknownNamespaceFallsBackToUnqualified(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	env.AddPackage("analytics", execSource(t, env, "analytics", `
def default__star(relation):
    return "project " + relation
`))

	// "codegen" is not installed; the hint degrades to unqualified search,
	// which finds the root project's macro.
	v, err := call(t, env, "star", "codegen", starlark.String("t"))
	require.NoError(t, err)
	assert.Equal(t, starlark.String("project t"), v)
}

func TestDispatchDottedNameRejected(t *testing.T) {
	env := newTestEnv(t, "duckdb")

	_, err := call(t, env, "dbt_utils.star", "")
	var dotted *DottedNameError
	require.ErrorAs(t, err, &dotted)
	assert.Contains(t, err.Error(), `adapter.dispatch("star", macro_namespace="dbt_utils")`)
}

func TestDispatchStrictMode(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	env.AddPackage("dbt_utils", execSource(t, env, "dbt_utils", `
def surrogate_key(fields):
    return "md5(" + " || ".join(fields) + ")"
`))

	// Strict mode uses the macro name as-is: no adapter prefixes.
	obj := NewDispatchObject(env, "surrogate_key", "dbt_utils", true, false, nil)
	thread := env.NewThread("test", env.BaseState("analytics"))
	v, err := obj.CallInternal(thread, starlark.Tuple{starlark.NewList([]starlark.Value{starlark.String("a"), starlark.String("b")})}, nil)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("md5(a || b)"), v)

	// A strict miss reports exactly what was tried, with no fallback.
	obj = NewDispatchObject(env, "missing", "dbt_utils", true, false, nil)
	_, err = obj.CallInternal(env.NewThread("test", env.BaseState("analytics")), nil, nil)
	var strictErr *StrictNotFoundError
	require.ErrorAs(t, err, &strictErr)
	assert.Equal(t, "missing", strictErr.Name)
	assert.Equal(t, "dbt_utils", strictErr.Package)
}

func TestDispatchNotFoundListsAttemptsInOrder(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	require.NoError(t, LoadBuiltins(env, nil))

	_, err := call(t, env, "no_such_macro", "")
	var notFound *MacroNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{
		"analytics.duckdb__no_such_macro",
		"dbt.duckdb__no_such_macro",
		"analytics.default__no_such_macro",
		"dbt.default__no_such_macro",
	}, notFound.Attempts)
	assert.Contains(t, err.Error(), "Searched for: analytics.duckdb__no_such_macro")
}

func TestDispatchCurrentPackageShiftsPerTemplate(t *testing.T) {
	env := newTestEnv(t, "duckdb")

	// outer lives in dbt_utils and dispatches inner unqualified. inner only
	// exists in dbt_utils, so resolution must run from dbt_utils' point of
	// view once outer is executing.
	env.AddPackage("dbt_utils", execSource(t, env, "dbt_utils", `
def default__outer():
    return dispatch("inner")()

def default__inner():
    return "from dbt_utils"
`))

	v, err := call(t, env, "outer", "dbt_utils")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("from dbt_utils"), v)
}

func TestDispatchRecursionLimit(t *testing.T) {
	env := newTestEnv(t, "duckdb", WithRecursionLimit(100))
	env.AddPackage("analytics", execSource(t, env, "analytics", `
def default__loop():
    return dispatch("loop")()
`))

	_, err := call(t, env, "loop", "")
	var recursion *RecursionError
	require.ErrorAs(t, err, &recursion)
	assert.Greater(t, recursion.Depth, 100)
	assert.Equal(t, 100, recursion.Limit)
}

func TestReturnValueAbortsMacro(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	env.AddPackage("analytics", execSource(t, env, "analytics", `
def default__pick(flag):
    if flag:
        return_value("early")
    return "late"
`))

	v, err := call(t, env, "pick", "", starlark.True)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("early"), v)

	v, err = call(t, env, "pick", "", starlark.False)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("late"), v)
}

func TestReturnValueCaughtAtNearestTemplateBoundary(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	env.AddPackage("analytics", execSource(t, env, "analytics", `
def default__inner():
    return_value("inner result")

def default__outer():
    got = dispatch("inner")()
    return got + ", outer continued"
`))

	v, err := call(t, env, "outer", "")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("inner result, outer continued"), v)
}

func TestDispatchNonCallableExportIsLoadError(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	env.AddPackage("analytics", execSource(t, env, "analytics", `
default__not_a_macro = "just a string"
`))

	// Resolution finds the name, execution cannot load it: a hard error,
	// not a continue-searching miss.
	_, err := call(t, env, "not_a_macro", "")
	var loadErr *TemplateLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, err.Error(), "cannot be loaded")
}

func TestDispatchPanicsWithoutDependencySet(t *testing.T) {
	env, err := NewEnvironment("duckdb")
	require.NoError(t, err)

	assert.Panics(t, func() {
		obj := NewDispatchObject(env, "star", "dbt_utils", false, false, nil)
		_, _ = obj.CallInternal(env.NewThread("test", env.BaseState("analytics")), nil, nil)
	})
}

func TestDispatchObjectAttrs(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	obj := NewDispatchObject(env, "star", "dbt_utils", false, true, nil)

	v, err := obj.Attr("macro_name")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("star"), v)

	v, err = obj.Attr("package_name")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("dbt_utils"), v)

	v, err = obj.Attr("strict")
	require.NoError(t, err)
	assert.Equal(t, starlark.False, v)

	v, err = obj.Attr("auto_execute")
	require.NoError(t, err)
	assert.Equal(t, starlark.True, v)

	assert.Equal(t, []string{"auto_execute", "macro_name", "package_name", "strict"}, obj.AttrNames())

	unhinted := NewDispatchObject(env, "star", "", false, false, nil)
	v, err = unhinted.Attr("package_name")
	require.NoError(t, err)
	assert.Equal(t, starlark.None, v)
}

func TestExecuteTemplateMissingIsHardError(t *testing.T) {
	env := newTestEnv(t, "duckdb")

	_, err := env.ExecuteTemplate(env.BaseState("analytics"), "analytics.ghost", nil, nil, nil)
	var loadErr *TemplateLoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestExecuteTemplateWrapsStarlarkErrors(t *testing.T) {
	env := newTestEnv(t, "duckdb")
	env.AddPackage("analytics", execSource(t, env, "analytics", `
def default__boom():
    fail("kaboom")
`))

	_, err := call(t, env, "boom", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	// Starlark failures are not abrupt returns.
	var sig *ReturnSignal
	assert.False(t, errors.As(err, &sig))
}
