package macro

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func writeMacroFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadPackage(t *testing.T, dir string, predeclared starlark.StringDict) starlark.StringDict {
	t.Helper()
	exports, err := NewLoader(dir, predeclared).LoadPackage()
	require.NoError(t, err)
	return exports
}

func TestLoadPackageEmptyAndMissingDirs(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "macros")
	require.NoError(t, os.Mkdir(empty, 0o755))
	assert.Empty(t, loadPackage(t, empty, nil))

	// A project without macros has no directory at all.
	missing := filepath.Join(t.TempDir(), "no", "macros")
	assert.Empty(t, loadPackage(t, missing, nil))
}

func TestLoadPackagePathIsAFile(t *testing.T) {
	path := writeMacroFile(t, t.TempDir(), "macros", "not a dir")

	_, err := NewLoader(path, nil).LoadPackage()
	require.Error(t, err)
	assert.ErrorContains(t, err, "not a directory")
}

func TestLoadPackageExports(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "macros")
	writeMacroFile(t, dir, "money.star", `
def cents_to_dollars(column, precision=2):
    return "round(" + column + " / 100.0, " + str(precision) + ")"

_conversion = 100
`)

	exports := loadPackage(t, dir, nil)
	assert.Contains(t, exports, "cents_to_dollars")
	assert.NotContains(t, exports, "_conversion", "underscore names stay private")
}

func TestLoadPackageMergesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "macros")
	writeMacroFile(t, dir, "dates.star", `
def date_spine(start, end):
    return "spine"
`)
	writeMacroFile(t, dir, "naming.star", `
def generate_alias_name(name):
    return name
`)
	// Nested directories are part of the same namespace.
	writeMacroFile(t, dir, filepath.Join("cross_db", "concat.star"), `
def concat(fields):
    return " || ".join(fields)
`)
	writeMacroFile(t, dir, "README.md", "# not a macro")

	exports := loadPackage(t, dir, nil)
	assert.Contains(t, exports, "date_spine")
	assert.Contains(t, exports, "generate_alias_name")
	assert.Contains(t, exports, "concat")
	assert.Len(t, exports, 3)
}

func TestLoadPackageDuplicateName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "macros")
	first := writeMacroFile(t, dir, "a.star", "def dup(): return 1")
	second := writeMacroFile(t, dir, "b.star", "def dup(): return 2")

	_, err := NewLoader(dir, nil).LoadPackage()
	require.Error(t, err)

	var dupErr *DuplicateMacroError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "dup", dupErr.Name)
	assert.Equal(t, first, dupErr.First)
	assert.Equal(t, second, dupErr.Second)
}

func TestLoadPackageSyntaxError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "macros")
	path := writeMacroFile(t, dir, "broken.star", `
def broken(:
    return 1
`)

	_, err := NewLoader(dir, nil).LoadPackage()
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, path, loadErr.File)
}

func TestLoadPackagePredeclared(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "macros")
	writeMacroFile(t, dir, "naming.star", `
def schema_comment():
    return "-- schema: " + default_schema
`)

	exports := loadPackage(t, dir, starlark.StringDict{
		"default_schema": starlark.String("analytics"),
	})

	thread := &starlark.Thread{Name: "test"}
	got, err := starlark.Call(thread, exports["schema_comment"], nil, nil)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("-- schema: analytics"), got)
}

func TestLoadPackageUndefinedName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "macros")
	writeMacroFile(t, dir, "needs_api.star", "x = api_value")

	_, err := NewLoader(dir, nil).LoadPackage()
	require.Error(t, err, "undefined name should fail the load")
}

func TestLoadedMacroIsCallable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "macros")
	writeMacroFile(t, dir, "math.star", `
def double(x):
    return x * 2
`)

	exports := loadPackage(t, dir, nil)
	require.Contains(t, exports, "double")

	thread := &starlark.Thread{Name: "test"}
	got, err := starlark.Call(thread, exports["double"], starlark.Tuple{starlark.MakeInt(5)}, nil)
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(10), got)
}
