package macro

import (
	"embed"
	"strings"

	"go.starlark.net/starlark"
)

// Builtin macro packages shipped with the binary. Each file is one internal
// package named after it: builtins/dbt.star is the "dbt" package.
//
//go:embed builtins/*.star
var builtinFS embed.FS

// LoadBuiltins executes the embedded internal packages into env. Packages
// for other dialects load too; the environment only merges the ones in the
// active dialect's chain into the combined namespace.
func LoadBuiltins(env *Environment, predeclared starlark.StringDict) error {
	entries, err := builtinFS.ReadDir("builtins")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".star")
		content, err := builtinFS.ReadFile("builtins/" + entry.Name())
		if err != nil {
			return err
		}
		exports, err := ExecStar("builtins/"+entry.Name(), content, predeclared)
		if err != nil {
			return err
		}
		env.AddPackage(name, exports)
	}
	return nil
}
