package macro

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.starlark.net/starlark"
)

// Loader reads a package's macro directory: every .star file under it is
// executed and its exports merged into one package namespace. Names starting
// with an underscore stay private to their file.
type Loader struct {
	dir         string
	predeclared starlark.StringDict
}

// NewLoader creates a loader for one package's macros directory. The
// predeclared dict supplies the API macros may call (adapter, ref, source,
// var, return_value, ...).
func NewLoader(dir string, predeclared starlark.StringDict) *Loader {
	return &Loader{dir: dir, predeclared: predeclared}
}

// LoadPackage executes every .star file under the directory (recursively,
// sorted by path) and merges the exports. A macro name defined in two files
// of the same package is an error.
func (l *Loader) LoadPackage() (starlark.StringDict, error) {
	info, err := os.Stat(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			// No macros directory is fine.
			return starlark.StringDict{}, nil
		}
		return nil, fmt.Errorf("failed to access macros directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("macros path is not a directory: %s", l.dir)
	}

	var files []string
	err = filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".star") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan macros directory: %w", err)
	}
	sort.Strings(files)

	merged := make(starlark.StringDict)
	origin := make(map[string]string)
	for _, file := range files {
		content, err := os.ReadFile(file) //nolint:gosec // G304: path comes from walking the macros directory
		if err != nil {
			return nil, &LoadError{File: file, Err: err}
		}
		exports, err := ExecStar(file, content, l.predeclared)
		if err != nil {
			return nil, err
		}
		for name, value := range exports {
			if prev, ok := origin[name]; ok {
				return nil, &DuplicateMacroError{Name: name, First: prev, Second: file}
			}
			origin[name] = file
			merged[name] = value
		}
	}
	return merged, nil
}

// ExecStar executes one Starlark source file and returns its exported
// names (everything not starting with an underscore).
func ExecStar(path string, src []byte, predeclared starlark.StringDict) (starlark.StringDict, error) {
	thread := &starlark.Thread{
		Name: "load:" + filepath.Base(path),
		Print: func(_ *starlark.Thread, _ string) {
			// Ignore prints during macro loading.
		},
	}

	globals, err := starlark.ExecFile(thread, path, src, predeclared) //nolint:staticcheck // SA1019: will migrate to ExecFileOptions later
	if err != nil {
		return nil, &LoadError{File: path, Err: err}
	}

	exports := make(starlark.StringDict, len(globals))
	for name, value := range globals {
		if !strings.HasPrefix(name, "_") {
			exports[name] = value
		}
	}
	return exports, nil
}

// LoadError ties a read or execution failure to the macro file it came from.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// DuplicateMacroError reports a macro name exported by two files of the
// same package.
type DuplicateMacroError struct {
	Name   string
	First  string
	Second string
}

func (e *DuplicateMacroError) Error() string {
	return fmt.Sprintf("macro %q defined in both %s and %s", e.Name, e.First, e.Second)
}
