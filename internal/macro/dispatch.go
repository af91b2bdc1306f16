package macro

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// DispatchObject is the callable returned by adapter.dispatch(): a deferred
// macro lookup that resolves through the adapter prefix chain and package
// search order at call time, then executes the winner with the caller's
// arguments.
type DispatchObject struct {
	env *Environment
	// MacroName is the bare macro name; dots are rejected at call time.
	MacroName string
	// PackageName hints the namespace to search; empty means unqualified.
	PackageName string
	// Strict disables all fallback: only "{PackageName}.{MacroName}" is
	// tried, without adapter prefixes.
	Strict bool
	// AutoExecute marks objects that stand in for a macro value rather than
	// an explicit dispatch call. Kept for context compatibility; both kinds
	// execute the same way here, on call.
	AutoExecute bool
	// Context optionally overrides the evaluation context the macro runs
	// under; nil inherits the caller's.
	Context starlark.Value
}

// NewDispatchObject builds a dispatch handle bound to env.
func NewDispatchObject(env *Environment, macroName, packageName string, strict, autoExecute bool, context starlark.Value) *DispatchObject {
	return &DispatchObject{
		env:         env,
		MacroName:   macroName,
		PackageName: packageName,
		Strict:      strict,
		AutoExecute: autoExecute,
		Context:     context,
	}
}

var (
	_ starlark.Value    = (*DispatchObject)(nil)
	_ starlark.Callable = (*DispatchObject)(nil)
	_ starlark.HasAttrs = (*DispatchObject)(nil)
)

// String implements starlark.Value.
func (d *DispatchObject) String() string {
	if d.PackageName != "" {
		return fmt.Sprintf("<dispatch %s.%s>", d.PackageName, d.MacroName)
	}
	return fmt.Sprintf("<dispatch %s>", d.MacroName)
}

// Type implements starlark.Value.
func (d *DispatchObject) Type() string { return "dispatch" }

// Freeze implements starlark.Value; dispatch objects are immutable.
func (d *DispatchObject) Freeze() {}

// Truth implements starlark.Value.
func (d *DispatchObject) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value.
func (d *DispatchObject) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: dispatch")
}

// Name implements starlark.Callable.
func (d *DispatchObject) Name() string { return d.MacroName }

// Attr exposes the dispatch parameters to template code.
func (d *DispatchObject) Attr(name string) (starlark.Value, error) {
	switch name {
	case "macro_name":
		return starlark.String(d.MacroName), nil
	case "package_name":
		if d.PackageName == "" {
			return starlark.None, nil
		}
		return starlark.String(d.PackageName), nil
	case "strict":
		return starlark.Bool(d.Strict), nil
	case "auto_execute":
		return starlark.Bool(d.AutoExecute), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (d *DispatchObject) AttrNames() []string {
	return []string{"auto_execute", "macro_name", "package_name", "strict"}
}

// CallInternal resolves and executes the macro. Search order: each search
// package in turn, and within it every adapter prefix (dialect, parents,
// default), so a package's default__ implementation beats the next
// package's dialect-specific one only when the earlier package has nothing.
func (d *DispatchObject) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	env := d.env
	state := env.stateFrom(thread)

	if strings.Contains(d.MacroName, ".") {
		return nil, &DottedNameError{Name: d.MacroName}
	}

	if d.Strict {
		fqn := d.PackageName + "." + d.MacroName
		if !env.TemplateExists(fqn) {
			return nil, &StrictNotFoundError{Name: d.MacroName, Package: d.PackageName}
		}
		return env.ExecuteTemplate(state.child(state.Package, CallRecursionCost, nil), fqn, args, kwargs, d.Context)
	}

	searchPackages := []string{""}
	if d.PackageName != "" {
		searchPackages = env.searchPackagesFor(d.PackageName)
	}

	prefixes := env.dialect.AdapterPrefixes()
	var attempts []string
	for _, sp := range searchPackages {
		for _, prefix := range prefixes {
			name := prefix + "__" + d.MacroName

			var fqn string
			var found bool
			if sp == "" {
				fqn, found = env.resolveUnqualified(state, name, &attempts)
			} else {
				fqn, found = env.resolveIn(sp, name, &attempts)
			}
			if found {
				charged := state.child(state.Package, CallRecursionCost, nil)
				return env.ExecuteTemplate(charged, fqn, args, kwargs, d.Context)
			}
		}
	}

	return nil, &MacroNotFoundError{Name: d.MacroName, Namespace: d.PackageName, Attempts: attempts}
}
