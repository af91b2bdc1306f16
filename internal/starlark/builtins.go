package starlark

import (
	"fmt"
	"log/slog"
	"os"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/leapstack-labs/leapdbt/internal/macro"
	"github.com/leapstack-labs/leapdbt/internal/refs"
)

// API holds the project-wide template builtins: ref, source, var, env_var,
// log, the adapter and exceptions namespaces. One API serves every render of
// an invocation; builtins that depend on where they are called from (ref and
// source resolve relative to the calling package) read that from the
// thread's macro state, so the same builtin instances are safe to share
// between macro loading and model rendering.
type API struct {
	env      *macro.Environment
	registry *refs.Registry
	target   *TargetInfo
	vars     starlark.StringDict
	logger   *slog.Logger
}

// NewAPI builds the shared builtin set. vars must already be converted (see
// VarsToStarlark); a nil logger discards.
func NewAPI(env *macro.Environment, registry *refs.Registry, target *TargetInfo, vars starlark.StringDict, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &API{env: env, registry: registry, target: target, vars: vars, logger: logger}
}

// Environment returns the macro environment the API dispatches into.
func (a *API) Environment() *macro.Environment { return a.env }

// Registry returns the ref/source index.
func (a *API) Registry() *refs.Registry { return a.registry }

// Predeclared returns the names available to macro files at load time and to
// every render. Per-model values (this, config) are layered on top by
// Context.
func (a *API) Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"ref":          a.refBuiltin(),
		"source":       a.sourceBuiltin(),
		"var":          a.varBuiltin(),
		"env_var":      a.envVarBuiltin(),
		"log":          a.logBuiltin(),
		"target":       a.targetValue(),
		"adapter":      a.adapterModule(),
		"exceptions":   a.exceptionsModule(),
		"return_value": macro.ReturnValueBuiltin,
	}
}

// currentPackage is the package lookups resolve relative to: the executing
// macro's package when inside one, otherwise the root project.
func (a *API) currentPackage(thread *starlark.Thread) string {
	if s, ok := macro.StateFromThread(thread); ok && s.Package != "" {
		return s.Package
	}
	return a.registry.RootPackage()
}

// refBuiltin resolves ref("name"), ref("package", "name") and the version
// keyword (version= or its alias v=) to a relation.
func (a *API) refBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("ref", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var pkg, name string
		switch len(args) {
		case 1:
			s, ok := starlark.AsString(args[0])
			if !ok {
				return nil, fmt.Errorf("ref: name must be a string, got %s", args[0].Type())
			}
			name = s
		case 2:
			p, ok1 := starlark.AsString(args[0])
			n, ok2 := starlark.AsString(args[1])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("ref: package and name must be strings")
			}
			pkg, name = p, n
		default:
			return nil, fmt.Errorf("ref: expected 1 or 2 positional arguments, got %d", len(args))
		}

		version, err := versionFromKwargs(kwargs)
		if err != nil {
			return nil, err
		}

		entry, err := a.registry.LookupRef(pkg, name, version, a.currentPackage(thread))
		if err != nil {
			return nil, err
		}
		return NewRelationValue(entry.Relation), nil
	})
}

// versionFromKwargs reads version= or v=, accepting strings and ints.
func versionFromKwargs(kwargs []starlark.Tuple) (string, error) {
	version := ""
	for _, kv := range kwargs {
		key, _ := starlark.AsString(kv[0])
		switch key {
		case "version", "v":
			switch val := kv[1].(type) {
			case starlark.String:
				version = string(val)
			case starlark.Int:
				version = val.String()
			case starlark.NoneType:
			default:
				return "", fmt.Errorf("ref: version must be a string or int, got %s", kv[1].Type())
			}
		default:
			return "", fmt.Errorf("ref: unexpected keyword argument %q", key)
		}
	}
	return version, nil
}

// sourceBuiltin resolves source("src", "table") to a relation.
func (a *API) sourceBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("source", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var sourceName, tableName string
		if err := starlark.UnpackPositionalArgs("source", args, kwargs, 2, &sourceName, &tableName); err != nil {
			return nil, err
		}
		entry, err := a.registry.LookupSource(a.currentPackage(thread), sourceName, tableName)
		if err != nil {
			return nil, err
		}
		return NewRelationValue(entry.Relation), nil
	})
}

// varBuiltin reads project vars: var("name") errors when undefined,
// var("name", default) falls back.
func (a *API) varBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("var", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var fallback starlark.Value
		if err := starlark.UnpackPositionalArgs("var", args, kwargs, 1, &name, &fallback); err != nil {
			return nil, err
		}
		if v, ok := a.vars[name]; ok {
			return v, nil
		}
		if fallback != nil {
			return fallback, nil
		}
		return nil, fmt.Errorf("required var %q not found in project config", name)
	})
}

// envVarBuiltin reads process environment variables with an optional
// default.
func (a *API) envVarBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("env_var", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var fallback starlark.Value
		if err := starlark.UnpackPositionalArgs("env_var", args, kwargs, 1, &name, &fallback); err != nil {
			return nil, err
		}
		if v, ok := os.LookupEnv(name); ok {
			return starlark.String(v), nil
		}
		if fallback != nil {
			return fallback, nil
		}
		return nil, fmt.Errorf("environment variable %q is required but not set", name)
	})
}

// logBuiltin writes template log() calls to the invocation logger.
// log(msg) is debug-level; log(msg, info=True) is info-level.
func (a *API) logBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("log", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var msg starlark.Value
		info := false
		if err := starlark.UnpackArgs("log", args, kwargs, "msg", &msg, "info?", &info); err != nil {
			return nil, err
		}
		text, ok := starlark.AsString(msg)
		if !ok {
			text = msg.String()
		}
		if info {
			a.logger.Info(text, "thread", thread.Name)
		} else {
			a.logger.Debug(text, "thread", thread.Name)
		}
		return starlark.None, nil
	})
}

func (a *API) targetValue() starlark.Value {
	if a.target == nil {
		return starlark.None
	}
	return a.target.ToStarlark()
}

// adapterModule exposes adapter.dispatch, adapter.type and adapter.quote.
func (a *API) adapterModule() starlark.Value {
	dispatch := starlark.NewBuiltin("dispatch", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var macroName, namespace string
		if err := starlark.UnpackArgs("dispatch", args, kwargs, "macro_name", &macroName, "macro_namespace?", &namespace); err != nil {
			return nil, err
		}
		return macro.NewDispatchObject(a.env, macroName, namespace, false, false, nil), nil
	})

	adapterType := starlark.NewBuiltin("type", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs("type", args, kwargs, 0); err != nil {
			return nil, err
		}
		return starlark.String(a.env.Dialect().Name), nil
	})

	quote := starlark.NewBuiltin("quote", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var ident string
		if err := starlark.UnpackPositionalArgs("quote", args, kwargs, 1, &ident); err != nil {
			return nil, err
		}
		return starlark.String(a.env.Dialect().QuoteIdent(ident)), nil
	})

	return starlarkstruct.FromStringDict(starlark.String("adapter"), starlark.StringDict{
		"dispatch": dispatch,
		"type":     adapterType,
		"quote":    quote,
	})
}

// exceptionsModule exposes exceptions.raise_compiler_error and
// exceptions.warn.
func (a *API) exceptionsModule() starlark.Value {
	raiseErr := starlark.NewBuiltin("raise_compiler_error", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var msg string
		if err := starlark.UnpackPositionalArgs("raise_compiler_error", args, kwargs, 1, &msg); err != nil {
			return nil, err
		}
		return nil, &CompilerError{Msg: msg}
	})

	warn := starlark.NewBuiltin("warn", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var msg string
		if err := starlark.UnpackPositionalArgs("warn", args, kwargs, 1, &msg); err != nil {
			return nil, err
		}
		a.logger.Warn(msg, "thread", thread.Name)
		return starlark.None, nil
	})

	return starlarkstruct.FromStringDict(starlark.String("exceptions"), starlark.StringDict{
		"raise_compiler_error": raiseErr,
		"warn":                 warn,
	})
}

// CompilerError is raised by exceptions.raise_compiler_error in template
// code; it aborts the render with the template author's message.
type CompilerError struct {
	Msg string
}

func (e *CompilerError) Error() string {
	return fmt.Sprintf("compilation error: %s", e.Msg)
}
