// Package macro loads Starlark macro packages and resolves macro calls
// across them: adapter-prefixed dispatch (postgres__x before default__x),
// per-namespace search orders, and the builtin dbt/dbt_{dialect} packages
// that ship embedded with the binary.
package macro

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leapdbt/internal/deps"
	"github.com/leapstack-labs/leapdbt/pkg/dialect"
)

// Environment holds every package's macro exports plus the dispatch
// machinery. Packages are added while loading the project; resolution and
// execution happen concurrently afterwards.
type Environment struct {
	logger         *slog.Logger
	dialect        *dialect.Dialect
	recursionLimit int

	mu       sync.RWMutex
	packages map[string]starlark.StringDict
	// internalNames is the exact set of builtin package names for the
	// dialect (dbt_duckdb, dbt). A user package that merely starts with
	// "dbt_" is not internal.
	internalNames map[string]bool
	// combined is the dbt-and-adapters namespace: the internal packages
	// merged with the most dialect-specific definition winning.
	combined starlark.StringDict

	// dispatchOrder holds per-namespace search order overrides from project
	// config. An entry fully replaces the default order for its namespace.
	dispatchOrder map[string][]string
	// deps is the installed-package snapshot. It is set once by the loader;
	// dispatch before that is a phase-ordering bug.
	deps *deps.Set
}

// Option configures an Environment.
type Option func(*Environment)

// WithLogger sets the logger (nil keeps the discard logger).
func WithLogger(logger *slog.Logger) Option {
	return func(env *Environment) {
		if logger != nil {
			env.logger = logger
		}
	}
}

// WithRecursionLimit overrides the depth budget.
func WithRecursionLimit(limit int) Option {
	return func(env *Environment) {
		if limit > 0 {
			env.recursionLimit = limit
		}
	}
}

// WithDispatchOrder installs per-namespace search order overrides; each
// entry fully replaces the default search for its namespace.
func WithDispatchOrder(order map[string][]string) Option {
	return func(env *Environment) {
		for ns, pkgs := range order {
			env.dispatchOrder[ns] = pkgs
		}
	}
}

// NewEnvironment builds an environment for the given adapter dialect.
func NewEnvironment(dialectName string, opts ...Option) (*Environment, error) {
	d, ok := dialect.Get(dialectName)
	if !ok {
		return nil, fmt.Errorf("macro environment: unknown dialect %q (available: %v)", dialectName, dialect.List())
	}

	env := &Environment{
		logger:         slog.New(slog.DiscardHandler),
		dialect:        d,
		recursionLimit: DefaultRecursionLimit,
		packages:       make(map[string]starlark.StringDict),
		internalNames:  make(map[string]bool),
		combined:       make(starlark.StringDict),
		dispatchOrder:  make(map[string][]string),
	}
	for _, name := range d.InternalPackages() {
		env.internalNames[name] = true
	}
	for _, opt := range opts {
		opt(env)
	}
	return env, nil
}

// SetDependencies installs the package snapshot built by the loader. It must
// happen before the first dispatch.
func (env *Environment) SetDependencies(set *deps.Set) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.deps = set
}

// Dialect returns the environment's dialect.
func (env *Environment) Dialect() *dialect.Dialect {
	return env.dialect
}

// AddPackage registers (or extends) a package's macro exports. Internal
// packages feed the combined dbt-and-adapters namespace, where the most
// dialect-specific definition of a name wins.
func (env *Environment) AddPackage(name string, exports starlark.StringDict) {
	env.mu.Lock()
	defer env.mu.Unlock()

	pkg := env.packages[name]
	if pkg == nil {
		pkg = make(starlark.StringDict, len(exports))
		env.packages[name] = pkg
	}
	for k, v := range exports {
		pkg[k] = v
	}
	if env.internalNames[name] {
		env.rebuildCombined()
	}
}

// rebuildCombined merges the internal packages, least specific first, so
// dbt_{dialect} overrides dbt_{parent} overrides dbt. Caller holds mu.
func (env *Environment) rebuildCombined() {
	internal := env.dialect.InternalPackages()
	combined := make(starlark.StringDict)
	for i := len(internal) - 1; i >= 0; i-- {
		for k, v := range env.packages[internal[i]] {
			combined[k] = v
		}
	}
	env.combined = combined
}

// HasPackage reports whether a non-internal package is known.
func (env *Environment) HasPackage(name string) bool {
	env.mu.RLock()
	defer env.mu.RUnlock()
	_, ok := env.packages[name]
	return ok && !env.internalNames[name]
}

// IsInternalPackage reports whether name is one of the dialect's builtin
// packages.
func (env *Environment) IsInternalPackage(name string) bool {
	return env.internalNames[name]
}

// PackageNames returns all registered package names, sorted.
func (env *Environment) PackageNames() []string {
	env.mu.RLock()
	defer env.mu.RUnlock()
	names := make([]string, 0, len(env.packages))
	for n := range env.packages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PackageExports returns a package's export dict (nil when unknown). The
// returned dict must not be mutated.
func (env *Environment) PackageExports(name string) starlark.StringDict {
	env.mu.RLock()
	defer env.mu.RUnlock()
	if name == "dbt" {
		return env.combined
	}
	return env.packages[name]
}

// GetTemplate resolves a fully qualified macro name ("pkg.macro") to its
// value. The "dbt" package resolves through the combined dbt-and-adapters
// namespace.
func (env *Environment) GetTemplate(fqn string) (starlark.Value, error) {
	idx := strings.LastIndex(fqn, ".")
	if idx <= 0 || idx == len(fqn)-1 {
		return nil, &TemplateLoadError{FQN: fqn, Reason: "not a package-qualified name"}
	}
	pkg, name := fqn[:idx], fqn[idx+1:]

	env.mu.RLock()
	defer env.mu.RUnlock()

	var ns starlark.StringDict
	if pkg == "dbt" {
		ns = env.combined
	} else {
		ns = env.packages[pkg]
	}
	v, ok := ns[name]
	if !ok {
		return nil, &TemplateLoadError{FQN: fqn, Reason: "no such macro in package"}
	}
	return v, nil
}

// TemplateExists reports whether GetTemplate would succeed.
func (env *Environment) TemplateExists(fqn string) bool {
	_, err := env.GetTemplate(fqn)
	return err == nil
}

// searchPackagesFor derives where a namespace-hinted dispatch looks. A
// configured dispatch order replaces everything. Otherwise a hinted package
// that is a real dependency is searched behind the root project (projects
// override the packages they install); anything else falls back to
// unqualified resolution.
func (env *Environment) searchPackagesFor(namespace string) []string {
	if order, ok := env.dispatchOrder[namespace]; ok {
		return order
	}

	env.mu.RLock()
	set := env.deps
	env.mu.RUnlock()
	if set == nil {
		panic("macro: dependency set read before initialization")
	}
	if set.Contains(namespace) {
		return []string{set.Root(), namespace}
	}
	return []string{""}
}

// resolveUnqualified runs the three-tier search for a bare macro name: the
// state's current package, the root project, then the combined internal
// namespace. Every candidate tried is appended to attempts.
func (env *Environment) resolveUnqualified(state *State, name string, attempts *[]string) (string, bool) {
	current := state.Package
	if current == "" {
		current = "dbt"
	}

	if fqn, ok := env.resolveIn(current, name, attempts); ok {
		return fqn, true
	}

	env.mu.RLock()
	set := env.deps
	env.mu.RUnlock()
	if set != nil && set.Root() != current {
		if fqn, ok := env.resolveIn(set.Root(), name, attempts); ok {
			return fqn, true
		}
	}

	if current != "dbt" {
		if fqn, ok := env.resolveIn("dbt", name, attempts); ok {
			return fqn, true
		}
	}
	return "", false
}

// resolveIn checks one package for a macro name and records the attempt.
// The "dbt" package means the combined internal namespace; other internal
// package names never resolve directly.
func (env *Environment) resolveIn(pkg, name string, attempts *[]string) (string, bool) {
	fqn := pkg + "." + name
	*attempts = append(*attempts, fqn)

	env.mu.RLock()
	defer env.mu.RUnlock()

	if pkg == "dbt" {
		_, ok := env.combined[name]
		return fqn, ok
	}
	if env.internalNames[pkg] {
		return "", false
	}
	ns, ok := env.packages[pkg]
	if !ok {
		return "", false
	}
	_, ok = ns[name]
	return fqn, ok
}

// BaseState returns a fresh evaluation state rooted at pkg with zero depth.
func (env *Environment) BaseState(pkg string) *State {
	return &State{env: env, Package: pkg, Depth: 0, Context: starlark.None}
}

// stateFrom pulls the macro state off a thread, falling back to a fresh
// base state for callers outside a render.
func (env *Environment) stateFrom(thread *starlark.Thread) *State {
	if s, ok := StateFromThread(thread); ok {
		return s
	}
	return env.BaseState("")
}

// ExecuteTemplate evaluates macro fqn to a fresh state derived from state,
// charging the include cost against the depth budget, then calls the macro
// bound under the template's leaf name with the given arguments. An abrupt
// return raised inside the macro is the macro's return value.
func (env *Environment) ExecuteTemplate(state *State, fqn string, args starlark.Tuple, kwargs []starlark.Tuple, context starlark.Value) (starlark.Value, error) {
	fn, err := env.GetTemplate(fqn)
	if err != nil {
		return nil, err
	}
	callable, ok := fn.(starlark.Callable)
	if !ok {
		return nil, &TemplateLoadError{FQN: fqn, Reason: fmt.Sprintf("'%s' is not callable", fn.Type())}
	}

	pkg := fqn[:strings.LastIndex(fqn, ".")]
	child := state.child(pkg, IncludeRecursionCost, context)
	if child.Depth > env.recursionLimit {
		return nil, &RecursionError{FQN: fqn, Depth: child.Depth, Limit: env.recursionLimit}
	}

	thread := env.NewThread("macro:"+fqn, child)
	value, err := starlark.Call(thread, callable, args, kwargs)
	if err != nil {
		if ret, ok := asReturnSignal(err); ok {
			return ret, nil
		}
		return nil, fmt.Errorf("executing macro %s: %w", fqn, err)
	}
	return value, nil
}
