package macro

import (
	"errors"

	"go.starlark.net/starlark"
)

// Recursion costs charged against the environment's depth budget. Template
// execution is deliberately more expensive than a plain call so runaway
// macro-include loops trip the limit long before the Go stack is at risk.
const (
	// IncludeRecursionCost is charged every time a macro template is
	// evaluated to a fresh state.
	IncludeRecursionCost = 10
	// CallRecursionCost is charged per dispatched call on top of the
	// include cost.
	CallRecursionCost = 4
)

// DefaultRecursionLimit is the depth budget an environment starts with.
const DefaultRecursionLimit = 500

// State is the per-evaluation context macro execution threads through
// Starlark. It records which package's macros are unqualified, how much of
// the depth budget the call chain has consumed, and an optional context
// value the dispatch was seeded with.
type State struct {
	env *Environment
	// Package is the package whose macros resolve unqualified; the root
	// model render starts with the model's package, and each executed
	// template shifts it to the template's own package.
	Package string
	// Depth is the consumed recursion budget.
	Depth int
	// Context is the dispatch context override, starlark.None when absent.
	Context starlark.Value
}

// child derives the state a template executes under: the template's package
// becomes current, cost is charged, and a non-nil context override replaces
// the inherited one.
func (s *State) child(pkg string, cost int, context starlark.Value) *State {
	next := &State{
		env:     s.env,
		Package: pkg,
		Depth:   s.Depth + cost,
		Context: s.Context,
	}
	if context != nil && context != starlark.None {
		next.Context = context
	}
	return next
}

const stateLocalKey = "leapdbt.macro.state"

// StateFromThread returns the macro state carried by a Starlark thread.
func StateFromThread(thread *starlark.Thread) (*State, bool) {
	s, ok := thread.Local(stateLocalKey).(*State)
	return s, ok
}

// NewThread builds a Starlark thread carrying state, named for error
// backtraces. Prints from macro code go to the environment's logger.
func (env *Environment) NewThread(name string, state *State) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			env.logger.Info("macro print", "thread", name, "msg", msg)
		},
	}
	thread.SetLocal(stateLocalKey, state)
	return thread
}

// ReturnSignal is the abrupt-return control flow raised by the return_value
// builtin. It travels as an error through the Starlark interpreter and is
// converted back into a plain value at the template-execution boundary; only
// a signal that escapes all the way out is a real error.
type ReturnSignal struct {
	Value starlark.Value
}

func (e *ReturnSignal) Error() string {
	return "return_value() called outside of macro execution"
}

// asReturnSignal unwraps err (through Starlark's EvalError chain) looking
// for an abrupt return.
func asReturnSignal(err error) (starlark.Value, bool) {
	var sig *ReturnSignal
	if errors.As(err, &sig) {
		return sig.Value, true
	}
	return nil, false
}

// ReturnValueBuiltin is the return_value(x) macro builtin: it aborts the
// enclosing macro and makes x the macro's result.
var ReturnValueBuiltin = starlark.NewBuiltin("return_value", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs("return_value", args, kwargs, 0, &value); err != nil {
		return nil, err
	}
	return nil, &ReturnSignal{Value: value}
})
