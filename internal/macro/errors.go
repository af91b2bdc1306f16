package macro

import (
	"fmt"
	"strings"
)

// DottedNameError rejects dispatch of a dotted macro name. Namespacing goes
// through the macro_namespace argument, so the error carries the rewritten
// call as a hint.
type DottedNameError struct {
	Name string
}

func (e *DottedNameError) Error() string {
	parts := strings.SplitN(e.Name, ".", 2)
	return fmt.Sprintf(
		"macro name %q cannot contain a dot. Did you mean adapter.dispatch(%q, macro_namespace=%q)?",
		e.Name, parts[1], parts[0])
}

// StrictNotFoundError reports a strict-mode dispatch miss. Strict mode tries
// the single fully qualified candidate and nothing else.
type StrictNotFoundError struct {
	Name    string
	Package string
}

func (e *StrictNotFoundError) Error() string {
	return fmt.Sprintf("in strict mode: no macro named '%s' found in package '%s'", e.Name, e.Package)
}

// MacroNotFoundError reports that dispatch exhausted every candidate. The
// attempt list preserves search order so users can see exactly what was
// tried.
type MacroNotFoundError struct {
	Name      string
	Namespace string
	Attempts  []string
}

func (e *MacroNotFoundError) Error() string {
	return fmt.Sprintf("in dispatch: no macro named '%s' found within namespace: '%s'\n    Searched for: %s",
		e.Name, e.Namespace, strings.Join(e.Attempts, ", "))
}

// TemplateLoadError reports a macro the namespace index claims to hold but
// that cannot actually be executed. Unlike MacroNotFoundError this is never
// recoverable by searching further.
type TemplateLoadError struct {
	FQN    string
	Reason string
}

func (e *TemplateLoadError) Error() string {
	return fmt.Sprintf("macro '%s' was found in namespace but cannot be loaded: %s", e.FQN, e.Reason)
}

// RecursionError reports that macro execution exceeded the depth budget.
type RecursionError struct {
	FQN   string
	Depth int
	Limit int
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("recursion limit exceeded executing macro '%s' (depth %d, limit %d)", e.FQN, e.Depth, e.Limit)
}
