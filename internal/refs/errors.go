package refs

import (
	"fmt"
	"strings"
)

// AmbiguousMatchError reports a ref or source that matched more than one
// enabled node under the same key. The project must disambiguate with a
// package qualifier or by disabling duplicates.
type AmbiguousMatchError struct {
	// Call is the rendered call site, e.g. `ref('orders')`.
	Call string
	// UniqueIDs are all enabled nodes that matched.
	UniqueIDs []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("found ambiguous %s pointing to multiple nodes: [%s]",
		e.Call, strings.Join(e.UniqueIDs, ", "))
}

// DisabledDependencyError reports a lookup that matched only disabled nodes.
// Tests that hit this are downgraded to disabled instead of failing the
// build; everything else surfaces it as an error.
type DisabledDependencyError struct {
	Call string
}

func (e *DisabledDependencyError) Error() string {
	return fmt.Sprintf("attempted to use disabled %s", e.Call)
}

// NotFoundError reports a lookup that matched nothing under any searched
// key. Searched preserves the order the keys were tried in.
type NotFoundError struct {
	Call     string
	Searched []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found in project. Searched for: '%s'",
		e.Call, strings.Join(e.Searched, "', '"))
}

// InvariantError reports registry corruption: a state the insertion rules
// make impossible, so hitting it is a bug here rather than a user mistake.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "internal invariant violated: " + e.Msg
}
