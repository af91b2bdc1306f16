// Package deps carries the set of packages installed in a project. The
// loader builds one Set per invocation and hands it to the macro
// environment; nothing mutates it afterwards, so it is safe to share across
// render goroutines without locking.
package deps

import "sort"

// Set is an immutable snapshot of the project's package names: the root
// project plus everything installed under the packages directory.
type Set struct {
	root  string
	names map[string]struct{}
}

// NewSet builds a snapshot from the root project name and its installed
// package names. The root always counts as contained.
func NewSet(root string, packages []string) *Set {
	names := make(map[string]struct{}, len(packages)+1)
	names[root] = struct{}{}
	for _, p := range packages {
		names[p] = struct{}{}
	}
	return &Set{root: root, names: names}
}

// Root returns the root project name.
func (s *Set) Root() string {
	return s.root
}

// Contains reports whether name is the root project or an installed package.
func (s *Set) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Names returns all package names, sorted, for error messages and logs.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
