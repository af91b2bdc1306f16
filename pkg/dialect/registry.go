package dialect

import (
	"sort"
	"strings"
	"sync"
)

var dialects = struct {
	sync.RWMutex
	byName map[string]*Dialect
}{byName: make(map[string]*Dialect)}

// Register adds a dialect under its lowercased name. Dialect definitions
// call it from init; later registrations under the same name win, so
// embedders can override builtins.
func Register(d *Dialect) {
	dialects.Lock()
	defer dialects.Unlock()
	dialects.byName[strings.ToLower(d.Name)] = d
}

// Get returns the dialect registered under name, case-insensitively.
func Get(name string) (*Dialect, bool) {
	dialects.RLock()
	defer dialects.RUnlock()
	d, ok := dialects.byName[strings.ToLower(name)]
	return d, ok
}

// List returns the registered dialect names, sorted.
func List() []string {
	dialects.RLock()
	defer dialects.RUnlock()
	names := make([]string, 0, len(dialects.byName))
	for name := range dialects.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
