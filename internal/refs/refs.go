// Package refs indexes the project's models, seeds, and source tables under
// every name a template may use to reach them, and resolves ref() and
// source() calls against that index. Each node is stored once per key with
// its relation and status, so lookup needs no access to the node set.
//
// Ref keys: "{name}" and "{package}.{name}" for nodes at their latest
// version, "{name}.v{version}" and "{package}.{name}.v{version}" for
// versioned nodes. Source keys: "{source}.{table}" and
// "{package}.{source}.{table}".
package refs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/leapstack-labs/leapdbt/internal/relation"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// Entry is one node under one key: its identity, the relation templates
// receive, and whether it participates in the build.
type Entry struct {
	UniqueID string
	Relation core.Relation
	Status   core.ModelStatus
}

// Registry is the ref/source index for one invocation. Inserts happen while
// loading; lookups happen concurrently during rendering.
type Registry struct {
	mu          sync.RWMutex
	refs        map[string][]Entry
	sources     map[string][]Entry
	rootPackage string
}

// New returns an empty registry for a project rooted at rootPackage.
func New(rootPackage string) *Registry {
	return &Registry{
		refs:        make(map[string][]Entry),
		sources:     make(map[string][]Entry),
		rootPackage: rootPackage,
	}
}

// FromNodes indexes every node: sources under source keys, models and seeds
// under ref keys. Tests are never referenced, so they are skipped.
func FromNodes(rootPackage, adapterType string, nodes map[string]*core.Node) (*Registry, error) {
	r := New(rootPackage)
	for _, id := range sortedIDs(nodes) {
		node := nodes[id]
		var err error
		switch node.Type {
		case core.NodeTypeSource:
			err = r.InsertSource(node, adapterType, node.Status)
		case core.NodeTypeModel, core.NodeTypeSeed:
			err = r.InsertRef(node, adapterType, node.Status, false)
		}
		if err != nil {
			return nil, fmt.Errorf("indexing %s: %w", id, err)
		}
	}
	return r, nil
}

// RootPackage returns the root project name lookups treat as home.
func (r *Registry) RootPackage() string {
	return r.rootPackage
}

// InsertRef indexes a model or seed node. Nodes at their latest version get
// unversioned keys; versioned nodes additionally get ".v{version}" keys.
// With overrideExisting, an entry with the same unique ID is replaced in
// place instead of appended, preserving its position.
func (r *Registry) InsertRef(node *core.Node, adapterType string, status core.ModelStatus, overrideExisting bool) error {
	rel, err := relation.FromNode(adapterType, node)
	if err != nil {
		return err
	}
	entry := Entry{UniqueID: node.UniqueID, Relation: rel, Status: status}

	var keys []string
	if node.IsLatestVersion() {
		keys = append(keys, node.Name, node.PackageName+"."+node.Name)
	}
	if node.IsVersioned() {
		versioned := node.SearchName()
		keys = append(keys, versioned, node.PackageName+"."+versioned)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		r.refs[key] = upsert(r.refs[key], entry, overrideExisting)
	}
	return nil
}

// InsertSource indexes a source table node under its package-qualified and
// unqualified keys.
func (r *Registry) InsertSource(node *core.Node, adapterType string, status core.ModelStatus) error {
	rel, err := relation.FromNode(adapterType, node)
	if err != nil {
		return err
	}
	entry := Entry{UniqueID: node.UniqueID, Relation: rel, Status: status}
	unqualified := node.SourceName + "." + node.Name

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[node.PackageName+"."+unqualified] = append(r.sources[node.PackageName+"."+unqualified], entry)
	r.sources[unqualified] = append(r.sources[unqualified], entry)
	return nil
}

// upsert appends entry, or replaces the entry with the same unique ID when
// override is set and one exists.
func upsert(entries []Entry, entry Entry, override bool) []Entry {
	if override {
		for i, e := range entries {
			if e.UniqueID == entry.UniqueID {
				entries[i] = entry
				return entries
			}
		}
	}
	return append(entries, entry)
}

// LookupRef resolves a ref() call made from currentPackage. A non-empty pkg
// pins the search to that package. Otherwise the search runs through the
// calling package (when it isn't the root), the root package, and finally
// the unqualified namespace. The first key with exactly one enabled node
// wins; more than one enabled node under a key is ambiguous.
func (r *Registry) LookupRef(pkg, name, version, currentPackage string) (Entry, error) {
	refName := name
	if version != "" {
		refName = fmt.Sprintf("%s.v%s", name, version)
	}

	var searchPackages []string
	switch {
	case pkg != "":
		searchPackages = []string{pkg}
	case currentPackage == "":
		searchPackages = []string{""}
	case currentPackage == r.rootPackage:
		searchPackages = []string{r.rootPackage, ""}
	default:
		searchPackages = []string{currentPackage, r.rootPackage, ""}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	call := renderRefCall(pkg, name, version)
	var searched []string
	foundDisabled := false
	for _, sp := range searchPackages {
		key := refName
		if sp != "" {
			key = sp + "." + refName
		}
		searched = append(searched, key)

		enabled, disabled := partition(r.refs[key])
		switch len(enabled) {
		case 0:
			if len(disabled) > 0 {
				foundDisabled = true
			}
		case 1:
			return enabled[0], nil
		default:
			return Entry{}, &AmbiguousMatchError{Call: call, UniqueIDs: uniqueIDs(enabled)}
		}
	}

	if foundDisabled {
		return Entry{}, &DisabledDependencyError{Call: call}
	}
	return Entry{}, &NotFoundError{Call: call, Searched: searched}
}

// LookupSource resolves a source() call made from currentPackage. The
// package-qualified key is authoritative: more than one entry under it means
// the insertion rules were broken. Only when the calling package declares no
// such source does the unqualified key apply, with the same
// enabled/disabled/ambiguity rules as refs.
func (r *Registry) LookupSource(currentPackage, sourceName, tableName string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call := fmt.Sprintf("source('%s', '%s')", sourceName, tableName)
	unqualified := sourceName + "." + tableName
	qualified := currentPackage + "." + unqualified

	if entries, ok := r.sources[qualified]; ok {
		if len(entries) != 1 {
			return Entry{}, &InvariantError{
				Msg: fmt.Sprintf("expected exactly one entry for source key %q, found %d", qualified, len(entries)),
			}
		}
		if entries[0].Status != core.StatusEnabled {
			return Entry{}, &DisabledDependencyError{Call: call}
		}
		return entries[0], nil
	}

	enabled, disabled := partition(r.sources[unqualified])
	switch len(enabled) {
	case 1:
		return enabled[0], nil
	case 0:
		if len(disabled) > 0 {
			return Entry{}, &DisabledDependencyError{Call: call}
		}
		return Entry{}, &NotFoundError{Call: call, Searched: []string{qualified, unqualified}}
	default:
		return Entry{}, &AmbiguousMatchError{Call: call, UniqueIDs: uniqueIDs(enabled)}
	}
}

// Merge folds other into r key-wise, skipping entries whose unique ID is
// already present under the same key. Entries r already holds keep their
// position and contents.
func (r *Registry) Merge(other *Registry) {
	if other == nil {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	mergeMaps(r.refs, other.refs)
	mergeMaps(r.sources, other.sources)
}

func mergeMaps(dst, src map[string][]Entry) {
	for key, entries := range src {
		existing := make(map[string]bool, len(dst[key]))
		for _, e := range dst[key] {
			existing[e.UniqueID] = true
		}
		for _, e := range entries {
			if !existing[e.UniqueID] {
				dst[key] = append(dst[key], e)
				existing[e.UniqueID] = true
			}
		}
	}
}

// partition splits entries into enabled and not-enabled. Parsing failures
// count as disabled for lookup purposes.
func partition(entries []Entry) (enabled, disabled []Entry) {
	for _, e := range entries {
		if e.Status == core.StatusEnabled {
			enabled = append(enabled, e)
		} else {
			disabled = append(disabled, e)
		}
	}
	return enabled, disabled
}

func uniqueIDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.UniqueID
	}
	return ids
}

func renderRefCall(pkg, name, version string) string {
	switch {
	case pkg != "" && version != "":
		return fmt.Sprintf("ref('%s', '%s', v='%s')", pkg, name, version)
	case pkg != "":
		return fmt.Sprintf("ref('%s', '%s')", pkg, name)
	case version != "":
		return fmt.Sprintf("ref('%s', v='%s')", name, version)
	default:
		return fmt.Sprintf("ref('%s')", name)
	}
}

func sortedIDs(nodes map[string]*core.Node) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
