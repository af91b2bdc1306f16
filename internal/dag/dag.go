// Package dag builds the dependency graph over a resolved node set and
// provides the orderings the pipeline runs on: cycle detection with path
// reporting, topological sort, parallel execution levels, and the ancestry
// walks behind selection and watch mode.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// CycleError reports a dependency cycle through the listed unique IDs. The
// path starts and ends on the same node.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// Graph is a dependency graph keyed by node unique ID. Edges run from a
// dependency to its dependents.
type Graph struct {
	nodes    map[string]*core.Node
	children map[string][]string
	parents  map[string][]string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]*core.Node),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// FromNodes builds the graph for a resolved node set: one vertex per node,
// one edge per DependsOn entry. Every DependsOn target must be present in
// the set; resolution guarantees that, so a miss here is a bug upstream.
func FromNodes(nodes map[string]*core.Node) (*Graph, error) {
	g := New()
	for _, node := range nodes {
		g.Add(node)
	}
	for _, id := range sortedIDs(nodes) {
		for _, dep := range nodes[id].DependsOn {
			if err := g.AddEdge(dep, id); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// Add inserts a node, replacing any previous node with the same unique ID.
func (g *Graph) Add(node *core.Node) {
	id := node.UniqueID
	if _, exists := g.nodes[id]; !exists {
		g.children[id] = []string{}
		g.parents[id] = []string{}
	}
	g.nodes[id] = node
}

// AddEdge records that toID depends on fromID.
func (g *Graph) AddEdge(fromID, toID string) error {
	if _, exists := g.nodes[fromID]; !exists {
		return fmt.Errorf("%s depends on %s, which is not in the graph", toID, fromID)
	}
	if _, exists := g.nodes[toID]; !exists {
		return fmt.Errorf("node %q is not in the graph", toID)
	}
	if fromID == toID {
		return &CycleError{Path: []string{fromID, toID}}
	}
	if !contains(g.children[fromID], toID) {
		g.children[fromID] = append(g.children[fromID], toID)
	}
	if !contains(g.parents[toID], fromID) {
		g.parents[toID] = append(g.parents[toID], fromID)
	}
	return nil
}

// Node returns the node stored under id.
func (g *Graph) Node(id string) (*core.Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// Parents returns the direct dependencies of id.
func (g *Graph) Parents(id string) []string {
	return g.parents[id]
}

// Children returns the direct dependents of id.
func (g *Graph) Children(id string) []string {
	return g.children[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, deps := range g.children {
		count += len(deps)
	}
	return count
}

// HasCycle reports whether the graph contains a cycle and, if so, one cycle
// path for the error message.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	cameFrom := make(map[string]string)

	var cyclePath []string
	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true

		for _, child := range g.children[id] {
			if !visited[child] {
				cameFrom[child] = id
				if dfs(child) {
					return true
				}
			} else if onStack[child] {
				cyclePath = []string{child}
				for curr := id; curr != child; curr = cameFrom[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{child}, cyclePath...)
				return true
			}
		}

		onStack[id] = false
		return false
	}

	for _, id := range sortedIDs(g.nodes) {
		if !visited[id] {
			if dfs(id) {
				return true, cyclePath
			}
		}
	}
	return false, nil
}

// TopologicalSort returns the nodes with every dependency before its
// dependents. Ties break on unique ID so the order is stable.
func (g *Graph) TopologicalSort() ([]*core.Node, error) {
	if hasCycle, path := g.HasCycle(); hasCycle {
		return nil, &CycleError{Path: path}
	}

	visited := make(map[string]bool)
	result := make([]*core.Node, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, parent := range sortedCopy(g.parents[id]) {
			visit(parent)
		}
		result = append(result, g.nodes[id])
	}

	for _, id := range sortedIDs(g.nodes) {
		visit(id)
	}
	return result, nil
}

// ExecutionLevels groups unique IDs by dependency depth: level 0 holds nodes
// with no dependencies, and every node sits one level below its deepest
// dependency. Nodes within a level never depend on each other, so a level
// can run in parallel once the previous one finishes.
func (g *Graph) ExecutionLevels() ([][]string, error) {
	if hasCycle, path := g.HasCycle(); hasCycle {
		return nil, &CycleError{Path: path}
	}

	assigned := make(map[string]int)
	var levelOf func(id string) int
	levelOf = func(id string) int {
		if level, ok := assigned[id]; ok {
			return level
		}
		level := 0
		for _, parent := range g.parents[id] {
			if pl := levelOf(parent) + 1; pl > level {
				level = pl
			}
		}
		assigned[id] = level
		return level
	}

	maxLevel := 0
	for id := range g.nodes {
		if level := levelOf(id); level > maxLevel {
			maxLevel = level
		}
	}
	if len(g.nodes) == 0 {
		return nil, nil
	}

	levels := make([][]string, maxLevel+1)
	for id, level := range assigned {
		levels[level] = append(levels[level], id)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	return levels, nil
}

// Descendants returns every node downstream of id, sorted.
func (g *Graph) Descendants(id string) []string {
	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		for _, child := range g.children[id] {
			if !seen[child] {
				seen[child] = true
				walk(child)
			}
		}
	}
	walk(id)
	return sortedSet(seen)
}

// Ancestors returns every node upstream of id, sorted.
func (g *Graph) Ancestors(id string) []string {
	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		for _, parent := range g.parents[id] {
			if !seen[parent] {
				seen[parent] = true
				walk(parent)
			}
		}
	}
	walk(id)
	return sortedSet(seen)
}

// AffectedBy returns the given nodes plus everything downstream of them,
// sorted. Watch mode feeds it the changed nodes to pick the recompile set.
func (g *Graph) AffectedBy(ids []string) []string {
	affected := make(map[string]bool)
	var mark func(id string)
	mark = func(id string) {
		if affected[id] {
			return
		}
		affected[id] = true
		for _, child := range g.children[id] {
			mark(child)
		}
	}
	for _, id := range ids {
		if _, exists := g.nodes[id]; exists {
			mark(id)
		}
	}
	return sortedSet(affected)
}

// Roots returns nodes with no dependencies, sorted.
func (g *Graph) Roots() []string {
	var roots []string
	for id := range g.nodes {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// Leaves returns nodes with no dependents, sorted.
func (g *Graph) Leaves() []string {
	var leaves []string
	for id := range g.nodes {
		if len(g.children[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// Subgraph returns a new graph over the given IDs, keeping only edges whose
// two ends are both included.
func (g *Graph) Subgraph(ids []string) *Graph {
	sub := New()
	included := make(map[string]bool, len(ids))
	for _, id := range ids {
		if node, exists := g.nodes[id]; exists {
			included[id] = true
			sub.Add(node)
		}
	}
	for id := range included {
		for _, child := range g.children[id] {
			if included[child] {
				_ = sub.AddEdge(id, child)
			}
		}
	}
	return sub
}

func contains(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}

func sortedCopy(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}

func sortedIDs(nodes map[string]*core.Node) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedSet(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
