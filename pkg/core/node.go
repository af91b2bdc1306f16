package core

import "fmt"

// NodeType discriminates the kinds of nodes in the build graph.
type NodeType string

// Node type constants.
const (
	NodeTypeModel  NodeType = "model"
	NodeTypeSource NodeType = "source"
	NodeTypeTest   NodeType = "test"
	NodeTypeSeed   NodeType = "seed"
)

// ModelStatus tracks whether a node participates in the build.
type ModelStatus string

// Model status constants. A node is disabled through config or by depending
// on something disabled (tests only); parsing_failed marks nodes whose file
// could not be parsed but whose identity is still known.
const (
	StatusEnabled       ModelStatus = "enabled"
	StatusDisabled      ModelStatus = "disabled"
	StatusParsingFailed ModelStatus = "parsing_failed"
)

// Node represents one unit of the build graph: a model, a declared source
// table, a test, or a seed.
type Node struct {
	// UniqueID identifies the node across packages, e.g.
	// "model.analytics.stg_orders" or "source.analytics.raw.orders".
	UniqueID string
	// Type is the node kind.
	Type NodeType
	// Name is the resource name (filename without extension for models, the
	// table name for sources).
	Name string
	// SourceName groups source tables; set only on source nodes.
	SourceName string
	// PackageName is the owning project or installed package.
	PackageName string
	// Path is the file path relative to the package root; empty for nodes
	// declared purely in schema files.
	Path string
	// Database and Schema locate the node's relation in the warehouse.
	Database string
	Schema   string
	// Alias overrides the relation identifier; Name is used when empty.
	Alias string
	// Version is set for versioned models ("2" for v2), empty otherwise.
	Version string
	// LatestVersion is the declared latest version of the model family.
	LatestVersion string
	// Status records whether the node participates in the build.
	Status ModelStatus
	// Config carries per-node settings from config() calls and schema files.
	Config NodeConfig
	// RawSQL is the unrendered template body for models and tests.
	RawSQL string
	// Refs and Sources are the dependency declarations extracted at parse
	// time, in source order.
	Refs    []RefCall
	Sources []SourceCall
	// DependsOn lists resolved dependency unique IDs, filled by the
	// dependency-resolution pass.
	DependsOn []string
	// Description is the documented description from schema files.
	Description string
	// Tested column and test kind for test nodes, nil otherwise.
	Test *TestSpec
}

// NodeConfig carries per-node build settings.
type NodeConfig struct {
	// Enabled is nil when unset; nodes default to enabled.
	Enabled *bool `koanf:"enabled"`
	// Materialized selects the materialization: view, table, ephemeral.
	Materialized string `koanf:"materialized"`
	// Tags label the node for selection.
	Tags []string `koanf:"tags"`
	// Meta carries custom extension fields.
	Meta map[string]any `koanf:"meta"`
}

// IsEnabled reports the effective enabled state (default true).
func (c NodeConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RefCall is one ref() occurrence in a node's SQL.
type RefCall struct {
	// Package qualifies the target package; empty means search.
	Package string
	// Name is the referenced model name.
	Name string
	// Version pins a model version; empty means latest.
	Version string
}

// SourceCall is one source() occurrence in a node's SQL.
type SourceCall struct {
	Source string
	Table  string
}

// TestSpec describes a schema test attached to a model column.
type TestSpec struct {
	// Kind is the generic test name: "unique" or "not_null".
	Kind string
	// Column under test.
	Column string
	// Model is the tested model's name; the test refs it.
	Model string
}

// IsVersioned reports whether the node is a versioned model.
func (n *Node) IsVersioned() bool {
	return n.Version != ""
}

// IsLatestVersion reports whether this node is the newest version of its
// model family. Unversioned models are trivially latest.
func (n *Node) IsLatestVersion() bool {
	return n.Version == "" || n.Version == n.LatestVersion
}

// Identifier returns the relation identifier: the alias when set, otherwise
// the name, suffixed with _v{version} for versioned models.
func (n *Node) Identifier() string {
	if n.Alias != "" {
		return n.Alias
	}
	if n.Version != "" {
		return fmt.Sprintf("%s_v%s", n.Name, n.Version)
	}
	return n.Name
}

// SearchName returns the name used for ref lookup keys: "{name}" for
// unversioned nodes, "{name}.v{version}" for versioned ones.
func (n *Node) SearchName() string {
	if n.Version == "" {
		return n.Name
	}
	return fmt.Sprintf("%s.v%s", n.Name, n.Version)
}

// ModelUniqueID builds the unique ID for a model node.
func ModelUniqueID(pkg, name, version string) string {
	if version != "" {
		return fmt.Sprintf("model.%s.%s.v%s", pkg, name, version)
	}
	return fmt.Sprintf("model.%s.%s", pkg, name)
}

// SourceUniqueID builds the unique ID for a source table node.
func SourceUniqueID(pkg, source, table string) string {
	return fmt.Sprintf("source.%s.%s.%s", pkg, source, table)
}

// TestUniqueID builds the unique ID for a test node.
func TestUniqueID(pkg, name string) string {
	return fmt.Sprintf("test.%s.%s", pkg, name)
}

// SeedUniqueID builds the unique ID for a seed node.
func SeedUniqueID(pkg, name string) string {
	return fmt.Sprintf("seed.%s.%s", pkg, name)
}
