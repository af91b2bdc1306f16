package loader

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// schemaFile is one parsed schema .yml: declared sources plus model and seed
// properties. Unknown top-level keys are rejected; unknown keys inside the
// known blocks are ignored so files written for richer tools still load.
type schemaFile struct {
	Version int         `yaml:"version"`
	Sources []sourceDef `yaml:"sources"`
	Models  []modelDef  `yaml:"models"`
	Seeds   []modelDef  `yaml:"seeds"`
}

type sourceDef struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Database    string        `yaml:"database"`
	Schema      string        `yaml:"schema"`
	Config      nodeConfigDef `yaml:"config"`
	Tables      []tableDef    `yaml:"tables"`
}

type tableDef struct {
	Name        string        `yaml:"name"`
	Identifier  string        `yaml:"identifier"`
	Description string        `yaml:"description"`
	Config      nodeConfigDef `yaml:"config"`
	Columns     []columnDef   `yaml:"columns"`
}

type modelDef struct {
	Name          string        `yaml:"name"`
	Description   string        `yaml:"description"`
	Config        nodeConfigDef `yaml:"config"`
	LatestVersion any           `yaml:"latest_version"`
	Versions      []versionDef  `yaml:"versions"`
	Columns       []columnDef   `yaml:"columns"`
}

type versionDef struct {
	V      any           `yaml:"v"`
	Config nodeConfigDef `yaml:"config"`
}

type columnDef struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	DataTests   []testDef `yaml:"data_tests"`
	// Tests is the legacy spelling of data_tests.
	Tests []testDef `yaml:"tests"`
}

// tests reports the column's test names, either spelling.
func (c columnDef) tests() []testDef {
	if len(c.DataTests) > 0 {
		return c.DataTests
	}
	return c.Tests
}

// testDef is one declared column test. Entries are usually plain strings
// ("unique"); a mapping form ({relationships: {...}}) contributes its key as
// the test name so unsupported kinds fail later with a clear name.
type testDef struct {
	Name string
}

func (t *testDef) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&t.Name)
	case yaml.MappingNode:
		if len(node.Content) > 0 {
			return node.Content[0].Decode(&t.Name)
		}
	}
	return fmt.Errorf("line %d: unsupported test entry", node.Line)
}

// nodeConfigDef is the config block shared by schema entries and
// dbt_project.yml models: settings.
type nodeConfigDef struct {
	Enabled      *bool          `yaml:"enabled"`
	Materialized string         `yaml:"materialized"`
	Alias        string         `yaml:"alias"`
	Schema       string         `yaml:"schema"`
	Database     string         `yaml:"database"`
	Tags         []string       `yaml:"tags"`
	Meta         map[string]any `yaml:"meta"`
}

// IsEnabled reports the effective enabled state (default true).
func (c nodeConfigDef) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// merge returns c overlaid with o: o's set fields win, metas are merged
// key-wise.
func (c nodeConfigDef) merge(o nodeConfigDef) nodeConfigDef {
	out := c
	if o.Enabled != nil {
		out.Enabled = o.Enabled
	}
	if o.Materialized != "" {
		out.Materialized = o.Materialized
	}
	if o.Alias != "" {
		out.Alias = o.Alias
	}
	if o.Schema != "" {
		out.Schema = o.Schema
	}
	if o.Database != "" {
		out.Database = o.Database
	}
	if len(o.Tags) > 0 {
		out.Tags = o.Tags
	}
	if len(o.Meta) > 0 {
		merged := make(map[string]any, len(c.Meta)+len(o.Meta))
		for k, v := range c.Meta {
			merged[k] = v
		}
		for k, v := range o.Meta {
			merged[k] = v
		}
		out.Meta = merged
	}
	return out
}

// knownSchemaKeys are the top-level blocks a schema file may carry.
var knownSchemaKeys = map[string]bool{
	"version": true,
	"sources": true,
	"models":  true,
	"seeds":   true,
}

// ParseSchemaFile reads and parses one schema .yml file.
func ParseSchemaFile(path string) (*schemaFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseSchema(path, content)
}

func parseSchema(path string, content []byte) (*schemaFile, error) {
	// Decode into a map first to reject unknown top-level keys.
	var raw map[string]any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, &SchemaError{File: path, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	fields := make([]string, 0, len(raw))
	for field := range raw {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if !knownSchemaKeys[field] {
			return nil, &UnknownFieldError{File: path, Field: field}
		}
	}

	var schema schemaFile
	if err := yaml.Unmarshal(content, &schema); err != nil {
		return nil, &SchemaError{File: path, Message: fmt.Sprintf("failed to parse: %v", err)}
	}
	return &schema, nil
}

// toNodeConfig converts a schema config block to the core representation.
func (c nodeConfigDef) toNodeConfig() core.NodeConfig {
	return core.NodeConfig{
		Enabled:      c.Enabled,
		Materialized: c.Materialized,
		Tags:         c.Tags,
		Meta:         c.Meta,
	}
}

// formatVersion normalizes a schema version scalar ("v: 2" or "v: beta") to
// its string form.
func formatVersion(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// latestVersion picks the declared latest_version or, absent that, the
// highest declared version. Numeric versions compare numerically, mixed
// sets lexically.
func (m modelDef) latestVersion() string {
	if lv := formatVersion(m.LatestVersion); lv != "" {
		return lv
	}
	var latest string
	for _, v := range m.Versions {
		ver := formatVersion(v.V)
		if latest == "" || versionLess(latest, ver) {
			latest = ver
		}
	}
	return latest
}

func versionLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// SchemaError reports a malformed schema file.
type SchemaError struct {
	File    string
	Message string
}

func (e *SchemaError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// UnknownFieldError reports an unsupported top-level schema key.
type UnknownFieldError struct {
	File  string
	Field string
}

func (e *UnknownFieldError) Error() string {
	msg := fmt.Sprintf("unknown top-level key %q in schema file (supported: models, seeds, sources, version)", e.Field)
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, msg)
	}
	return msg
}
