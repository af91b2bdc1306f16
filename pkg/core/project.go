package core

import (
	"path/filepath"
	"strings"
)

// ProjectConfig mirrors dbt_project.yml. Path-list keys use the kebab-case
// spelling the file format defines; dispatch entries use snake_case, same as
// the format.
type ProjectConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
	Profile string `koanf:"profile"`

	ModelPaths []string `koanf:"model-paths"`
	MacroPaths []string `koanf:"macro-paths"`
	SeedPaths  []string `koanf:"seed-paths"`
	TestPaths  []string `koanf:"test-paths"`

	// TargetPath receives compiled SQL; PackagesInstallPath holds installed
	// dependency packages.
	TargetPath          string `koanf:"target-path"`
	PackagesInstallPath string `koanf:"packages-install-path"`

	// Vars are project variables exposed to templates through var().
	Vars map[string]any `koanf:"vars"`

	// Dispatch overrides macro-namespace search order per namespace.
	Dispatch []DispatchConfig `koanf:"dispatch"`

	// Models holds per-package, per-directory config defaults keyed the way
	// the file nests them (models.<package>.<dir>...).
	Models map[string]any `koanf:"models"`
}

// DispatchConfig replaces the default search order for one macro namespace.
// When present, the listed packages are searched in order and nothing else
// is consulted.
type DispatchConfig struct {
	MacroNamespace string   `koanf:"macro_namespace"`
	SearchOrder    []string `koanf:"search_order"`
}

// ApplyDefaults fills zero-valued fields with the standard project layout.
func (c *ProjectConfig) ApplyDefaults() {
	if len(c.ModelPaths) == 0 {
		c.ModelPaths = []string{"models"}
	}
	if len(c.MacroPaths) == 0 {
		c.MacroPaths = []string{"macros"}
	}
	if len(c.SeedPaths) == 0 {
		c.SeedPaths = []string{"seeds"}
	}
	if len(c.TestPaths) == 0 {
		c.TestPaths = []string{"tests"}
	}
	if c.TargetPath == "" {
		c.TargetPath = "target"
	}
	if c.PackagesInstallPath == "" {
		c.PackagesInstallPath = "dbt_packages"
	}
	if c.Profile == "" {
		c.Profile = c.Name
	}
}

// ProfileConfig is one profile from profiles.yml: a set of named outputs and
// the default target among them.
type ProfileConfig struct {
	Target  string                  `koanf:"target"`
	Outputs map[string]TargetConfig `koanf:"outputs"`
}

// TargetConfig holds one warehouse connection from profiles.yml.
type TargetConfig struct {
	Type string `koanf:"type"` // duckdb, postgres, ...

	// File-based databases.
	Path string `koanf:"path"`

	// Network databases.
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	DBName   string `koanf:"dbname"`

	// Common.
	Schema  string `koanf:"schema"`
	Threads int    `koanf:"threads"`

	// Additional driver-specific options.
	Options map[string]string `koanf:"options"`
}

// EffectiveThreads returns the worker count, defaulting to 1.
func (t TargetConfig) EffectiveThreads() int {
	if t.Threads < 1 {
		return 1
	}
	return t.Threads
}

// DatabaseName returns the database name relations and templates see. Named
// databases use dbname; file-based targets take the file's stem, and
// in-memory duckdb databases are called "memory".
func (t TargetConfig) DatabaseName() string {
	if t.DBName != "" {
		return t.DBName
	}
	switch t.Path {
	case "":
		return ""
	case ":memory:":
		return "memory"
	}
	base := filepath.Base(t.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
