package config

import (
	"github.com/leapstack-labs/leapdbt/pkg/core"
	"github.com/leapstack-labs/leapdbt/pkg/dialect"
)

// File names recognized in a project tree.
const (
	ProjectFileName  = "dbt_project.yml"
	ProfilesFileName = "profiles.yml"
)

// DefaultStateFile is where run history lands unless overridden.
const DefaultStateFile = "leapdbt.db"

// DefaultTargetName selects the profile output when neither the CLI nor the
// profile names one.
const DefaultTargetName = "default"

// maxUpwardSearchLevels limits how far up the tree the project-file search
// walks.
const maxUpwardSearchLevels = 10

// defaults feeds the confmap provider: the lowest-precedence settings layer.
func defaults() map[string]any {
	return map[string]any{
		"project_dir":   "",
		"profiles_dir":  "",
		"target":        "",
		"threads":       0,
		"state_path":    DefaultStateFile,
		"verbose":       false,
		"vars_override": "",
	}
}

// DefaultSchemaForType returns the schema a profile output falls back to.
// Unknown types get "main".
func DefaultSchemaForType(adapterType string) string {
	if d, ok := dialect.Get(adapterType); ok && d.DefaultSchema != "" {
		return d.DefaultSchema
	}
	return "main"
}

// ApplyTargetDefaults fills type-derived defaults on a profile output.
func ApplyTargetDefaults(t *core.TargetConfig) {
	if t == nil {
		return
	}
	if t.Schema == "" {
		t.Schema = DefaultSchemaForType(t.Type)
	}
	if t.Type == "postgres" && t.Port == 0 {
		t.Port = 5432
	}
}
