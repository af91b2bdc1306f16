// Package config resolves one invocation's configuration: CLI flags over
// LEAPDBT_ environment variables over dbt_project.yml over built-in
// defaults, plus the warehouse connection selected from profiles.yml.
package config

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// Settings are the flag- and environment-addressable knobs.
type Settings struct {
	ProjectDir  string `koanf:"project_dir"`
	ProfilesDir string `koanf:"profiles_dir"`
	// Target overrides the profile's default output name.
	Target string `koanf:"target"`
	// Threads overrides the selected output's thread count when positive.
	Threads   int    `koanf:"threads"`
	StatePath string `koanf:"state_path"`
	Verbose   bool   `koanf:"verbose"`
	// VarsOverride is the raw --vars payload (inline YAML mapping).
	VarsOverride string `koanf:"vars_override"`
}

// Config is the fully resolved configuration for one invocation.
type Config struct {
	Settings

	// Project is the parsed dbt_project.yml with defaults applied.
	Project core.ProjectConfig
	// TargetName is the selected output's name within the profile.
	TargetName string
	// Output is the selected warehouse connection, env-expanded.
	Output core.TargetConfig
	// EffectiveVars are the project vars overlaid with --vars.
	EffectiveVars map[string]any
}

// MissingProjectError reports that no dbt_project.yml was found.
type MissingProjectError struct {
	Dir string
}

func (e *MissingProjectError) Error() string {
	return fmt.Sprintf("no %s found in %s or any parent directory", ProjectFileName, e.Dir)
}

// ProfileNotFoundError reports that profiles.yml has no entry for the
// profile the project names.
type ProfileNotFoundError struct {
	Profile   string
	Path      string
	Available []string
}

func (e *ProfileNotFoundError) Error() string {
	return fmt.Sprintf("profile %q not found in %s (available: %s)",
		e.Profile, e.Path, strings.Join(e.Available, ", "))
}

// TargetNotFoundError reports that the selected profile defines no output
// under the requested target name.
type TargetNotFoundError struct {
	Target    string
	Profile   string
	Available []string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("target %q not defined for profile %q (available: %s)",
		e.Target, e.Profile, strings.Join(e.Available, ", "))
}
