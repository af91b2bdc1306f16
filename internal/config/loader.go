package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapdbt/pkg/core"
	"github.com/leapstack-labs/leapdbt/pkg/dialect"
)

// envPrefix namespaces the environment layer: LEAPDBT_TARGET=prod sets the
// "target" key.
const envPrefix = "LEAPDBT_"

// Load resolves the invocation's configuration.
// Precedence (highest to lowest): flags > env vars > dbt_project.yml >
// defaults. The warehouse output is then selected from profiles.yml and its
// credential fields are ${VAR}-expanded.
func Load(flags *pflag.FlagSet) (*Config, error) {
	projectDir, err := resolveProjectDir(flags)
	if err != nil {
		return nil, err
	}
	if !projectFileExistsIn(projectDir) {
		return nil, &MissingProjectError{Dir: projectDir}
	}

	k := koanf.New(".")

	// 1. Defaults.
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Project file. Its settings-shaped keys (profile) join the layering;
	// the rest unmarshals into Config.Project below.
	projectFile := filepath.Join(projectDir, ProjectFileName)
	if err := k.Load(file.Provider(projectFile), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", projectFile, err)
	}

	// 3. Environment variables: LEAPDBT_STATE_PATH -> state_path.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, highest priority. Only explicitly set flags are loaded;
	// kebab-case flag names map to snake_case keys. --vars is renamed so the
	// raw payload cannot collide with the project's vars mapping.
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if key == "vars" {
				return "vars_override", posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg.Settings); err != nil {
		return nil, fmt.Errorf("unable to decode settings: %w", err)
	}
	if err := k.Unmarshal("", &cfg.Project); err != nil {
		return nil, fmt.Errorf("unable to decode %s: %w", projectFile, err)
	}
	cfg.Project.ApplyDefaults()
	if cfg.Project.Name == "" {
		return nil, fmt.Errorf("%s: project name is required", projectFile)
	}

	cfg.ProjectDir = projectDir
	cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, projectDir)

	// Select the warehouse output.
	cfg.ProfilesDir = resolveProfilesDir(cfg.ProfilesDir, projectDir)
	profilesPath := filepath.Join(cfg.ProfilesDir, ProfilesFileName)
	profiles, err := LoadProfiles(profilesPath)
	if err != nil {
		return nil, err
	}
	profile, ok := profiles[cfg.Project.Profile]
	if !ok {
		return nil, &ProfileNotFoundError{
			Profile:   cfg.Project.Profile,
			Path:      profilesPath,
			Available: sortedKeys(profiles),
		}
	}

	targetName := cfg.Target
	if targetName == "" {
		targetName = profile.Target
	}
	if targetName == "" {
		targetName = DefaultTargetName
	}
	output, ok := profile.Outputs[targetName]
	if !ok {
		return nil, &TargetNotFoundError{
			Target:    targetName,
			Profile:   cfg.Project.Profile,
			Available: sortedKeys(profile.Outputs),
		}
	}

	expandOutputEnvVars(&output)
	ApplyTargetDefaults(&output)
	if cfg.Threads > 0 {
		output.Threads = cfg.Threads
	}
	if output.Path != "" && output.Path != ":memory:" {
		output.Path = resolvePathRelativeTo(output.Path, projectDir)
	}
	if _, ok := dialect.Get(output.Type); !ok {
		return nil, fmt.Errorf("target %q: unknown adapter type %q (available: %s)",
			targetName, output.Type, strings.Join(dialect.List(), ", "))
	}
	cfg.TargetName = targetName
	cfg.Output = output

	// Project vars overlaid with the --vars payload.
	cfg.EffectiveVars = make(map[string]any, len(cfg.Project.Vars))
	for name, value := range cfg.Project.Vars {
		cfg.EffectiveVars[name] = value
	}
	if cfg.VarsOverride != "" {
		overrides, err := ParseVars(cfg.VarsOverride)
		if err != nil {
			return nil, fmt.Errorf("parsing --vars: %w", err)
		}
		for name, value := range overrides {
			cfg.EffectiveVars[name] = value
		}
	}

	return &cfg, nil
}

// LoadProject parses one dbt_project.yml and applies defaults. Installed
// packages carry their own project file; the loader calls this per package.
func LoadProject(dir string) (*core.ProjectConfig, error) {
	path := filepath.Join(dir, ProjectFileName)
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	var project core.ProjectConfig
	if err := k.Unmarshal("", &project); err != nil {
		return nil, fmt.Errorf("unable to decode %s: %w", path, err)
	}
	project.ApplyDefaults()
	if project.Name == "" {
		return nil, fmt.Errorf("%s: project name is required", path)
	}
	return &project, nil
}

// LoadProfiles parses profiles.yml: a mapping of profile name to outputs.
// The reserved top-level "config" block is not a profile and is dropped.
func LoadProfiles(path string) (map[string]core.ProfileConfig, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	profiles := make(map[string]core.ProfileConfig)
	if err := k.Unmarshal("", &profiles); err != nil {
		return nil, fmt.Errorf("unable to decode %s: %w", path, err)
	}
	delete(profiles, "config")
	return profiles, nil
}

// ParseVars parses a --vars payload: an inline YAML mapping such as
// "start_date: 2024-01-01" or "{start_date: 2024-01-01, retries: 3}".
func ParseVars(s string) (map[string]any, error) {
	vars := make(map[string]any)
	if err := yamlv3.Unmarshal([]byte(s), &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// resolveProjectDir determines the project root.
// Priority: --project-dir flag > LEAPDBT_PROJECT_DIR > upward search from
// the working directory.
func resolveProjectDir(flags *pflag.FlagSet) (string, error) {
	if flags != nil && flags.Changed("project-dir") {
		if v, _ := flags.GetString("project-dir"); v != "" {
			return filepath.Abs(v)
		}
	}
	if v := os.Getenv(envPrefix + "PROJECT_DIR"); v != "" {
		return filepath.Abs(v)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if dir := findProjectDirUpward(cwd); dir != "" {
		return dir, nil
	}
	return "", &MissingProjectError{Dir: cwd}
}

// resolveProfilesDir picks where profiles.yml lives.
// Priority: explicit setting > project directory (when it holds a
// profiles.yml) > ~/.dbt.
func resolveProfilesDir(explicit, projectDir string) string {
	if explicit != "" {
		if abs, err := filepath.Abs(explicit); err == nil {
			return abs
		}
		return filepath.Clean(explicit)
	}
	if _, err := os.Stat(filepath.Join(projectDir, ProfilesFileName)); err == nil {
		return projectDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return projectDir
	}
	return filepath.Join(home, ".dbt")
}

func projectFileExistsIn(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ProjectFileName))
	return err == nil
}

// findProjectDirUpward searches upward from startDir for a dbt_project.yml.
// Returns empty string if not found within maxUpwardSearchLevels.
func findProjectDirUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if projectFileExistsIn(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path against baseDir unless it is empty
// or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
// Unset variables are left as-is so the error surfaces at connect time with
// the literal still visible.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}

// expandOutputEnvVars expands environment variables in connection fields.
func expandOutputEnvVars(t *core.TargetConfig) {
	if t == nil {
		return
	}
	t.Host = expandEnvVars(t.Host)
	t.User = expandEnvVars(t.User)
	t.Password = expandEnvVars(t.Password)
	t.DBName = expandEnvVars(t.DBName)
	t.Path = expandEnvVars(t.Path)
	t.Schema = expandEnvVars(t.Schema)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
