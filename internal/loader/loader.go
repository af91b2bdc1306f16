// Package loader reads a project from disk into the node set the rest of the
// pipeline works on. Loading walks the root project and every installed
// package, parses schema .yml files and model .sql templates, and produces
// nodes with dbt-shaped unique IDs. Malformed model files become
// parsing_failed nodes so one bad file never hides the rest of the project;
// malformed schema and project files abort the load.
package loader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapdbt/internal/config"
	"github.com/leapstack-labs/leapdbt/internal/template"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// Loader turns project directories into node sets.
type Loader struct {
	defaultDatabase string
	defaultSchema   string
	logger          *slog.Logger
}

// New returns a Loader. Nodes that set no database or schema of their own
// fall back to the given defaults, which come from the active target.
func New(defaultDatabase, defaultSchema string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{
		defaultDatabase: defaultDatabase,
		defaultSchema:   defaultSchema,
		logger:          logger,
	}
}

// Project is the loaded node set plus everything the pipeline needs to know
// about where it came from.
type Project struct {
	// RootDir is the absolute root project directory.
	RootDir string
	// Config is the root project's dbt_project.yml.
	Config *core.ProjectConfig
	// Packages maps package name to its project config, root included.
	Packages map[string]*core.ProjectConfig
	// PackageDirs maps package name to its absolute directory.
	PackageDirs map[string]string
	// Nodes maps unique ID to node, across all packages.
	Nodes map[string]*core.Node
	// MacroDirs maps package name to its existing macro directories.
	MacroDirs map[string][]string
	// ParseErrors collects per-node problems that did not abort the load:
	// template syntax errors, declared versions without files, duplicates.
	ParseErrors []error
}

// InstalledPackages returns the non-root package names, sorted.
func (p *Project) InstalledPackages() []string {
	pkgs := make([]string, 0, len(p.Packages))
	for name := range p.Packages {
		if name != p.Config.Name {
			pkgs = append(pkgs, name)
		}
	}
	sort.Strings(pkgs)
	return pkgs
}

// Load reads the project at projectDir and all packages installed under its
// packages-install-path.
func (l *Loader) Load(projectDir string) (*Project, error) {
	rootDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadProject(rootDir)
	if err != nil {
		return nil, err
	}

	project := &Project{
		RootDir:     rootDir,
		Config:      cfg,
		Packages:    map[string]*core.ProjectConfig{cfg.Name: cfg},
		PackageDirs: map[string]string{cfg.Name: rootDir},
		Nodes:       make(map[string]*core.Node),
		MacroDirs:   make(map[string][]string),
	}
	if err := l.loadPackage(project, rootDir, cfg); err != nil {
		return nil, err
	}

	pkgsDir := filepath.Join(rootDir, cfg.PackagesInstallPath)
	entries, err := os.ReadDir(pkgsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", pkgsDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pkgDir := filepath.Join(pkgsDir, entry.Name())
		if _, err := os.Stat(filepath.Join(pkgDir, config.ProjectFileName)); err != nil {
			l.logger.Debug("skipping package dir without project file", "dir", pkgDir)
			continue
		}
		pcfg, err := config.LoadProject(pkgDir)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", entry.Name(), err)
		}
		if _, exists := project.Packages[pcfg.Name]; exists {
			project.ParseErrors = append(project.ParseErrors,
				fmt.Errorf("package %q installed at %s is already defined; skipping", pcfg.Name, pkgDir))
			continue
		}
		project.Packages[pcfg.Name] = pcfg
		project.PackageDirs[pcfg.Name] = pkgDir
		if err := l.loadPackage(project, pkgDir, pcfg); err != nil {
			return nil, fmt.Errorf("package %s: %w", pcfg.Name, err)
		}
	}

	l.logger.Debug("project loaded",
		"packages", len(project.Packages),
		"nodes", len(project.Nodes),
		"parse_errors", len(project.ParseErrors))
	return project, nil
}

// sqlFile is one model file found under a model path.
type sqlFile struct {
	abs string
	rel string   // package-relative, forward slashes
	dir []string // directories below the model path root, for config lookup
}

// loadPackage loads one package's models, schema files, seeds, and macro
// directories into the project.
func (l *Loader) loadPackage(project *Project, pkgDir string, cfg *core.ProjectConfig) error {
	pkg := cfg.Name

	sqlFiles, schemaPaths, err := collectModelFiles(pkgDir, cfg.ModelPaths)
	if err != nil {
		return err
	}

	modelDefs := make(map[string]modelDef)
	modelDefFile := make(map[string]string)
	seedDefs := make(map[string]modelDef)
	seedDefFile := make(map[string]string)
	for _, rel := range schemaPaths {
		sf, err := ParseSchemaFile(filepath.Join(pkgDir, filepath.FromSlash(rel)))
		if err != nil {
			return err
		}
		for _, src := range sf.Sources {
			l.addSourceNodes(project, pkg, rel, src)
		}
		for _, def := range sf.Models {
			if _, dup := modelDefs[def.Name]; dup {
				project.ParseErrors = append(project.ParseErrors,
					fmt.Errorf("%s: model %q already has properties in %s", rel, def.Name, modelDefFile[def.Name]))
				continue
			}
			modelDefs[def.Name] = def
			modelDefFile[def.Name] = rel
		}
		for _, def := range sf.Seeds {
			if _, dup := seedDefs[def.Name]; dup {
				project.ParseErrors = append(project.ParseErrors,
					fmt.Errorf("%s: seed %q already has properties in %s", rel, def.Name, seedDefFile[def.Name]))
				continue
			}
			seedDefs[def.Name] = def
			seedDefFile[def.Name] = rel
		}
	}

	l.buildModelNodes(project, pkg, cfg, sqlFiles, modelDefs, modelDefFile)
	if err := l.loadSeeds(project, pkgDir, cfg, seedDefs, seedDefFile); err != nil {
		return err
	}

	for _, mp := range cfg.MacroPaths {
		dir := filepath.Join(pkgDir, mp)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			project.MacroDirs[pkg] = append(project.MacroDirs[pkg], dir)
		}
	}
	return nil
}

// collectModelFiles walks the model paths and returns .sql files keyed by
// model name plus the package-relative schema file paths, both in walk order.
func collectModelFiles(pkgDir string, modelPaths []string) (map[string]sqlFile, []string, error) {
	sqlFiles := make(map[string]sqlFile)
	var schemaPaths []string
	for _, mp := range modelPaths {
		root := filepath.Join(pkgDir, mp)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(pkgDir, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			switch filepath.Ext(d.Name()) {
			case ".sql":
				name := strings.TrimSuffix(d.Name(), ".sql")
				if existing, dup := sqlFiles[name]; dup {
					return fmt.Errorf("duplicate model %q: %s and %s", name, existing.rel, rel)
				}
				inRoot, err := filepath.Rel(root, filepath.Dir(path))
				if err != nil {
					return err
				}
				var dirs []string
				if inRoot != "." {
					dirs = strings.Split(filepath.ToSlash(inRoot), "/")
				}
				sqlFiles[name] = sqlFile{abs: path, rel: rel, dir: dirs}
			case ".yml", ".yaml":
				schemaPaths = append(schemaPaths, rel)
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return sqlFiles, schemaPaths, nil
}

// buildModelNodes turns the package's .sql files into model nodes. Versioned
// models claim their files first: version N binds to {name}_v{N}.sql, or to
// {name}.sql while that file is unclaimed. Every remaining file is an
// unversioned model.
func (l *Loader) buildModelNodes(project *Project, pkg string, cfg *core.ProjectConfig, sqlFiles map[string]sqlFile, modelDefs map[string]modelDef, modelDefFile map[string]string) {
	consumed := make(map[string]bool)

	for _, name := range sortedKeys(modelDefs) {
		def := modelDefs[name]
		if len(def.Versions) == 0 {
			continue
		}
		latest := def.latestVersion()
		for _, vd := range def.Versions {
			ver := formatVersion(vd.V)
			key := fmt.Sprintf("%s_v%s", name, ver)
			f, ok := sqlFiles[key]
			if !ok && !consumed[name] {
				f, ok = sqlFiles[name]
				key = name
			}
			if !ok {
				project.ParseErrors = append(project.ParseErrors,
					fmt.Errorf("%s: version %s of model %q has no .sql file (expected %s_v%s.sql)",
						modelDefFile[name], ver, name, name, ver))
				continue
			}
			consumed[key] = true
			node := l.buildModelNode(project, pkg, cfg, f, name, ver, latest, def)
			if node != nil {
				l.buildTestNodes(project, pkg, def, node, modelDefFile[name])
			}
		}
	}

	for _, key := range sortedKeys(sqlFiles) {
		if consumed[key] {
			continue
		}
		def := modelDefs[key]
		if len(def.Versions) > 0 {
			// All versions of this family already claimed other files.
			continue
		}
		node := l.buildModelNode(project, pkg, cfg, sqlFiles[key], key, "", "", def)
		if node != nil {
			l.buildTestNodes(project, pkg, def, node, modelDefFile[key])
		}
	}
}

// buildModelNode parses one model file and registers its node. Template
// errors produce a parsing_failed node and a ParseErrors entry rather than
// aborting the load.
func (l *Loader) buildModelNode(project *Project, pkg string, cfg *core.ProjectConfig, f sqlFile, name, version, latest string, def modelDef) *core.Node {
	content, err := os.ReadFile(f.abs)
	if err != nil {
		project.ParseErrors = append(project.ParseErrors, fmt.Errorf("reading %s: %w", f.rel, err))
		return nil
	}

	merged := projectModelConfig(cfg.Models, pkg, f.dir).merge(def.Config)
	if version != "" {
		for _, vd := range def.Versions {
			if formatVersion(vd.V) == version {
				merged = merged.merge(vd.Config)
				break
			}
		}
	}

	node := &core.Node{
		UniqueID:      core.ModelUniqueID(pkg, name, version),
		Type:          core.NodeTypeModel,
		Name:          name,
		PackageName:   pkg,
		Path:          f.rel,
		Version:       version,
		LatestVersion: latest,
		RawSQL:        string(content),
		Description:   def.Description,
	}

	tpl, parseErr := template.ParseString(string(content), f.rel)
	var decls *Declarations
	if parseErr == nil {
		decls, parseErr = ExtractDeclarations(tpl)
	}
	if parseErr != nil {
		project.ParseErrors = append(project.ParseErrors, parseErr)
		node.Status = core.StatusParsingFailed
		l.finishModelNode(node, merged)
		if !l.addNode(project, node, f.rel) {
			return nil
		}
		return node
	}

	node.Refs = decls.Refs
	node.Sources = decls.Sources
	merged = merged.merge(nodeConfigDef{
		Enabled:      decls.Config.Enabled,
		Materialized: decls.Config.Materialized,
		Tags:         decls.Config.Tags,
		Meta:         decls.Config.Meta,
		Alias:        decls.Alias,
		Schema:       decls.Schema,
		Database:     decls.Database,
	})
	if merged.IsEnabled() {
		node.Status = core.StatusEnabled
	} else {
		node.Status = core.StatusDisabled
	}
	l.finishModelNode(node, merged)
	if !l.addNode(project, node, f.rel) {
		return nil
	}
	return node
}

// finishModelNode applies the merged config and the loader defaults.
func (l *Loader) finishModelNode(node *core.Node, merged nodeConfigDef) {
	node.Config = merged.toNodeConfig()
	if node.Config.Materialized == "" {
		node.Config.Materialized = "view"
	}
	node.Alias = merged.Alias
	node.Database = firstNonEmpty(merged.Database, l.defaultDatabase)
	node.Schema = firstNonEmpty(merged.Schema, l.defaultSchema)
}

// buildTestNodes registers one test node per declared column test. Tests on a
// disabled or unparseable model are disabled with it.
func (l *Loader) buildTestNodes(project *Project, pkg string, def modelDef, modelNode *core.Node, schemaRel string) {
	base := modelNode.Name
	if modelNode.Version != "" {
		base = fmt.Sprintf("%s_v%s", modelNode.Name, modelNode.Version)
	}
	for _, col := range def.Columns {
		for _, td := range col.tests() {
			testName := fmt.Sprintf("%s_%s_%s", td.Name, base, col.Name)
			status := core.StatusEnabled
			if modelNode.Status != core.StatusEnabled {
				status = core.StatusDisabled
			}
			node := &core.Node{
				UniqueID:    core.TestUniqueID(pkg, testName),
				Type:        core.NodeTypeTest,
				Name:        testName,
				PackageName: pkg,
				Path:        schemaRel,
				Database:    modelNode.Database,
				Schema:      modelNode.Schema,
				Status:      status,
				Refs:        []core.RefCall{{Name: modelNode.Name, Version: modelNode.Version}},
				Test: &core.TestSpec{
					Kind:   td.Name,
					Column: col.Name,
					Model:  modelNode.Name,
				},
			}
			l.addNode(project, node, schemaRel)
		}
	}
}

// addSourceNodes registers one node per table of a source block.
func (l *Loader) addSourceNodes(project *Project, pkg, schemaRel string, src sourceDef) {
	for _, tbl := range src.Tables {
		merged := src.Config.merge(tbl.Config)
		status := core.StatusEnabled
		if !merged.IsEnabled() {
			status = core.StatusDisabled
		}
		node := &core.Node{
			UniqueID:    core.SourceUniqueID(pkg, src.Name, tbl.Name),
			Type:        core.NodeTypeSource,
			Name:        tbl.Name,
			SourceName:  src.Name,
			PackageName: pkg,
			Path:        schemaRel,
			Alias:       firstNonEmpty(tbl.Identifier, merged.Alias),
			Database:    firstNonEmpty(merged.Database, src.Database, l.defaultDatabase),
			Schema:      firstNonEmpty(merged.Schema, src.Schema, src.Name),
			Status:      status,
			Config:      merged.toNodeConfig(),
			Description: tbl.Description,
		}
		l.addNode(project, node, schemaRel)
	}
}

// loadSeeds registers one seed node per .csv file under the seed paths.
func (l *Loader) loadSeeds(project *Project, pkgDir string, cfg *core.ProjectConfig, seedDefs map[string]modelDef, seedDefFile map[string]string) error {
	pkg := cfg.Name
	for _, sp := range cfg.SeedPaths {
		root := filepath.Join(pkgDir, sp)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || filepath.Ext(d.Name()) != ".csv" {
				return nil
			}
			rel, err := filepath.Rel(pkgDir, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			name := strings.TrimSuffix(d.Name(), ".csv")
			def := seedDefs[name]
			status := core.StatusEnabled
			if !def.Config.IsEnabled() {
				status = core.StatusDisabled
			}
			node := &core.Node{
				UniqueID:    core.SeedUniqueID(pkg, name),
				Type:        core.NodeTypeSeed,
				Name:        name,
				PackageName: pkg,
				Path:        rel,
				Alias:       def.Config.Alias,
				Database:    firstNonEmpty(def.Config.Database, l.defaultDatabase),
				Schema:      firstNonEmpty(def.Config.Schema, l.defaultSchema),
				Status:      status,
				Config:      def.Config.toNodeConfig(),
				Description: def.Description,
			}
			if l.addNode(project, node, rel) {
				l.buildTestNodes(project, pkg, def, node, seedDefFile[name])
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// addNode registers a node, recording a ParseErrors entry on unique-ID
// collisions and keeping the first occurrence. It reports whether the node
// was registered.
func (l *Loader) addNode(project *Project, node *core.Node, rel string) bool {
	if existing, dup := project.Nodes[node.UniqueID]; dup {
		project.ParseErrors = append(project.ParseErrors,
			fmt.Errorf("duplicate node %s: declared in %s and %s", node.UniqueID, existing.Path, rel))
		return false
	}
	project.Nodes[node.UniqueID] = node
	return true
}

// projectModelConfig resolves the dbt_project.yml models block for one model:
// settings ("+key") cascade from the package level down the model's directory
// chain, deeper levels winning.
func projectModelConfig(models map[string]any, pkg string, dirs []string) nodeConfigDef {
	var out nodeConfigDef
	level, ok := models[pkg].(map[string]any)
	if !ok {
		return out
	}
	out = out.merge(plusConfig(level))
	for _, dir := range dirs {
		next, ok := level[dir].(map[string]any)
		if !ok {
			break
		}
		out = out.merge(plusConfig(next))
		level = next
	}
	return out
}

// plusConfig reads the "+key" settings at one level of the models block.
func plusConfig(level map[string]any) nodeConfigDef {
	var cfg nodeConfigDef
	for key, value := range level {
		if !strings.HasPrefix(key, "+") {
			continue
		}
		switch strings.TrimPrefix(key, "+") {
		case "enabled":
			if b, ok := value.(bool); ok {
				cfg.Enabled = &b
			}
		case "materialized":
			if s, ok := value.(string); ok {
				cfg.Materialized = s
			}
		case "alias":
			if s, ok := value.(string); ok {
				cfg.Alias = s
			}
		case "schema":
			if s, ok := value.(string); ok {
				cfg.Schema = s
			}
		case "database":
			if s, ok := value.(string); ok {
				cfg.Database = s
			}
		case "tags":
			cfg.Tags = toStringSlice(value)
		case "meta":
			if m, ok := value.(map[string]any); ok {
				cfg.Meta = m
			}
		}
	}
	return cfg
}

func toStringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
