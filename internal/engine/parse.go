package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/leapstack-labs/leapdbt/internal/dag"
	"github.com/leapstack-labs/leapdbt/internal/deps"
	"github.com/leapstack-labs/leapdbt/internal/loader"
	"github.com/leapstack-labs/leapdbt/internal/macro"
	"github.com/leapstack-labs/leapdbt/internal/refs"
	starctx "github.com/leapstack-labs/leapdbt/internal/starlark"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// ParseResult summarizes one Parse pass.
type ParseResult struct {
	Models   int
	Seeds    int
	Tests    int
	Sources  int
	Disabled int
	Packages int

	// Errors are per-node problems that did not abort the parse; the
	// affected nodes are held back as parsing_failed rather than enabled.
	Errors []error

	Duration time.Duration
}

// Parse loads the project tree, resolves refs and sources into dependency
// edges, prepares the macro environment, and builds the execution graph.
// Calling it again rereads everything from disk; the engine keeps nothing
// from the previous pass.
func (e *Engine) Parse() (*ParseResult, error) {
	start := time.Now()

	ldr := loader.New(e.cfg.Target.DatabaseName(), e.cfg.Target.Schema, e.logger)
	project, err := ldr.Load(e.cfg.ProjectDir)
	if err != nil {
		return nil, err
	}

	enabled := make(map[string]*core.Node)
	disabled := make(map[string]*core.Node)
	for id, node := range project.Nodes {
		if node.Status == core.StatusEnabled {
			enabled[id] = node
		} else {
			disabled[id] = node
		}
	}

	reg, err := refs.FromNodes(project.Config.Name, e.cfg.Target.Type, project.Nodes)
	if err != nil {
		return nil, err
	}

	if err := refs.ResolveDependencies(e.logger, enabled, disabled, reg); err != nil {
		return nil, err
	}

	env, api, err := e.buildMacroEnvironment(project, reg)
	if err != nil {
		return nil, err
	}

	graph, err := dag.FromNodes(enabled)
	if err != nil {
		return nil, err
	}

	e.project = project
	e.registry = reg
	e.graph = graph
	e.env = env
	e.api = api
	e.nodes = enabled
	e.disabled = disabled

	result := &ParseResult{
		Disabled: len(disabled),
		Packages: len(project.Packages),
		Errors:   project.ParseErrors,
		Duration: time.Since(start),
	}
	for _, node := range enabled {
		switch node.Type {
		case core.NodeTypeModel:
			result.Models++
		case core.NodeTypeSeed:
			result.Seeds++
		case core.NodeTypeTest:
			result.Tests++
		case core.NodeTypeSource:
			result.Sources++
		}
	}

	e.logger.Info("project parsed",
		slog.Int("models", result.Models),
		slog.Int("seeds", result.Seeds),
		slog.Int("tests", result.Tests),
		slog.Int("sources", result.Sources),
		slog.Int("disabled", result.Disabled),
		slog.Duration("duration", result.Duration))

	return result, nil
}

// buildMacroEnvironment assembles the Starlark side of the pipeline:
// builtin macros, each package's .star files, the dispatch search order
// from dbt_project.yml, and the installed-package set.
func (e *Engine) buildMacroEnvironment(project *loader.Project, reg *refs.Registry) (*macro.Environment, *starctx.API, error) {
	opts := []macro.Option{macro.WithLogger(e.logger)}
	if order := dispatchOrder(project.Config); len(order) > 0 {
		opts = append(opts, macro.WithDispatchOrder(order))
	}

	env, err := macro.NewEnvironment(e.cfg.Target.Type, opts...)
	if err != nil {
		return nil, nil, err
	}

	target := starctx.TargetInfoFromConfig(e.cfg.TargetName, &e.cfg.Target)
	vars, err := starctx.VarsToStarlark(e.cfg.Vars)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid vars: %w", err)
	}
	api := starctx.NewAPI(env, reg, target, vars, e.logger)

	if err := macro.LoadBuiltins(env, api.Predeclared()); err != nil {
		return nil, nil, fmt.Errorf("failed to load builtin macros: %w", err)
	}

	pkgs := make([]string, 0, len(project.MacroDirs))
	for pkg := range project.MacroDirs {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	for _, pkg := range pkgs {
		for _, dir := range project.MacroDirs[pkg] {
			exports, err := macro.NewLoader(dir, api.Predeclared()).LoadPackage()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load macros for package %s: %w", pkg, err)
			}
			env.AddPackage(pkg, exports)
		}
	}

	set := deps.NewSet(project.Config.Name, project.InstalledPackages())
	env.SetDependencies(set)
	e.logger.Debug("macro environment ready", slog.Any("packages", set.Names()))

	return env, api, nil
}

// dispatchOrder converts the project's dispatch config into the
// per-namespace search order the macro environment consumes.
func dispatchOrder(cfg *core.ProjectConfig) map[string][]string {
	if len(cfg.Dispatch) == 0 {
		return nil
	}
	order := make(map[string][]string, len(cfg.Dispatch))
	for _, d := range cfg.Dispatch {
		order[d.MacroNamespace] = d.SearchOrder
	}
	return order
}

// sortedNodeIDs returns map keys in lexical order, for deterministic
// iteration over node sets.
func sortedNodeIDs(nodes map[string]*core.Node) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
