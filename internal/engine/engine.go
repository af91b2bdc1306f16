// Package engine orchestrates the build pipeline. It loads a project into
// a node graph, renders model templates through the Starlark macro
// environment, and materializes the results through a warehouse adapter,
// recording run history in the state store along the way.
//
// The engine owns no CLI concerns: callers construct a Config from the
// project and profile files and drive Parse, Compile, Run, Test, and Seed
// directly.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/leapdbt/internal/dag"
	"github.com/leapstack-labs/leapdbt/internal/loader"
	"github.com/leapstack-labs/leapdbt/internal/macro"
	"github.com/leapstack-labs/leapdbt/internal/refs"
	"github.com/leapstack-labs/leapdbt/internal/relation"
	starctx "github.com/leapstack-labs/leapdbt/internal/starlark"
	"github.com/leapstack-labs/leapdbt/internal/state"
	"github.com/leapstack-labs/leapdbt/pkg/adapter"
	"github.com/leapstack-labs/leapdbt/pkg/core"
	"github.com/leapstack-labs/leapdbt/pkg/dialect"
)

// Config holds everything the engine needs for one project/target pair.
type Config struct {
	// ProjectDir is the directory containing dbt_project.yml.
	ProjectDir string

	// Target is the warehouse connection selected from profiles.yml.
	Target core.TargetConfig

	// TargetName is the name of the selected output, e.g. "dev".
	TargetName string

	// Vars are the effective template variables: project vars with
	// command-line overrides already applied.
	Vars map[string]any

	// StatePath is the path of the run-history database.
	StatePath string

	// Logger receives structured progress output. Nil discards.
	Logger *slog.Logger
}

// Engine coordinates parsing, compilation, and execution for one project.
// It is not safe for concurrent use; the watch loop serializes cycles.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	store state.Store

	// The warehouse connection is established lazily so that parse and
	// compile work without a reachable database.
	db          adapter.Adapter
	dbConnected bool
	dbMu        sync.Mutex

	dialect *dialect.Dialect

	// Populated by Parse.
	project  *loader.Project
	registry *refs.Registry
	graph    *dag.Graph
	env      *macro.Environment
	api      *starctx.API
	nodes    map[string]*core.Node
	disabled map[string]*core.Node
}

// New creates an engine and opens the run-history store. The warehouse
// connection is deferred until an operation needs one.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d, ok := dialect.Get(cfg.Target.Type)
	if !ok {
		return nil, &relation.UnknownDialectError{Name: cfg.Target.Type, Available: dialect.List()}
	}

	logger.Debug("initializing engine",
		slog.String("project_dir", cfg.ProjectDir),
		slog.String("target", cfg.TargetName),
		slog.String("adapter_type", cfg.Target.Type))

	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate state store: %w", err)
	}

	return &Engine{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		dialect: d,
	}, nil
}

// ensureConnected establishes the warehouse connection on first use.
func (e *Engine) ensureConnected(ctx context.Context) error {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()

	if e.dbConnected {
		return nil
	}

	e.logger.Debug("connecting to warehouse", slog.String("adapter_type", e.cfg.Target.Type))

	db, err := adapter.NewAdapter(e.cfg.Target, e.logger)
	if err != nil {
		return err
	}
	if err := db.Connect(ctx, e.cfg.Target); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", e.cfg.Target.Type, err)
	}

	e.db = db
	e.dbConnected = true
	return nil
}

// requireParsed guards operations that need a parsed project.
func (e *Engine) requireParsed() error {
	if e.graph == nil {
		return fmt.Errorf("project not parsed: call Parse first")
	}
	return nil
}

// Close releases the warehouse connection and the state store.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")

	var errs []error
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing engine: %v", errs)
	}
	return nil
}

// Graph returns the dependency graph over enabled nodes. Nil before Parse.
func (e *Engine) Graph() *dag.Graph { return e.graph }

// Project returns the loaded project. Nil before Parse.
func (e *Engine) Project() *loader.Project { return e.project }

// StateStore exposes the run-history store for reporting commands.
func (e *Engine) StateStore() state.Store { return e.store }

// Nodes returns the enabled nodes keyed by unique ID. Nil before Parse.
func (e *Engine) Nodes() map[string]*core.Node { return e.nodes }

// DisabledNodes returns the nodes excluded from the build, keyed by unique
// ID. Nil before Parse.
func (e *Engine) DisabledNodes() map[string]*core.Node { return e.disabled }
