package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/leapstack-labs/leapdbt/internal/relation"
	"github.com/leapstack-labs/leapdbt/internal/state"
	"github.com/leapstack-labs/leapdbt/pkg/cancel"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// Seed loads every enabled seed CSV into the warehouse, replacing the
// table when it already exists.
func (e *Engine) Seed(ctx context.Context, token cancel.Token) (*RunResult, error) {
	if err := e.requireParsed(); err != nil {
		return nil, err
	}
	if err := e.ensureConnected(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	run, err := e.store.CreateRun(e.cfg.TargetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	result := &RunResult{RunID: run.ID}
	var seedErrs []error
	cancelled := false

	for _, id := range sortedNodeIDs(e.nodes) {
		node := e.nodes[id]
		if node.Type != core.NodeTypeSeed {
			continue
		}

		if cancelled || token.IsCancelled() || ctx.Err() != nil {
			cancelled = true
			e.recordSkip(run.ID, node, "run cancelled", result)
			continue
		}

		res := e.loadSeed(ctx, run.ID, node)
		result.Results = append(result.Results, res)
		if res.Status == state.NodeRunStatusFailed {
			seedErrs = append(seedErrs, fmt.Errorf("%s: %s", node.UniqueID, res.Message))
		}
	}

	e.completeRun(run.ID, cancelled, len(seedErrs), "seed")
	result.Duration = time.Since(start)

	e.logger.Info("seeds loaded",
		slog.String("run_id", run.ID),
		slog.Int("seeds", len(result.Results)),
		slog.Duration("duration", result.Duration))

	if cancelled {
		return result, cancel.ErrCancelled
	}
	return result, errors.Join(seedErrs...)
}

// loadSeed loads one CSV through the adapter and records the node run.
func (e *Engine) loadSeed(ctx context.Context, runID string, node *core.Node) NodeResult {
	nodeRun := &state.NodeRun{RunID: runID, NodeUniqueID: node.UniqueID}
	_ = e.store.RecordNodeRun(nodeRun)

	start := time.Now()
	rows, err := e.loadSeedCSV(ctx, node)
	duration := time.Since(start)

	if err != nil {
		_ = e.store.CompleteNodeRun(nodeRun.ID, state.NodeRunStatusFailed, 0, err.Error())
		return NodeResult{
			UniqueID: node.UniqueID,
			Status:   state.NodeRunStatusFailed,
			Message:  err.Error(),
			Duration: duration,
		}
	}

	_ = e.store.CompleteNodeRun(nodeRun.ID, state.NodeRunStatusSuccess, rows, "")
	return NodeResult{
		UniqueID: node.UniqueID,
		Status:   state.NodeRunStatusSuccess,
		Rows:     rows,
		Duration: duration,
	}
}

// loadSeedCSV resolves the seed's CSV path inside its package and hands it
// to the adapter.
func (e *Engine) loadSeedCSV(ctx context.Context, node *core.Node) (int64, error) {
	rel, err := relation.FromNode(e.cfg.Target.Type, node)
	if err != nil {
		return 0, err
	}

	pkgDir, ok := e.project.PackageDirs[node.PackageName]
	if !ok {
		return 0, fmt.Errorf("unknown package %s", node.PackageName)
	}
	csvPath := filepath.Join(pkgDir, node.Path)

	e.ensureSchema(ctx, rel.Schema())

	e.logger.Debug("loading seed",
		slog.String("unique_id", node.UniqueID),
		slog.String("path", csvPath))

	if err := e.db.LoadCSV(ctx, rel, csvPath); err != nil {
		return 0, err
	}
	return e.countRows(ctx, rel), nil
}
