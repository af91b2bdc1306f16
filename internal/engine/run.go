package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/leapstack-labs/leapdbt/internal/dag"
	"github.com/leapstack-labs/leapdbt/internal/state"
	"github.com/leapstack-labs/leapdbt/pkg/cancel"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// RunOptions narrows a run to part of the graph.
type RunOptions struct {
	// Select limits execution to the named nodes. A selector matches a
	// node's unique ID, bare name, or package-qualified name. Empty selects
	// everything.
	Select []string
	// Downstream additionally includes everything that depends on the
	// selection.
	Downstream bool
}

// NodeResult is the outcome of one node within a run.
type NodeResult struct {
	UniqueID string
	Status   state.NodeRunStatus
	Message  string
	Rows     int64
	Duration time.Duration
}

// RunResult is the outcome of a run, test, or seed invocation.
type RunResult struct {
	RunID    string
	Results  []NodeResult
	Duration time.Duration
}

// Counts tallies results by status.
func (r *RunResult) Counts() (succeeded, failed, skipped int) {
	for _, res := range r.Results {
		switch res.Status {
		case state.NodeRunStatusSuccess:
			succeeded++
		case state.NodeRunStatusFailed:
			failed++
		case state.NodeRunStatusSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

// Run materializes the selected models in two phases: every template
// renders first, so a broken template anywhere aborts before the warehouse
// sees a single statement, then models execute one at a time in dependency
// order. When a model fails, its descendants are skipped and independent
// branches keep running.
func (e *Engine) Run(ctx context.Context, token cancel.Token, opts RunOptions) (*RunResult, error) {
	if err := e.requireParsed(); err != nil {
		return nil, err
	}
	if err := e.ensureConnected(ctx); err != nil {
		return nil, err
	}

	graph, err := e.selectGraph(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	run, err := e.store.CreateRun(e.cfg.TargetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	e.logger.Info("starting run",
		slog.String("run_id", run.ID),
		slog.String("target", e.cfg.TargetName))

	compiled, err := e.renderModels(graph, token)
	if err != nil {
		msg := "render failed"
		status := state.RunStatusFailed
		if cancel.IsCancelled(err) {
			msg = "run cancelled"
			status = state.RunStatusCancelled
		}
		_ = e.store.CompleteRun(run.ID, status, msg)
		return &RunResult{RunID: run.ID, Duration: time.Since(start)}, err
	}

	sorted, err := graph.TopologicalSort()
	if err != nil {
		return nil, err
	}

	result := &RunResult{RunID: run.ID}
	skipReason := make(map[string]string)
	var execErrs []error
	cancelled := false

	for _, node := range sorted {
		if node.Type != core.NodeTypeModel {
			continue
		}

		if reason, ok := skipReason[node.UniqueID]; ok {
			e.recordSkip(run.ID, node, reason, result)
			continue
		}

		if cancelled || token.IsCancelled() || ctx.Err() != nil {
			cancelled = true
			e.recordSkip(run.ID, node, "run cancelled", result)
			continue
		}

		res := e.executeModel(ctx, run.ID, node, compiled[node.UniqueID].SQL)
		result.Results = append(result.Results, res)

		if res.Status == state.NodeRunStatusFailed {
			execErrs = append(execErrs, fmt.Errorf("%s: %s", node.UniqueID, res.Message))
			for _, id := range graph.Descendants(node.UniqueID) {
				if _, ok := skipReason[id]; !ok {
					skipReason[id] = fmt.Sprintf("skipped: upstream model %s failed", node.Name)
				}
			}
		}
	}

	e.completeRun(run.ID, cancelled, len(execErrs), "model")
	result.Duration = time.Since(start)

	succeeded, failed, skipped := result.Counts()
	e.logger.Info("run finished",
		slog.String("run_id", run.ID),
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
		slog.Int("skipped", skipped),
		slog.Duration("duration", result.Duration))

	if cancelled {
		return result, cancel.ErrCancelled
	}
	return result, errors.Join(execErrs...)
}

// executeModel materializes one rendered model and records the node run.
func (e *Engine) executeModel(ctx context.Context, runID string, node *core.Node, sql string) NodeResult {
	nodeRun := &state.NodeRun{RunID: runID, NodeUniqueID: node.UniqueID}
	_ = e.store.RecordNodeRun(nodeRun)

	start := time.Now()
	rows, err := e.materialize(ctx, node, sql)
	duration := time.Since(start)

	if err != nil {
		e.logger.Debug("model failed",
			slog.String("unique_id", node.UniqueID),
			slog.Any("error", err))
		_ = e.store.CompleteNodeRun(nodeRun.ID, state.NodeRunStatusFailed, 0, err.Error())
		return NodeResult{
			UniqueID: node.UniqueID,
			Status:   state.NodeRunStatusFailed,
			Message:  err.Error(),
			Duration: duration,
		}
	}

	e.logger.Debug("model materialized",
		slog.String("unique_id", node.UniqueID),
		slog.Int64("rows", rows),
		slog.Duration("duration", duration))
	_ = e.store.CompleteNodeRun(nodeRun.ID, state.NodeRunStatusSuccess, rows, "")
	return NodeResult{
		UniqueID: node.UniqueID,
		Status:   state.NodeRunStatusSuccess,
		Rows:     rows,
		Duration: duration,
	}
}

// recordSkip appends a skipped result and persists the node run in one step.
func (e *Engine) recordSkip(runID string, node *core.Node, reason string, result *RunResult) {
	_ = e.store.RecordNodeRun(&state.NodeRun{
		RunID:        runID,
		NodeUniqueID: node.UniqueID,
		Status:       state.NodeRunStatusSkipped,
		Error:        reason,
	})
	result.Results = append(result.Results, NodeResult{
		UniqueID: node.UniqueID,
		Status:   state.NodeRunStatusSkipped,
		Message:  reason,
	})
}

// completeRun closes out the run record with the overall status.
func (e *Engine) completeRun(runID string, cancelled bool, failures int, kind string) {
	switch {
	case cancelled:
		_ = e.store.CompleteRun(runID, state.RunStatusCancelled, "run cancelled")
	case failures > 0:
		_ = e.store.CompleteRun(runID, state.RunStatusFailed, fmt.Sprintf("%d %s(s) failed", failures, kind))
	default:
		_ = e.store.CompleteRun(runID, state.RunStatusCompleted, "")
	}
}

// selectGraph narrows the graph to the selection, or returns the full graph
// when nothing is selected.
func (e *Engine) selectGraph(opts RunOptions) (*dag.Graph, error) {
	if len(opts.Select) == 0 {
		return e.graph, nil
	}

	ids, err := e.ResolveSelection(opts.Select)
	if err != nil {
		return nil, err
	}
	if opts.Downstream {
		ids = e.graph.AffectedBy(ids)
	}
	return e.graph.Subgraph(ids), nil
}

// ResolveSelection maps selector strings to enabled node unique IDs. A
// selector matches a node's unique ID, bare name, or package.name.
func (e *Engine) ResolveSelection(selectors []string) ([]string, error) {
	var ids []string
	for _, sel := range selectors {
		var matched []string
		for id, node := range e.nodes {
			if id == sel || node.Name == sel || node.PackageName+"."+node.Name == sel {
				matched = append(matched, id)
			}
		}
		if len(matched) == 0 {
			return nil, fmt.Errorf("nothing matches selector %q", sel)
		}
		ids = append(ids, matched...)
	}
	sort.Strings(ids)
	return ids, nil
}
