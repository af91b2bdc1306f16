package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.starlark.net/starlark"

	starctx "github.com/leapstack-labs/leapdbt/internal/starlark"
	"github.com/leapstack-labs/leapdbt/internal/state"
	"github.com/leapstack-labs/leapdbt/pkg/cancel"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// Test runs the project's data tests. Each test dispatches its generic
// macro (test_unique, test_not_null) against the tested model's relation;
// the query returns a single failures count and the test passes when it
// is zero.
func (e *Engine) Test(ctx context.Context, token cancel.Token, opts RunOptions) (*RunResult, error) {
	if err := e.requireParsed(); err != nil {
		return nil, err
	}
	if err := e.ensureConnected(ctx); err != nil {
		return nil, err
	}

	tests, err := e.selectTests(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	run, err := e.store.CreateRun(e.cfg.TargetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	e.logger.Info("running tests",
		slog.String("run_id", run.ID),
		slog.Int("tests", len(tests)))

	result := &RunResult{RunID: run.ID}
	var testErrs []error
	cancelled := false

	for _, node := range tests {
		if cancelled || token.IsCancelled() || ctx.Err() != nil {
			cancelled = true
			e.recordSkip(run.ID, node, "run cancelled", result)
			continue
		}

		res := e.executeTest(ctx, run.ID, node)
		result.Results = append(result.Results, res)
		if res.Status == state.NodeRunStatusFailed {
			testErrs = append(testErrs, fmt.Errorf("%s: %s", node.UniqueID, res.Message))
		}
	}

	e.completeRun(run.ID, cancelled, len(testErrs), "test")
	result.Duration = time.Since(start)

	if cancelled {
		return result, cancel.ErrCancelled
	}
	return result, errors.Join(testErrs...)
}

// selectTests returns the enabled test nodes in unique-ID order, narrowed
// to tests attached to the selection when one is given.
func (e *Engine) selectTests(opts RunOptions) ([]*core.Node, error) {
	var selected map[string]bool
	if len(opts.Select) > 0 {
		ids, err := e.ResolveSelection(opts.Select)
		if err != nil {
			return nil, err
		}
		if opts.Downstream {
			ids = e.graph.AffectedBy(ids)
		}
		selected = make(map[string]bool, len(ids))
		for _, id := range ids {
			selected[id] = true
		}
	}

	var tests []*core.Node
	for _, id := range sortedNodeIDs(e.nodes) {
		node := e.nodes[id]
		if node.Type != core.NodeTypeTest {
			continue
		}
		if selected != nil && !testMatches(node, selected) {
			continue
		}
		tests = append(tests, node)
	}
	return tests, nil
}

// testMatches reports whether the test itself or any of its direct
// dependencies is in the selection.
func testMatches(node *core.Node, selected map[string]bool) bool {
	if selected[node.UniqueID] {
		return true
	}
	for _, dep := range node.DependsOn {
		if selected[dep] {
			return true
		}
	}
	return false
}

// executeTest runs one test query and records the node run.
func (e *Engine) executeTest(ctx context.Context, runID string, node *core.Node) NodeResult {
	nodeRun := &state.NodeRun{RunID: runID, NodeUniqueID: node.UniqueID}
	_ = e.store.RecordNodeRun(nodeRun)

	start := time.Now()
	failures, err := e.runTestQuery(ctx, node)
	duration := time.Since(start)

	switch {
	case err != nil:
		_ = e.store.CompleteNodeRun(nodeRun.ID, state.NodeRunStatusFailed, 0, err.Error())
		return NodeResult{
			UniqueID: node.UniqueID,
			Status:   state.NodeRunStatusFailed,
			Message:  err.Error(),
			Duration: duration,
		}
	case failures > 0:
		msg := fmt.Sprintf("got %d failing rows", failures)
		e.logger.Debug("test failed",
			slog.String("unique_id", node.UniqueID),
			slog.Int64("failures", failures))
		_ = e.store.CompleteNodeRun(nodeRun.ID, state.NodeRunStatusFailed, failures, msg)
		return NodeResult{
			UniqueID: node.UniqueID,
			Status:   state.NodeRunStatusFailed,
			Message:  msg,
			Rows:     failures,
			Duration: duration,
		}
	default:
		_ = e.store.CompleteNodeRun(nodeRun.ID, state.NodeRunStatusSuccess, 0, "")
		return NodeResult{
			UniqueID: node.UniqueID,
			Status:   state.NodeRunStatusSuccess,
			Duration: duration,
		}
	}
}

// runTestQuery dispatches the test macro for the node and evaluates the
// resulting query, returning the failures count it reports.
func (e *Engine) runTestQuery(ctx context.Context, node *core.Node) (int64, error) {
	if node.Test == nil {
		return 0, fmt.Errorf("%s carries no test spec", node.UniqueID)
	}

	rel, err := e.testedRelation(node)
	if err != nil {
		return 0, err
	}

	query, err := e.callMacro(node.PackageName, "test_"+node.Test.Kind,
		starctx.NewRelationValue(rel), starlark.String(node.Test.Column))
	if err != nil {
		return 0, err
	}

	rows, err := e.db.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("test query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var failures int64
	if rows.Next() {
		if err := rows.Scan(&failures); err != nil {
			return 0, fmt.Errorf("failed to read test result: %w", err)
		}
	}
	return failures, rows.Err()
}

// testedRelation resolves the relation the test runs against from the
// test's ref.
func (e *Engine) testedRelation(node *core.Node) (core.Relation, error) {
	if len(node.Refs) == 0 {
		return nil, fmt.Errorf("%s references no model", node.UniqueID)
	}
	rc := node.Refs[0]
	entry, err := e.registry.LookupRef(rc.Package, rc.Name, rc.Version, node.PackageName)
	if err != nil {
		return nil, err
	}
	return entry.Relation, nil
}
