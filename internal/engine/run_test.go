package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdbt/internal/state"
	"github.com/leapstack-labs/leapdbt/pkg/cancel"
)

// parseAndSeed is the common prelude for execution tests: parse the
// project and load its seeds so refs have data behind them.
func parseAndSeed(t *testing.T, eng *Engine) {
	t.Helper()
	_, err := eng.Parse()
	require.NoError(t, err)
	seedResult, err := eng.Seed(context.Background(), cancel.NeverCancels())
	require.NoError(t, err)
	for _, res := range seedResult.Results {
		require.Equal(t, state.NodeRunStatusSuccess, res.Status, res.Message)
	}
}

func resultFor(t *testing.T, result *RunResult, uniqueID string) NodeResult {
	t.Helper()
	for _, res := range result.Results {
		if res.UniqueID == uniqueID {
			return res
		}
	}
	t.Fatalf("no result for %s", uniqueID)
	return NodeResult{}
}

func TestSeed(t *testing.T) {
	dir := writeTree(t, shopProject())
	eng := newTestEngine(t, dir)
	_, err := eng.Parse()
	require.NoError(t, err)

	result, err := eng.Seed(context.Background(), cancel.NeverCancels())
	require.NoError(t, err)
	require.Len(t, result.Results, 1)

	res := result.Results[0]
	assert.Equal(t, "seed.shop.raw_orders", res.UniqueID)
	assert.Equal(t, state.NodeRunStatusSuccess, res.Status)
	assert.Equal(t, int64(3), res.Rows)

	// Reloading replaces the table rather than appending.
	result, err = eng.Seed(context.Background(), cancel.NeverCancels())
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Results[0].Rows)
}

func TestRun(t *testing.T) {
	dir := writeTree(t, shopProject())
	eng := newTestEngine(t, dir)
	parseAndSeed(t, eng)

	result, err := eng.Run(context.Background(), cancel.NeverCancels(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	require.NotEmpty(t, result.RunID)

	stg := resultFor(t, result, "model.shop.stg_orders")
	assert.Equal(t, state.NodeRunStatusSuccess, stg.Status, stg.Message)
	assert.Equal(t, int64(0), stg.Rows) // views report no row count

	summary := resultFor(t, result, "model.shop.order_summary")
	assert.Equal(t, state.NodeRunStatusSuccess, summary.Status, summary.Message)
	assert.Equal(t, int64(2), summary.Rows) // open, shipped

	// The run and its node executions land in history.
	run, err := eng.StateStore().GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusCompleted, run.Status)

	nodeRuns, err := eng.StateStore().GetNodeRunsForRun(result.RunID)
	require.NoError(t, err)
	assert.Len(t, nodeRuns, 2)

	// A second run replaces the relations instead of failing on them.
	result, err = eng.Run(context.Background(), cancel.NeverCancels(), RunOptions{})
	require.NoError(t, err)
	succeeded, failed, skipped := result.Counts()
	assert.Equal(t, 2, succeeded)
	assert.Zero(t, failed)
	assert.Zero(t, skipped)
}

func TestRun_FailureSkipsDescendants(t *testing.T) {
	files := shopProject()
	files["models/marts/broken.sql"] = `
{{ config(materialized="table") }}
select * from this_table_does_not_exist
`
	files["models/marts/downstream.sql"] = `select * from {{ ref("broken") }}`
	dir := writeTree(t, files)
	eng := newTestEngine(t, dir)
	parseAndSeed(t, eng)

	result, err := eng.Run(context.Background(), cancel.NeverCancels(), RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.shop.broken")

	broken := resultFor(t, result, "model.shop.broken")
	assert.Equal(t, state.NodeRunStatusFailed, broken.Status)

	down := resultFor(t, result, "model.shop.downstream")
	assert.Equal(t, state.NodeRunStatusSkipped, down.Status)
	assert.Equal(t, "skipped: upstream model broken failed", down.Message)

	// The independent branch still ran.
	stg := resultFor(t, result, "model.shop.stg_orders")
	assert.Equal(t, state.NodeRunStatusSuccess, stg.Status, stg.Message)

	run, err := eng.StateStore().GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "1 model(s) failed")
}

func TestRun_Select(t *testing.T) {
	dir := writeTree(t, shopProject())
	eng := newTestEngine(t, dir)
	parseAndSeed(t, eng)

	result, err := eng.Run(context.Background(), cancel.NeverCancels(),
		RunOptions{Select: []string{"stg_orders"}})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "model.shop.stg_orders", result.Results[0].UniqueID)

	result, err = eng.Run(context.Background(), cancel.NeverCancels(),
		RunOptions{Select: []string{"shop.stg_orders"}, Downstream: true})
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "model.shop.stg_orders", result.Results[0].UniqueID)
	assert.Equal(t, "model.shop.order_summary", result.Results[1].UniqueID)
}

func TestRun_SelectorWithoutMatch(t *testing.T) {
	dir := writeTree(t, shopProject())
	eng := newTestEngine(t, dir)
	parseAndSeed(t, eng)

	_, err := eng.Run(context.Background(), cancel.NeverCancels(),
		RunOptions{Select: []string{"no_such_model"}})
	require.ErrorContains(t, err, `nothing matches selector "no_such_model"`)
}

func TestRun_Cancelled(t *testing.T) {
	dir := writeTree(t, shopProject())
	eng := newTestEngine(t, dir)
	parseAndSeed(t, eng)

	src := cancel.NewSource()
	token := src.Token()
	src.Cancel()
	result, err := eng.Run(context.Background(), token, RunOptions{})
	assert.True(t, cancel.IsCancelled(err))

	run, storeErr := eng.StateStore().GetRun(result.RunID)
	require.NoError(t, storeErr)
	assert.Equal(t, state.RunStatusCancelled, run.Status)
}

func TestRun_EphemeralBecomesView(t *testing.T) {
	files := shopProject()
	files["models/staging/stg_recent.sql"] = `
{{ config(materialized="ephemeral") }}
select id, status from {{ ref("raw_orders") }} where id > 1
`
	files["models/marts/recent_count.sql"] = `
{{ config(materialized="table") }}
select count(*) as n from {{ ref("stg_recent") }}
`
	dir := writeTree(t, files)
	eng := newTestEngine(t, dir)
	parseAndSeed(t, eng)

	result, err := eng.Run(context.Background(), cancel.NeverCancels(), RunOptions{})
	require.NoError(t, err)

	recent := resultFor(t, result, "model.shop.recent_count")
	assert.Equal(t, state.NodeRunStatusSuccess, recent.Status, recent.Message)
	assert.Equal(t, int64(1), recent.Rows)
}

func TestRun_UnknownMaterialization(t *testing.T) {
	files := shopProject()
	files["models/marts/exotic.sql"] = `
{{ config(materialized="materialized_view") }}
select 1 as x
`
	dir := writeTree(t, files)
	eng := newTestEngine(t, dir)
	parseAndSeed(t, eng)

	result, err := eng.Run(context.Background(), cancel.NeverCancels(), RunOptions{})
	require.Error(t, err)

	exotic := resultFor(t, result, "model.shop.exotic")
	assert.Equal(t, state.NodeRunStatusFailed, exotic.Status)
	assert.Contains(t, exotic.Message, "unknown materialization: materialized_view")
}

func TestTest_CleanData(t *testing.T) {
	dir := writeTree(t, shopProject())
	eng := newTestEngine(t, dir)
	parseAndSeed(t, eng)

	_, err := eng.Run(context.Background(), cancel.NeverCancels(), RunOptions{})
	require.NoError(t, err)

	result, err := eng.Test(context.Background(), cancel.NeverCancels(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	for _, res := range result.Results {
		assert.Equal(t, state.NodeRunStatusSuccess, res.Status, res.Message)
	}
}

func TestTest_FailingData(t *testing.T) {
	files := shopProject()
	files["seeds/raw_orders.csv"] = "id,status,amount\n1,open,10\n2,shipped,25\n2,shipped,40\n"
	dir := writeTree(t, files)
	eng := newTestEngine(t, dir)
	parseAndSeed(t, eng)

	_, err := eng.Run(context.Background(), cancel.NeverCancels(), RunOptions{})
	require.NoError(t, err)

	result, err := eng.Test(context.Background(), cancel.NeverCancels(), RunOptions{})
	require.Error(t, err)

	notNull := resultFor(t, result, "test.shop.not_null_stg_orders_id")
	assert.Equal(t, state.NodeRunStatusSuccess, notNull.Status)

	unique := resultFor(t, result, "test.shop.unique_stg_orders_id")
	assert.Equal(t, state.NodeRunStatusFailed, unique.Status)
	assert.Equal(t, "got 1 failing rows", unique.Message)
	assert.Equal(t, int64(1), unique.Rows)

	run, err := eng.StateStore().GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "1 test(s) failed")
}

func TestTest_UnknownKind(t *testing.T) {
	files := shopProject()
	files["models/staging/schema.yml"] = `
version: 2
models:
  - name: stg_orders
    columns:
      - name: status
        tests:
          - accepted_values
`
	dir := writeTree(t, files)
	eng := newTestEngine(t, dir)
	parseAndSeed(t, eng)

	_, err := eng.Run(context.Background(), cancel.NeverCancels(), RunOptions{})
	require.NoError(t, err)

	result, err := eng.Test(context.Background(), cancel.NeverCancels(), RunOptions{})
	require.Error(t, err)

	res := resultFor(t, result, "test.shop.accepted_values_stg_orders_status")
	assert.Equal(t, state.NodeRunStatusFailed, res.Status)
	assert.Contains(t, res.Message, "test_accepted_values")
}

func TestTest_SelectByModel(t *testing.T) {
	files := shopProject()
	files["models/marts/schema.yml"] = `
version: 2
models:
  - name: order_summary
    columns:
      - name: status
        tests:
          - unique
`
	dir := writeTree(t, files)
	eng := newTestEngine(t, dir)
	parseAndSeed(t, eng)

	_, err := eng.Run(context.Background(), cancel.NeverCancels(), RunOptions{})
	require.NoError(t, err)

	result, err := eng.Test(context.Background(), cancel.NeverCancels(),
		RunOptions{Select: []string{"order_summary"}})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "test.shop.unique_order_summary_status", result.Results[0].UniqueID)
}
