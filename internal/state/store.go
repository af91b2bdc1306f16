// Package state persists invocation history in a local SQLite database.
//
// Each CLI invocation that touches the warehouse opens one Run; every node
// executed within it is recorded as a NodeRun. The schema is managed by
// goose migrations embedded in the binary.
package state

import "github.com/leapstack-labs/leapdbt/pkg/core"

// The canonical types live in pkg/core so the engine and the store agree on
// them without an import cycle; the aliases keep this package self-contained
// for callers.
type (
	Store         = core.Store
	Run           = core.Run
	RunStatus     = core.RunStatus
	NodeRun       = core.NodeRun
	NodeRunStatus = core.NodeRunStatus
)

const (
	RunStatusRunning   = core.RunStatusRunning
	RunStatusCompleted = core.RunStatusCompleted
	RunStatusFailed    = core.RunStatusFailed
	RunStatusCancelled = core.RunStatusCancelled

	NodeRunStatusRunning = core.NodeRunStatusRunning
	NodeRunStatusSuccess = core.NodeRunStatusSuccess
	NodeRunStatusFailed  = core.NodeRunStatusFailed
	NodeRunStatusSkipped = core.NodeRunStatusSkipped
)
