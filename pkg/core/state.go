package core

import "time"

// Store records invocation history: one Run per CLI invocation that touches
// the warehouse, one NodeRun per node executed within it.
type Store interface {
	Open(path string) error
	Close() error
	// Migrate brings the schema up to date before first use.
	Migrate() error

	CreateRun(target string) (*Run, error)
	GetRun(id string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	ListRuns(limit int) ([]*Run, error)

	RecordNodeRun(nodeRun *NodeRun) error
	CompleteNodeRun(id string, status NodeRunStatus, rowsAffected int64, errMsg string) error
	GetNodeRunsForRun(runID string) ([]*NodeRun, error)
}

// RunStatus is the lifecycle state of a whole invocation. A run starts as
// Running and ends in exactly one of the other three states.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one build invocation against a target.
type Run struct {
	ID          string
	Target      string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// NodeRunStatus is the lifecycle state of one node within a run.
type NodeRunStatus string

const (
	NodeRunStatusRunning NodeRunStatus = "running"
	NodeRunStatusSuccess NodeRunStatus = "success"
	NodeRunStatusFailed  NodeRunStatus = "failed"
	NodeRunStatusSkipped NodeRunStatus = "skipped"
)

// NodeRun is the execution record of a single node. RowsAffected is zero
// for views and whenever the count is unavailable.
type NodeRun struct {
	ID           string
	RunID        string
	NodeUniqueID string
	Status       NodeRunStatus
	RowsAffected int64
	StartedAt    time.Time
	CompletedAt  *time.Time
	Error        string
	ExecutionMS  int64
}
