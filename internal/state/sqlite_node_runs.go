package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordNodeRun inserts a node execution row. An empty ID gets a fresh
// UUID and a zero StartedAt is stamped with the current time.
func (s *SQLiteStore) RecordNodeRun(nodeRun *NodeRun) error {
	if s.db == nil {
		return errNotOpened
	}

	if nodeRun.ID == "" {
		nodeRun.ID = generateID()
	}
	if nodeRun.StartedAt.IsZero() {
		nodeRun.StartedAt = time.Now().UTC()
	}
	if nodeRun.Status == "" {
		nodeRun.Status = NodeRunStatusRunning
	}

	var errorPtr *string
	if nodeRun.Error != "" {
		errorPtr = &nodeRun.Error
	}

	_, err := s.db.Exec(
		`INSERT INTO node_runs (id, run_id, node_unique_id, status, rows_affected, started_at, error, execution_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nodeRun.ID, nodeRun.RunID, nodeRun.NodeUniqueID, nodeRun.Status, nodeRun.RowsAffected, nodeRun.StartedAt, errorPtr, nodeRun.ExecutionMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record node run: %w", err)
	}

	return nil
}

// CompleteNodeRun finalizes a node execution with its status and row count.
// Execution time is computed from the recorded start time.
func (s *SQLiteStore) CompleteNodeRun(id string, status NodeRunStatus, rowsAffected int64, errMsg string) error {
	if s.db == nil {
		return errNotOpened
	}

	now := time.Now().UTC()
	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	var startedAt time.Time
	err := s.db.QueryRow(`SELECT started_at FROM node_runs WHERE id = ?`, id).Scan(&startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("node run not found: %s", id)
	}
	if err != nil {
		return fmt.Errorf("failed to get node run start time: %w", err)
	}

	executionMS := now.Sub(startedAt).Milliseconds()

	_, err = s.db.Exec(
		`UPDATE node_runs SET status = ?, rows_affected = ?, completed_at = ?, error = ?, execution_ms = ? WHERE id = ?`,
		status, rowsAffected, now, errorPtr, executionMS, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete node run: %w", err)
	}

	return nil
}

// GetNodeRunsForRun retrieves all node executions for a run in start order.
func (s *SQLiteStore) GetNodeRunsForRun(runID string) ([]*NodeRun, error) {
	if s.db == nil {
		return nil, errNotOpened
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, node_unique_id, status, rows_affected, started_at, completed_at, error, execution_ms
		 FROM node_runs WHERE run_id = ? ORDER BY started_at`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get node runs: %w", err)
	}
	defer rows.Close()

	var nodeRuns []*NodeRun
	for rows.Next() {
		nr := &NodeRun{}
		var completedAt sql.NullTime
		var errMsg sql.NullString

		err := rows.Scan(&nr.ID, &nr.RunID, &nr.NodeUniqueID, &nr.Status, &nr.RowsAffected, &nr.StartedAt, &completedAt, &errMsg, &nr.ExecutionMS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node run: %w", err)
		}

		if completedAt.Valid {
			nr.CompletedAt = &completedAt.Time
		}
		if errMsg.Valid {
			nr.Error = errMsg.String
		}
		nodeRuns = append(nodeRuns, nr)
	}

	return nodeRuns, rows.Err()
}
