package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/recall/pkg/types"
)

const agentRunColumns = `id, schedule_id, session_id, task, status,
	started_at, ended_at, result, error_message`

// CreateAgentRun records the launch of a background task.
func (s *Store) CreateAgentRun(ctx context.Context, run *types.AgentRun) error {
	if run.ID == "" || run.Task == "" {
		return fmt.Errorf("store: agent run missing id or task")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_runs (id, schedule_id, session_id, task, status,
			started_at, ended_at, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullableString(run.ScheduleID), nullableString(run.SessionID),
		run.Task, string(run.Status), formatTime(run.StartedAt),
		formatNullableTime(run.EndedAt), run.Result, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("store: create agent run %s: %w", run.ID, err)
	}
	return nil
}

// GetAgentRun loads a run by id.
func (s *Store) GetAgentRun(ctx context.Context, id string) (*types.AgentRun, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+agentRunColumns+" FROM agent_runs WHERE id = ?", id)
	run, err := scanAgentRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: agent run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get agent run %s: %w", id, err)
	}
	return run, nil
}

// CompleteAgentRun marks a run finished with its result.
func (s *Store) CompleteAgentRun(ctx context.Context, id, result string) error {
	return s.finishAgentRun(ctx, id, types.RunCompleted, result, "")
}

// FailAgentRun marks a run failed with the error that stopped it.
func (s *Store) FailAgentRun(ctx context.Context, id, errorMessage string) error {
	return s.finishAgentRun(ctx, id, types.RunFailed, "", errorMessage)
}

func (s *Store) finishAgentRun(ctx context.Context, id string, status types.RunStatus, result, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_runs SET status = ?, ended_at = ?, result = ?, error_message = ?
		WHERE id = ?`,
		string(status), formatTime(time.Now().UTC()), result, errorMessage, id)
	if err != nil {
		return fmt.Errorf("store: finish agent run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: finish agent run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: finish agent run %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecoverStaleAgentRuns fails runs stuck in running past staleAfter. A
// crash mid-task must not wedge its schedule forever. Returns the number
// failed.
func (s *Store) RecoverStaleAgentRuns(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	cutoff := formatTime(now.Add(-staleAfter))
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_runs SET status = ?, ended_at = ?, error_message = ?
		WHERE status = ? AND started_at < ?`,
		string(types.RunFailed), formatTime(now), "recovered: run exceeded stale threshold",
		string(types.RunRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: recover stale agent runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: recover stale agent runs: %w", err)
	}
	if n > 0 {
		s.logger.Infof("failed %d stale agent runs", n)
	}
	return int(n), nil
}

// ListRecentAgentRuns returns the newest runs first, bounded.
func (s *Store) ListRecentAgentRuns(ctx context.Context, limit int) ([]*types.AgentRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentRunColumns+` FROM agent_runs
		ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list agent runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.AgentRun
	for rows.Next() {
		run, err := scanAgentRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan agent run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanAgentRun(sc scanner) (*types.AgentRun, error) {
	var run types.AgentRun
	var scheduleID, sessionID, endedAt sql.NullString
	var status, startedAt string

	err := sc.Scan(&run.ID, &scheduleID, &sessionID, &run.Task, &status,
		&startedAt, &endedAt, &run.Result, &run.ErrorMessage)
	if err != nil {
		return nil, err
	}

	run.ScheduleID = stringPtr(scheduleID)
	run.SessionID = stringPtr(sessionID)
	run.Status = types.RunStatus(status)
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if run.EndedAt, err = parseNullableTime(endedAt); err != nil {
		return nil, err
	}
	return &run, nil
}
