package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/entrhq/recall/pkg/types"
)

const activityColumns = `id, session_id, prompt_batch_id, tool_name, tool_input,
	tool_output_summary, file_path, files_affected, duration_ms, success,
	error_message, timestamp, processed, observation_id, content_hash`

// AddActivity records a single tool call immediately. Filtered activities
// are silently dropped and report id 0.
func (s *Store) AddActivity(ctx context.Context, a *types.Activity) (int64, error) {
	if s.skipCapture(a) {
		return 0, nil
	}
	if err := validateActivity(a); err != nil {
		return 0, err
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertActivity(tx, a)
		return err
	})
	if err != nil {
		return 0, err
	}
	a.ID = id
	return id, nil
}

// AddActivityBuffered queues a tool call for batched insertion. The buffer
// is flushed once it reaches the configured flush size; lifecycle
// operations that need fresh counts force a flush themselves.
func (s *Store) AddActivityBuffered(ctx context.Context, a *types.Activity) error {
	if s.skipCapture(a) {
		return nil
	}
	if err := validateActivity(a); err != nil {
		return err
	}

	s.bufMu.Lock()
	s.buffer = append(s.buffer, a)
	full := len(s.buffer) >= s.flushSize
	s.bufMu.Unlock()

	if full {
		return s.FlushActivities(ctx)
	}
	return nil
}

// FlushActivities writes all buffered activities in one transaction. On
// failure the rows go back to the front of the buffer, order preserved.
func (s *Store) FlushActivities(ctx context.Context) error {
	s.bufMu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.bufMu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, a := range pending {
			id, err := insertActivity(tx, a)
			if err != nil {
				return err
			}
			a.ID = id
		}
		return nil
	})
	if err != nil {
		s.bufMu.Lock()
		s.buffer = append(pending, s.buffer...)
		s.bufMu.Unlock()
		return err
	}
	return nil
}

func (s *Store) skipCapture(a *types.Activity) bool {
	if s.capture == nil || s.capture(a.ToolName, a.FilePath) {
		return false
	}
	s.logger.Debugf("capture filter skipped %s %s", a.ToolName, a.FilePath)
	return true
}

func validateActivity(a *types.Activity) error {
	if a.SessionID == "" {
		return fmt.Errorf("store: activity missing session ID")
	}
	if a.ToolName == "" {
		return fmt.Errorf("store: activity missing tool name")
	}
	return nil
}

func insertActivity(tx *sql.Tx, a *types.Activity) (int64, error) {
	if a.ContentHash == "" {
		a.ContentHash = a.ComputeContentHash()
	}

	res, err := tx.Exec(`
		INSERT INTO activities (session_id, prompt_batch_id, tool_name, tool_input,
			tool_output_summary, file_path, files_affected, duration_ms, success,
			error_message, timestamp, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.PromptBatchID, a.ToolName, a.ToolInput,
		a.ToolOutputSummary, a.FilePath, a.FilesAffected, a.DurationMS,
		boolToInt(a.Success), a.ErrorMessage, formatTime(a.Timestamp), a.ContentHash)
	if err != nil {
		return 0, fmt.Errorf("store: insert activity %s: %w", a.ToolName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert activity %s: %w", a.ToolName, err)
	}
	return id, nil
}

// ListBatchActivities returns a batch's activities in chronological order.
func (s *Store) ListBatchActivities(ctx context.Context, batchID int64) ([]*types.Activity, error) {
	if err := s.FlushActivities(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE prompt_batch_id = ?
		ORDER BY timestamp, id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("store: list activities for batch %d: %w", batchID, err)
	}
	defer rows.Close()
	return collectActivities(rows)
}

// ListSessionActivities returns a session's most recent activities, newest
// first, bounded.
func (s *Store) ListSessionActivities(ctx context.Context, sessionID string, limit int) ([]*types.Activity, error) {
	if err := s.FlushActivities(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE session_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list activities for session %s: %w", sessionID, err)
	}
	defer rows.Close()
	return collectActivities(rows)
}

// MarkBatchActivitiesProcessed marks every remaining unprocessed activity
// of a batch as consumed.
func (s *Store) MarkBatchActivitiesProcessed(ctx context.Context, batchID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE activities SET processed = 1 WHERE prompt_batch_id = ? AND processed = 0", batchID)
	if err != nil {
		return fmt.Errorf("store: mark batch %d activities processed: %w", batchID, err)
	}
	return nil
}

// SweepProcessedBatchActivities marks leftover unprocessed activities whose
// batch has already been processed. Extraction marks only the activities an
// observation cites; this catches the rest.
func (s *Store) SweepProcessedBatchActivities(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE activities SET processed = 1
		WHERE processed = 0 AND prompt_batch_id IN
			(SELECT id FROM prompt_batches WHERE processed = 1)`)
	if err != nil {
		return 0, fmt.Errorf("store: sweep processed batch activities: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: sweep processed batch activities: %w", err)
	}
	return int(n), nil
}

func scanActivity(sc scanner) (*types.Activity, error) {
	var a types.Activity
	var batchID sql.NullInt64
	var observationID sql.NullString
	var success, processed int
	var timestamp string

	err := sc.Scan(&a.ID, &a.SessionID, &batchID, &a.ToolName, &a.ToolInput,
		&a.ToolOutputSummary, &a.FilePath, &a.FilesAffected, &a.DurationMS,
		&success, &a.ErrorMessage, &timestamp, &processed, &observationID, &a.ContentHash)
	if err != nil {
		return nil, err
	}

	a.PromptBatchID = int64Ptr(batchID)
	a.ObservationID = stringPtr(observationID)
	a.Success = success != 0
	a.Processed = processed != 0
	if a.Timestamp, err = parseTime(timestamp); err != nil {
		return nil, err
	}
	return &a, nil
}

func collectActivities(rows *sql.Rows) ([]*types.Activity, error) {
	var activities []*types.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
