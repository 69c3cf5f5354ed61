package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/recall/pkg/types"
)

const batchColumns = `id, session_id, prompt_number, user_prompt, source_type,
	started_at, ended_at, status, activity_count, processed, classification,
	plan_file_path, plan_content, plan_embedded, response_summary, content_hash`

// RecoveryPrompt marks synthetic batches created to adopt orphaned
// activities.
const RecoveryPrompt = "[recovered]"

// CreatePromptBatch opens a new batch for the session. The previous active
// batch, if any, is completed first: a session has at most one batch open.
// Prompt numbers are assigned max+1 inside the same transaction.
func (s *Store) CreatePromptBatch(ctx context.Context, sessionID, prompt string, source types.SourceType) (*types.PromptBatch, error) {
	if err := s.FlushActivities(ctx); err != nil {
		return nil, err
	}

	var batch *types.PromptBatch
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if err := completeOpenBatches(tx, sessionID, now); err != nil {
			return err
		}

		var next int
		err := tx.QueryRow(
			"SELECT COALESCE(MAX(prompt_number), 0) + 1 FROM prompt_batches WHERE session_id = ?",
			sessionID).Scan(&next)
		if err != nil {
			return fmt.Errorf("store: next prompt number for %s: %w", sessionID, err)
		}

		b := types.NewPromptBatch(sessionID, next, prompt, source)
		if err := b.Validate(); err != nil {
			return fmt.Errorf("store: create batch: %w", err)
		}

		res, err := tx.Exec(`
			INSERT INTO prompt_batches (session_id, prompt_number, user_prompt,
				source_type, started_at, status, content_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.SessionID, b.PromptNumber, b.UserPrompt, string(b.SourceType),
			formatTime(b.StartedAt), string(b.Status), b.ContentHash)
		if err != nil {
			return fmt.Errorf("store: insert batch for %s: %w", sessionID, err)
		}
		if b.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("store: insert batch for %s: %w", sessionID, err)
		}

		batch = b
		return refreshSessionCounts(tx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func completeOpenBatches(tx *sql.Tx, sessionID string, endedAt time.Time) error {
	_, err := tx.Exec(`
		UPDATE prompt_batches SET status = ?, ended_at = ?,
			activity_count = (SELECT COUNT(*) FROM activities WHERE prompt_batch_id = prompt_batches.id)
		WHERE session_id = ? AND status = ?`,
		string(types.BatchCompleted), formatTime(endedAt), sessionID, string(types.BatchActive))
	if err != nil {
		return fmt.Errorf("store: complete open batches for %s: %w", sessionID, err)
	}
	return nil
}

// GetPromptBatch loads a batch by id, backfilling its content hash if a
// legacy row is missing one.
func (s *Store) GetPromptBatch(ctx context.Context, id int64) (*types.PromptBatch, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+batchColumns+" FROM prompt_batches WHERE id = ?", id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: batch %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get batch %d: %w", id, err)
	}
	if err := s.ensureBatchHash(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GetActivePromptBatch returns the session's open batch, or ErrNotFound.
func (s *Store) GetActivePromptBatch(ctx context.Context, sessionID string) (*types.PromptBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+` FROM prompt_batches
		WHERE session_id = ? AND status = ?
		ORDER BY prompt_number DESC LIMIT 1`,
		sessionID, string(types.BatchActive))
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: active batch for %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: active batch for %s: %w", sessionID, err)
	}
	return b, nil
}

// EndPromptBatch completes a batch: flushes buffered activities so the
// final activity_count is accurate, then records the end time and the
// assistant's closing response.
func (s *Store) EndPromptBatch(ctx context.Context, id int64, endedAt time.Time, responseSummary string) error {
	if err := s.FlushActivities(ctx); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var sessionID string
		err := tx.QueryRow("SELECT session_id FROM prompt_batches WHERE id = ?", id).Scan(&sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("store: end batch %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("store: end batch %d: %w", id, err)
		}

		_, err = tx.Exec(`
			UPDATE prompt_batches SET status = ?, ended_at = ?,
				response_summary = CASE WHEN ? = '' THEN response_summary ELSE ? END,
				activity_count = (SELECT COUNT(*) FROM activities WHERE prompt_batch_id = prompt_batches.id)
			WHERE id = ?`,
			string(types.BatchCompleted), formatTime(endedAt),
			responseSummary, responseSummary, id)
		if err != nil {
			return fmt.Errorf("store: end batch %d: %w", id, err)
		}

		return refreshSessionCounts(tx, sessionID)
	})
}

// ReactivatePromptBatch reopens a completed batch. Hooks can arrive out of
// order: an activity for a batch that already saw its end event reopens it.
func (s *Store) ReactivatePromptBatch(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE prompt_batches SET status = ?, ended_at = NULL WHERE id = ?",
		string(types.BatchActive), id)
	if err != nil {
		return fmt.Errorf("store: reactivate batch %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: reactivate batch %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: reactivate batch %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListUnprocessedBatches returns completed batches awaiting the pipeline,
// oldest first, prompt order preserved within a session.
func (s *Store) ListUnprocessedBatches(ctx context.Context, limit int) ([]*types.PromptBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+` FROM prompt_batches
		WHERE status = ? AND processed = 0
		ORDER BY started_at, prompt_number, id LIMIT ?`,
		string(types.BatchCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list unprocessed batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

// MarkBatchProcessed records the pipeline verdict for a batch.
func (s *Store) MarkBatchProcessed(ctx context.Context, id int64, classification string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE prompt_batches SET processed = 1, classification = ? WHERE id = ?",
		classification, id)
	if err != nil {
		return fmt.Errorf("store: mark batch %d processed: %w", id, err)
	}
	return nil
}

// PromoteBatch requeues a non-user batch through the full extraction
// pipeline. The original source label survives in the classification field
// until the pipeline overwrites it with a verdict.
func (s *Store) PromoteBatch(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var source string
		err := tx.QueryRow("SELECT source_type FROM prompt_batches WHERE id = ?", id).Scan(&source)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("store: promote batch %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("store: promote batch %d: %w", id, err)
		}
		if source == string(types.SourceUser) {
			return nil
		}

		_, err = tx.Exec(
			"UPDATE prompt_batches SET source_type = ?, processed = 0, classification = ? WHERE id = ?",
			string(types.SourceUser), "promoted:"+source, id)
		if err != nil {
			return fmt.Errorf("store: promote batch %d: %w", id, err)
		}
		return nil
	})
}

// RecoverStuckBatches force-completes batches that have been open longer
// than staleAfter. The end hook was lost; without this the session would
// look alive forever. Returns the number recovered.
func (s *Store) RecoverStuckBatches(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	if err := s.FlushActivities(ctx); err != nil {
		return 0, err
	}

	cutoff := formatTime(now.Add(-staleAfter))
	recovered := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.Query(
			"SELECT id, session_id FROM prompt_batches WHERE status = ? AND started_at < ?",
			string(types.BatchActive), cutoff)
		if err != nil {
			return fmt.Errorf("store: find stuck batches: %w", err)
		}

		type stuck struct {
			id        int64
			sessionID string
		}
		var found []stuck
		for rows.Next() {
			var st stuck
			if err := rows.Scan(&st.id, &st.sessionID); err != nil {
				rows.Close()
				return fmt.Errorf("store: scan stuck batch: %w", err)
			}
			found = append(found, st)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		endedAt := formatTime(now)
		for _, st := range found {
			_, err := tx.Exec(`
				UPDATE prompt_batches SET status = ?, ended_at = ?,
					activity_count = (SELECT COUNT(*) FROM activities WHERE prompt_batch_id = ?)
				WHERE id = ?`,
				string(types.BatchCompleted), endedAt, st.id, st.id)
			if err != nil {
				return fmt.Errorf("store: recover batch %d: %w", st.id, err)
			}
			if err := refreshSessionCounts(tx, st.sessionID); err != nil {
				return err
			}
		}
		recovered = len(found)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		s.logger.Infof("recovered %d stuck batches", recovered)
	}
	return recovered, nil
}

// AdoptOrphanActivities attaches activities that never got a batch (hook
// races, crashes between events) to their session's most recent batch. A
// session with no batches at all gets a synthetic completed recovery batch.
// Returns the number of activities adopted.
func (s *Store) AdoptOrphanActivities(ctx context.Context) (int, error) {
	if err := s.FlushActivities(ctx); err != nil {
		return 0, err
	}

	adopted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT DISTINCT session_id FROM activities WHERE prompt_batch_id IS NULL`)
		if err != nil {
			return fmt.Errorf("store: find orphan activities: %w", err)
		}
		var sessionIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("store: scan orphan session: %w", err)
			}
			sessionIDs = append(sessionIDs, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, sessionID := range sessionIDs {
			batchID, err := latestBatchID(tx, sessionID)
			if errors.Is(err, sql.ErrNoRows) {
				batchID, err = insertRecoveryBatch(tx, sessionID)
			}
			if err != nil {
				return err
			}

			res, err := tx.Exec(
				"UPDATE activities SET prompt_batch_id = ? WHERE session_id = ? AND prompt_batch_id IS NULL",
				batchID, sessionID)
			if err != nil {
				return fmt.Errorf("store: adopt orphans for %s: %w", sessionID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("store: adopt orphans for %s: %w", sessionID, err)
			}
			adopted += int(n)

			_, err = tx.Exec(`
				UPDATE prompt_batches
				SET activity_count = (SELECT COUNT(*) FROM activities WHERE prompt_batch_id = ?)
				WHERE id = ?`, batchID, batchID)
			if err != nil {
				return fmt.Errorf("store: refresh adopted batch %d: %w", batchID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if adopted > 0 {
		s.logger.Infof("adopted %d orphaned activities", adopted)
	}
	return adopted, nil
}

func latestBatchID(tx *sql.Tx, sessionID string) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		SELECT id FROM prompt_batches WHERE session_id = ?
		ORDER BY prompt_number DESC LIMIT 1`, sessionID).Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("store: latest batch for %s: %w", sessionID, err)
	}
	return id, err
}

func insertRecoveryBatch(tx *sql.Tx, sessionID string) (int64, error) {
	b := types.NewPromptBatch(sessionID, 1, RecoveryPrompt, types.SourceSystem)
	now := formatTime(time.Now().UTC())

	res, err := tx.Exec(`
		INSERT INTO prompt_batches (session_id, prompt_number, user_prompt,
			source_type, started_at, ended_at, status, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.SessionID, b.PromptNumber, b.UserPrompt, string(b.SourceType),
		now, now, string(types.BatchCompleted), b.ContentHash)
	if err != nil {
		return 0, fmt.Errorf("store: insert recovery batch for %s: %w", sessionID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert recovery batch for %s: %w", sessionID, err)
	}
	return id, nil
}

// SetBatchPlan captures a plan document written during the batch. Resets
// the embedded flag so the indexer picks the new content up.
func (s *Store) SetBatchPlan(ctx context.Context, id int64, filePath, content string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE prompt_batches SET plan_file_path = ?, plan_content = ?, plan_embedded = 0 WHERE id = ?",
		filePath, content, id)
	if err != nil {
		return fmt.Errorf("store: set plan for batch %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set plan for batch %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: set plan for batch %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListPendingPlans returns batches with captured plan content not yet
// pushed to the vector index, oldest first.
func (s *Store) ListPendingPlans(ctx context.Context, limit int) ([]*types.PromptBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+` FROM prompt_batches
		WHERE plan_content != '' AND plan_embedded = 0
		ORDER BY started_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list pending plans: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

// MarkPlanEmbedded records that the batch's plan reached the vector index.
func (s *Store) MarkPlanEmbedded(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE prompt_batches SET plan_embedded = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: mark plan embedded for batch %d: %w", id, err)
	}
	return nil
}

// ensureBatchHash backfills the content hash on a legacy row.
func (s *Store) ensureBatchHash(ctx context.Context, b *types.PromptBatch) error {
	if b.ContentHash != "" {
		return nil
	}
	b.ContentHash = b.ComputeContentHash()
	_, err := s.db.ExecContext(ctx,
		"UPDATE prompt_batches SET content_hash = ? WHERE id = ?", b.ContentHash, b.ID)
	if err != nil {
		return fmt.Errorf("store: backfill batch hash %d: %w", b.ID, err)
	}
	return nil
}

func scanBatch(sc scanner) (*types.PromptBatch, error) {
	var b types.PromptBatch
	var source, status, startedAt string
	var endedAt sql.NullString
	var processed, planEmbedded int

	err := sc.Scan(&b.ID, &b.SessionID, &b.PromptNumber, &b.UserPrompt, &source,
		&startedAt, &endedAt, &status, &b.ActivityCount, &processed, &b.Classification,
		&b.PlanFilePath, &b.PlanContent, &planEmbedded, &b.ResponseSummary, &b.ContentHash)
	if err != nil {
		return nil, err
	}

	b.SourceType = types.SourceType(source)
	b.Status = types.BatchStatus(status)
	b.Processed = processed != 0
	b.PlanEmbedded = planEmbedded != 0
	if b.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if b.EndedAt, err = parseNullableTime(endedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBatches(rows *sql.Rows) ([]*types.PromptBatch, error) {
	var batches []*types.PromptBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}
