package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/entrhq/recall/pkg/types"
)

// ImportObservation pairs an observation record with the content hash of
// its owning batch, so the machine-local batch id can be rebound on import.
type ImportObservation struct {
	Observation *types.Observation
	BatchHash   string
}

// ClaimUnownedRows stamps this machine's identity on rows recorded before
// machine identity existed. Export claims them so every exported row names
// its origin.
func (s *Store) ClaimUnownedRows(ctx context.Context) (int64, error) {
	if s.machineID == "" {
		return 0, nil
	}

	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"sessions", "observations", "resolution_events"} {
			res, err := tx.Exec(
				"UPDATE "+table+" SET source_machine_id = ? WHERE source_machine_id = ''",
				s.machineID)
			if err != nil {
				return fmt.Errorf("store: claim %s: %w", table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("store: claim %s: %w", table, err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ListOwnSessions returns sessions recorded on this machine in a stable
// order, for export.
func (s *Store) ListOwnSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE source_machine_id IN ('', ?)
		ORDER BY started_at, id`, s.machineID)
	if err != nil {
		return nil, fmt.Errorf("store: list own sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListSessionBatches returns a session's batches in prompt order, hashes
// backfilled, for export.
func (s *Store) ListSessionBatches(ctx context.Context, sessionID string) ([]*types.PromptBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+` FROM prompt_batches
		WHERE session_id = ?
		ORDER BY prompt_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list batches for %s: %w", sessionID, err)
	}
	batches, err := collectBatches(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, b := range batches {
		if err := s.ensureBatchHash(ctx, b); err != nil {
			return nil, err
		}
	}
	return batches, nil
}

// ListOwnObservations returns observations recorded on this machine in a
// stable order, hashes backfilled, for export.
func (s *Store) ListOwnObservations(ctx context.Context) ([]*types.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+` FROM observations
		WHERE source_machine_id IN ('', ?)
		ORDER BY created_at, id`, s.machineID)
	if err != nil {
		return nil, fmt.Errorf("store: list own observations: %w", err)
	}
	observations, err := collectObservations(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, o := range observations {
		if err := s.ensureObservationHash(ctx, o); err != nil {
			return nil, err
		}
	}
	return observations, nil
}

const resolutionEventColumns = `id, observation_id, observation_hash, event_type,
	new_status, resolved_by_session_id, superseded_by_hash, source_machine_id,
	created_at, content_hash`

// ListOwnResolutionEvents returns resolution events recorded on this
// machine in a stable order, for export.
func (s *Store) ListOwnResolutionEvents(ctx context.Context) ([]*types.ResolutionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resolutionEventColumns+` FROM resolution_events
		WHERE source_machine_id IN ('', ?)
		ORDER BY created_at, id`, s.machineID)
	if err != nil {
		return nil, fmt.Errorf("store: list own resolution events: %w", err)
	}
	defer rows.Close()

	var events []*types.ResolutionEvent
	for rows.Next() {
		e, err := scanResolutionEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan resolution event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ImportSessionChunk merges foreign sessions, skipping ids already present.
// One transaction per chunk.
func (s *Store) ImportSessionChunk(ctx context.Context, sessions []*types.Session) (imported, skipped int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, sess := range sessions {
			res, err := tx.Exec(`
				INSERT INTO sessions (id, agent, project, started_at, ended_at, status,
					prompt_count, tool_count, processed, title, summary,
					parent_session_id, parent_session_reason, source_machine_id, transcript_path)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO NOTHING`,
				sess.ID, sess.Agent, sess.Project,
				formatTime(sess.StartedAt), formatNullableTime(sess.EndedAt), string(sess.Status),
				sess.PromptCount, sess.ToolCount, boolToInt(sess.Processed),
				sess.Title, sess.Summary,
				nullableString(sess.ParentSessionID), string(sess.ParentSessionReason),
				sess.SourceMachineID, sess.TranscriptPath)
			if err != nil {
				return fmt.Errorf("store: import session %s: %w", sess.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("store: import session %s: %w", sess.ID, err)
			}
			if n > 0 {
				imported++
			} else {
				skipped++
			}
		}
		return nil
	})
	return imported, skipped, err
}

// ImportBatchChunk merges foreign batches, keyed by content hash. Local
// autoincrement ids are reassigned. Batches whose session is not present
// locally are skipped.
func (s *Store) ImportBatchChunk(ctx context.Context, batches []*types.PromptBatch) (imported, skipped int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, b := range batches {
			if b.ContentHash == "" {
				b.ContentHash = b.ComputeContentHash()
			}

			exists, err := rowExists(tx,
				"SELECT 1 FROM prompt_batches WHERE content_hash = ?", b.ContentHash)
			if err != nil {
				return err
			}
			if exists {
				skipped++
				continue
			}

			haveSession, err := rowExists(tx, "SELECT 1 FROM sessions WHERE id = ?", b.SessionID)
			if err != nil {
				return err
			}
			if !haveSession {
				skipped++
				continue
			}

			_, err = tx.Exec(`
				INSERT INTO prompt_batches (session_id, prompt_number, user_prompt,
					source_type, started_at, ended_at, status, activity_count,
					processed, classification, plan_file_path, plan_content,
					plan_embedded, response_summary, content_hash)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				b.SessionID, b.PromptNumber, b.UserPrompt,
				string(b.SourceType), formatTime(b.StartedAt), formatNullableTime(b.EndedAt),
				string(b.Status), b.ActivityCount, boolToInt(b.Processed),
				b.Classification, b.PlanFilePath, b.PlanContent,
				boolToInt(b.PlanEmbedded), b.ResponseSummary, b.ContentHash)
			if err != nil {
				return fmt.Errorf("store: import batch %s: %w", b.ContentHash, err)
			}
			imported++
		}
		return nil
	})
	return imported, skipped, err
}

// ImportObservationChunk merges foreign observations, keyed by content
// hash. Batch references are rebound through the batch content hash; an
// observation whose batch is absent imports with no batch link, because
// knowledge must survive even when its source session was never shared.
func (s *Store) ImportObservationChunk(ctx context.Context, records []ImportObservation) (imported, skipped int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range records {
			o := rec.Observation
			if o.ContentHash == "" {
				o.ContentHash = o.ComputeContentHash()
			}

			exists, err := rowExists(tx,
				"SELECT 1 FROM observations WHERE content_hash = ? OR id = ?", o.ContentHash, o.ID)
			if err != nil {
				return err
			}
			if exists {
				skipped++
				continue
			}

			o.PromptBatchID = nil
			if rec.BatchHash != "" {
				var batchID int64
				err := tx.QueryRow(
					"SELECT id FROM prompt_batches WHERE content_hash = ?", rec.BatchHash).Scan(&batchID)
				if err != nil && !errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("store: resolve batch hash %s: %w", rec.BatchHash, err)
				}
				if err == nil {
					o.PromptBatchID = &batchID
				}
			}

			// Imported rows keep their origin machine; embedded stays 0 so
			// the local vector index picks them up.
			if err := insertObservation(tx, o); err != nil {
				return err
			}
			imported++
		}
		return nil
	})
	return imported, skipped, err
}

// ReplayResolutionChunk applies foreign status transitions to the local
// copies of their observations, located by observation content hash.
// Events already present (by content hash) are skipped; events whose
// observation is unknown locally are skipped and can replay on a later
// import.
func (s *Store) ReplayResolutionChunk(ctx context.Context, events []*types.ResolutionEvent) (replayed, skipped int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range events {
			exists, err := rowExists(tx,
				"SELECT 1 FROM resolution_events WHERE content_hash = ?", e.ContentHash)
			if err != nil {
				return err
			}
			if exists {
				skipped++
				continue
			}

			var localID string
			err = tx.QueryRow(
				"SELECT id FROM observations WHERE content_hash = ?", e.ObservationHash).Scan(&localID)
			if errors.Is(err, sql.ErrNoRows) {
				skipped++
				continue
			}
			if err != nil {
				return fmt.Errorf("store: resolve observation hash %s: %w", e.ObservationHash, err)
			}

			if err := applyResolution(tx, localID, e); err != nil {
				return err
			}

			local := *e
			local.ObservationID = localID
			if err := insertResolutionEvent(tx, &local); err != nil {
				return err
			}
			replayed++
		}
		return nil
	})
	return replayed, skipped, err
}

func applyResolution(tx *sql.Tx, localID string, e *types.ResolutionEvent) error {
	switch e.EventType {
	case types.ResolutionResolved:
		_, err := tx.Exec(
			"UPDATE observations SET status = ?, resolved_by_session_id = ? WHERE id = ?",
			string(types.ObservationResolved), nullableString(e.ResolvedBySessionID), localID)
		if err != nil {
			return fmt.Errorf("store: replay resolve on %s: %w", localID, err)
		}

	case types.ResolutionSuperseded:
		var replacementID sql.NullString
		if e.SupersededByHash != "" {
			var id string
			err := tx.QueryRow(
				"SELECT id FROM observations WHERE content_hash = ?", e.SupersededByHash).Scan(&id)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("store: resolve superseded-by hash: %w", err)
			}
			if err == nil {
				replacementID = sql.NullString{String: id, Valid: true}
			}
		}
		_, err := tx.Exec(
			"UPDATE observations SET status = ?, superseded_by = ? WHERE id = ?",
			string(types.ObservationSuperseded), replacementID, localID)
		if err != nil {
			return fmt.Errorf("store: replay supersede on %s: %w", localID, err)
		}

	case types.ResolutionReactivated:
		_, err := tx.Exec(`
			UPDATE observations
			SET status = ?, resolved_by_session_id = NULL, superseded_by = NULL
			WHERE id = ?`,
			string(types.ObservationActive), localID)
		if err != nil {
			return fmt.Errorf("store: replay reactivate on %s: %w", localID, err)
		}

	default:
		return fmt.Errorf("store: unknown resolution event type %q", e.EventType)
	}
	return nil
}

// DeleteMachineRows removes every row previously imported from the given
// machine. Used by replace-mode import before re-importing.
func (s *Store) DeleteMachineRows(ctx context.Context, machineID string) (int64, error) {
	if machineID == "" {
		return 0, fmt.Errorf("store: delete machine rows: machine id required")
	}

	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"resolution_events", "observations", "sessions"} {
			res, err := tx.Exec(
				"DELETE FROM "+table+" WHERE source_machine_id = ?", machineID)
			if err != nil {
				return fmt.Errorf("store: delete %s rows for %s: %w", table, machineID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("store: delete %s rows for %s: %w", table, machineID, err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func rowExists(tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRow(query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: existence check: %w", err)
	}
	return true, nil
}
