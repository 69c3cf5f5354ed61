package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/recall/pkg/types"
)

const observationColumns = `id, session_id, prompt_batch_id, observation,
	memory_type, context, tags, importance, file_path, created_at, embedded,
	status, resolved_by_session_id, superseded_by, content_hash, source_machine_id`

// StoreObservation persists an extracted observation, marks the activities
// it was extracted from as processed, and refreshes the owning batch's
// counters, all in one transaction. A crash can lose an observation or keep
// it, never half of one.
func (s *Store) StoreObservation(ctx context.Context, o *types.Observation, sourceActivityIDs []int64) error {
	o.ClampImportance()
	if err := o.Validate(); err != nil {
		return fmt.Errorf("store: store observation: %w", err)
	}
	if o.ContentHash == "" {
		o.ContentHash = o.ComputeContentHash()
	}
	if o.SourceMachineID == "" {
		o.SourceMachineID = s.machineID
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertObservation(tx, o); err != nil {
			return err
		}

		if len(sourceActivityIDs) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sourceActivityIDs)), ",")
			args := make([]any, 0, len(sourceActivityIDs)+1)
			args = append(args, o.ID)
			for _, id := range sourceActivityIDs {
				args = append(args, id)
			}
			_, err := tx.Exec(
				"UPDATE activities SET processed = 1, observation_id = ? WHERE id IN ("+placeholders+")",
				args...)
			if err != nil {
				return fmt.Errorf("store: mark source activities for %s: %w", o.ID, err)
			}
		}

		if o.PromptBatchID != nil {
			_, err := tx.Exec(`
				UPDATE prompt_batches
				SET activity_count = (SELECT COUNT(*) FROM activities WHERE prompt_batch_id = ?)
				WHERE id = ?`, *o.PromptBatchID, *o.PromptBatchID)
			if err != nil {
				return fmt.Errorf("store: refresh batch counters for %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

func insertObservation(tx *sql.Tx, o *types.Observation) error {
	_, err := tx.Exec(`
		INSERT INTO observations (id, session_id, prompt_batch_id, observation,
			memory_type, context, tags, importance, file_path, created_at,
			status, content_hash, source_machine_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.SessionID, o.PromptBatchID, o.Observation,
		string(o.MemoryType), o.Context, marshalTags(o.Tags), o.Importance,
		o.FilePath, formatTime(o.CreatedAt), string(o.Status),
		o.ContentHash, o.SourceMachineID)
	if err != nil {
		return fmt.Errorf("store: insert observation %s: %w", o.ID, err)
	}
	return nil
}

// GetObservation loads an observation by id, backfilling a missing content
// hash on legacy rows.
func (s *Store) GetObservation(ctx context.Context, id string) (*types.Observation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+observationColumns+" FROM observations WHERE id = ?", id)
	o, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: observation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get observation %s: %w", id, err)
	}
	if err := s.ensureObservationHash(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// FindObservationByHash resolves a content hash to the local observation
// carrying it. Import replay uses this to map cross-machine references onto
// local ids.
func (s *Store) FindObservationByHash(ctx context.Context, hash string) (*types.Observation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+observationColumns+" FROM observations WHERE content_hash = ? LIMIT 1", hash)
	o, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: observation with hash %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: find observation by hash: %w", err)
	}
	return o, nil
}

// ListSessionObservations returns a session's observations in creation
// order.
func (s *Store) ListSessionObservations(ctx context.Context, sessionID string) ([]*types.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+` FROM observations
		WHERE session_id = ?
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list observations for %s: %w", sessionID, err)
	}
	defer rows.Close()
	return collectObservations(rows)
}

// ListUnembeddedObservations returns active observations the vector index
// has not confirmed yet, oldest first. Resolved and superseded ones are not
// worth indexing.
func (s *Store) ListUnembeddedObservations(ctx context.Context, limit int) ([]*types.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+` FROM observations
		WHERE embedded = 0 AND status = ?
		ORDER BY created_at, id LIMIT ?`,
		string(types.ObservationActive), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list unembedded observations: %w", err)
	}
	defer rows.Close()
	return collectObservations(rows)
}

// MarkObservationEmbedded records that the observation reached the vector
// index.
func (s *Store) MarkObservationEmbedded(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE observations SET embedded = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: mark observation %s embedded: %w", id, err)
	}
	return nil
}

// ResolveObservation marks an observation resolved and writes the audit
// event in the same transaction. The event carries this machine's identity:
// the machine performing a transition owns it.
func (s *Store) ResolveObservation(ctx context.Context, id string, resolvedBySessionID *string) (*types.ResolutionEvent, error) {
	var event *types.ResolutionEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		o, err := getObservationTx(tx, id)
		if err != nil {
			return err
		}

		e := types.NewResolutionEvent(o, types.ResolutionResolved, types.ObservationResolved)
		e.ResolvedBySessionID = resolvedBySessionID
		e.SourceMachineID = s.machineID

		_, err = tx.Exec(
			"UPDATE observations SET status = ?, resolved_by_session_id = ? WHERE id = ?",
			string(types.ObservationResolved), nullableString(resolvedBySessionID), id)
		if err != nil {
			return fmt.Errorf("store: resolve observation %s: %w", id, err)
		}

		if err := insertResolutionEvent(tx, e); err != nil {
			return err
		}
		event = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// SupersedeObservation marks oldID replaced by newID and writes the audit
// event. The event references the replacement by content hash so other
// machines can replay the supersession against their own copy.
func (s *Store) SupersedeObservation(ctx context.Context, oldID, newID string) (*types.ResolutionEvent, error) {
	var event *types.ResolutionEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		old, err := getObservationTx(tx, oldID)
		if err != nil {
			return err
		}
		replacement, err := getObservationTx(tx, newID)
		if err != nil {
			return err
		}

		e := types.NewResolutionEvent(old, types.ResolutionSuperseded, types.ObservationSuperseded)
		e.SupersededByHash = replacement.ContentHash
		e.SourceMachineID = s.machineID

		_, err = tx.Exec(
			"UPDATE observations SET status = ?, superseded_by = ? WHERE id = ?",
			string(types.ObservationSuperseded), newID, oldID)
		if err != nil {
			return fmt.Errorf("store: supersede observation %s: %w", oldID, err)
		}

		if err := insertResolutionEvent(tx, e); err != nil {
			return err
		}
		event = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// ReactivateObservation returns a resolved or superseded observation to
// active and writes the audit event.
func (s *Store) ReactivateObservation(ctx context.Context, id string) (*types.ResolutionEvent, error) {
	var event *types.ResolutionEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		o, err := getObservationTx(tx, id)
		if err != nil {
			return err
		}

		e := types.NewResolutionEvent(o, types.ResolutionReactivated, types.ObservationActive)
		e.SourceMachineID = s.machineID

		_, err = tx.Exec(`
			UPDATE observations
			SET status = ?, resolved_by_session_id = NULL, superseded_by = NULL
			WHERE id = ?`,
			string(types.ObservationActive), id)
		if err != nil {
			return fmt.Errorf("store: reactivate observation %s: %w", id, err)
		}

		if err := insertResolutionEvent(tx, e); err != nil {
			return err
		}
		event = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func getObservationTx(tx *sql.Tx, id string) (*types.Observation, error) {
	row := tx.QueryRow(
		"SELECT "+observationColumns+" FROM observations WHERE id = ?", id)
	o, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: observation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get observation %s: %w", id, err)
	}
	if o.ContentHash == "" {
		o.ContentHash = o.ComputeContentHash()
		if _, err := tx.Exec(
			"UPDATE observations SET content_hash = ? WHERE id = ?", o.ContentHash, o.ID); err != nil {
			return nil, fmt.Errorf("store: backfill observation hash %s: %w", o.ID, err)
		}
	}
	return o, nil
}

func insertResolutionEvent(tx *sql.Tx, e *types.ResolutionEvent) error {
	res, err := tx.Exec(`
		INSERT INTO resolution_events (observation_id, observation_hash, event_type,
			new_status, resolved_by_session_id, superseded_by_hash,
			source_machine_id, created_at, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ObservationID, e.ObservationHash, string(e.EventType),
		string(e.NewStatus), nullableString(e.ResolvedBySessionID), e.SupersededByHash,
		e.SourceMachineID, formatTime(e.CreatedAt), e.ContentHash)
	if err != nil {
		return fmt.Errorf("store: insert resolution event for %s: %w", e.ObservationID, err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("store: insert resolution event for %s: %w", e.ObservationID, err)
	}
	return nil
}

// ensureObservationHash backfills the content hash on a legacy row.
func (s *Store) ensureObservationHash(ctx context.Context, o *types.Observation) error {
	if o.ContentHash != "" {
		return nil
	}
	o.ContentHash = o.ComputeContentHash()
	_, err := s.db.ExecContext(ctx,
		"UPDATE observations SET content_hash = ? WHERE id = ?", o.ContentHash, o.ID)
	if err != nil {
		return fmt.Errorf("store: backfill observation hash %s: %w", o.ID, err)
	}
	return nil
}

func scanObservation(sc scanner) (*types.Observation, error) {
	var o types.Observation
	var batchID sql.NullInt64
	var memoryType, tags, createdAt, status string
	var embedded int
	var resolvedBy, supersededBy sql.NullString

	err := sc.Scan(&o.ID, &o.SessionID, &batchID, &o.Observation,
		&memoryType, &o.Context, &tags, &o.Importance, &o.FilePath, &createdAt,
		&embedded, &status, &resolvedBy, &supersededBy, &o.ContentHash, &o.SourceMachineID)
	if err != nil {
		return nil, err
	}

	o.PromptBatchID = int64Ptr(batchID)
	o.MemoryType = types.MemoryType(memoryType)
	o.Embedded = embedded != 0
	o.Status = types.ObservationStatus(status)
	o.ResolvedBySessionID = stringPtr(resolvedBy)
	o.SupersededBy = stringPtr(supersededBy)
	if o.Tags, err = parseTags(tags); err != nil {
		return nil, fmt.Errorf("store: observation %s tags: %w", o.ID, err)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func collectObservations(rows *sql.Rows) ([]*types.Observation, error) {
	var observations []*types.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan observation: %w", err)
		}
		observations = append(observations, o)
	}
	return observations, rows.Err()
}

// marshalTags stores tags as a JSON array, empty as the empty string so
// untagged rows stay cheap and FTS-neutral.
func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return ""
	}
	return string(b)
}

func parseTags(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func scanResolutionEvent(sc scanner) (*types.ResolutionEvent, error) {
	var e types.ResolutionEvent
	var eventType, newStatus, createdAt string
	var resolvedBy sql.NullString

	err := sc.Scan(&e.ID, &e.ObservationID, &e.ObservationHash, &eventType,
		&newStatus, &resolvedBy, &e.SupersededByHash, &e.SourceMachineID,
		&createdAt, &e.ContentHash)
	if err != nil {
		return nil, err
	}

	e.EventType = types.ResolutionEventType(eventType)
	e.NewStatus = types.ObservationStatus(newStatus)
	e.ResolvedBySessionID = stringPtr(resolvedBy)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}
