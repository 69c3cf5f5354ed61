package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/recall/pkg/types"
)

const sessionColumns = `id, agent, project, started_at, ended_at, status,
	prompt_count, tool_count, processed, title, summary,
	parent_session_id, parent_session_reason, source_machine_id, transcript_path`

// CreateSession records a new session. Idempotent by id: hooks can fire
// more than once for the same session start.
func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}

	machineID := sess.SourceMachineID
	if machineID == "" {
		machineID = s.machineID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, agent, project, started_at, ended_at, status,
			parent_session_id, parent_session_reason, source_machine_id, transcript_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.Agent, sess.Project,
		formatTime(sess.StartedAt), formatNullableTime(sess.EndedAt), string(sess.Status),
		nullableString(sess.ParentSessionID), string(sess.ParentSessionReason),
		machineID, sess.TranscriptPath)
	if err != nil {
		return fmt.Errorf("store: create session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session %s: %w", id, err)
	}
	return sess, nil
}

// EndSession completes a session: flushes buffered activities, sets the end
// time, force-completes any batch still open, and refreshes the counters.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	if err := s.FlushActivities(ctx); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?",
			string(types.SessionCompleted), formatTime(endedAt), id)
		if err != nil {
			return fmt.Errorf("store: end session %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: end session %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("store: end session %s: %w", id, ErrNotFound)
		}

		if _, err := tx.Exec(`
			UPDATE prompt_batches SET status = ?, ended_at = ?
			WHERE session_id = ? AND status = ?`,
			string(types.BatchCompleted), formatTime(endedAt), id, string(types.BatchActive)); err != nil {
			return fmt.Errorf("store: complete open batches for %s: %w", id, err)
		}

		return refreshSessionCounts(tx, id)
	})
}

// ReactivateSession reopens a completed session when late activity arrives.
func (s *Store) ReactivateSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET status = ?, ended_at = NULL WHERE id = ?",
		string(types.SessionActive), id)
	if err != nil {
		return fmt.Errorf("store: reactivate session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: reactivate session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: reactivate session %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteSession removes a session and everything that cascades from it
// (batches, activities, relationships). Observations survive: extracted
// knowledge outlives its source. Used for quality pruning.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.FlushActivities(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: delete session %s: %w", id, err)
	}
	return nil
}

// SetSessionTitle records a generated title.
func (s *Store) SetSessionTitle(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET title = ? WHERE id = ?", title, id)
	if err != nil {
		return fmt.Errorf("store: set session title %s: %w", id, err)
	}
	return nil
}

// SetSessionSummary records a generated summary and marks the session
// processed.
func (s *Store) SetSessionSummary(ctx context.Context, id, summary string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET summary = ?, processed = 1 WHERE id = ?", summary, id)
	if err != nil {
		return fmt.Errorf("store: set session summary %s: %w", id, err)
	}
	return nil
}

// TouchSessionCounts recomputes the session's prompt and tool counters from
// its children.
func (s *Store) TouchSessionCounts(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return refreshSessionCounts(tx, id)
	})
}

func refreshSessionCounts(tx *sql.Tx, id string) error {
	_, err := tx.Exec(`
		UPDATE sessions SET
			prompt_count = (SELECT COUNT(*) FROM prompt_batches WHERE session_id = ?),
			tool_count   = (SELECT COUNT(*) FROM activities WHERE session_id = ?)
		WHERE id = ?`, id, id, id)
	if err != nil {
		return fmt.Errorf("store: refresh counts for %s: %w", id, err)
	}
	return nil
}

// CountSessionActivities returns the number of recorded activities,
// including buffered ones not yet flushed.
func (s *Store) CountSessionActivities(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM activities WHERE session_id = ?", id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count activities for %s: %w", id, err)
	}

	s.bufMu.Lock()
	for _, a := range s.buffer {
		if a.SessionID == id {
			n++
		}
	}
	s.bufMu.Unlock()

	return n, nil
}

// ListStaleSessions returns active sessions whose latest sign of life
// (activity, batch start, or session start) is older than staleAfter.
// Sessions with a batch still open are skipped; stuck-batch recovery deals
// with those first.
func (s *Store) ListStaleSessions(ctx context.Context, now time.Time, staleAfter time.Duration) ([]*types.Session, error) {
	if err := s.FlushActivities(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`,
			COALESCE((SELECT MAX(timestamp) FROM activities WHERE session_id = sessions.id), ''),
			COALESCE((SELECT MAX(started_at) FROM prompt_batches WHERE session_id = sessions.id), '')
		FROM sessions
		WHERE status = ?
		  AND NOT EXISTS (
			SELECT 1 FROM prompt_batches
			WHERE session_id = sessions.id AND status = ?)`,
		string(types.SessionActive), string(types.BatchActive))
	if err != nil {
		return nil, fmt.Errorf("store: list stale sessions: %w", err)
	}
	defer rows.Close()

	var stale []*types.Session
	for rows.Next() {
		sess, lastActivity, lastBatch, err := scanSessionWithActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list stale sessions: %w", err)
		}

		lastSeen := sess.StartedAt
		for _, raw := range []string{lastActivity, lastBatch} {
			if raw == "" {
				continue
			}
			t, err := parseTime(raw)
			if err != nil {
				return nil, err
			}
			if t.After(lastSeen) {
				lastSeen = t
			}
		}

		if now.Sub(lastSeen) > staleAfter {
			stale = append(stale, sess)
		}
	}
	return stale, rows.Err()
}

// ListSessionsWithoutSummary returns completed, unprocessed sessions that
// still need summarization, oldest first.
func (s *Store) ListSessionsWithoutSummary(ctx context.Context, limit int) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = ? AND processed = 0
		ORDER BY started_at LIMIT ?`,
		string(types.SessionCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions without summary: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListSessionsWithoutTitle returns sessions with at least one prompt and no
// title yet, oldest first.
func (s *Store) ListSessionsWithoutTitle(ctx context.Context, limit int) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE title = '' AND prompt_count > 0
		ORDER BY started_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions without title: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// LinkParentSession finds and records the most plausible predecessor of the
// given session. Three tiers, most reliable first:
//
//  1. a session of the same agent and project that completed within
//     gapImmediate before this one started (a context clear),
//  2. the most recent still-active session of the same agent and project
//     with at least one prompt (a clear that raced the end hook),
//  3. the most recent completed session of the same agent and project
//     within gapFallback (a resume).
//
// The chosen link is rejected with ErrCycle if it would make the session
// its own ancestor. Returns the reason recorded, or empty when no tier
// matched.
func (s *Store) LinkParentSession(ctx context.Context, sessionID string, gapImmediate, gapFallback time.Duration) (types.ParentReason, error) {
	child, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	candidates, err := s.listParentCandidates(ctx, child)
	if err != nil {
		return "", err
	}

	var parentID string
	var reason types.ParentReason

	// Tier 1: completed immediately before the child started.
	var bestEnd time.Time
	for _, cand := range candidates {
		if cand.Status != types.SessionCompleted || cand.EndedAt == nil {
			continue
		}
		end := *cand.EndedAt
		if end.After(child.StartedAt) || child.StartedAt.Sub(end) > gapImmediate {
			continue
		}
		if parentID == "" || end.After(bestEnd) {
			parentID, bestEnd = cand.ID, end
		}
	}
	if parentID != "" {
		reason = types.ParentReasonClear
	}

	// Tier 2: an active predecessor whose end hook never arrived.
	if parentID == "" {
		var bestStart time.Time
		for _, cand := range candidates {
			if cand.Status != types.SessionActive || cand.PromptCount < 1 {
				continue
			}
			if !cand.StartedAt.Before(child.StartedAt) {
				continue
			}
			if parentID == "" || cand.StartedAt.After(bestStart) {
				parentID, bestStart = cand.ID, cand.StartedAt
			}
		}
		if parentID != "" {
			reason = types.ParentReasonClearActive
		}
	}

	// Tier 3: a recent completed session, treated as a resume.
	if parentID == "" {
		var bestEnd time.Time
		for _, cand := range candidates {
			if cand.Status != types.SessionCompleted || cand.EndedAt == nil {
				continue
			}
			end := *cand.EndedAt
			if end.After(child.StartedAt) || child.StartedAt.Sub(end) > gapFallback {
				continue
			}
			if parentID == "" || end.After(bestEnd) {
				parentID, bestEnd = cand.ID, end
			}
		}
		if parentID != "" {
			reason = types.ParentReasonResume
		}
	}

	if parentID == "" {
		return "", nil
	}

	if err := s.checkAncestry(ctx, sessionID, parentID); err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE sessions SET parent_session_id = ?, parent_session_reason = ? WHERE id = ?",
		parentID, string(reason), sessionID)
	if err != nil {
		return "", fmt.Errorf("store: link parent for %s: %w", sessionID, err)
	}
	return reason, nil
}

// listParentCandidates loads recent same-agent, same-project sessions.
func (s *Store) listParentCandidates(ctx context.Context, child *types.Session) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE agent = ? AND project = ? AND id != ?
		ORDER BY started_at DESC LIMIT 50`,
		child.Agent, child.Project, child.ID)
	if err != nil {
		return nil, fmt.Errorf("store: list parent candidates: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// checkAncestry walks up from parentID and fails with ErrCycle if it ever
// reaches childID.
func (s *Store) checkAncestry(ctx context.Context, childID, parentID string) error {
	if childID == parentID {
		return ErrCycle
	}

	visited := map[string]bool{childID: true}
	current := parentID
	for current != "" {
		if visited[current] {
			return ErrCycle
		}
		visited[current] = true

		var next sql.NullString
		err := s.db.QueryRowContext(ctx,
			"SELECT parent_session_id FROM sessions WHERE id = ?", current).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: walk ancestry from %s: %w", parentID, err)
		}
		if !next.Valid {
			return nil
		}
		current = next.String
	}
	return nil
}

// AddSessionRelationship records a typed edge between two sessions.
// Duplicate edges are ignored.
func (s *Store) AddSessionRelationship(ctx context.Context, rel *types.SessionRelationship) error {
	createdAt := rel.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_relationships (session_id, related_session_id, relationship, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, related_session_id, relationship) DO NOTHING`,
		rel.SessionID, rel.RelatedSessionID, rel.Relationship, rel.Reason, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("store: add relationship %s -> %s: %w", rel.SessionID, rel.RelatedSessionID, err)
	}
	return nil
}

// ListSessionRelationships returns all edges touching the given session.
func (s *Store) ListSessionRelationships(ctx context.Context, sessionID string) ([]*types.SessionRelationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, related_session_id, relationship, reason, created_at
		FROM session_relationships
		WHERE session_id = ? OR related_session_id = ?
		ORDER BY created_at, id`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list relationships for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var rels []*types.SessionRelationship
	for rows.Next() {
		var rel types.SessionRelationship
		var createdAt string
		if err := rows.Scan(&rel.ID, &rel.SessionID, &rel.RelatedSessionID,
			&rel.Relationship, &rel.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan relationship: %w", err)
		}
		if rel.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		rels = append(rels, &rel)
	}
	return rels, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*types.Session, error) {
	var sess types.Session
	var startedAt string
	var endedAt, parentID, parentReason sql.NullString
	var status string
	var processed int

	err := sc.Scan(&sess.ID, &sess.Agent, &sess.Project, &startedAt, &endedAt, &status,
		&sess.PromptCount, &sess.ToolCount, &processed, &sess.Title, &sess.Summary,
		&parentID, &parentReason, &sess.SourceMachineID, &sess.TranscriptPath)
	if err != nil {
		return nil, err
	}

	return finishSession(&sess, startedAt, endedAt, status, processed, parentID, parentReason)
}

func scanSessionWithActivity(sc scanner) (*types.Session, string, string, error) {
	var sess types.Session
	var startedAt string
	var endedAt, parentID, parentReason sql.NullString
	var status string
	var processed int
	var lastActivity, lastBatch string

	err := sc.Scan(&sess.ID, &sess.Agent, &sess.Project, &startedAt, &endedAt, &status,
		&sess.PromptCount, &sess.ToolCount, &processed, &sess.Title, &sess.Summary,
		&parentID, &parentReason, &sess.SourceMachineID, &sess.TranscriptPath,
		&lastActivity, &lastBatch)
	if err != nil {
		return nil, "", "", err
	}

	out, err := finishSession(&sess, startedAt, endedAt, status, processed, parentID, parentReason)
	return out, lastActivity, lastBatch, err
}

func finishSession(sess *types.Session, startedAt string, endedAt sql.NullString,
	status string, processed int, parentID, parentReason sql.NullString) (*types.Session, error) {

	var err error
	if sess.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if sess.EndedAt, err = parseNullableTime(endedAt); err != nil {
		return nil, err
	}
	sess.Status = types.SessionStatus(status)
	sess.Processed = processed != 0
	sess.ParentSessionID = stringPtr(parentID)
	if parentReason.Valid {
		sess.ParentSessionReason = types.ParentReason(parentReason.String)
	}
	return sess, nil
}

func collectSessions(rows *sql.Rows) ([]*types.Session, error) {
	var sessions []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
