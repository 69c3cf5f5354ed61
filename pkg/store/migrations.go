package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/entrhq/recall/pkg/types"
)

// allMigrations returns the full schema ladder, strictly ordered. Steps are
// never edited once shipped; schema changes append new steps. Every Apply
// is idempotent because the whole ladder re-runs on every startup.
func allMigrations() []migration {
	return []migration{
		{1, "create_sessions", createSessions},
		{2, "create_prompt_batches", createPromptBatches},
		{3, "create_activities", createActivities},
		{4, "create_observations", createObservations},
		{5, "hot_path_indexes", createHotPathIndexes},
		{6, "session_counters", addSessionCounters},
		{7, "processing_flags", addProcessingFlags},
		{8, "observation_embedding", addObservationEmbedding},
		{9, "batch_classification", addBatchClassification},
		{10, "session_titles", addSessionTitles},
		{11, "activities_fts", createActivitiesFTS},
		{12, "observations_fts", createObservationsFTS},
		{13, "activity_observation_link", addActivityObservationLink},
		{14, "observation_lifecycle", addObservationLifecycle},
		{15, "create_resolution_events", createResolutionEvents},
		{16, "create_agent_runs_and_schedules", createAgentRunsAndSchedules},
		{17, "observation_hashes", backfillObservationHashes},
		{18, "batch_hashes", backfillBatchHashes},
		{19, "activity_and_event_hashes", backfillActivityAndEventHashes},
		{20, "batch_source_types", addBatchSourceTypes},
		{21, "parent_links", addParentLinks},
		{22, "machine_identity", addMachineIdentity},
		{23, "plan_capture", addPlanCapture},
		{24, "response_summaries", addResponseSummaries},
		{25, "create_session_relationships", createSessionRelationships},
		{26, "dedup_indexes", createDedupIndexes},
	}
}

func createSessions(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			agent      TEXT NOT NULL DEFAULT '',
			project    TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at   TEXT,
			status     TEXT NOT NULL DEFAULT 'active'
			           CHECK (status IN ('active','completed'))
		)`)
	return err
}

func createPromptBatches(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS prompt_batches (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			prompt_number  INTEGER NOT NULL,
			user_prompt    TEXT NOT NULL DEFAULT '',
			started_at     TEXT NOT NULL,
			ended_at       TEXT,
			status         TEXT NOT NULL DEFAULT 'active'
			               CHECK (status IN ('active','completed')),
			activity_count INTEGER NOT NULL DEFAULT 0
		)`); err != nil {
		return err
	}
	_, err := tx.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_batches_session_prompt
		ON prompt_batches(session_id, prompt_number)`)
	return err
}

func createActivities(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS activities (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id          TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			prompt_batch_id     INTEGER REFERENCES prompt_batches(id) ON DELETE SET NULL,
			tool_name           TEXT NOT NULL,
			tool_input          TEXT NOT NULL DEFAULT '',
			tool_output_summary TEXT NOT NULL DEFAULT '',
			file_path           TEXT NOT NULL DEFAULT '',
			files_affected      INTEGER NOT NULL DEFAULT 0,
			duration_ms         INTEGER NOT NULL DEFAULT 0,
			success             INTEGER NOT NULL DEFAULT 1,
			error_message       TEXT NOT NULL DEFAULT '',
			timestamp           TEXT NOT NULL
		)`)
	return err
}

func createObservations(tx *sql.Tx) error {
	// No foreign key to sessions: observations are the knowledge the
	// system exists to keep, and they outlive session pruning and
	// cross-machine imports.
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS observations (
			id              TEXT PRIMARY KEY,
			session_id      TEXT NOT NULL DEFAULT '',
			prompt_batch_id INTEGER REFERENCES prompt_batches(id) ON DELETE SET NULL,
			observation     TEXT NOT NULL,
			memory_type     TEXT NOT NULL
			                CHECK (memory_type IN ('gotcha','bug_fix','decision','discovery','trade_off','session_summary')),
			context         TEXT NOT NULL DEFAULT '',
			tags            TEXT NOT NULL DEFAULT '',
			importance      INTEGER NOT NULL DEFAULT 5,
			file_path       TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL
		)`)
	return err
}

func createHotPathIndexes(tx *sql.Tx) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_batches_session ON prompt_batches(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_activities_session ON activities(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_activities_batch ON activities(prompt_batch_id)",
		"CREATE INDEX IF NOT EXISTS idx_activities_timestamp ON activities(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id)",
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func addSessionCounters(tx *sql.Tx) error {
	if err := addColumn(tx, "sessions", "prompt_count", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := addColumn(tx, "sessions", "tool_count", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	return addColumn(tx, "sessions", "processed", "INTEGER NOT NULL DEFAULT 0")
}

func addProcessingFlags(tx *sql.Tx) error {
	if err := addColumn(tx, "prompt_batches", "processed", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	return addColumn(tx, "activities", "processed", "INTEGER NOT NULL DEFAULT 0")
}

func addObservationEmbedding(tx *sql.Tx) error {
	return addColumn(tx, "observations", "embedded", "INTEGER NOT NULL DEFAULT 0")
}

func addBatchClassification(tx *sql.Tx) error {
	return addColumn(tx, "prompt_batches", "classification", "TEXT NOT NULL DEFAULT ''")
}

func addSessionTitles(tx *sql.Tx) error {
	if err := addColumn(tx, "sessions", "title", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return addColumn(tx, "sessions", "summary", "TEXT NOT NULL DEFAULT ''")
}

func createActivitiesFTS(tx *sql.Tx) error {
	exists, err := tableExists(tx, "activities_fts")
	if err != nil {
		return err
	}
	if !exists {
		if _, err := tx.Exec(`
			CREATE VIRTUAL TABLE IF NOT EXISTS activities_fts USING fts5(
				tool_name,
				tool_output_summary,
				file_path,
				error_message,
				content='activities',
				content_rowid='id'
			)`); err != nil {
			return err
		}
		// Index rows that predate the FTS table.
		if _, err := tx.Exec("INSERT INTO activities_fts(activities_fts) VALUES('rebuild')"); err != nil {
			return err
		}
	}

	triggers := map[string]string{
		"activities_fts_ai": `
			CREATE TRIGGER activities_fts_ai AFTER INSERT ON activities BEGIN
				INSERT INTO activities_fts(rowid, tool_name, tool_output_summary, file_path, error_message)
				VALUES (new.id, new.tool_name, new.tool_output_summary, new.file_path, new.error_message);
			END`,
		"activities_fts_ad": `
			CREATE TRIGGER activities_fts_ad AFTER DELETE ON activities BEGIN
				INSERT INTO activities_fts(activities_fts, rowid, tool_name, tool_output_summary, file_path, error_message)
				VALUES ('delete', old.id, old.tool_name, old.tool_output_summary, old.file_path, old.error_message);
			END`,
		"activities_fts_au": `
			CREATE TRIGGER activities_fts_au AFTER UPDATE ON activities BEGIN
				INSERT INTO activities_fts(activities_fts, rowid, tool_name, tool_output_summary, file_path, error_message)
				VALUES ('delete', old.id, old.tool_name, old.tool_output_summary, old.file_path, old.error_message);
				INSERT INTO activities_fts(rowid, tool_name, tool_output_summary, file_path, error_message)
				VALUES (new.id, new.tool_name, new.tool_output_summary, new.file_path, new.error_message);
			END`,
	}
	return createTriggers(tx, triggers)
}

func createObservationsFTS(tx *sql.Tx) error {
	exists, err := tableExists(tx, "observations_fts")
	if err != nil {
		return err
	}
	if !exists {
		if _, err := tx.Exec(`
			CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
				observation,
				context,
				tags,
				file_path,
				content='observations',
				content_rowid='rowid'
			)`); err != nil {
			return err
		}
		if _, err := tx.Exec("INSERT INTO observations_fts(observations_fts) VALUES('rebuild')"); err != nil {
			return err
		}
	}

	triggers := map[string]string{
		"observations_fts_ai": `
			CREATE TRIGGER observations_fts_ai AFTER INSERT ON observations BEGIN
				INSERT INTO observations_fts(rowid, observation, context, tags, file_path)
				VALUES (new.rowid, new.observation, new.context, new.tags, new.file_path);
			END`,
		"observations_fts_ad": `
			CREATE TRIGGER observations_fts_ad AFTER DELETE ON observations BEGIN
				INSERT INTO observations_fts(observations_fts, rowid, observation, context, tags, file_path)
				VALUES ('delete', old.rowid, old.observation, old.context, old.tags, old.file_path);
			END`,
		"observations_fts_au": `
			CREATE TRIGGER observations_fts_au AFTER UPDATE ON observations BEGIN
				INSERT INTO observations_fts(observations_fts, rowid, observation, context, tags, file_path)
				VALUES ('delete', old.rowid, old.observation, old.context, old.tags, old.file_path);
				INSERT INTO observations_fts(rowid, observation, context, tags, file_path)
				VALUES (new.rowid, new.observation, new.context, new.tags, new.file_path);
			END`,
	}
	return createTriggers(tx, triggers)
}

// createTriggers creates each trigger that does not exist yet.
func createTriggers(tx *sql.Tx, triggers map[string]string) error {
	for name, stmt := range triggers {
		exists, err := triggerExists(tx, name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("create trigger %s: %w", name, err)
		}
	}
	return nil
}

func addActivityObservationLink(tx *sql.Tx) error {
	return addColumn(tx, "activities", "observation_id", "TEXT")
}

func addObservationLifecycle(tx *sql.Tx) error {
	if err := addColumn(tx, "observations", "status",
		"TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','resolved','superseded'))"); err != nil {
		return err
	}
	if err := addColumn(tx, "observations", "resolved_by_session_id", "TEXT"); err != nil {
		return err
	}
	return addColumn(tx, "observations", "superseded_by", "TEXT")
}

func createResolutionEvents(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS resolution_events (
			id                     INTEGER PRIMARY KEY AUTOINCREMENT,
			observation_id         TEXT NOT NULL DEFAULT '',
			event_type             TEXT NOT NULL
			                       CHECK (event_type IN ('resolved','superseded','reactivated')),
			new_status             TEXT NOT NULL DEFAULT '',
			resolved_by_session_id TEXT,
			created_at             TEXT NOT NULL
		)`)
	return err
}

func createAgentRunsAndSchedules(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS agent_runs (
			id            TEXT PRIMARY KEY,
			schedule_id   TEXT,
			session_id    TEXT,
			task          TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'running'
			              CHECK (status IN ('running','completed','failed')),
			started_at    TEXT NOT NULL,
			ended_at      TEXT,
			result        TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT ''
		)`); err != nil {
		return err
	}
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schedules (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL UNIQUE,
			task             TEXT NOT NULL DEFAULT '',
			interval_seconds INTEGER NOT NULL DEFAULT 3600,
			enabled          INTEGER NOT NULL DEFAULT 1,
			last_run_at      TEXT,
			next_run_at      TEXT NOT NULL,
			created_at       TEXT NOT NULL
		)`)
	return err
}

func backfillObservationHashes(tx *sql.Tx) error {
	if err := addColumn(tx, "observations", "content_hash", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}

	rows, err := tx.Query(
		"SELECT id, observation, memory_type, context FROM observations WHERE content_hash = ''")
	if err != nil {
		return err
	}

	type pending struct{ id, hash string }
	var updates []pending
	for rows.Next() {
		var id, text, memoryType, context string
		if err := rows.Scan(&id, &text, &memoryType, &context); err != nil {
			rows.Close()
			return err
		}
		o := types.Observation{Observation: text, MemoryType: types.MemoryType(memoryType), Context: context}
		updates = append(updates, pending{id, o.ComputeContentHash()})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, u := range updates {
		if _, err := tx.Exec("UPDATE observations SET content_hash = ? WHERE id = ?", u.hash, u.id); err != nil {
			return err
		}
	}
	return nil
}

func backfillBatchHashes(tx *sql.Tx) error {
	if err := addColumn(tx, "prompt_batches", "content_hash", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}

	rows, err := tx.Query(
		"SELECT id, session_id, prompt_number FROM prompt_batches WHERE content_hash = ''")
	if err != nil {
		return err
	}

	type pending struct {
		id   int64
		hash string
	}
	var updates []pending
	for rows.Next() {
		var id int64
		var sessionID string
		var promptNumber int
		if err := rows.Scan(&id, &sessionID, &promptNumber); err != nil {
			rows.Close()
			return err
		}
		b := types.PromptBatch{SessionID: sessionID, PromptNumber: promptNumber}
		updates = append(updates, pending{id, b.ComputeContentHash()})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, u := range updates {
		if _, err := tx.Exec("UPDATE prompt_batches SET content_hash = ? WHERE id = ?", u.hash, u.id); err != nil {
			return err
		}
	}
	return nil
}

func backfillActivityAndEventHashes(tx *sql.Tx) error {
	if err := addColumn(tx, "activities", "content_hash", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := addColumn(tx, "resolution_events", "observation_hash", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := addColumn(tx, "resolution_events", "superseded_by_hash", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := addColumn(tx, "resolution_events", "content_hash", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}

	rows, err := tx.Query(
		"SELECT id, session_id, tool_name, timestamp, file_path FROM activities WHERE content_hash = ''")
	if err != nil {
		return err
	}

	type pending struct {
		id   int64
		hash string
	}
	var updates []pending
	for rows.Next() {
		var id int64
		var sessionID, toolName, ts, filePath string
		if err := rows.Scan(&id, &sessionID, &toolName, &ts, &filePath); err != nil {
			rows.Close()
			return err
		}
		stamp, err := parseTime(ts)
		if err != nil {
			rows.Close()
			return err
		}
		a := types.Activity{SessionID: sessionID, ToolName: toolName, Timestamp: stamp, FilePath: filePath}
		updates = append(updates, pending{id, a.ComputeContentHash()})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, u := range updates {
		if _, err := tx.Exec("UPDATE activities SET content_hash = ? WHERE id = ?", u.hash, u.id); err != nil {
			return err
		}
	}

	// Events gain their observation's hash as the stable reference, then
	// their own hash on top of it.
	if _, err := tx.Exec(`
		UPDATE resolution_events
		SET observation_hash = COALESCE(
			(SELECT content_hash FROM observations WHERE observations.id = resolution_events.observation_id), '')
		WHERE observation_hash = ''`); err != nil {
		return err
	}

	eventRows, err := tx.Query(
		"SELECT id, observation_hash, event_type, created_at FROM resolution_events WHERE content_hash = ''")
	if err != nil {
		return err
	}

	updates = updates[:0]
	for eventRows.Next() {
		var id int64
		var obsHash, eventType, createdAt string
		if err := eventRows.Scan(&id, &obsHash, &eventType, &createdAt); err != nil {
			eventRows.Close()
			return err
		}
		stamp, err := parseTime(createdAt)
		if err != nil {
			eventRows.Close()
			return err
		}
		e := types.ResolutionEvent{
			ObservationHash: obsHash,
			EventType:       types.ResolutionEventType(eventType),
			CreatedAt:       stamp,
		}
		updates = append(updates, pending{id, e.ComputeContentHash()})
	}
	if err := eventRows.Err(); err != nil {
		eventRows.Close()
		return err
	}
	eventRows.Close()

	for _, u := range updates {
		if _, err := tx.Exec("UPDATE resolution_events SET content_hash = ? WHERE id = ?", u.hash, u.id); err != nil {
			return err
		}
	}
	return nil
}

func addBatchSourceTypes(tx *sql.Tx) error {
	if err := addColumn(tx, "prompt_batches", "source_type",
		"TEXT NOT NULL DEFAULT 'user' CHECK (source_type IN ('user','agent_notification','plan','system'))"); err != nil {
		return err
	}

	// Conservative inference for rows recorded before source types
	// existed: transcript-injected prompts carry recognizable prefixes.
	// Anything unrecognized stays 'user'. Already-relabeled rows no
	// longer match, so the updates re-run cleanly.
	if _, err := tx.Exec(`
		UPDATE prompt_batches SET source_type = 'system'
		WHERE source_type = 'user'
		  AND (user_prompt LIKE 'Caveat:%' OR user_prompt LIKE '<command-%')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE prompt_batches SET source_type = 'agent_notification'
		WHERE source_type = 'user'
		  AND user_prompt LIKE '[Request interrupted%'`); err != nil {
		return err
	}
	return nil
}

func addParentLinks(tx *sql.Tx) error {
	if err := addColumn(tx, "sessions", "parent_session_id", "TEXT"); err != nil {
		return err
	}
	if err := addColumn(tx, "sessions", "parent_session_reason", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return inferParentLinks(tx)
}

// inferParentLinks backfills parent links for sessions that started within
// the immediate-continuation gap of another session's end (the signature a
// context clear leaves behind). Only sessions without a link are touched;
// no candidate means the session stays unlinked.
func inferParentLinks(tx *sql.Tx) error {
	const gap = 5 * time.Second

	type sessionRow struct {
		id, agent, project string
		startedAt          time.Time
		endedAt            *time.Time
		hasParent          bool
	}

	rows, err := tx.Query(`
		SELECT id, agent, project, started_at, ended_at,
		       parent_session_id IS NOT NULL
		FROM sessions`)
	if err != nil {
		return err
	}

	var sessions []sessionRow
	for rows.Next() {
		var s sessionRow
		var started string
		var ended sql.NullString
		var hasParent int
		if err := rows.Scan(&s.id, &s.agent, &s.project, &started, &ended, &hasParent); err != nil {
			rows.Close()
			return err
		}
		s.hasParent = hasParent != 0
		if s.startedAt, err = parseTime(started); err != nil {
			rows.Close()
			return err
		}
		if s.endedAt, err = parseNullableTime(ended); err != nil {
			rows.Close()
			return err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].startedAt.Before(sessions[j].startedAt) })

	for _, child := range sessions {
		if child.hasParent {
			continue
		}

		var parentID string
		var parentEnd time.Time
		for _, cand := range sessions {
			if cand.id == child.id || cand.endedAt == nil {
				continue
			}
			if cand.agent != child.agent || cand.project != child.project {
				continue
			}
			end := *cand.endedAt
			if end.After(child.startedAt) || child.startedAt.Sub(end) > gap {
				continue
			}
			if parentID == "" || end.After(parentEnd) {
				parentID = cand.id
				parentEnd = end
			}
		}

		if parentID == "" {
			continue
		}
		if _, err := tx.Exec(
			"UPDATE sessions SET parent_session_id = ?, parent_session_reason = ? WHERE id = ?",
			parentID, string(types.ParentReasonClear), child.id); err != nil {
			return err
		}
	}
	return nil
}

func addMachineIdentity(tx *sql.Tx) error {
	// Empty means "recorded locally before machine identity existed";
	// the exporter claims such rows as its own.
	for _, table := range []string{"sessions", "observations", "resolution_events"} {
		if err := addColumn(tx, table, "source_machine_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
	}
	return nil
}

func addPlanCapture(tx *sql.Tx) error {
	if err := addColumn(tx, "prompt_batches", "plan_file_path", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := addColumn(tx, "prompt_batches", "plan_content", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return addColumn(tx, "prompt_batches", "plan_embedded", "INTEGER NOT NULL DEFAULT 0")
}

func addResponseSummaries(tx *sql.Tx) error {
	if err := addColumn(tx, "prompt_batches", "response_summary", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return addColumn(tx, "sessions", "transcript_path", "TEXT NOT NULL DEFAULT ''")
}

func createSessionRelationships(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS session_relationships (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id         TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			related_session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			relationship       TEXT NOT NULL,
			reason             TEXT NOT NULL DEFAULT '',
			created_at         TEXT NOT NULL
		)`); err != nil {
		return err
	}
	_, err := tx.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_relationships_unique
		ON session_relationships(session_id, related_session_id, relationship)`)
	return err
}

func createDedupIndexes(tx *sql.Tx) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_observations_hash ON observations(content_hash)",
		"CREATE INDEX IF NOT EXISTS idx_batches_hash ON prompt_batches(content_hash)",
		"CREATE INDEX IF NOT EXISTS idx_activities_hash ON activities(content_hash)",
		"CREATE INDEX IF NOT EXISTS idx_events_hash ON resolution_events(content_hash)",
		"CREATE INDEX IF NOT EXISTS idx_events_observation_hash ON resolution_events(observation_hash)",
		"CREATE INDEX IF NOT EXISTS idx_observations_unembedded ON observations(embedded) WHERE embedded = 0",
		"CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, started_at)",
		"CREATE INDEX IF NOT EXISTS idx_batches_status ON prompt_batches(status, processed)",
		"CREATE INDEX IF NOT EXISTS idx_runs_status ON agent_runs(status, started_at)",
		"CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(enabled, next_run_at)",
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
