package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/recall/pkg/types"
)

const scheduleColumns = `id, name, task, interval_seconds, enabled,
	last_run_at, next_run_at, created_at`

// UpsertSchedule inserts or updates a schedule definition, keyed by name.
// Updating preserves the run cadence: last_run_at and next_run_at survive a
// definition change.
func (s *Store) UpsertSchedule(ctx context.Context, sched *types.Schedule) error {
	if sched.Name == "" || sched.Task == "" {
		return fmt.Errorf("store: schedule missing name or task")
	}
	if sched.IntervalSeconds <= 0 {
		return fmt.Errorf("store: schedule %s has invalid interval %d", sched.Name, sched.IntervalSeconds)
	}

	now := time.Now().UTC()
	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}
	if sched.NextRunAt.IsZero() {
		sched.NextRunAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, name, task, interval_seconds, enabled,
			last_run_at, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			task = excluded.task,
			interval_seconds = excluded.interval_seconds,
			enabled = excluded.enabled`,
		sched.ID, sched.Name, sched.Task, sched.IntervalSeconds,
		boolToInt(sched.Enabled), formatNullableTime(sched.LastRunAt),
		formatTime(sched.NextRunAt), formatTime(sched.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert schedule %s: %w", sched.Name, err)
	}
	return nil
}

// SyncSchedules reconciles the stored schedules with a definition set
// (typically loaded from the schedules file). Definitions are upserted;
// stored schedules absent from the set are disabled, not deleted, so their
// run history survives.
func (s *Store) SyncSchedules(ctx context.Context, defs []*types.Schedule) error {
	for _, sched := range defs {
		if err := s.UpsertSchedule(ctx, sched); err != nil {
			return err
		}
	}

	if len(defs) == 0 {
		_, err := s.db.ExecContext(ctx, "UPDATE schedules SET enabled = 0")
		if err != nil {
			return fmt.Errorf("store: sync schedules: %w", err)
		}
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(defs)), ",")
	args := make([]any, 0, len(defs))
	for _, sched := range defs {
		args = append(args, sched.Name)
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE schedules SET enabled = 0 WHERE name NOT IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("store: sync schedules: %w", err)
	}
	return nil
}

// ListSchedules returns every schedule, by name.
func (s *Store) ListSchedules(ctx context.Context) ([]*types.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("store: list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// ListDueSchedules returns enabled schedules whose next run is at or before
// now, soonest first.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time) ([]*types.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE enabled = 1 AND next_run_at <= ?
		ORDER BY next_run_at, name`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("store: list due schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// AdvanceSchedule records a launch at now and pushes next_run_at one
// interval forward.
func (s *Store) AdvanceSchedule(ctx context.Context, id string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var interval int
		err := tx.QueryRow("SELECT interval_seconds FROM schedules WHERE id = ?", id).Scan(&interval)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("store: schedule %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("store: advance schedule %s: %w", id, err)
		}

		next := now.Add(time.Duration(interval) * time.Second)
		_, err = tx.Exec(
			"UPDATE schedules SET last_run_at = ?, next_run_at = ? WHERE id = ?",
			formatTime(now), formatTime(next), id)
		if err != nil {
			return fmt.Errorf("store: advance schedule %s: %w", id, err)
		}
		return nil
	})
}

func collectSchedules(rows *sql.Rows) ([]*types.Schedule, error) {
	var schedules []*types.Schedule
	for rows.Next() {
		var sched types.Schedule
		var enabled int
		var lastRunAt sql.NullString
		var nextRunAt, createdAt string

		err := rows.Scan(&sched.ID, &sched.Name, &sched.Task, &sched.IntervalSeconds,
			&enabled, &lastRunAt, &nextRunAt, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: scan schedule: %w", err)
		}

		sched.Enabled = enabled != 0
		if sched.LastRunAt, err = parseNullableTime(lastRunAt); err != nil {
			return nil, err
		}
		if sched.NextRunAt, err = parseTime(nextRunAt); err != nil {
			return nil, err
		}
		if sched.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		schedules = append(schedules, &sched)
	}
	return schedules, rows.Err()
}
