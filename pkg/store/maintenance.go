package store

import (
	"context"
	"fmt"
)

// Stats summarizes the database for maintenance reporting.
type Stats struct {
	SchemaVersion int   `json:"schema_version"`
	Sessions      int64 `json:"sessions"`
	PromptBatches int64 `json:"prompt_batches"`
	Activities    int64 `json:"activities"`
	Observations  int64 `json:"observations"`
	Events        int64 `json:"resolution_events"`
	SizeBytes     int64 `json:"size_bytes"`
}

// Stats counts the main tables and reports the database size.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if err := s.FlushActivities(ctx); err != nil {
		return nil, err
	}

	st := &Stats{}
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&st.SchemaVersion); err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}

	counts := []struct {
		table string
		dest  *int64
	}{
		{"sessions", &st.Sessions},
		{"prompt_batches", &st.PromptBatches},
		{"activities", &st.Activities},
		{"observations", &st.Observations},
		{"resolution_events", &st.Events},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("store: stats for %s: %w", c.table, err)
		}
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT page_count * page_size
		FROM pragma_page_count(), pragma_page_size()`).Scan(&st.SizeBytes)
	if err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	return st, nil
}

// Vacuum rewrites the database file, reclaiming space freed by pruning.
func (s *Store) Vacuum(ctx context.Context) error {
	if err := s.FlushActivities(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("store: vacuum: %w", err)
	}
	return nil
}

// Analyze refreshes the query planner statistics.
func (s *Store) Analyze(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("store: analyze: %w", err)
	}
	return nil
}

// Reindex rebuilds every index from its table data.
func (s *Store) Reindex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "REINDEX"); err != nil {
		return fmt.Errorf("store: reindex: %w", err)
	}
	return nil
}

// OptimizeSearch merges the FTS index segments accumulated by incremental
// trigger writes.
func (s *Store) OptimizeSearch(ctx context.Context) error {
	for _, table := range []string{"activities_fts", "observations_fts"} {
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s(%s) VALUES('optimize')", table, table))
		if err != nil {
			return fmt.Errorf("store: optimize %s: %w", table, err)
		}
	}
	return nil
}

// CheckpointWAL folds the write-ahead log back into the main file and
// truncates it.
func (s *Store) CheckpointWAL(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("store: checkpoint: %w", err)
	}
	return nil
}
