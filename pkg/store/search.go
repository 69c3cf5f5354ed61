package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/recall/pkg/types"
)

// SearchActivities runs an FTS5 query over tool names, output summaries,
// file paths and error messages, best match first. The limit is clamped to
// the store's read bound.
func (s *Store) SearchActivities(ctx context.Context, query string, limit int) ([]*types.Activity, error) {
	if err := s.FlushActivities(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activities
		JOIN (
			SELECT rowid, bm25(activities_fts) AS rank
			FROM activities_fts WHERE activities_fts MATCH ?
		) AS m ON m.rowid = activities.id
		ORDER BY m.rank LIMIT ?`,
		query, s.clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: search activities %q: %w", query, err)
	}
	defer rows.Close()
	return collectActivities(rows)
}

// SearchObservations runs an FTS5 query over observation text, context,
// tags and file paths, best match first.
func (s *Store) SearchObservations(ctx context.Context, query string, limit int) ([]*types.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+` FROM observations
		JOIN (
			SELECT rowid, bm25(observations_fts) AS rank
			FROM observations_fts WHERE observations_fts MATCH ?
		) AS m ON m.rowid = observations.rowid
		ORDER BY m.rank LIMIT ?`,
		query, s.clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: search observations %q: %w", query, err)
	}
	defer rows.Close()
	return collectObservations(rows)
}

func (s *Store) clampLimit(limit int) int {
	if limit <= 0 || limit > s.maxReadRows {
		return s.maxReadRows
	}
	return limit
}

// QuoteFTS wraps a term as an FTS5 phrase so paths and punctuation-heavy
// strings survive the query parser.
func QuoteFTS(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}
