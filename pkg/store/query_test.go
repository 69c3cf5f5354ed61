package store

import (
	"context"
	"errors"
	"testing"

	"github.com/entrhq/recall/pkg/types"
)

func TestRunQueryReads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, types.NewSession("q-sess", "claude-code", "/repo")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	// Buffered rows must be visible to ad hoc queries.
	if err := s.AddActivityBuffered(ctx, types.NewActivity("q-sess", "Bash")); err != nil {
		t.Fatalf("AddActivityBuffered failed: %v", err)
	}

	res, err := s.RunQuery(ctx, "SELECT id, agent FROM sessions")
	if err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	if len(res.Columns) != 2 || res.Columns[0] != "id" {
		t.Errorf("Unexpected columns: %v", res.Columns)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != "q-sess" {
		t.Errorf("Unexpected rows: %v", res.Rows)
	}

	res, err = s.RunQuery(ctx, "SELECT COUNT(*) AS n FROM activities")
	if err != nil {
		t.Fatalf("RunQuery over activities failed: %v", err)
	}
	if n, ok := res.Rows[0][0].(int64); !ok || n != 1 {
		t.Errorf("Expected flushed activity visible, got %v", res.Rows[0][0])
	}

	// WITH and EXPLAIN are reads too.
	if _, err := s.RunQuery(ctx, "WITH x(v) AS (SELECT 1) SELECT v FROM x"); err != nil {
		t.Errorf("WITH rejected: %v", err)
	}
	if _, err := s.RunQuery(ctx, "EXPLAIN QUERY PLAN SELECT * FROM sessions"); err != nil {
		t.Errorf("EXPLAIN rejected: %v", err)
	}
}

func TestRunQueryRejectsWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	denied := []string{
		"INSERT INTO sessions (id) VALUES ('x')",
		"UPDATE sessions SET agent = 'evil'",
		"DELETE FROM sessions",
		"DROP TABLE sessions",
		"PRAGMA journal_mode = DELETE",
		"VACUUM",
		"CREATE TABLE pwned (x)",
		"SELECT 1; DROP TABLE sessions",
		"ATTACH DATABASE '/tmp/other.db' AS other",
		"  \n\t UPDATE sessions SET agent = 'pad'",
		"/* sneaky */ DELETE FROM sessions",
		"",
	}
	for _, q := range denied {
		if _, err := s.RunQuery(ctx, q); !errors.Is(err, ErrForbiddenSQL) {
			t.Errorf("Expected ErrForbiddenSQL for %q, got %v", q, err)
		}
	}

	// Keywords inside string literals are data, not statements.
	res, err := s.RunQuery(ctx, "SELECT 'DROP TABLE sessions' AS warning")
	if err != nil {
		t.Fatalf("Literal containing keyword rejected: %v", err)
	}
	if res.Rows[0][0] != "DROP TABLE sessions" {
		t.Errorf("Unexpected literal result: %v", res.Rows[0][0])
	}

	// Comments are stripped before the prefix check, so a commented
	// write cannot smuggle itself in, and a commented header on a read
	// is fine.
	if _, err := s.RunQuery(ctx, "-- just a header\nSELECT 1"); err != nil {
		t.Errorf("Commented read rejected: %v", err)
	}
}

func TestRunQueryClampsRows(t *testing.T) {
	s := newTestStore(t, WithMaxReadRows(3))
	ctx := context.Background()

	res, err := s.RunQuery(ctx, `
		WITH RECURSIVE cnt(x) AS (
			SELECT 1 UNION ALL SELECT x + 1 FROM cnt WHERE x < 10
		)
		SELECT x FROM cnt`)
	if err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Errorf("Expected 3 rows after clamp, got %d", len(res.Rows))
	}
	if !res.Truncated {
		t.Error("Expected truncation flag")
	}
}

func TestReadOnlyHandleBlocksWrites(t *testing.T) {
	s := newTestStore(t)

	// Even if the denylist were bypassed, the handle itself is
	// query_only.
	if _, err := s.ro.Exec("INSERT INTO sessions (id, agent, project, started_at, status) VALUES ('x', 'a', 'p', '2026-01-01T00:00:00Z', 'active')"); err == nil {
		t.Fatal("Expected read-only handle to reject writes")
	}
}
