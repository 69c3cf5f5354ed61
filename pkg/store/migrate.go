package store

import (
	"database/sql"
	"fmt"
)

// schemaVersion is the version the migration ladder currently ends at.
const schemaVersion = 26

// migration is one ordered schema step. Apply must be idempotent: every
// step re-runs on every startup, so each guards its own DDL and backfills
// against already-applied state.
type migration struct {
	Version int
	Name    string
	Apply   func(tx *sql.Tx) error
}

// EnsureSchema brings the database to the current schema version. All
// steps run in ascending order regardless of the recorded user_version:
// a partially-applied earlier run leaves drift that only a full re-walk
// heals. Each step gets its own transaction; the first failure aborts
// startup.
func EnsureSchema(db *sql.DB) error {
	migrations := allMigrations()

	for i, m := range migrations {
		if m.Version != i+1 {
			return fmt.Errorf("store: migration ladder broken at %d (version %d)", i, m.Version)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin migration %d: %w", m.Version, err)
		}

		if err := m.Apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: migration %d (%s): %w", m.Version, m.Name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	// PRAGMA cannot run inside the step transactions.
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("store: record schema version: %w", err)
	}

	return nil
}

// SchemaVersion reads the recorded schema version.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return v, nil
}

// tableExists reports whether a table or virtual table exists.
func tableExists(tx *sql.Tx, name string) (bool, error) {
	var n int
	err := tx.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?",
		name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

// columnExists reports whether a column exists on a table.
func columnExists(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("check column %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("scan column info for %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// indexExists reports whether an index exists.
func indexExists(tx *sql.Tx, name string) (bool, error) {
	var n int
	err := tx.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?",
		name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", name, err)
	}
	return n > 0, nil
}

// triggerExists reports whether a trigger exists.
func triggerExists(tx *sql.Tx, name string) (bool, error) {
	var n int
	err := tx.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'trigger' AND name = ?",
		name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check trigger %s: %w", name, err)
	}
	return n > 0, nil
}

// addColumn adds a column unless it already exists.
func addColumn(tx *sql.Tx, table, column, definition string) error {
	exists, err := columnExists(tx, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}
