// Package store is the persistence core: one SQLite database holding
// sessions, prompt batches, activities, observations, and their audit
// trails. The database is the single source of truth; the vector index
// and backup files are both derived from it.
//
// Connections are pooled by database/sql with pragmas applied through
// the DSN, so every pooled connection runs WAL with a busy timeout. A
// separate read-only handle serves the analytical query surface and
// nothing else.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/entrhq/recall/pkg/logging"
	"github.com/entrhq/recall/pkg/types"
)

const (
	// DefaultMaxReadRows clamps the analytical query surface.
	DefaultMaxReadRows = 1000

	// DefaultActivityFlushSize is the buffered-write threshold.
	DefaultActivityFlushSize = 16
)

// rwPragmas are applied to every pooled read-write connection.
const rwPragmas = "_pragma=journal_mode(WAL)" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=foreign_keys(ON)" +
	"&_pragma=cache_size(-64000)"

// roPragmas lock the analytical handle down to reads.
const roPragmas = "mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(5000)"

// CaptureFilter decides whether an activity may be recorded. Activities
// rejected by the filter are dropped at the boundary, before storage.
type CaptureFilter func(toolName, filePath string) bool

// Store wraps the database with the repository surface the daemon uses.
type Store struct {
	db     *sql.DB
	ro     *sql.DB
	path   string
	logger *logging.Logger

	machineID   string
	maxReadRows int
	flushSize   int
	capture     CaptureFilter

	bufMu  sync.Mutex
	buffer []*types.Activity

	closed bool
}

// Option configures the store at open time.
type Option func(*Store)

// WithMachineID stamps locally created rows with the given machine id.
func WithMachineID(id string) Option {
	return func(s *Store) {
		s.machineID = id
	}
}

// WithMaxReadRows sets the row clamp for the read-only query surface.
func WithMaxReadRows(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxReadRows = n
		}
	}
}

// WithActivityFlushSize sets the buffered activity flush threshold.
func WithActivityFlushSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.flushSize = n
		}
	}
}

// WithCaptureFilter installs the boundary filter for activity recording.
func WithCaptureFilter(filter CaptureFilter) Option {
	return func(s *Store) {
		s.capture = filter
	}
}

// Open opens (creating if needed) the database at path, brings its schema
// to the current version, and returns the ready store.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	logger, err := logging.NewLogger("store")
	if err != nil {
		return nil, fmt.Errorf("store: create logger: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?"+rwPragmas)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}

	// The read-only handle is opened after migration so a fresh database
	// file exists by the time mode=ro asks for it.
	ro, err := sql.Open("sqlite", "file:"+path+"?"+roPragmas)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: open read-only handle: %w", err)
	}

	s := &Store{
		db:          db,
		ro:          ro,
		path:        path,
		logger:      logger,
		maxReadRows: DefaultMaxReadRows,
		flushSize:   DefaultActivityFlushSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	logger.Infof("Database ready at %s (machine %s)", path, s.machineID)
	return s, nil
}

// Close flushes buffered activities and closes both handles.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.FlushActivities(context.Background()); err != nil {
		s.logger.Errorf("Flush on close failed: %v", err)
	}

	roErr := s.ro.Close()
	dbErr := s.db.Close()
	s.logger.Close()

	if dbErr != nil {
		return fmt.Errorf("store: close database: %w", dbErr)
	}
	if roErr != nil {
		return fmt.Errorf("store: close read-only handle: %w", roErr)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// MachineID returns the machine id locally created rows are stamped with.
func (s *Store) MachineID() string {
	return s.machineID
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Errorf("Rollback failed: %v (after %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// formatTime renders a timestamp in the canonical column format.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// formatNullableTime renders an optional timestamp, NULL when absent.
func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime parses a canonical column timestamp.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// parseNullableTime parses an optional column timestamp.
func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullableString renders an optional string column value.
func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// stringPtr converts a nullable column back to an optional string.
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// int64Ptr converts a nullable column back to an optional int64.
func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}
