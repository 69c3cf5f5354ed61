package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// SectionIDStorage is the identifier for the storage section
	SectionIDStorage = "storage"

	// DefaultBusyTimeoutMS is how long a connection waits on a locked
	// database before failing.
	DefaultBusyTimeoutMS = 5000

	// DefaultCacheSizeKB is the per-connection page cache size.
	DefaultCacheSizeKB = 64000

	// DefaultMaxReadRows clamps result sets on the read-only query surface.
	DefaultMaxReadRows = 1000

	// DefaultActivityFlushSize is how many buffered activities accumulate
	// before a flush.
	DefaultActivityFlushSize = 16
)

// StorageSection manages database settings: where the file lives and how
// connections and the read-only query surface behave.
type StorageSection struct {
	DatabasePath      string
	BusyTimeoutMS     int
	CacheSizeKB       int
	MaxReadRows       int
	ActivityFlushSize int
	mu                sync.RWMutex
}

// NewStorageSection creates a storage section with default settings.
func NewStorageSection() *StorageSection {
	return &StorageSection{
		BusyTimeoutMS:     DefaultBusyTimeoutMS,
		CacheSizeKB:       DefaultCacheSizeKB,
		MaxReadRows:       DefaultMaxReadRows,
		ActivityFlushSize: DefaultActivityFlushSize,
	}
}

// ID returns the section identifier.
func (s *StorageSection) ID() string {
	return SectionIDStorage
}

// Title returns the section title.
func (s *StorageSection) Title() string {
	return "Storage"
}

// Description returns the section description.
func (s *StorageSection) Description() string {
	return "Configure the database location, connection tuning, and read-only query limits. An empty database_path defaults to ~/.recall/recall.db."
}

// Data returns the current configuration data.
func (s *StorageSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"database_path":       s.DatabasePath,
		"busy_timeout_ms":     s.BusyTimeoutMS,
		"cache_size_kb":       s.CacheSizeKB,
		"max_read_rows":       s.MaxReadRows,
		"activity_flush_size": s.ActivityFlushSize,
	}
}

// SetData updates the configuration from the provided data.
func (s *StorageSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if path, ok := data["database_path"].(string); ok {
		s.DatabasePath = path
	}
	if v, ok := intValue(data["busy_timeout_ms"]); ok {
		s.BusyTimeoutMS = v
	}
	if v, ok := intValue(data["cache_size_kb"]); ok {
		s.CacheSizeKB = v
	}
	if v, ok := intValue(data["max_read_rows"]); ok {
		s.MaxReadRows = v
	}
	if v, ok := intValue(data["activity_flush_size"]); ok {
		s.ActivityFlushSize = v
	}

	return nil
}

// Validate validates the current configuration.
func (s *StorageSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.BusyTimeoutMS < 0 {
		return fmt.Errorf("busy_timeout_ms must not be negative")
	}
	if s.MaxReadRows <= 0 {
		return fmt.Errorf("max_read_rows must be positive")
	}
	if s.ActivityFlushSize <= 0 {
		return fmt.Errorf("activity_flush_size must be positive")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *StorageSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DatabasePath = ""
	s.BusyTimeoutMS = DefaultBusyTimeoutMS
	s.CacheSizeKB = DefaultCacheSizeKB
	s.MaxReadRows = DefaultMaxReadRows
	s.ActivityFlushSize = DefaultActivityFlushSize
}

// ResolveDatabasePath returns the configured database path, defaulting to
// ~/.recall/recall.db when unset.
func (s *StorageSection) ResolveDatabasePath() (string, error) {
	s.mu.RLock()
	path := s.DatabasePath
	s.mu.RUnlock()

	if path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".recall", "recall.db"), nil
}

// GetBusyTimeoutMS returns the configured busy timeout.
func (s *StorageSection) GetBusyTimeoutMS() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BusyTimeoutMS
}

// GetCacheSizeKB returns the configured cache size.
func (s *StorageSection) GetCacheSizeKB() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CacheSizeKB
}

// GetMaxReadRows returns the read-only query row clamp.
func (s *StorageSection) GetMaxReadRows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxReadRows
}

// GetActivityFlushSize returns the activity buffer flush threshold.
func (s *StorageSection) GetActivityFlushSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ActivityFlushSize
}

// intValue extracts an int from JSON-decoded data, which may arrive as
// float64 (JSON numbers) or int (values set programmatically).
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
