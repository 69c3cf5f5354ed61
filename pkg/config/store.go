package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists section data keyed by section ID. The Manager stages
// section snapshots into a Store and the Store owns the file format.
type Store interface {
	// Load reads the persisted data, replacing any staged state.
	Load() error

	// Save writes the staged data out.
	Save() error

	// GetSection returns a section's persisted settings, empty if unknown.
	GetSection(sectionID string) (map[string]interface{}, error)

	// SetSection stages a section's settings for the next Save.
	SetSection(sectionID string, data map[string]interface{}) error

	// GetAll returns every persisted section.
	GetAll() (map[string]map[string]interface{}, error)

	// SetAll replaces every staged section.
	SetAll(data map[string]map[string]interface{}) error
}

// fileVersion is written into every config file. Bump only with a reader
// that still accepts the old shape.
const fileVersion = "1.0"

// fileSchema is the on-disk form: a version marker and one object per
// registered section.
type fileSchema struct {
	Version  string                            `json:"version"`
	Sections map[string]map[string]interface{} `json:"sections"`
}

// FileStore is the JSON file implementation of Store. Saves are atomic
// (temp file + rename) so a crash mid-write never corrupts the config.
type FileStore struct {
	path     string
	data     map[string]map[string]interface{}
	mu       sync.RWMutex
	version  string
	modified bool
}

// NewFileStore opens a file-backed store at path, defaulting to
// ~/.recall/config.json. A missing file is not an error; the store starts
// empty and the file appears on first Save.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("config: resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".recall", "config.json")
	}

	s := &FileStore{
		path:    path,
		data:    make(map[string]map[string]interface{}),
		version: fileVersion,
	}
	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return s, nil
}

// Load reads the file into the store. A missing file leaves the store
// empty; any staged, unsaved changes are discarded.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = make(map[string]map[string]interface{})
			return nil
		}
		return fmt.Errorf("config: open %s: %w", s.path, err)
	}
	defer f.Close()

	var file fileSchema
	if err := json.NewDecoder(f).Decode(&file); err != nil {
		return fmt.Errorf("config: decode %s: %w", s.path, err)
	}

	s.version = file.Version
	s.data = file.Sections
	if s.data == nil {
		s.data = make(map[string]map[string]interface{})
	}
	s.modified = false
	return nil
}

// Save writes the staged data atomically and clears the modified flag.
// Parent directories are created as needed.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fileSchema{Version: s.version, Sections: s.data}); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: replace %s: %w", s.path, err)
	}

	s.modified = false
	return nil
}

// GetSection returns a copy of one section's settings. Unknown sections
// yield an empty map, letting them fall back to defaults.
func (s *FileStore) GetSection(sectionID string) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[sectionID]
	if !ok {
		return make(map[string]interface{}), nil
	}
	return copySection(data), nil
}

// SetSection stages one section's settings. The input is copied; callers
// keep ownership of their map.
func (s *FileStore) SetSection(sectionID string, data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[sectionID] = copySection(data)
	s.modified = true
	return nil
}

// GetAll returns a deep copy of every section.
func (s *FileStore) GetAll() (map[string]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySections(s.data), nil
}

// SetAll replaces every staged section with a deep copy of the input.
func (s *FileStore) SetAll(data map[string]map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = copySections(data)
	s.modified = true
	return nil
}

// IsModified reports whether staged changes have not been saved yet.
func (s *FileStore) IsModified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modified
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func copySection(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copySections(in map[string]map[string]interface{}) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(in))
	for id, section := range in {
		out[id] = copySection(section)
	}
	return out
}
