package config

import (
	"fmt"
	"sync"
)

// Section represents one logical group of configuration settings. Sections
// register with the Manager and are persisted by section ID.
type Section interface {
	// ID returns the unique section identifier used as the storage key
	ID() string

	// Title returns a human-readable section name
	Title() string

	// Description explains what the section configures
	Description() string

	// Data returns the section's current settings as a serializable map
	Data() map[string]interface{}

	// SetData applies settings from a deserialized map
	SetData(data map[string]interface{}) error

	// Validate checks the section's current settings
	Validate() error

	// Reset restores the section to its defaults
	Reset()
}

// Manager coordinates configuration sections and their persistence. It keeps
// registration order so sections load, save, and display in a stable order.
type Manager struct {
	store    Store
	sections map[string]Section
	order    []string
	mu       sync.RWMutex
}

// NewManager creates a manager backed by the given store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:    store,
		sections: make(map[string]Section),
	}
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// RegisterSection adds a section to the manager. Registering two sections
// with the same ID is an error.
func (m *Manager) RegisterSection(section Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := section.ID()
	if _, exists := m.sections[id]; exists {
		return fmt.Errorf("config: section %q already registered", id)
	}

	m.sections[id] = section
	m.order = append(m.order, id)
	return nil
}

// GetSection retrieves a registered section by ID.
func (m *Manager) GetSection(id string) (Section, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	section, ok := m.sections[id]
	return section, ok
}

// GetSections returns all registered sections in registration order.
func (m *Manager) GetSections() []Section {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sections := make([]Section, 0, len(m.order))
	for _, id := range m.order {
		sections = append(sections, m.sections[id])
	}
	return sections
}

// LoadAll reloads the store from disk and applies the stored data to every
// registered section. Sections with no stored data keep their defaults.
func (m *Manager) LoadAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.store.Load(); err != nil {
		return fmt.Errorf("config: load store: %w", err)
	}

	for _, id := range m.order {
		data, err := m.store.GetSection(id)
		if err != nil {
			return fmt.Errorf("config: load section %q: %w", id, err)
		}
		if len(data) == 0 {
			continue
		}
		if err := m.sections[id].SetData(data); err != nil {
			return fmt.Errorf("config: apply section %q: %w", id, err)
		}
	}

	return nil
}

// SaveAll validates every section, writes their data to the store, and
// persists the store. Validation failures abort the save before anything is
// written.
func (m *Manager) SaveAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		if err := m.sections[id].Validate(); err != nil {
			return fmt.Errorf("config: section %q invalid: %w", id, err)
		}
	}

	for _, id := range m.order {
		if err := m.store.SetSection(id, m.sections[id].Data()); err != nil {
			return fmt.Errorf("config: stage section %q: %w", id, err)
		}
	}

	if err := m.store.Save(); err != nil {
		return fmt.Errorf("config: save store: %w", err)
	}

	return nil
}

// ResetAll restores every registered section to its defaults. The store is
// not touched; call SaveAll to persist.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		m.sections[id].Reset()
	}
}
