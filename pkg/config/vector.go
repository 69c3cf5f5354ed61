package config

import (
	"fmt"
	"net/url"
	"sync"
	"time"
)

const (
	// SectionIDVector is the identifier for the vector index section
	SectionIDVector = "vector"

	// DefaultVectorTimeoutSeconds bounds a single index call.
	DefaultVectorTimeoutSeconds = 30
)

// VectorSection manages the vector index collaborator settings. An empty
// base URL disables the index entirely: observations stay durable in the
// database with their embedded flag unset.
type VectorSection struct {
	BaseURL        string
	TimeoutSeconds int
	mu             sync.RWMutex
}

// NewVectorSection creates a vector section with default settings.
func NewVectorSection() *VectorSection {
	return &VectorSection{
		TimeoutSeconds: DefaultVectorTimeoutSeconds,
	}
}

// ID returns the section identifier.
func (s *VectorSection) ID() string {
	return SectionIDVector
}

// Title returns the section title.
func (s *VectorSection) Title() string {
	return "Vector Index"
}

// Description returns the section description.
func (s *VectorSection) Description() string {
	return "Configure the external vector index that receives extracted observations. Leave base_url empty to run without one; observations remain in the database and are pushed once an index is configured."
}

// Data returns the current configuration data.
func (s *VectorSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"base_url":        s.BaseURL,
		"timeout_seconds": s.TimeoutSeconds,
	}
}

// SetData updates the configuration from the provided data.
func (s *VectorSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if baseURL, ok := data["base_url"].(string); ok {
		s.BaseURL = baseURL
	}
	if v, ok := intValue(data["timeout_seconds"]); ok {
		s.TimeoutSeconds = v
	}

	return nil
}

// Validate validates the current configuration.
func (s *VectorSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.BaseURL != "" {
		if _, err := url.Parse(s.BaseURL); err != nil {
			return fmt.Errorf("base_url is not a valid URL: %w", err)
		}
	}
	if s.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *VectorSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BaseURL = ""
	s.TimeoutSeconds = DefaultVectorTimeoutSeconds
}

// GetBaseURL returns the configured index base URL, empty when disabled.
func (s *VectorSection) GetBaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BaseURL
}

// SetBaseURL sets the index base URL.
func (s *VectorSection) SetBaseURL(baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BaseURL = baseURL
}

// Timeout returns the per-call timeout as a duration.
func (s *VectorSection) Timeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.TimeoutSeconds) * time.Second
}
