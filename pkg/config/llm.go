package config

import (
	"fmt"
	"sync"
	"time"
)

const (
	// SectionIDLLM is the identifier for the LLM settings section
	SectionIDLLM = "llm"

	// DefaultContextWindow is assumed when the model's window is not
	// configured. Small local models run around 4k, hosted models 128k+;
	// the extraction budget scales off this value.
	DefaultContextWindow = 8192

	// DefaultMaxResponseTokens bounds extraction responses.
	DefaultMaxResponseTokens = 1024

	// DefaultLLMTimeoutSeconds bounds a single completion call.
	DefaultLLMTimeoutSeconds = 60
)

// LLMSection manages LLM provider configuration settings.
type LLMSection struct {
	Model               string
	BaseURL             string
	APIKey              string
	ClassificationModel string // optional; if empty, classification uses Model
	ContextWindow       int
	MaxResponseTokens   int
	TimeoutSeconds      int
	mu                  sync.RWMutex
}

// NewLLMSection creates a new LLM section with default settings.
func NewLLMSection() *LLMSection {
	return &LLMSection{
		ContextWindow:     DefaultContextWindow,
		MaxResponseTokens: DefaultMaxResponseTokens,
		TimeoutSeconds:    DefaultLLMTimeoutSeconds,
	}
}

// ID returns the section identifier.
func (s *LLMSection) ID() string {
	return SectionIDLLM
}

// Title returns the section title.
func (s *LLMSection) Title() string {
	return "LLM Settings"
}

// Description returns the section description.
func (s *LLMSection) Description() string {
	return "Configure the LLM used for classification, extraction, and summarization. classification_model is optional; if set, the cheap classification calls use it instead of the main model. context_window drives how much session context extraction may include."
}

// Data returns the current configuration data.
func (s *LLMSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"model":                s.Model,
		"base_url":             s.BaseURL,
		"api_key":              s.APIKey,
		"classification_model": s.ClassificationModel,
		"context_window":       s.ContextWindow,
		"max_response_tokens":  s.MaxResponseTokens,
		"timeout_seconds":      s.TimeoutSeconds,
	}
}

// SetData updates the configuration from the provided data.
func (s *LLMSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if model, ok := data["model"].(string); ok {
		s.Model = model
	}

	if baseURL, ok := data["base_url"].(string); ok {
		s.BaseURL = baseURL
	}

	if apiKey, ok := data["api_key"].(string); ok {
		s.APIKey = apiKey
	}

	if classificationModel, ok := data["classification_model"].(string); ok {
		s.ClassificationModel = classificationModel
	}

	if v, ok := intValue(data["context_window"]); ok {
		s.ContextWindow = v
	}

	if v, ok := intValue(data["max_response_tokens"]); ok {
		s.MaxResponseTokens = v
	}

	if v, ok := intValue(data["timeout_seconds"]); ok {
		s.TimeoutSeconds = v
	}

	return nil
}

// Validate validates the current configuration.
func (s *LLMSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Model, base URL, and API key are optional: the pipeline degrades to
	// heuristics when no LLM is reachable. The numeric bounds must still
	// be sane.
	if s.ContextWindow <= 0 {
		return fmt.Errorf("context_window must be positive")
	}
	if s.MaxResponseTokens <= 0 {
		return fmt.Errorf("max_response_tokens must be positive")
	}
	if s.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *LLMSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Model = ""
	s.BaseURL = ""
	s.APIKey = ""
	s.ClassificationModel = ""
	s.ContextWindow = DefaultContextWindow
	s.MaxResponseTokens = DefaultMaxResponseTokens
	s.TimeoutSeconds = DefaultLLMTimeoutSeconds
}

// GetModel returns the configured model name.
func (s *LLMSection) GetModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Model
}

// SetModel sets the model name.
func (s *LLMSection) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Model = model
}

// GetBaseURL returns the configured base URL.
func (s *LLMSection) GetBaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BaseURL
}

// SetBaseURL sets the base URL.
func (s *LLMSection) SetBaseURL(baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BaseURL = baseURL
}

// GetAPIKey returns the configured API key.
func (s *LLMSection) GetAPIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.APIKey
}

// SetAPIKey sets the API key.
func (s *LLMSection) SetAPIKey(apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.APIKey = apiKey
}

// GetClassificationModel returns the model to use for classification calls.
// Falls back to the main model when no dedicated one is configured.
func (s *LLMSection) GetClassificationModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ClassificationModel != "" {
		return s.ClassificationModel
	}
	return s.Model
}

// SetClassificationModel sets the classification model name.
// An empty string falls back to the main model.
func (s *LLMSection) SetClassificationModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClassificationModel = model
}

// GetContextWindow returns the configured model context window in tokens.
func (s *LLMSection) GetContextWindow() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ContextWindow
}

// GetMaxResponseTokens returns the per-call response token ceiling.
func (s *LLMSection) GetMaxResponseTokens() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxResponseTokens
}

// Timeout returns the per-call timeout as a duration.
func (s *LLMSection) Timeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.TimeoutSeconds) * time.Second
}
