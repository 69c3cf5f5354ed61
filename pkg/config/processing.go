package config

import (
	"fmt"
	"sync"
	"time"
)

const (
	// SectionIDProcessing is the identifier for the background processing section
	SectionIDProcessing = "processing"

	// DefaultCycleSeconds is the interval between background cycles.
	DefaultCycleSeconds = 60

	// DefaultSessionStaleMinutes is how long a session can sit idle before
	// recovery completes or deletes it.
	DefaultSessionStaleMinutes = 30

	// DefaultBatchStaleMinutes is how long a batch can stay active before
	// recovery force-completes it.
	DefaultBatchStaleMinutes = 30

	// DefaultMinSessionActivities is the quality threshold: stale sessions
	// with fewer activities are deleted instead of summarized.
	DefaultMinSessionActivities = 3

	// DefaultParentGapImmediateSeconds is the gap that identifies a clear
	// continuation: the parent ended within this many seconds of the child
	// starting.
	DefaultParentGapImmediateSeconds = 5

	// DefaultParentGapFallbackHours is the window for linking a resumed
	// session to the most recent completed one.
	DefaultParentGapFallbackHours = 6

	// DefaultMaxBatchesPerCycle bounds LLM extraction work per cycle.
	DefaultMaxBatchesPerCycle = 10

	// DefaultMaxSummariesPerCycle bounds session summarization per cycle.
	DefaultMaxSummariesPerCycle = 5

	// DefaultMaxTitlesPerCycle bounds title generation per cycle.
	DefaultMaxTitlesPerCycle = 5
)

// ProcessingSection manages background pipeline settings: cycle cadence,
// staleness thresholds, the session quality bar, parent-link windows, and
// per-cycle work bounds.
type ProcessingSection struct {
	CycleSeconds              int
	SessionStaleMinutes       int
	BatchStaleMinutes         int
	MinSessionActivities      int
	ParentGapImmediateSeconds int
	ParentGapFallbackHours    int
	MaxBatchesPerCycle        int
	MaxSummariesPerCycle      int
	MaxTitlesPerCycle         int
	mu                        sync.RWMutex
}

// NewProcessingSection creates a processing section with default settings.
func NewProcessingSection() *ProcessingSection {
	return &ProcessingSection{
		CycleSeconds:              DefaultCycleSeconds,
		SessionStaleMinutes:       DefaultSessionStaleMinutes,
		BatchStaleMinutes:         DefaultBatchStaleMinutes,
		MinSessionActivities:      DefaultMinSessionActivities,
		ParentGapImmediateSeconds: DefaultParentGapImmediateSeconds,
		ParentGapFallbackHours:    DefaultParentGapFallbackHours,
		MaxBatchesPerCycle:        DefaultMaxBatchesPerCycle,
		MaxSummariesPerCycle:      DefaultMaxSummariesPerCycle,
		MaxTitlesPerCycle:         DefaultMaxTitlesPerCycle,
	}
}

// ID returns the section identifier.
func (s *ProcessingSection) ID() string {
	return SectionIDProcessing
}

// Title returns the section title.
func (s *ProcessingSection) Title() string {
	return "Background Processing"
}

// Description returns the section description.
func (s *ProcessingSection) Description() string {
	return "Configure the background cycle: how often it runs, when sessions and batches go stale, the minimum activity count a session needs to be kept, and how much work each cycle may do."
}

// Data returns the current configuration data.
func (s *ProcessingSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"cycle_seconds":                s.CycleSeconds,
		"session_stale_minutes":        s.SessionStaleMinutes,
		"batch_stale_minutes":          s.BatchStaleMinutes,
		"min_session_activities":       s.MinSessionActivities,
		"parent_gap_immediate_seconds": s.ParentGapImmediateSeconds,
		"parent_gap_fallback_hours":    s.ParentGapFallbackHours,
		"max_batches_per_cycle":        s.MaxBatchesPerCycle,
		"max_summaries_per_cycle":      s.MaxSummariesPerCycle,
		"max_titles_per_cycle":         s.MaxTitlesPerCycle,
	}
}

// SetData updates the configuration from the provided data.
func (s *ProcessingSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := intValue(data["cycle_seconds"]); ok {
		s.CycleSeconds = v
	}
	if v, ok := intValue(data["session_stale_minutes"]); ok {
		s.SessionStaleMinutes = v
	}
	if v, ok := intValue(data["batch_stale_minutes"]); ok {
		s.BatchStaleMinutes = v
	}
	if v, ok := intValue(data["min_session_activities"]); ok {
		s.MinSessionActivities = v
	}
	if v, ok := intValue(data["parent_gap_immediate_seconds"]); ok {
		s.ParentGapImmediateSeconds = v
	}
	if v, ok := intValue(data["parent_gap_fallback_hours"]); ok {
		s.ParentGapFallbackHours = v
	}
	if v, ok := intValue(data["max_batches_per_cycle"]); ok {
		s.MaxBatchesPerCycle = v
	}
	if v, ok := intValue(data["max_summaries_per_cycle"]); ok {
		s.MaxSummariesPerCycle = v
	}
	if v, ok := intValue(data["max_titles_per_cycle"]); ok {
		s.MaxTitlesPerCycle = v
	}

	return nil
}

// Validate validates the current configuration.
func (s *ProcessingSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.CycleSeconds <= 0 {
		return fmt.Errorf("cycle_seconds must be positive")
	}
	if s.SessionStaleMinutes <= 0 {
		return fmt.Errorf("session_stale_minutes must be positive")
	}
	if s.BatchStaleMinutes <= 0 {
		return fmt.Errorf("batch_stale_minutes must be positive")
	}
	if s.MinSessionActivities < 0 {
		return fmt.Errorf("min_session_activities must not be negative")
	}
	if s.ParentGapImmediateSeconds <= 0 {
		return fmt.Errorf("parent_gap_immediate_seconds must be positive")
	}
	if s.ParentGapFallbackHours <= 0 {
		return fmt.Errorf("parent_gap_fallback_hours must be positive")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *ProcessingSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CycleSeconds = DefaultCycleSeconds
	s.SessionStaleMinutes = DefaultSessionStaleMinutes
	s.BatchStaleMinutes = DefaultBatchStaleMinutes
	s.MinSessionActivities = DefaultMinSessionActivities
	s.ParentGapImmediateSeconds = DefaultParentGapImmediateSeconds
	s.ParentGapFallbackHours = DefaultParentGapFallbackHours
	s.MaxBatchesPerCycle = DefaultMaxBatchesPerCycle
	s.MaxSummariesPerCycle = DefaultMaxSummariesPerCycle
	s.MaxTitlesPerCycle = DefaultMaxTitlesPerCycle
}

// CycleInterval returns the cycle cadence as a duration.
func (s *ProcessingSection) CycleInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.CycleSeconds) * time.Second
}

// SessionStaleAfter returns the session staleness threshold as a duration.
func (s *ProcessingSection) SessionStaleAfter() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.SessionStaleMinutes) * time.Minute
}

// BatchStaleAfter returns the batch staleness threshold as a duration.
func (s *ProcessingSection) BatchStaleAfter() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.BatchStaleMinutes) * time.Minute
}

// ParentGapImmediate returns the immediate continuation window.
func (s *ProcessingSection) ParentGapImmediate() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.ParentGapImmediateSeconds) * time.Second
}

// ParentGapFallback returns the resumed-session fallback window.
func (s *ProcessingSection) ParentGapFallback() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.ParentGapFallbackHours) * time.Hour
}

// GetMinSessionActivities returns the session quality threshold.
func (s *ProcessingSection) GetMinSessionActivities() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MinSessionActivities
}

// GetMaxBatchesPerCycle returns the per-cycle batch processing bound.
func (s *ProcessingSection) GetMaxBatchesPerCycle() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxBatchesPerCycle
}

// GetMaxSummariesPerCycle returns the per-cycle summarization bound.
func (s *ProcessingSection) GetMaxSummariesPerCycle() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxSummariesPerCycle
}

// GetMaxTitlesPerCycle returns the per-cycle title generation bound.
func (s *ProcessingSection) GetMaxTitlesPerCycle() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxTitlesPerCycle
}
