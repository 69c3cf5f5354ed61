package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies what kind of knowledge an observation encodes.
type MemoryType string

const (
	MemoryGotcha         MemoryType = "gotcha"
	MemoryBugFix         MemoryType = "bug_fix"
	MemoryDecision       MemoryType = "decision"
	MemoryDiscovery      MemoryType = "discovery"
	MemoryTradeOff       MemoryType = "trade_off"
	MemorySessionSummary MemoryType = "session_summary"
)

// KnownMemoryTypes lists every memory type extraction may produce.
var KnownMemoryTypes = []MemoryType{
	MemoryGotcha,
	MemoryBugFix,
	MemoryDecision,
	MemoryDiscovery,
	MemoryTradeOff,
	MemorySessionSummary,
}

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	for _, k := range KnownMemoryTypes {
		if t == k {
			return true
		}
	}
	return false
}

// ObservationStatus is the lifecycle state of an observation. Transitions
// are recorded as ResolutionEvents so other machines can replay them.
type ObservationStatus string

const (
	ObservationActive     ObservationStatus = "active"
	ObservationResolved   ObservationStatus = "resolved"
	ObservationSuperseded ObservationStatus = "superseded"
)

// Observation is one extracted memory: a gotcha, a decision, a bug fix. The
// database row is authoritative; the vector index entry is a projection that
// can always be rebuilt from rows with Embedded false.
type Observation struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	// PromptBatchID is machine-local and nil for session-level summaries.
	// Cross-machine references go through the owning batch's content hash.
	PromptBatchID *int64 `json:"-"`

	// Observation is the memory text itself.
	Observation string `json:"observation"`

	MemoryType MemoryType `json:"memory_type"`

	// Context captures the circumstances that make the observation useful
	// later (what was being attempted, what surfaced it).
	Context string `json:"context,omitempty"`

	Tags       []string `json:"tags,omitempty"`
	Importance int      `json:"importance"`
	FilePath   string   `json:"file_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Embedded is set once the observation has been pushed to the vector
	// index. Push failures leave it false for retry.
	Embedded bool `json:"-"`

	Status ObservationStatus `json:"status"`

	ResolvedBySessionID *string `json:"resolved_by_session_id,omitempty"`

	// SupersededBy holds the id of the replacing observation.
	SupersededBy *string `json:"superseded_by,omitempty"`

	// ContentHash identifies this observation across machines. Computed
	// from the semantic fields only, so local ids and timestamps do not
	// defeat deduplication.
	ContentHash string `json:"content_hash"`

	SourceMachineID string `json:"source_machine_id,omitempty"`
}

// NewObservation builds an active observation with a fresh UUID, clamped
// importance, and a computed content hash.
func NewObservation(sessionID, text string, memoryType MemoryType) *Observation {
	o := &Observation{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Observation: text,
		MemoryType:  memoryType,
		Importance:  5,
		CreatedAt:   time.Now().UTC(),
		Status:      ObservationActive,
	}
	o.ContentHash = o.ComputeContentHash()
	return o
}

// Validate checks the structural invariants an observation must satisfy.
func (o *Observation) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("types: observation missing ID")
	}
	if o.SessionID == "" {
		return fmt.Errorf("types: observation %s missing session ID", o.ID)
	}
	if o.Observation == "" {
		return fmt.Errorf("types: observation %s has empty text", o.ID)
	}
	if !o.MemoryType.Valid() {
		return fmt.Errorf("types: observation %s has unknown memory type %q", o.ID, o.MemoryType)
	}
	if o.Importance < 1 || o.Importance > 10 {
		return fmt.Errorf("types: observation %s importance %d out of range", o.ID, o.Importance)
	}
	return nil
}

// ClampImportance forces importance into the 1..10 range, defaulting to 5
// when unset. Extraction output is untrusted; this runs before storage.
func (o *Observation) ClampImportance() {
	switch {
	case o.Importance == 0:
		o.Importance = 5
	case o.Importance < 1:
		o.Importance = 1
	case o.Importance > 10:
		o.Importance = 10
	}
}

// ResolutionEventType names an observation status transition.
type ResolutionEventType string

const (
	ResolutionResolved    ResolutionEventType = "resolved"
	ResolutionSuperseded  ResolutionEventType = "superseded"
	ResolutionReactivated ResolutionEventType = "reactivated"
)

// ResolutionEvent is an append-only audit record of one observation status
// transition. Events reference observations by content hash so a transition
// recorded on one machine can be replayed deterministically on another.
type ResolutionEvent struct {
	ID int64 `json:"id"`

	// ObservationID is the local id of the observation at write time.
	ObservationID string `json:"-"`

	// ObservationHash is the stable cross-machine reference.
	ObservationHash string `json:"observation_hash"`

	EventType ResolutionEventType `json:"event_type"`
	NewStatus ObservationStatus   `json:"new_status"`

	ResolvedBySessionID *string `json:"resolved_by_session_id,omitempty"`

	// SupersededByHash is the content hash of the replacing observation,
	// set for superseded events.
	SupersededByHash string `json:"superseded_by_hash,omitempty"`

	SourceMachineID string    `json:"source_machine_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`

	ContentHash string `json:"content_hash"`
}

// NewResolutionEvent builds an event for the given transition stamped now,
// with its content hash computed. SourceMachineID is stamped by the store:
// the machine performing the transition owns the event, not the machine
// that created the observation.
func NewResolutionEvent(obs *Observation, eventType ResolutionEventType, newStatus ObservationStatus) *ResolutionEvent {
	e := &ResolutionEvent{
		ObservationID:   obs.ID,
		ObservationHash: obs.ContentHash,
		EventType:       eventType,
		NewStatus:       newStatus,
		CreatedAt:       time.Now().UTC(),
	}
	e.ContentHash = e.ComputeContentHash()
	return e
}
