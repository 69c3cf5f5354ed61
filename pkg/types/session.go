// Package types defines the domain model shared by the store, the backup
// merge protocol, and the background processor: sessions, prompt batches,
// activities, observations, and the supporting records that describe how an
// AI coding assistant's work is captured and turned into durable memories.
package types

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a recorded coding session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// ParentReason explains how a parent session link was inferred.
type ParentReason string

const (
	// ParentReasonClear marks a continuation across a context clear: the
	// parent ended within seconds of the child starting.
	ParentReasonClear ParentReason = "clear"

	// ParentReasonClearActive marks a child spawned while the parent was
	// still active (out-of-order hook delivery, parallel windows).
	ParentReasonClearActive ParentReason = "clear_active"

	// ParentReasonResume marks a same-project session resumed within the
	// fallback window after the parent completed.
	ParentReasonResume ParentReason = "resume"
)

// Session is one observed assistant session: a run of prompts and tool calls
// against a single project by a single agent binary. The database row is the
// source of truth; derived artifacts (title, summary, vector entries) are
// regenerated from it.
type Session struct {
	// ID is the caller-supplied session UUID (the assistant's own id).
	ID string `json:"id"`

	// Agent names the assistant binary that produced the session.
	Agent string `json:"agent"`

	// Project is the absolute project root the session ran in.
	Project string `json:"project"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Status is active until the session ends; EndedAt is set if and only
	// if Status is SessionCompleted.
	Status SessionStatus `json:"status"`

	PromptCount int `json:"prompt_count"`
	ToolCount   int `json:"tool_count"`

	// Processed is set once the background pipeline has summarized the
	// session.
	Processed bool `json:"processed"`

	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`

	// ParentSessionID links a continuation to its predecessor. The link is
	// best-effort and never forms a cycle.
	ParentSessionID     *string      `json:"parent_session_id,omitempty"`
	ParentSessionReason ParentReason `json:"parent_session_reason,omitempty"`

	// SourceMachineID identifies the machine that recorded the session.
	// Imported rows keep their original machine id.
	SourceMachineID string `json:"source_machine_id,omitempty"`

	// TranscriptPath points at the assistant's raw transcript file, when
	// the hook reported one.
	TranscriptPath string `json:"transcript_path,omitempty"`
}

// NewSession builds an active session starting now.
func NewSession(id, agent, project string) *Session {
	return &Session{
		ID:        id,
		Agent:     agent,
		Project:   project,
		StartedAt: time.Now().UTC(),
		Status:    SessionActive,
	}
}

// Validate checks the structural invariants a session row must satisfy.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("types: session missing ID")
	}
	switch s.Status {
	case SessionActive:
		if s.EndedAt != nil {
			return fmt.Errorf("types: active session %s has an end time", s.ID)
		}
	case SessionCompleted:
		if s.EndedAt == nil {
			return fmt.Errorf("types: completed session %s missing end time", s.ID)
		}
	default:
		return fmt.Errorf("types: session %s has unknown status %q", s.ID, s.Status)
	}
	if s.ParentSessionID != nil && *s.ParentSessionID == s.ID {
		return fmt.Errorf("types: session %s is its own parent", s.ID)
	}
	return nil
}

// SessionRelationship is a typed edge between two sessions discovered after
// the fact (continuations, shared topics). Edges are unique per
// (session, related, relationship) triple.
type SessionRelationship struct {
	ID               int64     `json:"id"`
	SessionID        string    `json:"session_id"`
	RelatedSessionID string    `json:"related_session_id"`
	Relationship     string    `json:"relationship"`
	Reason           string    `json:"reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
