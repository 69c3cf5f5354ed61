package types

import (
	"encoding/json"
	"fmt"
)

// HookEventType names the lifecycle notifications the assistant's hook
// system delivers to the daemon.
type HookEventType string

const (
	// HookSessionStart announces a new assistant session.
	HookSessionStart HookEventType = "session_start"

	// HookUserPrompt opens a prompt batch: the user (or the assistant
	// itself, for notifications and plans) submitted a prompt.
	HookUserPrompt HookEventType = "user_prompt"

	// HookPostToolUse reports one finished tool call.
	HookPostToolUse HookEventType = "post_tool_use"

	// HookStop closes the active prompt batch: the assistant finished
	// responding to the current prompt.
	HookStop HookEventType = "stop"

	// HookSessionEnd completes the session.
	HookSessionEnd HookEventType = "session_end"
)

// HookEvent is one JSON payload from the assistant's hook system. Every
// event names its session; the remaining fields depend on the type. Events
// are delivered at-least-once and can arrive out of order, so applying one
// must be idempotent and tolerate missing predecessors.
type HookEvent struct {
	Type      HookEventType `json:"type"`
	SessionID string        `json:"session_id"`

	// Session fields (session_start; also used when a later event has to
	// create the session a lost session_start never did).
	Agent          string `json:"agent,omitempty"`
	Project        string `json:"project,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`

	// Prompt fields (user_prompt).
	Prompt string `json:"prompt,omitempty"`
	Source string `json:"source,omitempty"`

	// Plan capture, for user_prompt events with source "plan".
	PlanFilePath string `json:"plan_file_path,omitempty"`
	PlanContent  string `json:"plan_content,omitempty"`

	// Tool fields (post_tool_use). ToolInput is kept opaque; the daemon
	// stores it for search, never interprets it.
	ToolName      string          `json:"tool_name,omitempty"`
	ToolInput     json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput    string          `json:"tool_output,omitempty"`
	FilePath      string          `json:"file_path,omitempty"`
	FilesAffected int             `json:"files_affected,omitempty"`
	DurationMS    int64           `json:"duration_ms,omitempty"`
	Success       *bool           `json:"success,omitempty"`
	Error         string          `json:"error,omitempty"`

	// ResponseSummary carries the assistant's closing message (stop).
	ResponseSummary string `json:"response_summary,omitempty"`
}

// ParseHookEvent decodes and validates one hook payload.
func ParseHookEvent(data []byte) (*HookEvent, error) {
	var e HookEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("types: parse hook event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks the fields the event's type requires.
func (e *HookEvent) Validate() error {
	switch e.Type {
	case HookSessionStart, HookUserPrompt, HookPostToolUse, HookStop, HookSessionEnd:
	case "":
		return fmt.Errorf("types: hook event has no type")
	default:
		return fmt.Errorf("types: unknown hook event type %q", e.Type)
	}

	if e.SessionID == "" {
		return fmt.Errorf("types: %s event has no session_id", e.Type)
	}
	if e.Type == HookPostToolUse && e.ToolName == "" {
		return fmt.Errorf("types: post_tool_use event has no tool_name")
	}
	return nil
}

// SourceType maps the event's source label onto a batch source. Unknown
// and empty labels read as user input: mislabeled prompts should flow
// through the full pipeline rather than be silently skipped.
func (e *HookEvent) SourceType() SourceType {
	if st := SourceType(e.Source); st.Valid() {
		return st
	}
	return SourceUser
}

// Activity projects a post_tool_use event onto an activity row.
func (e *HookEvent) Activity() *Activity {
	a := NewActivity(e.SessionID, e.ToolName)
	a.ToolInput = string(e.ToolInput)
	a.SetOutput(e.ToolOutput)
	a.FilePath = e.FilePath
	a.FilesAffected = e.FilesAffected
	a.DurationMS = e.DurationMS
	a.ErrorMessage = e.Error

	switch {
	case e.Success != nil:
		a.Success = *e.Success
	case e.Error != "":
		a.Success = false
	}

	// FilePath participates in the content hash; recompute now that it
	// is set.
	a.ContentHash = a.ComputeContentHash()
	return a
}
