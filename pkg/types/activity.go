package types

import "time"

// MaxOutputSummaryLen bounds stored tool output. Full outputs live in the
// assistant's transcript; the database keeps only enough to classify and
// extract from.
const MaxOutputSummaryLen = 2000

// Activity is one tool call made by the assistant: an Edit, a Read, a shell
// command. Activities are the raw material observations are extracted from.
type Activity struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`

	// PromptBatchID is nil for orphans recorded before their batch was
	// known (crash windows, out-of-order hooks). Recovery re-attaches
	// orphans; they are never dropped.
	PromptBatchID *int64 `json:"prompt_batch_id,omitempty"`

	ToolName string `json:"tool_name"`

	// ToolInput is the tool's input payload as the hook reported it,
	// stored opaquely (JSON text).
	ToolInput string `json:"tool_input,omitempty"`

	// ToolOutputSummary is the tool's output truncated to
	// MaxOutputSummaryLen.
	ToolOutputSummary string `json:"tool_output_summary,omitempty"`

	FilePath      string `json:"file_path,omitempty"`
	FilesAffected int    `json:"files_affected,omitempty"`
	DurationMS    int64  `json:"duration_ms,omitempty"`

	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Processed is set once the batch pipeline has consumed this activity.
	Processed bool `json:"processed"`

	// ObservationID back-links to the observation this activity fed, when
	// extraction produced one.
	ObservationID *string `json:"observation_id,omitempty"`

	ContentHash string `json:"content_hash"`
}

// NewActivity builds an activity stamped now, with output truncated and the
// content hash computed.
func NewActivity(sessionID, toolName string) *Activity {
	a := &Activity{
		SessionID: sessionID,
		ToolName:  toolName,
		Success:   true,
		Timestamp: time.Now().UTC(),
	}
	a.ContentHash = a.ComputeContentHash()
	return a
}

// SetOutput records the tool output, truncating to MaxOutputSummaryLen.
func (a *Activity) SetOutput(output string) {
	a.ToolOutputSummary = Truncate(output, MaxOutputSummaryLen)
}
