package types

import (
	"fmt"
	"time"
)

// SourceType classifies what produced a prompt batch. Only user prompts go
// through full LLM extraction; the other kinds are bookkeeping records.
type SourceType string

const (
	SourceUser              SourceType = "user"
	SourceAgentNotification SourceType = "agent_notification"
	SourcePlan              SourceType = "plan"
	SourceSystem            SourceType = "system"
)

// KnownSourceTypes lists every source type the pipeline dispatches on. The
// set is closed: an unknown value is a schema error, not a fallthrough.
var KnownSourceTypes = []SourceType{
	SourceUser,
	SourceAgentNotification,
	SourcePlan,
	SourceSystem,
}

// Valid reports whether t is one of the known source types.
func (t SourceType) Valid() bool {
	for _, k := range KnownSourceTypes {
		if t == k {
			return true
		}
	}
	return false
}

// BatchStatus is the lifecycle state of a prompt batch.
type BatchStatus string

const (
	BatchActive    BatchStatus = "active"
	BatchCompleted BatchStatus = "completed"
)

// MaxUserPromptLen bounds the stored prompt text. Longer prompts are
// truncated at capture time so a single pathological paste cannot bloat the
// database or the extraction context.
const MaxUserPromptLen = 10000

// PromptBatch groups the activities performed in service of one user prompt
// (or one notification, plan, or system event). A session has at most one
// active batch; creating the next batch completes the previous one.
type PromptBatch struct {
	// ID is a local autoincrement id. It is machine-local: cross-machine
	// references use ContentHash instead.
	ID int64 `json:"id"`

	SessionID string `json:"session_id"`

	// PromptNumber is the 1-based position of this batch within its
	// session, unique per session.
	PromptNumber int `json:"prompt_number"`

	// UserPrompt is the triggering prompt text, truncated to
	// MaxUserPromptLen.
	UserPrompt string `json:"user_prompt"`

	SourceType SourceType `json:"source_type"`

	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Status    BatchStatus `json:"status"`

	ActivityCount int  `json:"activity_count"`
	Processed     bool `json:"processed"`

	// Classification is assigned by the pipeline: exploration, debugging,
	// implementation, or refactoring.
	Classification string `json:"classification,omitempty"`

	// Plan fields are populated for SourcePlan batches: the plan file the
	// assistant wrote, its captured content, and whether the content has
	// been pushed to the vector index.
	PlanFilePath string `json:"plan_file_path,omitempty"`
	PlanContent  string `json:"plan_content,omitempty"`
	PlanEmbedded bool   `json:"plan_embedded,omitempty"`

	// ResponseSummary is the assistant's closing response, captured when
	// the batch ends.
	ResponseSummary string `json:"response_summary,omitempty"`

	// ContentHash identifies this batch across machines. Computed from
	// session id and prompt number, which together are globally unique.
	ContentHash string `json:"content_hash"`
}

// NewPromptBatch builds an active batch for the given prompt. The prompt is
// truncated to MaxUserPromptLen and the content hash is computed up front.
func NewPromptBatch(sessionID string, promptNumber int, prompt string, source SourceType) *PromptBatch {
	b := &PromptBatch{
		SessionID:    sessionID,
		PromptNumber: promptNumber,
		UserPrompt:   Truncate(prompt, MaxUserPromptLen),
		SourceType:   source,
		StartedAt:    time.Now().UTC(),
		Status:       BatchActive,
	}
	b.ContentHash = b.ComputeContentHash()
	return b
}

// Validate checks the structural invariants a batch row must satisfy.
func (b *PromptBatch) Validate() error {
	if b.SessionID == "" {
		return fmt.Errorf("types: batch missing session ID")
	}
	if b.PromptNumber <= 0 {
		return fmt.Errorf("types: batch has invalid prompt number %d", b.PromptNumber)
	}
	if !b.SourceType.Valid() {
		return fmt.Errorf("types: batch has unknown source type %q", b.SourceType)
	}
	return nil
}
