// Package vector pushes extracted observations to an external semantic
// search index. The database remains the source of truth: every push is
// recorded on the observation row, and rows that never made it to the
// index are found again by scanning for embedded=0. The index can always
// be rebuilt from the database, never the other way around.
//
// When no index endpoint is configured the package degrades to a noop:
// observations accumulate with embedded=0 until an index appears.
package vector

import (
	"context"
	"time"
)

// Memory is the indexable projection of an observation.
type Memory struct {
	// ID is the observation UUID; the index uses it as the document key
	// so re-pushes overwrite instead of duplicating.
	ID string `json:"id"`

	// Text is the observation content to embed.
	Text string `json:"text"`

	// MemoryType categorizes the observation (gotcha, bug_fix, decision,
	// discovery, trade_off, session_summary).
	MemoryType string `json:"memory_type"`

	// Context is the short situation description captured alongside the
	// observation.
	Context string `json:"context,omitempty"`

	// Tags are free-form labels for filtering.
	Tags []string `json:"tags,omitempty"`

	// Importance is the 1-10 weight assigned at extraction.
	Importance int `json:"importance"`

	// Project scopes retrieval to a repository.
	Project string `json:"project,omitempty"`

	// SessionID links back to the originating session.
	SessionID string `json:"session_id,omitempty"`

	// FilePath is the most relevant file, when one exists.
	FilePath string `json:"file_path,omitempty"`

	// CreatedAt is the observation creation time.
	CreatedAt time.Time `json:"created_at"`
}

// Index is the external search index the pipeline feeds.
type Index interface {
	// AddMemory pushes one observation to the index. Implementations
	// must be safe to call again with the same ID.
	AddMemory(ctx context.Context, mem Memory) error

	// DeleteMemories removes documents by observation ID. Missing IDs
	// are not an error.
	DeleteMemories(ctx context.Context, ids []string) error
}

// Noop is the disabled index. All operations succeed without effect, so
// callers never branch on whether an index is configured.
type Noop struct{}

// AddMemory discards the memory.
func (Noop) AddMemory(context.Context, Memory) error { return nil }

// DeleteMemories discards the IDs.
func (Noop) DeleteMemories(context.Context, []string) error { return nil }

// New returns an HTTP-backed index for the given base URL, or the noop
// index when the URL is empty.
func New(baseURL string, timeout time.Duration) Index {
	if baseURL == "" {
		return Noop{}
	}
	client, err := NewClient(baseURL, WithTimeout(timeout))
	if err != nil {
		return Noop{}
	}
	return client
}
