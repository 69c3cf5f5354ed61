package types

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"time"
)

// Content hashes let independently recorded databases merge without
// duplicates: two machines that capture the same semantic record compute the
// same hash. Each hash covers a kind tag plus the record's semantic fields,
// joined by a unit separator so field boundaries cannot collide.
const hashFieldSep = "\x1f"

func contentHash(kind string, fields ...string) string {
	h := sha256.New()
	io.WriteString(h, kind)
	for _, f := range fields {
		io.WriteString(h, hashFieldSep)
		io.WriteString(h, f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeContentHash hashes the observation's semantic fields. Local ids,
// timestamps, importance, and status are excluded: the same insight
// extracted twice is the same observation.
func (o *Observation) ComputeContentHash() string {
	return contentHash("observation", o.Observation, string(o.MemoryType), o.Context)
}

// ComputeContentHash hashes the batch's global identity. Session id and
// prompt number are together unique across machines because session ids are
// UUIDs minted by the assistant.
func (b *PromptBatch) ComputeContentHash() string {
	return contentHash("batch", b.SessionID, strconv.Itoa(b.PromptNumber))
}

// ComputeContentHash hashes the fields that identify a tool call: where,
// what, and when.
func (a *Activity) ComputeContentHash() string {
	return contentHash("activity",
		a.SessionID,
		a.ToolName,
		a.Timestamp.UTC().Format(time.RFC3339Nano),
		a.FilePath,
	)
}

// ComputeContentHash hashes the event's identity: which observation, which
// transition, when.
func (e *ResolutionEvent) ComputeContentHash() string {
	return contentHash("resolution",
		e.ObservationHash,
		string(e.EventType),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
}
