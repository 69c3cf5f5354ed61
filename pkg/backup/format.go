// Package backup moves knowledge between machines: a stable machine
// identity, a JSONL export of locally recorded rows, and a merge import
// keyed on content hashes. Backup files are one per machine, named
// <machine-id>.jsonl, with deterministic record ordering so a directory of
// them diffs cleanly under version control.
package backup

import (
	"time"

	"github.com/entrhq/recall/pkg/types"
)

// FormatVersion is written into every file header. Readers reject files
// written by a newer format than they understand.
const FormatVersion = 1

const (
	kindHeader      = "header"
	kindSession     = "session"
	kindBatch       = "batch"
	kindObservation = "observation"
	kindEvent       = "event"
)

// fileHeader is the first line of every backup file.
type fileHeader struct {
	Kind       string    `json:"kind"`
	MachineID  string    `json:"machine_id"`
	ExportedAt time.Time `json:"exported_at"`
	Version    int       `json:"version"`
}

type sessionLine struct {
	Kind string `json:"kind"`
	*types.Session
}

// batchLine shadows the embedded autoincrement id: it is machine-local and
// never leaves the machine. Importers key batches on content hash instead.
type batchLine struct {
	Kind string `json:"kind"`
	*types.PromptBatch
	ID int64 `json:"-"`
}

// observationLine carries the owning batch's content hash alongside the
// observation, so the importer can rebind the machine-local batch id.
type observationLine struct {
	Kind string `json:"kind"`
	*types.Observation
	BatchHash string `json:"batch_hash,omitempty"`
}

type eventLine struct {
	Kind string `json:"kind"`
	*types.ResolutionEvent
	ID int64 `json:"-"`
}
