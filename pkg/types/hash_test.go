package types

import (
	"testing"
	"time"
)

func TestObservationHashStableAcrossMachines(t *testing.T) {
	a := NewObservation("session-a", "the config loader ignores symlinks", MemoryGotcha)
	a.Context = "while debugging startup"
	a.ContentHash = a.ComputeContentHash()

	b := NewObservation("session-a", "the config loader ignores symlinks", MemoryGotcha)
	b.Context = "while debugging startup"
	b.Importance = 9
	b.Embedded = true
	b.SourceMachineID = "other-machine"
	b.ContentHash = b.ComputeContentHash()

	if a.ContentHash != b.ContentHash {
		t.Errorf("Expected identical hashes for identical semantic fields, got %s and %s", a.ContentHash, b.ContentHash)
	}
}

func TestObservationHashChangesWithSemanticFields(t *testing.T) {
	base := NewObservation("s", "text", MemoryDecision)
	base.Context = "ctx"
	baseHash := base.ComputeContentHash()

	tests := []struct {
		name   string
		mutate func(*Observation)
	}{
		{"text", func(o *Observation) { o.Observation = "other text" }},
		{"memory type", func(o *Observation) { o.MemoryType = MemoryGotcha }},
		{"context", func(o *Observation) { o.Context = "other ctx" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewObservation("s", "text", MemoryDecision)
			o.Context = "ctx"
			tt.mutate(o)
			if o.ComputeContentHash() == baseHash {
				t.Errorf("Expected hash to change when %s changes", tt.name)
			}
		})
	}
}

func TestHashFieldBoundaries(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide.
	a := &Observation{Observation: "ab", MemoryType: "c", Context: ""}
	b := &Observation{Observation: "a", MemoryType: "bc", Context: ""}
	if a.ComputeContentHash() == b.ComputeContentHash() {
		t.Error("Expected field boundaries to prevent concatenation collisions")
	}
}

func TestBatchHashIgnoresPromptText(t *testing.T) {
	a := NewPromptBatch("session-1", 3, "first wording", SourceUser)
	b := NewPromptBatch("session-1", 3, "completely different wording", SourceUser)
	if a.ContentHash != b.ContentHash {
		t.Error("Expected batch hash to depend only on session and prompt number")
	}

	c := NewPromptBatch("session-1", 4, "first wording", SourceUser)
	if a.ContentHash == c.ContentHash {
		t.Error("Expected batch hash to change with prompt number")
	}
}

func TestResolutionEventHash(t *testing.T) {
	obs := NewObservation("s", "text", MemoryBugFix)
	e1 := NewResolutionEvent(obs, ResolutionResolved, ObservationResolved)
	e2 := &ResolutionEvent{
		ObservationHash: obs.ContentHash,
		EventType:       ResolutionResolved,
		CreatedAt:       e1.CreatedAt,
	}
	if e1.ContentHash != e2.ComputeContentHash() {
		t.Error("Expected event hash to be reproducible from hash, type, and time")
	}

	e3 := &ResolutionEvent{
		ObservationHash: obs.ContentHash,
		EventType:       ResolutionResolved,
		CreatedAt:       e1.CreatedAt.Add(time.Second),
	}
	if e1.ContentHash == e3.ComputeContentHash() {
		t.Error("Expected event hash to change with timestamp")
	}
}
