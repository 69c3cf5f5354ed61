package store

import (
	"context"
	"errors"
	"testing"

	"github.com/entrhq/recall/pkg/types"
)

func seedObservationFixture(t *testing.T, s *Store) (*types.PromptBatch, *types.Activity) {
	t.Helper()
	ctx := context.Background()

	if err := s.CreateSession(ctx, types.NewSession("sess", "claude-code", "/repo")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	batch, err := s.CreatePromptBatch(ctx, "sess", "fix the race", types.SourceUser)
	if err != nil {
		t.Fatalf("CreatePromptBatch failed: %v", err)
	}
	act := types.NewActivity("sess", "Edit")
	act.PromptBatchID = &batch.ID
	act.FilePath = "/repo/pkg/w/pool.go"
	if _, err := s.AddActivity(ctx, act); err != nil {
		t.Fatalf("AddActivity failed: %v", err)
	}
	return batch, act
}

func TestStoreObservationAtomicity(t *testing.T) {
	s := newTestStore(t, WithMachineID("machine-a"))
	ctx := context.Background()
	batch, act := seedObservationFixture(t, s)

	obs := types.NewObservation("sess", "the pool must be drained before Close", types.MemoryGotcha)
	obs.PromptBatchID = &batch.ID
	obs.Context = "double-close panic during shutdown"
	obs.Tags = []string{"concurrency", "shutdown"}
	obs.FilePath = "/repo/pkg/w/pool.go"
	obs.Importance = 8

	if err := s.StoreObservation(ctx, obs, []int64{act.ID}); err != nil {
		t.Fatalf("StoreObservation failed: %v", err)
	}

	got, err := s.GetObservation(ctx, obs.ID)
	if err != nil {
		t.Fatalf("GetObservation failed: %v", err)
	}
	if got.Observation != obs.Observation || got.Context != obs.Context {
		t.Errorf("Text fields did not round-trip: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "concurrency" {
		t.Errorf("Expected tags to round-trip, got %v", got.Tags)
	}
	if got.Importance != 8 {
		t.Errorf("Expected importance 8, got %d", got.Importance)
	}
	if got.SourceMachineID != "machine-a" {
		t.Errorf("Expected machine stamp, got %q", got.SourceMachineID)
	}
	if got.Status != types.ObservationActive {
		t.Errorf("Expected active, got %s", got.Status)
	}

	// The source activity was consumed and back-linked in the same
	// transaction.
	acts, _ := s.ListBatchActivities(ctx, batch.ID)
	if len(acts) != 1 {
		t.Fatalf("Expected 1 activity, got %d", len(acts))
	}
	if !acts[0].Processed {
		t.Error("Expected source activity marked processed")
	}
	if acts[0].ObservationID == nil || *acts[0].ObservationID != obs.ID {
		t.Errorf("Expected back-link to %s, got %v", obs.ID, acts[0].ObservationID)
	}
}

func TestStoreObservationClampsImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch, _ := seedObservationFixture(t, s)

	obs := types.NewObservation("sess", "extraction sometimes exaggerates", types.MemoryDiscovery)
	obs.PromptBatchID = &batch.ID
	obs.Importance = 40

	if err := s.StoreObservation(ctx, obs, nil); err != nil {
		t.Fatalf("StoreObservation failed: %v", err)
	}
	got, _ := s.GetObservation(ctx, obs.ID)
	if got.Importance != 10 {
		t.Errorf("Expected importance clamped to 10, got %d", got.Importance)
	}
}

func TestObservationResolutionLifecycle(t *testing.T) {
	s := newTestStore(t, WithMachineID("machine-a"))
	ctx := context.Background()
	batch, _ := seedObservationFixture(t, s)

	obs := types.NewObservation("sess", "API rate limit is 100/min", types.MemoryDiscovery)
	obs.PromptBatchID = &batch.ID
	if err := s.StoreObservation(ctx, obs, nil); err != nil {
		t.Fatalf("StoreObservation failed: %v", err)
	}

	resolver := "sess"
	event, err := s.ResolveObservation(ctx, obs.ID, &resolver)
	if err != nil {
		t.Fatalf("ResolveObservation failed: %v", err)
	}
	if event.EventType != types.ResolutionResolved {
		t.Errorf("Expected resolved event, got %s", event.EventType)
	}
	if event.ObservationHash != obs.ContentHash {
		t.Errorf("Expected event to reference the observation by hash")
	}
	if event.SourceMachineID != "machine-a" {
		t.Errorf("Expected the transitioning machine on the event, got %q", event.SourceMachineID)
	}

	got, _ := s.GetObservation(ctx, obs.ID)
	if got.Status != types.ObservationResolved {
		t.Errorf("Expected resolved status, got %s", got.Status)
	}
	if got.ResolvedBySessionID == nil || *got.ResolvedBySessionID != "sess" {
		t.Errorf("Expected resolver recorded, got %v", got.ResolvedBySessionID)
	}

	// Reactivation clears the resolution fields and appends its own event.
	if _, err := s.ReactivateObservation(ctx, obs.ID); err != nil {
		t.Fatalf("ReactivateObservation failed: %v", err)
	}
	got, _ = s.GetObservation(ctx, obs.ID)
	if got.Status != types.ObservationActive || got.ResolvedBySessionID != nil {
		t.Errorf("Expected clean active observation, got %+v", got)
	}

	var eventCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM resolution_events").Scan(&eventCount); err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	if eventCount != 2 {
		t.Errorf("Expected 2 audit events, got %d", eventCount)
	}
}

func TestSupersedeObservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch, _ := seedObservationFixture(t, s)

	old := types.NewObservation("sess", "build takes 4 minutes", types.MemoryDiscovery)
	old.PromptBatchID = &batch.ID
	replacement := types.NewObservation("sess", "build takes 30 seconds after caching", types.MemoryDiscovery)
	replacement.PromptBatchID = &batch.ID
	for _, o := range []*types.Observation{old, replacement} {
		if err := s.StoreObservation(ctx, o, nil); err != nil {
			t.Fatalf("StoreObservation failed: %v", err)
		}
	}

	event, err := s.SupersedeObservation(ctx, old.ID, replacement.ID)
	if err != nil {
		t.Fatalf("SupersedeObservation failed: %v", err)
	}
	if event.SupersededByHash != replacement.ContentHash {
		t.Errorf("Expected replacement referenced by hash on the event")
	}

	got, _ := s.GetObservation(ctx, old.ID)
	if got.Status != types.ObservationSuperseded {
		t.Errorf("Expected superseded status, got %s", got.Status)
	}
	if got.SupersededBy == nil || *got.SupersededBy != replacement.ID {
		t.Errorf("Expected local superseded_by link, got %v", got.SupersededBy)
	}

	if _, err := s.SupersedeObservation(ctx, old.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown replacement, got %v", err)
	}
}

func TestListUnembeddedObservations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch, _ := seedObservationFixture(t, s)

	pending := types.NewObservation("sess", "first lesson", types.MemoryGotcha)
	pending.PromptBatchID = &batch.ID
	done := types.NewObservation("sess", "second lesson", types.MemoryGotcha)
	done.PromptBatchID = &batch.ID
	resolved := types.NewObservation("sess", "third lesson", types.MemoryGotcha)
	resolved.PromptBatchID = &batch.ID

	for _, o := range []*types.Observation{pending, done, resolved} {
		if err := s.StoreObservation(ctx, o, nil); err != nil {
			t.Fatalf("StoreObservation failed: %v", err)
		}
	}
	if err := s.MarkObservationEmbedded(ctx, done.ID); err != nil {
		t.Fatalf("MarkObservationEmbedded failed: %v", err)
	}
	if _, err := s.ResolveObservation(ctx, resolved.ID, nil); err != nil {
		t.Fatalf("ResolveObservation failed: %v", err)
	}

	// Only the active, unembedded one is worth pushing to the index.
	got, err := s.ListUnembeddedObservations(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnembeddedObservations failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != pending.ID {
		t.Errorf("Expected only the pending observation, got %d results", len(got))
	}
}

func TestFindObservationByHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch, _ := seedObservationFixture(t, s)

	obs := types.NewObservation("sess", "unique insight", types.MemoryDecision)
	obs.PromptBatchID = &batch.ID
	if err := s.StoreObservation(ctx, obs, nil); err != nil {
		t.Fatalf("StoreObservation failed: %v", err)
	}

	found, err := s.FindObservationByHash(ctx, obs.ContentHash)
	if err != nil {
		t.Fatalf("FindObservationByHash failed: %v", err)
	}
	if found.ID != obs.ID {
		t.Errorf("Expected %s, got %s", obs.ID, found.ID)
	}

	if _, err := s.FindObservationByHash(ctx, "no-such-hash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
