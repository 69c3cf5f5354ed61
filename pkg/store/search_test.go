package store

import (
	"context"
	"testing"

	"github.com/entrhq/recall/pkg/types"
)

func TestSearchActivities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, types.NewSession("sess", "claude-code", "/repo")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	failed := types.NewActivity("sess", "Bash")
	failed.SetOutput("compilation failed")
	failed.ErrorMessage = "undefined symbol quaternion"
	failed.Success = false
	ok := types.NewActivity("sess", "Read")
	ok.FilePath = "/repo/pkg/math/vector.go"

	// Search flushes the buffer itself; leave these buffered.
	for _, a := range []*types.Activity{failed, ok} {
		if err := s.AddActivityBuffered(ctx, a); err != nil {
			t.Fatalf("AddActivityBuffered failed: %v", err)
		}
	}

	hits, err := s.SearchActivities(ctx, "quaternion", 10)
	if err != nil {
		t.Fatalf("SearchActivities failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ErrorMessage != "undefined symbol quaternion" {
		t.Fatalf("Expected the failing activity, got %d hits", len(hits))
	}

	hits, err = s.SearchActivities(ctx, "vector", 10)
	if err != nil {
		t.Fatalf("SearchActivities failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ToolName != "Read" {
		t.Errorf("Expected the read activity by file path, got %d hits", len(hits))
	}
}

func TestSearchObservationsTriggerSync(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, types.NewSession("sess", "claude-code", "/repo")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	batch, err := s.CreatePromptBatch(ctx, "sess", "investigate", types.SourceUser)
	if err != nil {
		t.Fatalf("CreatePromptBatch failed: %v", err)
	}

	obs := types.NewObservation("sess", "the scheduler starves long jobs", types.MemoryGotcha)
	obs.PromptBatchID = &batch.ID
	obs.Tags = []string{"scheduler"}
	if err := s.StoreObservation(ctx, obs, nil); err != nil {
		t.Fatalf("StoreObservation failed: %v", err)
	}

	hits, err := s.SearchObservations(ctx, "starves", 10)
	if err != nil {
		t.Fatalf("SearchObservations failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != obs.ID {
		t.Fatalf("Expected 1 hit for inserted observation, got %d", len(hits))
	}

	// Tag text is indexed too.
	hits, _ = s.SearchObservations(ctx, "scheduler", 10)
	if len(hits) != 1 {
		t.Errorf("Expected tag match, got %d hits", len(hits))
	}

	// The update trigger keeps the index in sync.
	if _, err := s.db.Exec(
		"UPDATE observations SET observation = 'the scheduler is fair after the patch' WHERE id = ?",
		obs.ID); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	hits, _ = s.SearchObservations(ctx, "starves", 10)
	if len(hits) != 0 {
		t.Errorf("Expected stale text gone from index, got %d hits", len(hits))
	}
	hits, _ = s.SearchObservations(ctx, "fair", 10)
	if len(hits) != 1 {
		t.Errorf("Expected updated text indexed, got %d hits", len(hits))
	}

	// And the delete trigger.
	if _, err := s.db.Exec("DELETE FROM observations WHERE id = ?", obs.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	hits, _ = s.SearchObservations(ctx, "fair", 10)
	if len(hits) != 0 {
		t.Errorf("Expected deleted row gone from index, got %d hits", len(hits))
	}
}

func TestQuoteFTS(t *testing.T) {
	quoted := QuoteFTS(`/repo/pkg/store/migrate.go`)
	if quoted != `"/repo/pkg/store/migrate.go"` {
		t.Errorf("Unexpected quoting: %s", quoted)
	}
	if QuoteFTS(`say "hi"`) != `"say ""hi"""` {
		t.Errorf("Expected embedded quotes doubled, got %s", QuoteFTS(`say "hi"`))
	}

	// A quoted path must be usable as a MATCH term.
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateSession(ctx, types.NewSession("sess", "claude-code", "/repo")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	act := types.NewActivity("sess", "Edit")
	act.FilePath = "/repo/pkg/store/migrate.go"
	if _, err := s.AddActivity(ctx, act); err != nil {
		t.Fatalf("AddActivity failed: %v", err)
	}

	hits, err := s.SearchActivities(ctx, QuoteFTS(act.FilePath), 10)
	if err != nil {
		t.Fatalf("SearchActivities with quoted path failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("Expected quoted path to match, got %d hits", len(hits))
	}
}
