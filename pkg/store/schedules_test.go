package store

import (
	"context"
	"testing"
	"time"

	"github.com/entrhq/recall/pkg/types"
)

func TestScheduleUpsertAndDue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	sched := &types.Schedule{
		Name:            "nightly-digest",
		Task:            "summarize yesterday's sessions",
		IntervalSeconds: 86400,
		Enabled:         true,
		NextRunAt:       now.Add(-time.Minute),
	}
	if err := s.UpsertSchedule(ctx, sched); err != nil {
		t.Fatalf("UpsertSchedule failed: %v", err)
	}
	if sched.ID == "" {
		t.Error("Expected an id assigned on insert")
	}

	due, err := s.ListDueSchedules(ctx, now)
	if err != nil {
		t.Fatalf("ListDueSchedules failed: %v", err)
	}
	if len(due) != 1 || due[0].Name != "nightly-digest" {
		t.Fatalf("Expected the schedule due, got %d", len(due))
	}

	// Redefining by name updates the task but keeps the cadence.
	update := &types.Schedule{
		Name:            "nightly-digest",
		Task:            "summarize and prune",
		IntervalSeconds: 43200,
		Enabled:         true,
		NextRunAt:       now.Add(48 * time.Hour), // ignored on conflict
	}
	if err := s.UpsertSchedule(ctx, update); err != nil {
		t.Fatalf("UpsertSchedule update failed: %v", err)
	}

	due, _ = s.ListDueSchedules(ctx, now)
	if len(due) != 1 {
		t.Fatalf("Expected schedule still due after update, got %d", len(due))
	}
	if due[0].Task != "summarize and prune" || due[0].IntervalSeconds != 43200 {
		t.Errorf("Expected definition updated, got %+v", due[0])
	}

	// Advancing moves it out of the due window by one interval.
	if err := s.AdvanceSchedule(ctx, due[0].ID, now); err != nil {
		t.Fatalf("AdvanceSchedule failed: %v", err)
	}
	due, _ = s.ListDueSchedules(ctx, now)
	if len(due) != 0 {
		t.Errorf("Expected nothing due after advance, got %d", len(due))
	}

	all, _ := s.ListSchedules(ctx)
	if len(all) != 1 || all[0].LastRunAt == nil {
		t.Fatalf("Expected last run recorded, got %+v", all)
	}
	wantNext := now.Add(43200 * time.Second)
	if !all[0].NextRunAt.Equal(wantNext) {
		t.Errorf("Expected next run %v, got %v", wantNext, all[0].NextRunAt)
	}
}

func TestScheduleValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSchedule(ctx, &types.Schedule{Name: "x", Task: ""}); err == nil {
		t.Error("Expected error for missing task")
	}
	if err := s.UpsertSchedule(ctx, &types.Schedule{Name: "x", Task: "t", IntervalSeconds: 0}); err == nil {
		t.Error("Expected error for zero interval")
	}
}

func TestSyncSchedulesDisablesRemoved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	defs := []*types.Schedule{
		{Name: "keep", Task: "a", IntervalSeconds: 60, Enabled: true},
		{Name: "drop", Task: "b", IntervalSeconds: 60, Enabled: true},
	}
	if err := s.SyncSchedules(ctx, defs); err != nil {
		t.Fatalf("SyncSchedules failed: %v", err)
	}

	if err := s.SyncSchedules(ctx, defs[:1]); err != nil {
		t.Fatalf("Second SyncSchedules failed: %v", err)
	}

	due, err := s.ListDueSchedules(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListDueSchedules failed: %v", err)
	}
	if len(due) != 1 || due[0].Name != "keep" {
		t.Errorf("Expected only the kept schedule enabled, got %d", len(due))
	}

	// History survives: the dropped schedule is disabled, not deleted.
	all, _ := s.ListSchedules(ctx)
	if len(all) != 2 {
		t.Errorf("Expected both schedules stored, got %d", len(all))
	}
}

func TestAgentRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := types.NewAgentRun("rebuild vector index")
	if err := s.CreateAgentRun(ctx, run); err != nil {
		t.Fatalf("CreateAgentRun failed: %v", err)
	}

	if err := s.CompleteAgentRun(ctx, run.ID, "indexed 42 observations"); err != nil {
		t.Fatalf("CompleteAgentRun failed: %v", err)
	}
	got, err := s.GetAgentRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetAgentRun failed: %v", err)
	}
	if got.Status != types.RunCompleted || got.Result != "indexed 42 observations" {
		t.Errorf("Expected completed run with result, got %+v", got)
	}
	if got.EndedAt == nil {
		t.Error("Expected end time recorded")
	}

	failing := types.NewAgentRun("doomed task")
	if err := s.CreateAgentRun(ctx, failing); err != nil {
		t.Fatalf("CreateAgentRun failed: %v", err)
	}
	if err := s.FailAgentRun(ctx, failing.ID, "LLM unreachable"); err != nil {
		t.Fatalf("FailAgentRun failed: %v", err)
	}
	got, _ = s.GetAgentRun(ctx, failing.ID)
	if got.Status != types.RunFailed || got.ErrorMessage != "LLM unreachable" {
		t.Errorf("Expected failed run with message, got %+v", got)
	}
}

func TestRecoverStaleAgentRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := types.NewAgentRun("crashed mid-flight")
	stale.StartedAt = now.Add(-2 * time.Hour)
	fresh := types.NewAgentRun("just started")
	for _, run := range []*types.AgentRun{stale, fresh} {
		if err := s.CreateAgentRun(ctx, run); err != nil {
			t.Fatalf("CreateAgentRun failed: %v", err)
		}
	}

	failed, err := s.RecoverStaleAgentRuns(ctx, now, time.Hour)
	if err != nil {
		t.Fatalf("RecoverStaleAgentRuns failed: %v", err)
	}
	if failed != 1 {
		t.Fatalf("Expected 1 recovered run, got %d", failed)
	}

	got, _ := s.GetAgentRun(ctx, stale.ID)
	if got.Status != types.RunFailed {
		t.Errorf("Expected stale run failed, got %s", got.Status)
	}
	got, _ = s.GetAgentRun(ctx, fresh.ID)
	if got.Status != types.RunRunning {
		t.Errorf("Expected fresh run untouched, got %s", got.Status)
	}
}
