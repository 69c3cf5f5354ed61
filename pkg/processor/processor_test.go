package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/recall/pkg/llm"
	"github.com/entrhq/recall/pkg/store"
	"github.com/entrhq/recall/pkg/types"
	"github.com/entrhq/recall/pkg/vector"
)

// stubLLM replays queued responses and records every request.
type stubLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []llm.Request
}

func (s *stubLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", fmt.Errorf("stub: no response queued")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *stubLLM) GetModel() string   { return "stub" }
func (s *stubLLM) GetBaseURL() string { return "" }

func (s *stubLLM) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// recordingIndex captures pushed memories and can be told to fail.
type recordingIndex struct {
	mu    sync.Mutex
	added []vector.Memory
	err   error
}

func (r *recordingIndex) AddMemory(_ context.Context, mem vector.Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.added = append(r.added, mem)
	return nil
}

func (r *recordingIndex) DeleteMemories(context.Context, []string) error { return nil }

func (r *recordingIndex) memories() []vector.Memory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]vector.Memory(nil), r.added...)
}

func newProcessorStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "recall.db"), store.WithMachineID("test-machine"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// seedUserBatch creates a session with one completed user batch carrying the
// given activities.
func seedUserBatch(t *testing.T, st *store.Store, sessionID, prompt string,
	activities []*types.Activity) *types.PromptBatch {
	t.Helper()
	ctx := context.Background()

	sess := types.NewSession(sessionID, "claude", "/repo/fetcher")
	require.NoError(t, st.CreateSession(ctx, sess))

	batch, err := st.CreatePromptBatch(ctx, sessionID, prompt, types.SourceUser)
	require.NoError(t, err)

	for _, a := range activities {
		a.SessionID = sessionID
		a.PromptBatchID = &batch.ID
		_, err := st.AddActivity(ctx, a)
		require.NoError(t, err)
	}
	require.NoError(t, st.EndPromptBatch(ctx, batch.ID, time.Now().UTC(), "done"))
	return batch
}

func editActivities(n int) []*types.Activity {
	out := make([]*types.Activity, 0, n)
	for i := 0; i < n; i++ {
		a := types.NewActivity("", "Edit")
		a.FilePath = fmt.Sprintf("pkg/fetch/file%d.go", i)
		out = append(out, a)
	}
	return out
}

const extractionResponse = `{"observations":[{` +
	`"observation":"Chose exponential backoff with jitter for fetch retries",` +
	`"type":"decision",` +
	`"context":"Adding retry logic to the fetcher",` +
	`"tags":["fetcher","retries"],` +
	`"importance":7,` +
	`"file_path":"pkg/fetch/retry.go"}]}`

func TestCycleExtractsObservationsFromUserBatch(t *testing.T) {
	ctx := context.Background()
	st := newProcessorStore(t)
	batch := seedUserBatch(t, st, "sess-pipeline", "add retry logic to the fetcher", editActivities(5))

	classifier := &stubLLM{responses: []string{"implementation"}}
	extractor := &stubLLM{responses: []string{extractionResponse, "Fetcher retry work"}}
	idx := &recordingIndex{}

	p, err := New(st,
		WithSummarizer(extractor),
		WithClassifier(classifier),
		WithIndex(idx))
	require.NoError(t, err)

	p.RunCycle(ctx)

	got, err := st.GetPromptBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Equal(t, "implementation", got.Classification)

	observations, err := st.ListSessionObservations(ctx, "sess-pipeline")
	require.NoError(t, err)
	require.Len(t, observations, 1)
	obs := observations[0]
	assert.Equal(t, types.MemoryDecision, obs.MemoryType, "memory type comes from the extractor's type field")
	assert.Equal(t, "Chose exponential backoff with jitter for fetch retries", obs.Observation)
	assert.Equal(t, 7, obs.Importance)
	assert.True(t, obs.Embedded, "successful push marks the row embedded")

	added := idx.memories()
	require.Len(t, added, 1, "exactly one index push")
	assert.Equal(t, obs.ID, added[0].ID)
	assert.Equal(t, "decision", added[0].MemoryType)
	assert.Equal(t, "/repo/fetcher", added[0].Project)

	// The classification call is the cheap one: digest in, a few tokens out.
	require.NotEmpty(t, classifier.requests)
	assert.Equal(t, ClassifyPrompt, classifier.requests[0].System)
	assert.Equal(t, classifyMaxTokens, classifier.requests[0].MaxTokens)
	assert.Contains(t, classifier.requests[0].User, "Edit=5")

	// Source activities were consumed by the extraction.
	acts, err := st.ListBatchActivities(ctx, batch.ID)
	require.NoError(t, err)
	for _, a := range acts {
		assert.True(t, a.Processed)
	}

	sess, err := st.GetSession(ctx, "sess-pipeline")
	require.NoError(t, err)
	assert.Equal(t, "Fetcher retry work", sess.Title)
}

func TestCycleFallsBackToHeuristicsWhenLLMDown(t *testing.T) {
	ctx := context.Background()
	st := newProcessorStore(t)

	activities := editActivities(3)
	activities[1].Success = false
	activities[1].ErrorMessage = "tests failed"
	batch := seedUserBatch(t, st, "sess-heuristic", "fix the failing cache test", activities)

	p, err := New(st, WithClassifier(&stubLLM{err: errors.New("connection refused")}))
	require.NoError(t, err)

	p.RunCycle(ctx)

	got, err := st.GetPromptBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed, "no summarizer: classified and closed, never wedged")
	assert.Equal(t, "debugging", got.Classification, "errors plus edits reads as debugging")

	observations, err := st.ListSessionObservations(ctx, "sess-heuristic")
	require.NoError(t, err)
	assert.Empty(t, observations)
}

func TestCycleRetriesBatchAfterExtractionFailure(t *testing.T) {
	ctx := context.Background()
	st := newProcessorStore(t)
	batch := seedUserBatch(t, st, "sess-retry", "add retry logic", editActivities(4))

	classifier := &stubLLM{responses: []string{"implementation", "implementation"}}
	extractor := &stubLLM{err: errors.New("rate limited")}

	p, err := New(st, WithSummarizer(extractor), WithClassifier(classifier))
	require.NoError(t, err)

	p.RunCycle(ctx)

	got, err := st.GetPromptBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, got.Processed, "extraction failure leaves the batch for the next tick")

	// The LLM comes back; the same batch goes through.
	extractor.mu.Lock()
	extractor.err = nil
	extractor.responses = []string{extractionResponse, "Retry work"}
	extractor.mu.Unlock()

	p.RunCycle(ctx)

	got, err = st.GetPromptBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
}

func TestCycleIndexPushFailureKeepsObservationDurable(t *testing.T) {
	ctx := context.Background()
	st := newProcessorStore(t)
	seedUserBatch(t, st, "sess-push", "add retry logic", editActivities(4))

	classifier := &stubLLM{responses: []string{"implementation"}}
	extractor := &stubLLM{responses: []string{extractionResponse, "Retry work"}}
	idx := &recordingIndex{err: errors.New("index unreachable")}

	p, err := New(st, WithSummarizer(extractor), WithClassifier(classifier), WithIndex(idx))
	require.NoError(t, err)

	p.RunCycle(ctx)

	observations, err := st.ListSessionObservations(ctx, "sess-push")
	require.NoError(t, err)
	require.Len(t, observations, 1, "the observation is durable despite the failed push")
	assert.False(t, observations[0].Embedded)

	// Next cycle, index healthy: the retry scan picks it up.
	idx.mu.Lock()
	idx.err = nil
	idx.mu.Unlock()

	p.RunCycle(ctx)

	got, err := st.GetObservation(ctx, observations[0].ID)
	require.NoError(t, err)
	assert.True(t, got.Embedded)
	assert.Len(t, idx.memories(), 1)
}

func TestCycleRecoversCrashedState(t *testing.T) {
	ctx := context.Background()
	st := newProcessorStore(t)
	now := time.Now().UTC()

	// Low-quality session: one activity, doomed to pruning.
	seedUserBatch(t, st, "sess-thin", "hi", editActivities(1))

	// Substantial session with a batch the end hook never closed.
	sess := types.NewSession("sess-solid", "claude", "/repo/beta")
	require.NoError(t, st.CreateSession(ctx, sess))
	batch, err := st.CreatePromptBatch(ctx, "sess-solid", "rework the importer", types.SourceUser)
	require.NoError(t, err)
	for _, a := range editActivities(5) {
		a.SessionID = "sess-solid"
		a.PromptBatchID = &batch.ID
		_, err := st.AddActivity(ctx, a)
		require.NoError(t, err)
	}

	// Agent run that crashed mid-task.
	run := types.NewAgentRun("rebuild index")
	require.NoError(t, st.CreateAgentRun(ctx, run))

	// Due schedule waiting to launch.
	sched := &types.Schedule{Name: "hourly-sync", Task: "sync backups", IntervalSeconds: 3600, Enabled: true}
	require.NoError(t, st.UpsertSchedule(ctx, sched))

	p, err := New(st, WithNow(func() time.Time { return now.Add(40 * time.Minute) }))
	require.NoError(t, err)

	p.RunCycle(ctx)

	// The thin session is gone; it would never pass the summary bar.
	_, err = st.GetSession(ctx, "sess-thin")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The solid one was completed and summarized deterministically.
	got, err := st.GetSession(ctx, "sess-solid")
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, got.Status)
	assert.True(t, got.Processed)
	assert.Equal(t, "1 prompts and 5 tool calls in /repo/beta.", got.Summary)

	recovered, err := st.GetPromptBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchCompleted, recovered.Status, "stuck batch force-completed first")

	failedRun, err := st.GetAgentRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, failedRun.Status)

	// The schedule launched a fresh run and moved its next slot forward.
	runs, err := st.ListRecentAgentRuns(ctx, 10)
	require.NoError(t, err)
	var launched *types.AgentRun
	for _, r := range runs {
		if r.Task == "sync backups" {
			launched = r
		}
	}
	require.NotNil(t, launched, "due schedule launched as an agent run")
	assert.Equal(t, types.RunRunning, launched.Status)
	require.NotNil(t, launched.ScheduleID)
	assert.Equal(t, sched.ID, *launched.ScheduleID)

	schedules, err := st.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.True(t, schedules[0].NextRunAt.After(now.Add(40*time.Minute)))
}

func TestCyclePlanBatchIndexedOnce(t *testing.T) {
	ctx := context.Background()
	st := newProcessorStore(t)

	sess := types.NewSession("sess-plan", "claude", "/repo/gamma")
	require.NoError(t, st.CreateSession(ctx, sess))
	batch, err := st.CreatePromptBatch(ctx, "sess-plan", "wrote the migration plan", types.SourcePlan)
	require.NoError(t, err)
	require.NoError(t, st.SetBatchPlan(ctx, batch.ID, "plans/migration.md", "# Plan\n1. dual-write\n2. backfill"))
	require.NoError(t, st.EndPromptBatch(ctx, batch.ID, time.Now().UTC(), ""))

	idx := &recordingIndex{}
	p, err := New(st, WithIndex(idx))
	require.NoError(t, err)

	p.RunCycle(ctx)
	p.RunCycle(ctx)

	got, err := st.GetPromptBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed, "plan batches are bookkeeping for the handler")
	assert.True(t, got.PlanEmbedded)

	added := idx.memories()
	require.Len(t, added, 1, "plan indexed exactly once across cycles")
	assert.Equal(t, "plan-"+got.ContentHash, added[0].ID)
	assert.Equal(t, "plan", added[0].MemoryType)
	assert.Contains(t, added[0].Text, "dual-write")
}

func TestCycleSingleFlight(t *testing.T) {
	ctx := context.Background()
	st := newProcessorStore(t)
	batch := seedUserBatch(t, st, "sess-flight", "quick change", editActivities(3))

	p, err := New(st)
	require.NoError(t, err)

	// Simulate a cycle still in progress.
	p.active.Store(true)
	p.RunCycle(ctx)

	got, err := st.GetPromptBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, got.Processed, "overlapping tick is a no-op")

	p.active.Store(false)
	p.RunCycle(ctx)

	got, err = st.GetPromptBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
}

func TestCycleSalvagesTruncatedExtraction(t *testing.T) {
	ctx := context.Background()
	st := newProcessorStore(t)
	batch := seedUserBatch(t, st, "sess-truncated", "wire the importer", editActivities(4))

	// Token ceiling hit mid-array: the second object never closes.
	truncated := `{"observations":[` +
		`{"observation":"Importer dedups by content hash","memory_type":"discovery","importance":6},` +
		`{"observation":"Second one that got cut`

	classifier := &stubLLM{responses: []string{"implementation"}}
	extractor := &stubLLM{responses: []string{truncated, "Importer work"}}

	p, err := New(st, WithSummarizer(extractor), WithClassifier(classifier))
	require.NoError(t, err)

	p.RunCycle(ctx)

	got, err := st.GetPromptBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)

	observations, err := st.ListSessionObservations(ctx, "sess-truncated")
	require.NoError(t, err)
	require.Len(t, observations, 1, "every complete object before the cut survives")
	assert.Equal(t, "Importer dedups by content hash", observations[0].Observation)
	assert.Equal(t, types.MemoryDiscovery, observations[0].MemoryType)
	assert.Equal(t, 6, observations[0].Importance)
}

func TestCycleIndexesImportedObservations(t *testing.T) {
	ctx := context.Background()
	st := newProcessorStore(t)

	sess := types.NewSession("sess-import", "claude", "/repo/delta")
	require.NoError(t, st.CreateSession(ctx, sess))
	obs := types.NewObservation("sess-import", "delta uses a forked linter config", types.MemoryDiscovery)
	require.NoError(t, st.StoreObservation(ctx, obs, nil))

	idx := &recordingIndex{}
	p, err := New(st, WithIndex(idx))
	require.NoError(t, err)

	p.RunCycle(ctx)

	got, err := st.GetObservation(ctx, obs.ID)
	require.NoError(t, err)
	assert.True(t, got.Embedded, "rows that never reached the index are picked up")

	added := idx.memories()
	require.Len(t, added, 1)
	assert.Equal(t, obs.ID, added[0].ID)
	assert.Equal(t, "/repo/delta", added[0].Project)
}
