// Package processor is the background pipeline: on a recurring timer it
// heals crashed state, prunes or summarizes stale sessions, runs completed
// prompt batches through LLM classification and extraction, and feeds the
// vector index. Every phase degrades gracefully: a down LLM falls back to
// heuristics, a failed index push leaves the row durable for retry, and a
// failing phase never blocks the phases after it.
package processor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/entrhq/recall/pkg/config"
	"github.com/entrhq/recall/pkg/llm"
	"github.com/entrhq/recall/pkg/llm/tokenizer"
	"github.com/entrhq/recall/pkg/logging"
	"github.com/entrhq/recall/pkg/store"
	"github.com/entrhq/recall/pkg/types"
	"github.com/entrhq/recall/pkg/vector"
)

// batchHandler processes one completed prompt batch. Handlers are resolved
// into the registry once at construction, keyed by source type.
type batchHandler func(ctx context.Context, batch *types.PromptBatch) error

// Processor owns the background cycle.
type Processor struct {
	store      *store.Store
	summarizer llm.Summarizer
	classifier llm.Summarizer
	index      vector.Index
	processing *config.ProcessingSection
	llm        *config.LLMSection
	tok        *tokenizer.Tokenizer
	logger     *logging.Logger

	handlers map[types.SourceType]batchHandler

	// active is the single-flight guard: a cycle that outlives the timer
	// interval makes the next tick a no-op instead of a pile-up.
	active atomic.Bool

	now func() time.Time
}

// Option configures the processor at construction time.
type Option func(*Processor)

// WithSummarizer sets the LLM used for extraction, titles, and summaries.
// Without one the pipeline runs on heuristics alone.
func WithSummarizer(s llm.Summarizer) Option {
	return func(p *Processor) {
		p.summarizer = s
	}
}

// WithClassifier sets a dedicated LLM for classification calls. Defaults to
// the summarizer; a small fast model is enough for a one-word answer.
func WithClassifier(s llm.Summarizer) Option {
	return func(p *Processor) {
		p.classifier = s
	}
}

// WithIndex sets the vector index observations are pushed to.
func WithIndex(idx vector.Index) Option {
	return func(p *Processor) {
		p.index = idx
	}
}

// WithProcessingConfig sets the cycle cadence and thresholds.
func WithProcessingConfig(section *config.ProcessingSection) Option {
	return func(p *Processor) {
		p.processing = section
	}
}

// WithLLMConfig sets the context window and response bounds used for
// budgeting.
func WithLLMConfig(section *config.LLMSection) Option {
	return func(p *Processor) {
		p.llm = section
	}
}

// WithNow overrides the clock. Tests use it to age state deterministically.
func WithNow(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// New builds a processor around the store. Defaults: no LLM, noop index,
// default processing and LLM sections, wall clock.
func New(st *store.Store, opts ...Option) (*Processor, error) {
	logger, err := logging.NewLogger("processor")
	if err != nil {
		return nil, err
	}

	p := &Processor{
		store:      st,
		index:      vector.Noop{},
		processing: config.NewProcessingSection(),
		llm:        config.NewLLMSection(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.classifier == nil {
		p.classifier = p.summarizer
	}

	p.tok, err = tokenizer.New()
	if err != nil {
		logger.Warnf("Tokenizer running in estimate mode: %v", err)
	}

	p.handlers = map[types.SourceType]batchHandler{
		types.SourceUser:              p.handleUserBatch,
		types.SourceAgentNotification: p.handleBookkeepingBatch,
		types.SourceSystem:            p.handleBookkeepingBatch,
		types.SourcePlan:              p.handlePlanBatch,
	}
	return p, nil
}

// Run executes cycles on the configured cadence until ctx is canceled. The
// first cycle runs immediately: recovery after a daemon restart must not
// wait out a full interval.
func (p *Processor) Run(ctx context.Context) {
	interval := p.processing.CycleInterval()
	p.logger.Infof("Background processor running every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Infof("Background processor stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle executes one pass over all phases. Cycles never overlap: when a
// previous cycle is still running the call returns immediately. Each phase
// is error-isolated; a failure is logged and the remaining phases still run.
func (p *Processor) RunCycle(ctx context.Context) {
	if !p.active.CompareAndSwap(false, true) {
		p.logger.Debugf("Previous cycle still running, skipping")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("Cycle panicked: %v", r)
		}
		p.active.Store(false)
	}()

	start := p.now()
	phases := []struct {
		name string
		run  func(context.Context) error
	}{
		{"recovery", p.runRecovery},
		{"stale sessions", p.runStaleSessions},
		{"session hygiene", p.runSessionHygiene},
		{"batch processing", p.runBatchProcessing},
		{"indexing", p.runIndexing},
	}
	for _, phase := range phases {
		if ctx.Err() != nil {
			return
		}
		if err := phase.run(ctx); err != nil {
			p.logger.Errorf("Phase %q failed: %v", phase.name, err)
		}
	}
	p.logger.Debugf("Cycle finished in %s", time.Since(start).Round(time.Millisecond))
}

// runRecovery heals crashed state: batches stuck active past the threshold,
// agent runs that never finished, activities recorded without a batch. It
// then launches due schedules as agent run records; executing the task
// belongs to the agent layer, not the processor.
func (p *Processor) runRecovery(ctx context.Context) error {
	now := p.now()

	if _, err := p.store.RecoverStuckBatches(ctx, now, p.processing.BatchStaleAfter()); err != nil {
		p.logger.Errorf("Stuck batch recovery failed: %v", err)
	}
	if _, err := p.store.RecoverStaleAgentRuns(ctx, now, p.processing.SessionStaleAfter()); err != nil {
		p.logger.Errorf("Stale run recovery failed: %v", err)
	}
	if _, err := p.store.AdoptOrphanActivities(ctx); err != nil {
		p.logger.Errorf("Orphan adoption failed: %v", err)
	}

	due, err := p.store.ListDueSchedules(ctx, now)
	if err != nil {
		return err
	}
	for _, sched := range due {
		run := types.NewAgentRun(sched.Task)
		run.ScheduleID = &sched.ID
		if err := p.store.CreateAgentRun(ctx, run); err != nil {
			p.logger.Errorf("Launching schedule %s failed: %v", sched.Name, err)
			continue
		}
		if err := p.store.AdvanceSchedule(ctx, sched.ID, now); err != nil {
			p.logger.Errorf("Advancing schedule %s failed: %v", sched.Name, err)
			continue
		}
		p.logger.Infof("Launched schedule %s as run %s", sched.Name, run.ID)
	}
	return nil
}

// runStaleSessions completes sessions whose agent went silent. Sessions
// below the quality threshold are deleted instead: they would never pass
// the same bar for summarization, and keeping them only accumulates noise.
func (p *Processor) runStaleSessions(ctx context.Context) error {
	now := p.now()
	stale, err := p.store.ListStaleSessions(ctx, now, p.processing.SessionStaleAfter())
	if err != nil {
		return err
	}

	for _, sess := range stale {
		count, err := p.store.CountSessionActivities(ctx, sess.ID)
		if err != nil {
			p.logger.Errorf("Counting activities for %s failed: %v", sess.ID, err)
			continue
		}
		if count < p.processing.GetMinSessionActivities() {
			if err := p.store.DeleteSession(ctx, sess.ID); err != nil {
				p.logger.Errorf("Pruning stale session %s failed: %v", sess.ID, err)
				continue
			}
			p.logger.Infof("Pruned stale session %s (%d activities)", sess.ID, count)
			continue
		}

		if err := p.store.EndSession(ctx, sess.ID, now); err != nil {
			p.logger.Errorf("Completing stale session %s failed: %v", sess.ID, err)
			continue
		}
		p.summarizeSession(ctx, sess.ID)
		p.logger.Infof("Recovered stale session %s", sess.ID)
	}
	return nil
}

// runSessionHygiene works through completed sessions the pipeline has not
// summarized yet, bounded per cycle. The quality threshold applies here
// too: low-activity sessions are pruned, the rest are summarized.
func (p *Processor) runSessionHygiene(ctx context.Context) error {
	pending, err := p.store.ListSessionsWithoutSummary(ctx, p.processing.GetMaxSummariesPerCycle())
	if err != nil {
		return err
	}

	for _, sess := range pending {
		count, err := p.store.CountSessionActivities(ctx, sess.ID)
		if err != nil {
			p.logger.Errorf("Counting activities for %s failed: %v", sess.ID, err)
			continue
		}
		if count < p.processing.GetMinSessionActivities() {
			if err := p.store.DeleteSession(ctx, sess.ID); err != nil {
				p.logger.Errorf("Pruning session %s failed: %v", sess.ID, err)
			}
			continue
		}
		p.summarizeSession(ctx, sess.ID)
	}
	return nil
}

// runBatchProcessing dispatches pending batches through the handler
// registry, oldest first, bounded per cycle. A handler error leaves its
// batch unprocessed so the next cycle retries it. Leftover activities of
// processed batches are swept afterwards.
func (p *Processor) runBatchProcessing(ctx context.Context) error {
	batches, err := p.store.ListUnprocessedBatches(ctx, p.processing.GetMaxBatchesPerCycle())
	if err != nil {
		return err
	}

	for _, batch := range batches {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		handler, ok := p.handlers[batch.SourceType]
		if !ok {
			// The source type set is closed and schema-checked; an
			// unknown value here means manual database edits.
			p.logger.Errorf("Batch %d has unknown source type %q, marking processed", batch.ID, batch.SourceType)
			if err := p.store.MarkBatchProcessed(ctx, batch.ID, "skipped"); err != nil {
				p.logger.Errorf("Marking batch %d failed: %v", batch.ID, err)
			}
			continue
		}

		if err := handler(ctx, batch); err != nil {
			p.logger.Errorf("Processing batch %d failed, will retry: %v", batch.ID, err)
		}
	}

	if _, err := p.store.SweepProcessedBatchActivities(ctx); err != nil {
		p.logger.Errorf("Activity sweep failed: %v", err)
	}
	return nil
}

// runIndexing pushes pending work to the vector index: observations whose
// earlier push failed or that arrived by import, then captured plans. It
// finishes by titling sessions that have none yet.
func (p *Processor) runIndexing(ctx context.Context) error {
	limit := p.processing.GetMaxBatchesPerCycle()

	observations, err := p.store.ListUnembeddedObservations(ctx, limit)
	if err != nil {
		return err
	}
	for _, o := range observations {
		if err := p.pushObservation(ctx, o); err != nil {
			p.logger.Errorf("Index push for observation %s failed: %v", o.ID, err)
			continue
		}
		if err := p.store.MarkObservationEmbedded(ctx, o.ID); err != nil {
			p.logger.Errorf("Marking observation %s embedded failed: %v", o.ID, err)
		}
	}

	plans, err := p.store.ListPendingPlans(ctx, limit)
	if err != nil {
		return err
	}
	for _, b := range plans {
		if err := p.pushPlan(ctx, b); err != nil {
			p.logger.Errorf("Index push for plan batch %d failed: %v", b.ID, err)
			continue
		}
		if err := p.store.MarkPlanEmbedded(ctx, b.ID); err != nil {
			p.logger.Errorf("Marking plan batch %d embedded failed: %v", b.ID, err)
		}
	}

	p.generateTitles(ctx)
	return nil
}

// pushObservation projects an observation into the index. The row is
// already durable; the caller decides what a push failure means.
func (p *Processor) pushObservation(ctx context.Context, o *types.Observation) error {
	project := ""
	if sess, err := p.store.GetSession(ctx, o.SessionID); err == nil {
		project = sess.Project
	}

	return p.index.AddMemory(ctx, vector.Memory{
		ID:         o.ID,
		Text:       o.Observation,
		MemoryType: string(o.MemoryType),
		Context:    o.Context,
		Tags:       o.Tags,
		Importance: o.Importance,
		Project:    project,
		SessionID:  o.SessionID,
		FilePath:   o.FilePath,
		CreatedAt:  o.CreatedAt,
	})
}

// pushPlan projects a captured plan into the index. The document is keyed
// by the batch content hash, which is stable across machines, so re-pushes
// and imported copies land on the same document.
func (p *Processor) pushPlan(ctx context.Context, b *types.PromptBatch) error {
	project := ""
	if sess, err := p.store.GetSession(ctx, b.SessionID); err == nil {
		project = sess.Project
	}

	return p.index.AddMemory(ctx, vector.Memory{
		ID:         "plan-" + b.ContentHash,
		Text:       b.PlanContent,
		MemoryType: "plan",
		Context:    "Plan file " + b.PlanFilePath,
		Importance: 5,
		Project:    project,
		SessionID:  b.SessionID,
		FilePath:   b.PlanFilePath,
		CreatedAt:  b.StartedAt,
	})
}
