package processor

import (
	"context"
	"fmt"

	"github.com/entrhq/recall/pkg/types"
)

// handleUserBatch runs the full two-stage pipeline: classify the work from
// a usage digest, then extract observations under the context budget.
// Classification always succeeds (heuristic fallback); an extraction error
// leaves the batch unprocessed for the next cycle.
func (p *Processor) handleUserBatch(ctx context.Context, batch *types.PromptBatch) error {
	activities, err := p.store.ListBatchActivities(ctx, batch.ID)
	if err != nil {
		return err
	}

	d := buildDigest(activities)
	label := p.classifyBatch(ctx, batch, d)

	// Nothing happened in this batch; there is no knowledge to extract.
	if len(activities) == 0 && batch.ResponseSummary == "" {
		return p.store.MarkBatchProcessed(ctx, batch.ID, label)
	}

	// Without an LLM the verdict is the heuristic label alone. The batch
	// is still marked processed: retrying against a summarizer that does
	// not exist would rescan the same rows every cycle forever. Promotion
	// requeues a batch once an LLM is configured.
	if p.summarizer == nil {
		p.logger.Debugf("No summarizer configured, batch %d classified %q without extraction", batch.ID, label)
		return p.store.MarkBatchProcessed(ctx, batch.ID, label)
	}

	stored, err := p.extractAndStore(ctx, batch, activities, d, label)
	if err != nil {
		return fmt.Errorf("processor: extract batch %d: %w", batch.ID, err)
	}

	if err := p.store.MarkBatchProcessed(ctx, batch.ID, label); err != nil {
		return err
	}
	p.logger.Infof("Batch %d processed as %s, %d observations", batch.ID, label, stored)
	return nil
}

// handleBookkeepingBatch closes out notification and system batches. They
// carry no extractable work unless promoted, which rewrites them as user
// batches before they reach this handler.
func (p *Processor) handleBookkeepingBatch(ctx context.Context, batch *types.PromptBatch) error {
	return p.store.MarkBatchProcessed(ctx, batch.ID, batch.Classification)
}

// handlePlanBatch closes out plan batches. The captured plan content is
// indexed separately, keyed on the plan_embedded flag, so marking the batch
// processed here never races the indexing phase.
func (p *Processor) handlePlanBatch(ctx context.Context, batch *types.PromptBatch) error {
	return p.store.MarkBatchProcessed(ctx, batch.ID, batch.Classification)
}
