package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/entrhq/recall/pkg/llm"
	"github.com/entrhq/recall/pkg/llm/parser"
	"github.com/entrhq/recall/pkg/store"
	"github.com/entrhq/recall/pkg/types"
)

// activityInputChars bounds the tool input rendered per activity line.
const activityInputChars = 160

// relatedObservationLimit bounds the related-context lookup.
const relatedObservationLimit = 5

// extractAndStore runs the extraction stage for one batch: render the
// context under budget, call the LLM in JSON mode, parse (recovering what a
// truncated response still holds), then persist. Each observation is stored
// before it is pushed; a failed push only costs the embedded flag, never
// the observation.
func (p *Processor) extractAndStore(ctx context.Context, batch *types.PromptBatch,
	activities []*types.Activity, d *usageDigest, label string) (int, error) {

	system := ExtractPrompt
	if guidance, ok := extractGuidance[label]; ok {
		system += "\n\n" + guidance
	}

	user := p.renderExtractionContext(ctx, batch, activities, d, p.tok.CountTokens(system))

	resp, err := p.summarizer.Complete(ctx, llm.Request{
		System:    system,
		User:      user,
		JSONMode:  true,
		MaxTokens: p.llm.GetMaxResponseTokens(),
	})
	if err != nil {
		return 0, err
	}

	extracted, err := parser.ParseExtraction(resp)
	if err != nil {
		return 0, err
	}

	// Source activities are consumed once: the first stored observation
	// carries the back-links, the rest share the batch context.
	sourceIDs := unprocessedActivityIDs(activities)
	stored := 0
	for _, eo := range extracted {
		if strings.TrimSpace(eo.Observation) == "" {
			continue
		}

		o := types.NewObservation(batch.SessionID, eo.Observation, p.memoryType(eo.ResolvedType()))
		o.PromptBatchID = &batch.ID
		o.Context = eo.Context
		o.Tags = eo.Tags
		o.Importance = eo.Importance
		o.FilePath = eo.FilePath

		if err := p.store.StoreObservation(ctx, o, sourceIDs); err != nil {
			return stored, err
		}
		sourceIDs = nil
		stored++

		if err := p.pushObservation(ctx, o); err != nil {
			p.logger.Errorf("Index push for observation %s failed, leaving for retry: %v", o.ID, err)
			continue
		}
		if err := p.store.MarkObservationEmbedded(ctx, o.ID); err != nil {
			p.logger.Errorf("Marking observation %s embedded failed: %v", o.ID, err)
		}
	}
	return stored, nil
}

// renderExtractionContext assembles the user turn: prompt, activity log,
// response summary, and related prior observations, each fitted to its
// share of the budget.
func (p *Processor) renderExtractionContext(ctx context.Context, batch *types.PromptBatch,
	activities []*types.Activity, d *usageDigest, templateTokens int) string {

	budget := p.extractionBudget(templateTokens)
	var b strings.Builder

	b.WriteString("## Prompt\n")
	b.WriteString(p.fitTokens(batch.UserPrompt, budget.Prompt))
	b.WriteString("\n")

	lines := make([]string, 0, len(activities)+1)
	for _, a := range activities {
		lines = append(lines, renderActivityLine(a))
	}
	if batch.ResponseSummary != "" {
		lines = append(lines, "Assistant response: "+batch.ResponseSummary)
	}
	b.WriteString("\n## Activity\n")
	b.WriteString(strings.Join(p.fitLines(lines, budget.Activities), "\n"))
	b.WriteString("\n")

	if related := p.relatedContext(ctx, d.files, budget.Related); related != "" {
		b.WriteString("\n## Known observations about these files\n")
		b.WriteString(related)
		b.WriteString("\n")
	}
	return b.String()
}

// renderActivityLine formats one tool call for the extraction context.
func renderActivityLine(a *types.Activity) string {
	var b strings.Builder
	b.WriteString(a.Timestamp.Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(a.ToolName)
	if a.FilePath != "" {
		b.WriteString(" ")
		b.WriteString(a.FilePath)
	}

	if !a.Success || a.ErrorMessage != "" {
		b.WriteString(" FAILED")
		if a.ErrorMessage != "" {
			b.WriteString(": ")
			b.WriteString(a.ErrorMessage)
		}
	}

	if a.ToolInput != "" {
		b.WriteString(" in=")
		b.WriteString(types.Truncate(a.ToolInput, activityInputChars))
	}
	if a.ToolOutputSummary != "" {
		b.WriteString(" out=")
		b.WriteString(a.ToolOutputSummary)
	}
	return b.String()
}

// relatedContext finds existing observations touching the same files, so
// extraction can refine prior knowledge instead of duplicating it.
func (p *Processor) relatedContext(ctx context.Context, files []string, budget int) string {
	if budget <= 0 || len(files) == 0 {
		return ""
	}

	terms := files
	if len(terms) > 4 {
		terms = terms[:4]
	}
	quoted := make([]string, 0, len(terms))
	for _, f := range terms {
		quoted = append(quoted, store.QuoteFTS(filepath.Base(f)))
	}

	observations, err := p.store.SearchObservations(ctx, strings.Join(quoted, " OR "), relatedObservationLimit)
	if err != nil {
		p.logger.Debugf("Related-context lookup failed: %v", err)
		return ""
	}
	if len(observations) == 0 {
		return ""
	}

	lines := make([]string, 0, len(observations))
	for _, o := range observations {
		lines = append(lines, fmt.Sprintf("- [%s] %s", o.MemoryType, o.Observation))
	}
	return p.fitTokens(strings.Join(lines, "\n"), budget)
}

// memoryType maps the extractor's type field onto the known set. Unknown
// values become discoveries rather than dropped observations: the text is
// still knowledge even when the label is noise.
func (p *Processor) memoryType(raw string) types.MemoryType {
	t := types.MemoryType(strings.ToLower(strings.TrimSpace(raw)))
	if t.Valid() {
		return t
	}
	if raw != "" {
		p.logger.Debugf("Unknown memory type %q, storing as discovery", raw)
	}
	return types.MemoryDiscovery
}

func unprocessedActivityIDs(activities []*types.Activity) []int64 {
	var ids []int64
	for _, a := range activities {
		if !a.Processed {
			ids = append(ids, a.ID)
		}
	}
	return ids
}
