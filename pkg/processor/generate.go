package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/entrhq/recall/pkg/llm"
	"github.com/entrhq/recall/pkg/types"
)

const (
	titleMaxTokens   = 24
	summaryMaxTokens = 200

	titleMaxChars = 80

	// fallbackTitleChars bounds the prompt-derived fallback title.
	fallbackTitleChars = 60
)

// generateTitles names sessions that have none yet, bounded per cycle.
// Sessions below the quality threshold are skipped: they are on their way
// to being pruned, and a title would outlive the row by seconds.
func (p *Processor) generateTitles(ctx context.Context) {
	pending, err := p.store.ListSessionsWithoutTitle(ctx, p.processing.GetMaxTitlesPerCycle())
	if err != nil {
		p.logger.Errorf("Listing untitled sessions failed: %v", err)
		return
	}

	for _, sess := range pending {
		count, err := p.store.CountSessionActivities(ctx, sess.ID)
		if err != nil || count < p.processing.GetMinSessionActivities() {
			continue
		}

		title := p.generateTitle(ctx, sess)
		if title == "" {
			continue
		}
		if err := p.store.SetSessionTitle(ctx, sess.ID, title); err != nil {
			p.logger.Errorf("Setting title for %s failed: %v", sess.ID, err)
		}
	}
}

// generateTitle produces a short session title, falling back to the first
// user prompt so the pipeline advances with the LLM down.
func (p *Processor) generateTitle(ctx context.Context, sess *types.Session) string {
	input := sess.Summary
	if input == "" {
		input = p.firstUserPrompt(ctx, sess.ID)
	}

	if p.summarizer != nil && input != "" {
		resp, err := p.summarizer.Complete(ctx, llm.Request{
			System:    TitlePrompt,
			User:      input,
			MaxTokens: titleMaxTokens,
		})
		if err != nil {
			p.logger.Debugf("Title generation for %s failed: %v", sess.ID, err)
		} else if title := cleanLine(resp, titleMaxChars); title != "" {
			return title
		}
	}
	return fallbackTitle(sess, input)
}

// summarizeSession writes the session summary, marking the session
// processed. The deterministic fallback keeps recovery moving when the LLM
// is unreachable; a better summary costs a reprocess, a missing one costs a
// stuck pipeline.
func (p *Processor) summarizeSession(ctx context.Context, sessionID string) {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		p.logger.Errorf("Loading session %s for summary failed: %v", sessionID, err)
		return
	}

	summary := p.generateSummary(ctx, sess)
	if summary == "" {
		summary = fallbackSummary(sess)
	}
	if err := p.store.SetSessionSummary(ctx, sessionID, summary); err != nil {
		p.logger.Errorf("Setting summary for %s failed: %v", sessionID, err)
	}
}

// generateSummary renders the session's prompts and responses under the
// context budget and asks for a summary. Empty means the caller should fall
// back.
func (p *Processor) generateSummary(ctx context.Context, sess *types.Session) string {
	if p.summarizer == nil {
		return ""
	}

	batches, err := p.store.ListSessionBatches(ctx, sess.ID)
	if err != nil {
		p.logger.Errorf("Listing batches for %s failed: %v", sess.ID, err)
		return ""
	}

	lines := make([]string, 0, len(batches)*2)
	for _, b := range batches {
		if b.UserPrompt != "" {
			lines = append(lines, fmt.Sprintf("P%d: %s", b.PromptNumber, b.UserPrompt))
		}
		if b.ResponseSummary != "" {
			lines = append(lines, fmt.Sprintf("R%d: %s", b.PromptNumber, b.ResponseSummary))
		}
	}
	if len(lines) == 0 {
		return ""
	}

	budget := p.llm.GetContextWindow() - summaryMaxTokens - p.tok.CountTokens(SummaryPrompt)
	if budget < minBudgetTokens {
		budget = minBudgetTokens
	}

	resp, err := p.summarizer.Complete(ctx, llm.Request{
		System:    SummaryPrompt,
		User:      strings.Join(p.fitLines(lines, budget), "\n"),
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		p.logger.Debugf("Summary generation for %s failed: %v", sess.ID, err)
		return ""
	}
	return strings.TrimSpace(resp)
}

// firstUserPrompt returns the session's first user prompt, or "".
func (p *Processor) firstUserPrompt(ctx context.Context, sessionID string) string {
	batches, err := p.store.ListSessionBatches(ctx, sessionID)
	if err != nil {
		return ""
	}
	for _, b := range batches {
		if b.SourceType == types.SourceUser && b.UserPrompt != "" {
			return b.UserPrompt
		}
	}
	return ""
}

// fallbackTitle derives a title without an LLM: the first user prompt,
// truncated, or the agent and project when no prompt survives.
func fallbackTitle(sess *types.Session, prompt string) string {
	if line := cleanLine(prompt, fallbackTitleChars); line != "" {
		return line
	}
	return fmt.Sprintf("%s session in %s", sess.Agent, filepath.Base(sess.Project))
}

// fallbackSummary is the tool-count digest used when no LLM summary could
// be produced.
func fallbackSummary(sess *types.Session) string {
	return fmt.Sprintf("%d prompts and %d tool calls in %s.",
		sess.PromptCount, sess.ToolCount, sess.Project)
}

// cleanLine reduces a model response to one usable line: first line, quotes
// and fences stripped, truncated.
func cleanLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'` ")
	return types.Truncate(strings.TrimSpace(s), max)
}
