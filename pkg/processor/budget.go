package processor

import "strings"

// budgetShare splits the prompt-side token budget. Activities carry the
// extractable signal, so they get the majority; the user prompt and related
// observations frame them.
const (
	promptShare     = 25
	activitiesShare = 60
	relatedShare    = 15
)

// minBudgetTokens is the floor for the prompt-side budget. Below this the
// configured window is too small to be real; budgeting proceeds as if the
// floor were available rather than sending empty prompts.
const minBudgetTokens = 512

// contextBudget is the token allocation for one extraction call.
type contextBudget struct {
	Prompt     int
	Activities int
	Related    int
}

// extractionBudget derives the allocation from the configured context
// window: reserve the response ceiling and the template overhead, split the
// remainder. The same arithmetic serves 4k local models and 128k hosted
// ones.
func (p *Processor) extractionBudget(templateTokens int) contextBudget {
	window := p.llm.GetContextWindow()
	available := window - p.llm.GetMaxResponseTokens() - templateTokens
	if available < minBudgetTokens {
		available = minBudgetTokens
	}
	return contextBudget{
		Prompt:     available * promptShare / 100,
		Activities: available * activitiesShare / 100,
		Related:    available * relatedShare / 100,
	}
}

// fitTokens truncates text to at most budget tokens. The cut starts from a
// byte-ratio estimate and backs off until the tokenizer agrees, so exact
// counting stays cheap even for large inputs.
func (p *Processor) fitTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	count := p.tok.CountTokens(text)
	if count <= budget {
		return text
	}

	keep := len(text) * budget / count
	for keep > 0 {
		cut := truncateUTF8(text, keep)
		if p.tok.CountTokens(cut) <= budget {
			return cut
		}
		keep = keep * 9 / 10
	}
	return ""
}

// fitLines keeps whole lines from the front of lines until the budget is
// spent. Activities are line-oriented; cutting mid-line would feed the
// model half a tool call.
func (p *Processor) fitLines(lines []string, budget int) []string {
	var kept []string
	used := 0
	for _, line := range lines {
		n := p.tok.CountTokens(line) + 1
		if used+n > budget {
			break
		}
		kept = append(kept, line)
		used += n
	}
	return kept
}

// truncateUTF8 cuts at a byte position without splitting a rune.
func truncateUTF8(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return strings.TrimRight(s[:n], " \t\n")
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
