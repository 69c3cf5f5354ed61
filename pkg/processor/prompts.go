package processor

// ClassifyPrompt asks for a single work-type label. The response ceiling is
// a handful of tokens, so the instructions forbid everything but the label.
const ClassifyPrompt = `You classify one unit of an AI coding assistant's work.

Read the usage digest and answer with exactly one word, the label that best
describes the work:
- exploration: reading, searching, and navigating to understand code
- debugging: diagnosing and fixing errors or failing tests
- implementation: writing new functionality
- refactoring: restructuring existing code without changing behavior

Answer with the single label only. No punctuation, no explanation.`

// ExtractPrompt is the shared extraction preamble. A classification-specific
// guidance block and the batch context are appended at render time.
const ExtractPrompt = `You extract durable engineering knowledge from one unit of an AI coding
assistant's work: things a developer would want surfaced weeks later when
touching the same code.

Extract only non-obvious knowledge. Skip routine mechanics (files were
edited, tests were run) and anything fully restated by the code itself.

Respond with a single JSON object, no surrounding text:
{"observations": [{"observation": "...", "memory_type": "...",
"context": "...", "tags": ["..."], "importance": 5, "file_path": "..."}]}

Rules:
- memory_type is one of: gotcha, bug_fix, decision, discovery, trade_off
- observation is one or two sentences, specific enough to act on
- context says what was being attempted when the knowledge surfaced
- importance is 1-10; reserve 8+ for knowledge that prevents real damage
- file_path names the most relevant file, or "" when none applies
- an empty list {"observations": []} is the correct answer for routine work`

// TitlePrompt asks for a short session title.
const TitlePrompt = `Write a title for an AI coding assistant session, at most eight words,
describing what the session accomplished. Answer with the title only.`

// SummaryPrompt asks for a compact session summary.
const SummaryPrompt = `Summarize an AI coding assistant session in two or three sentences: what
was asked, what was done, and how it ended. Answer with the summary only.`

// extractGuidance tunes extraction per classification. The label was chosen
// a call earlier, so each block points the model at the knowledge that kind
// of work tends to produce.
var extractGuidance = map[string]string{
	"exploration": `The work was exploration. Favor discoveries: how subsystems fit
together, where behavior actually lives, assumptions the code turned out to
violate.`,

	"debugging": `The work was debugging. Favor the root cause over the symptom, the
fix over the search, and any gotcha that made the bug hard to find.`,

	"implementation": `The work was implementation. Favor decisions and trade-offs: what
was chosen, what was rejected, and constraints future changes must respect.`,

	"refactoring": `The work was refactoring. Favor the motivation and the invariants
that had to be preserved, plus anything that resisted the restructuring.`,
}
