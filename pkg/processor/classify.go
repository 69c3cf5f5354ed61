package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/entrhq/recall/pkg/llm"
	"github.com/entrhq/recall/pkg/llm/parser"
	"github.com/entrhq/recall/pkg/types"
)

// classifyMaxTokens caps the classification response. The answer is one
// label; anything longer is the model ignoring instructions.
const classifyMaxTokens = 8

// digestPromptChars bounds the prompt snippet inside the usage digest.
const digestPromptChars = 300

// digestMaxFiles bounds the files listed in the usage digest.
const digestMaxFiles = 12

// usageDigest is the compact view of a batch the classifier sees, and the
// raw counts the heuristic fallback decides on.
type usageDigest struct {
	tools  map[string]int
	files  []string
	errors int
	edits  int
	reads  int
	total  int
}

func buildDigest(activities []*types.Activity) *usageDigest {
	d := &usageDigest{tools: make(map[string]int)}
	seen := make(map[string]bool)

	for _, a := range activities {
		d.total++
		d.tools[a.ToolName]++

		if a.FilePath != "" && !seen[a.FilePath] {
			seen[a.FilePath] = true
			d.files = append(d.files, a.FilePath)
		}
		if !a.Success || a.ErrorMessage != "" {
			d.errors++
		}

		name := strings.ToLower(a.ToolName)
		switch {
		case strings.Contains(name, "edit"), strings.Contains(name, "write"),
			strings.Contains(name, "patch"), strings.Contains(name, "diff"):
			d.edits++
		case strings.Contains(name, "read"), strings.Contains(name, "grep"),
			strings.Contains(name, "search"), strings.Contains(name, "glob"),
			strings.Contains(name, "list"):
			d.reads++
		}
	}
	return d
}

// render formats the digest for the classification call.
func (d *usageDigest) render(prompt string) string {
	var b strings.Builder

	b.WriteString("Prompt: ")
	b.WriteString(types.Truncate(strings.TrimSpace(prompt), digestPromptChars))
	b.WriteString("\n")

	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("Tools:")
	if len(names) == 0 {
		b.WriteString(" none")
	}
	for _, name := range names {
		fmt.Fprintf(&b, " %s=%d", name, d.tools[name])
	}
	b.WriteString("\n")

	files := d.files
	if len(files) > digestMaxFiles {
		files = files[:digestMaxFiles]
	}
	if len(files) > 0 {
		b.WriteString("Files: ")
		b.WriteString(strings.Join(files, ", "))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Errors: %d\n", d.errors)
	return b.String()
}

// classifyBatch labels the batch's work. The LLM sees a compact usage
// digest; a failed call or an unrecognized answer falls back to the
// heuristic, so classification always produces a label.
func (p *Processor) classifyBatch(ctx context.Context, batch *types.PromptBatch, d *usageDigest) string {
	if p.classifier == nil || d.total == 0 {
		return heuristicClassify(batch.UserPrompt, d)
	}

	resp, err := p.classifier.Complete(ctx, llm.Request{
		System:    ClassifyPrompt,
		User:      d.render(batch.UserPrompt),
		MaxTokens: classifyMaxTokens,
	})
	if err != nil {
		p.logger.Debugf("Classification call failed for batch %d: %v", batch.ID, err)
		return heuristicClassify(batch.UserPrompt, d)
	}

	label, ok := parser.ParseClassification(resp)
	if !ok {
		p.logger.Debugf("Unrecognized classification %q for batch %d", strings.TrimSpace(resp), batch.ID)
		return heuristicClassify(batch.UserPrompt, d)
	}
	return label
}

var refactorCues = []string{"refactor", "rename", "restructure", "clean up", "cleanup", "simplify"}

// heuristicClassify labels a batch from tool usage alone. Real failures
// outrank everything; a declared refactoring intent outranks raw tool
// dominance, because refactoring and implementation look identical at the
// tool level.
func heuristicClassify(prompt string, d *usageDigest) string {
	if d.errors > 0 && d.edits > 0 {
		return "debugging"
	}

	lower := strings.ToLower(prompt)
	for _, cue := range refactorCues {
		if strings.Contains(lower, cue) {
			return "refactoring"
		}
	}

	if d.edits > d.reads {
		return "implementation"
	}
	if d.reads > 0 {
		return "exploration"
	}
	return "exploration"
}
