package processor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/recall/pkg/config"
)

func newBudgetProcessor(t *testing.T, window, response int) *Processor {
	t.Helper()
	p, err := New(newProcessorStore(t),
		WithLLMConfig(&config.LLMSection{ContextWindow: window, MaxResponseTokens: response}))
	require.NoError(t, err)
	return p
}

func TestExtractionBudgetScalesWithWindow(t *testing.T) {
	small := newBudgetProcessor(t, 4096, 512).extractionBudget(200)
	assert.Equal(t, contextBudget{Prompt: 846, Activities: 2030, Related: 507}, small)

	large := newBudgetProcessor(t, 128000, 1024).extractionBudget(200)
	assert.Greater(t, large.Prompt, small.Prompt)
	assert.Greater(t, large.Activities, small.Activities)
	assert.Greater(t, large.Related, small.Related)

	// The split never hands out more than it reserved.
	total := large.Prompt + large.Activities + large.Related
	assert.LessOrEqual(t, total, 128000-1024-200)
}

func TestExtractionBudgetFloorsTinyWindows(t *testing.T) {
	// Window smaller than the response reservation: budget as if the floor
	// were available instead of going negative.
	b := newBudgetProcessor(t, 1024, 1024).extractionBudget(100)
	assert.Equal(t, contextBudget{Prompt: 128, Activities: 307, Related: 76}, b)
}

func TestFitTokensTruncates(t *testing.T) {
	p := newBudgetProcessor(t, 8192, 1024)
	text := strings.Repeat("alpha beta gamma delta ", 400)

	assert.Equal(t, text, p.fitTokens(text, 1<<20), "generous budget passes through")
	assert.Equal(t, "", p.fitTokens(text, 0))

	cut := p.fitTokens(text, 50)
	assert.True(t, strings.HasPrefix(text, cut))
	assert.Less(t, len(cut), len(text))
	assert.LessOrEqual(t, p.tok.CountTokens(cut), 50)
}

func TestFitTokensNeverSplitsRunes(t *testing.T) {
	p := newBudgetProcessor(t, 8192, 1024)
	text := strings.Repeat("überflüssige Zeichenkette ", 200)

	cut := p.fitTokens(text, 30)
	assert.True(t, utf8.ValidString(cut))
	assert.True(t, strings.HasPrefix(text, cut))
}

func TestFitLinesKeepsWholeLines(t *testing.T) {
	p := newBudgetProcessor(t, 8192, 1024)
	lines := []string{
		"10:00:01 Edit pkg/store/store.go",
		"10:00:02 Read pkg/store/batches.go",
		strings.Repeat("10:00:03 Bash very long command output ", 200),
		"10:00:04 Edit pkg/store/sessions.go",
	}

	kept := p.fitLines(lines, 30)
	require.NotEmpty(t, kept)
	assert.Less(t, len(kept), len(lines), "the oversized line stops the scan")
	assert.Equal(t, lines[:len(kept)], kept, "kept lines are an untouched prefix")

	all := p.fitLines(lines, 1<<20)
	assert.Equal(t, lines, all)

	assert.Empty(t, p.fitLines(lines, 0))
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "héllo", truncateUTF8("héllo", 10))
	assert.Equal(t, "h", truncateUTF8("héllo", 2), "cut inside a rune backs up to its start")
	assert.Equal(t, "ab", truncateUTF8("ab cd", 3), "trailing whitespace is dropped")
	assert.Equal(t, "", truncateUTF8("héllo", 0))
}
