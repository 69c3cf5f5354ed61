// Package tokenizer provides token counting for context budget decisions.
//
// Counting uses the cl100k_base BPE encoding, which is close enough for
// budget purposes across the OpenAI-compatible models the daemon talks to.
// Loading the encoding can fail on machines without the cached BPE files;
// counting then falls back to a bytes/4 estimate so budgeting keeps working
// offline, just less precisely.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// estimateBytesPerToken is the fallback ratio. English prose and code both
// land near 4 bytes per token under cl100k_base.
const estimateBytesPerToken = 4

// Tokenizer counts tokens in text.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
}

// New creates a tokenizer. When the encoding cannot be loaded, the returned
// tokenizer still works in estimate mode and the error describes why; most
// callers log it and continue.
func New() (*Tokenizer, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return &Tokenizer{}, fmt.Errorf("tokenizer: load %s encoding: %w", encodingName, err)
	}
	return &Tokenizer{encoding: encoding}, nil
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t.encoding == nil {
		return estimateTokens(text)
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// CountAll returns the total token count across all texts.
func (t *Tokenizer) CountAll(texts ...string) int {
	total := 0
	for _, text := range texts {
		total += t.CountTokens(text)
	}
	return total
}

// IsExact reports whether real BPE counting is active, as opposed to the
// estimate fallback.
func (t *Tokenizer) IsExact() bool {
	return t.encoding != nil
}

// estimateTokens approximates the token count from byte length, rounding up
// so the budget errs toward smaller prompts.
func estimateTokens(text string) int {
	return (len(text) + estimateBytesPerToken - 1) / estimateBytesPerToken
}
