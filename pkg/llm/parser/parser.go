// Package parser provides utilities for parsing structured content from LLM
// responses. Extraction asks for strict JSON, but responses arrive fenced,
// wrapped in prose, or truncated mid-array when the token ceiling cuts in;
// the parser salvages every complete observation it can instead of failing
// the whole batch.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ExtractedObservation is one observation as the extraction template
// requests it. Field values are untrusted model output: the caller clamps
// importance and validates the memory type before storage.
type ExtractedObservation struct {
	Observation string   `json:"observation"`
	MemoryType  string   `json:"memory_type"`
	Context     string   `json:"context"`
	Tags        []string `json:"tags"`
	Importance  int      `json:"importance"`
	FilePath    string   `json:"file_path"`

	// Type catches responses that shorten the field name despite the
	// template. ResolvedType folds it in.
	Type string `json:"type"`
}

// ResolvedType returns the memory type the response named, under either
// field spelling.
func (e *ExtractedObservation) ResolvedType() string {
	if e.MemoryType != "" {
		return e.MemoryType
	}
	return e.Type
}

type extractionEnvelope struct {
	Observations []ExtractedObservation `json:"observations"`
}

// ParseExtraction parses an extraction response into observations. It first
// tries the whole payload as the documented {"observations": [...]} envelope
// (after unwrapping markdown fences), then falls back to recovery.
func ParseExtraction(raw string) ([]ExtractedObservation, error) {
	cleaned := stripFences(raw)

	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start >= 0 && end > start {
		var env extractionEnvelope
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &env); err == nil {
			return env.Observations, nil
		}
	}

	recovered := RecoverObservations(cleaned)
	if len(recovered) == 0 {
		return nil, fmt.Errorf("parser: no observations found in response")
	}
	return recovered, nil
}

var observationsArrayRe = regexp.MustCompile(`"observations"\s*:\s*\[`)

// RecoverObservations salvages complete observation objects from a malformed
// or truncated response. It locates the observations array when one is
// present, then walks the text collecting balanced JSON objects; a response
// cut off mid-object still yields every object before the cut.
func RecoverObservations(raw string) []ExtractedObservation {
	text := raw
	if m := observationsArrayRe.FindStringIndex(text); m != nil {
		text = text[m[1]:]
	}

	var out []ExtractedObservation
	for {
		obj, rest, ok := nextBalancedObject(text)
		if !ok {
			break
		}
		var eo ExtractedObservation
		if err := json.Unmarshal([]byte(obj), &eo); err == nil && eo.Observation != "" {
			out = append(out, eo)
		}
		text = rest
	}
	return out
}

// nextBalancedObject returns the first balanced JSON object in text and the
// remainder after it. It tracks string and escape state so braces inside
// values don't confuse the depth count. ok is false when no complete object
// remains, which is the usual truncation case.
func nextBalancedObject(text string) (obj, rest string, ok bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], text[i+1:], true
			}
		}
	}

	return "", "", false
}

var classificationRe = regexp.MustCompile(`(?i)\b(exploration|debugging|implementation|refactoring)\b`)

// ParseClassification extracts a work classification label from a response.
// Models wrap the label in prose or punctuation often enough that exact
// matching loses real answers; the first recognized label wins. ok is false
// when no known label appears, and the caller falls back to heuristics.
func ParseClassification(raw string) (label string, ok bool) {
	m := classificationRe.FindString(raw)
	if m == "" {
		return "", false
	}
	return strings.ToLower(m), true
}

// stripFences removes a markdown code fence wrapper if present.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if i := strings.LastIndex(trimmed, "```"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.TrimSpace(trimmed)
}
