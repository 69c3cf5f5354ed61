package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gobwas/glob"
)

const (
	// SectionIDCapture is the identifier for the capture filter section
	SectionIDCapture = "capture"
)

// defaultIgnorePaths are file patterns that never enter the database. The
// capture boundary records tool inputs verbatim, so anything that commonly
// holds credentials is filtered before storage.
var defaultIgnorePaths = []string{
	"**/.env",
	"**/.env.*",
	"**/*.pem",
	"**/*.key",
	"**/id_rsa*",
	"**/.aws/**",
	"**/credentials*",
}

// CaptureSection manages the capture filter: glob patterns for tool names
// and file paths whose activities are dropped at the boundary instead of
// stored. Patterns compile at set time so a bad pattern fails loudly rather
// than silently capturing everything.
type CaptureSection struct {
	IgnoreTools []string
	IgnorePaths []string

	toolGlobs []glob.Glob
	pathGlobs []glob.Glob
	mu        sync.RWMutex
}

// NewCaptureSection creates a capture section with default settings.
func NewCaptureSection() *CaptureSection {
	s := &CaptureSection{
		IgnorePaths: append([]string(nil), defaultIgnorePaths...),
	}
	// Defaults are known-good patterns.
	s.toolGlobs, s.pathGlobs, _ = compilePatterns(s.IgnoreTools, s.IgnorePaths)
	return s
}

// compilePatterns compiles both pattern lists, reporting the first failure.
func compilePatterns(tools, paths []string) ([]glob.Glob, []glob.Glob, error) {
	toolGlobs := make([]glob.Glob, 0, len(tools))
	for _, pattern := range tools {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid tool pattern '%s': %w", pattern, err)
		}
		toolGlobs = append(toolGlobs, g)
	}

	pathGlobs := make([]glob.Glob, 0, len(paths))
	for _, pattern := range paths {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, nil, fmt.Errorf("invalid path pattern '%s': %w", pattern, err)
		}
		pathGlobs = append(pathGlobs, g)
	}

	return toolGlobs, pathGlobs, nil
}

// ID returns the section identifier.
func (s *CaptureSection) ID() string {
	return SectionIDCapture
}

// Title returns the section title.
func (s *CaptureSection) Title() string {
	return "Capture Filter"
}

// Description returns the section description.
func (s *CaptureSection) Description() string {
	return "Configure glob patterns for tool names and file paths whose activities are never recorded. Defaults cover common credential files."
}

// Data returns the current configuration data.
func (s *CaptureSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"ignore_tools": stringSliceToAny(s.IgnoreTools),
		"ignore_paths": stringSliceToAny(s.IgnorePaths),
	}
}

// SetData updates the configuration from the provided data. Patterns are
// compiled immediately; invalid patterns reject the whole update.
func (s *CaptureSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tools := s.IgnoreTools
	paths := s.IgnorePaths

	if v, ok := data["ignore_tools"]; ok {
		tools = anyToStringSlice(v)
	}
	if v, ok := data["ignore_paths"]; ok {
		paths = anyToStringSlice(v)
	}

	toolGlobs, pathGlobs, err := compilePatterns(tools, paths)
	if err != nil {
		return err
	}

	s.IgnoreTools = tools
	s.IgnorePaths = paths
	s.toolGlobs = toolGlobs
	s.pathGlobs = pathGlobs
	return nil
}

// Validate validates the current configuration.
func (s *CaptureSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, _, err := compilePatterns(s.IgnoreTools, s.IgnorePaths)
	return err
}

// Reset resets the section to default configuration.
func (s *CaptureSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IgnoreTools = nil
	s.IgnorePaths = append([]string(nil), defaultIgnorePaths...)
	s.toolGlobs, s.pathGlobs, _ = compilePatterns(s.IgnoreTools, s.IgnorePaths)
}

// ShouldCapture reports whether an activity with the given tool name and
// file path may be recorded. Ignore patterns take precedence; an empty file
// path is only checked against tool patterns.
func (s *CaptureSection) ShouldCapture(toolName, filePath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.toolGlobs {
		if g.Match(toolName) {
			return false
		}
	}

	if filePath == "" {
		return true
	}

	cleaned := filepath.ToSlash(filepath.Clean(filePath))
	for _, g := range s.pathGlobs {
		if g.Match(cleaned) {
			return false
		}
	}

	return true
}

func stringSliceToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func anyToStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
