//go:build testing
// +build testing

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitialize(t *testing.T) {
	t.Run("initializes with default sections", func(t *testing.T) {
		ResetGlobalManager()
		configPath := filepath.Join(t.TempDir(), "config.json")

		if err := Initialize(configPath); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}

		if !IsInitialized() {
			t.Fatal("IsInitialized should be true after Initialize")
		}

		sections := Global().GetSections()
		if len(sections) != 5 {
			t.Fatalf("Expected 5 sections, got %d", len(sections))
		}

		expected := []string{
			SectionIDStorage,
			SectionIDProcessing,
			SectionIDLLM,
			SectionIDVector,
			SectionIDCapture,
		}
		for i, id := range expected {
			if sections[i].ID() != id {
				t.Errorf("Section %d: expected %q, got %q", i, id, sections[i].ID())
			}
		}
	})

	t.Run("loads settings from existing file", func(t *testing.T) {
		ResetGlobalManager()
		configPath := filepath.Join(t.TempDir(), "config.json")

		content := `{
  "version": "1.0",
  "sections": {
    "llm": {"model": "gpt-4o", "api_key": "sk-file"},
    "processing": {"cycle_seconds": 120}
  }
}`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}

		if err := Initialize(configPath); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}

		if got := GetLLM().GetModel(); got != "gpt-4o" {
			t.Errorf("Expected model gpt-4o, got %q", got)
		}
		if got := GetProcessing().CycleInterval().Seconds(); got != 120 {
			t.Errorf("Expected 120s cycle, got %v", got)
		}
	})

	t.Run("typed accessors return nil before initialization", func(t *testing.T) {
		ResetGlobalManager()

		if GetStorage() != nil {
			t.Error("GetStorage should be nil before Initialize")
		}
		if GetCapture() != nil {
			t.Error("GetCapture should be nil before Initialize")
		}
	})
}

func TestGlobal_PanicsWhenUninitialized(t *testing.T) {
	ResetGlobalManager()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Global should panic before Initialize")
		}
	}()

	Global()
}
