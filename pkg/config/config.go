package config

import (
	"sync"
)

var (
	globalManager *Manager
	globalMu      sync.Mutex
)

// Initialize builds the global manager: a file store at configPath, the
// five sections registered in display order, stored settings applied over
// defaults. Call once at process startup, before anything asks for
// configuration.
func Initialize(configPath string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	store, err := NewFileStore(configPath)
	if err != nil {
		return err
	}

	manager := NewManager(store)
	for _, section := range []Section{
		NewStorageSection(),
		NewProcessingSection(),
		NewLLMSection(),
		NewVectorSection(),
		NewCaptureSection(),
	} {
		if err := manager.RegisterSection(section); err != nil {
			return err
		}
	}

	if err := manager.LoadAll(); err != nil {
		return err
	}

	globalManager = manager
	return nil
}

// Global returns the global manager. Panics before Initialize: reaching
// here uninitialized is a wiring bug, not a runtime condition.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}
	return globalManager
}

// IsInitialized reports whether Initialize has completed.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

// section looks a registered section up by ID and type. Returns the zero
// value (nil) before Initialize, letting library callers treat missing
// configuration as defaults instead of panicking.
func section[T Section](id string) T {
	var zero T
	if !IsInitialized() {
		return zero
	}
	s, ok := Global().GetSection(id)
	if !ok {
		return zero
	}
	typed, ok := s.(T)
	if !ok {
		return zero
	}
	return typed
}

// GetStorage returns the storage section, nil before Initialize.
func GetStorage() *StorageSection {
	return section[*StorageSection](SectionIDStorage)
}

// GetProcessing returns the background processing section, nil before
// Initialize.
func GetProcessing() *ProcessingSection {
	return section[*ProcessingSection](SectionIDProcessing)
}

// GetLLM returns the LLM settings section, nil before Initialize.
func GetLLM() *LLMSection {
	return section[*LLMSection](SectionIDLLM)
}

// GetVector returns the vector index section, nil before Initialize.
func GetVector() *VectorSection {
	return section[*VectorSection](SectionIDVector)
}

// GetCapture returns the capture filter section, nil before Initialize.
func GetCapture() *CaptureSection {
	return section[*CaptureSection](SectionIDCapture)
}
