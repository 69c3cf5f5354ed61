//go:build testing
// +build testing

package config

// ResetGlobalManager clears the global manager so tests that exercise
// Initialize start from an uninitialized state. Compiled only under the
// testing build tag; production code must never reset configuration.
func ResetGlobalManager() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = nil
}
