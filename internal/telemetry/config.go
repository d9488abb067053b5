package telemetry

import (
	"os"
	"sync/atomic"
)

// EnvObserveJSON gates JSONL emission. Only "1" enables it.
const EnvObserveJSON = "EVENT_HANDLER_OBSERVE_JSON"

var observeEnabled atomic.Bool

func init() {
	// Read once at process start; SetObserve overrides it.
	observeEnabled.Store(os.Getenv(EnvObserveJSON) == "1")
}

// SetObserve enables or disables emission for the rest of the process.
func SetObserve(on bool) { observeEnabled.Store(on) }

// ObserveEnabled reports whether JSONL emission is on.
func ObserveEnabled() bool {
	// Allow tests to enable mid-run via env override.
	if os.Getenv(EnvObserveJSON) == "1" {
		return true
	}
	return observeEnabled.Load()
}
