package idevice

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// debugLevel is the single process-wide log level knob (Design Note §9:
// globals are process-wide, scoped to one atomic, not per-thread).
var debugLevel atomic.Int32

func init() {
	debugLevel.Store(int32(log.InfoLevel))
}

// SetDebugLevel sets the process-wide logrus level used by every package
// in this module.
func SetDebugLevel(level log.Level) {
	debugLevel.Store(int32(level))
	log.SetLevel(level)
}

// DebugLevel returns the currently configured process-wide log level.
func DebugLevel() log.Level {
	return log.Level(debugLevel.Load())
}

// knownLockdownDomains is the documented-safe subset of lockdown value
// domains. "com.apple.mobile.debug" is deliberately excluded: device
// firmware dumps from the original project show it can crash lockdownd,
// per spec.md Design Notes §9 Open Question (a).
var knownLockdownDomains = map[string]bool{
	"com.apple.mobile.battery":       true,
	"com.apple.mobile.iTunes":        true,
	"com.apple.mobile.sync_data":     true,
	"com.apple.mobile.wireless_lockdown": true,
	"com.apple.disk_usage":           true,
}

// IsKnownDomain reports whether domain is in the documented-safe set.
// GetValue() callers may still pass other domains explicitly; this is
// advisory, not enforced, matching spec.md's framing of the debug domain
// as a documented exclusion rather than a hard block.
func IsKnownDomain(domain string) bool {
	return knownLockdownDomains[domain]
}
