package build

import (
	"os"
	"runtime"
)

// OS returns the target operating system.
// In dev mode, it first checks the GAVELOC_OS environment variable.
// Otherwise, it returns the runtime OS (runtime.GOOS).
func OS() string {
	if isDevMode() {
		if v, ok := os.LookupEnv("GAVELOC_OS"); ok {
			return v
		}
	}
	return runtime.GOOS
}

// Arch returns the target architecture.
// In dev mode, it first checks the GAVELOC_ARCH environment variable.
// Otherwise, it returns the runtime architecture (runtime.GOARCH).
func Arch() string {
	if isDevMode() {
		if v, ok := os.LookupEnv("GAVELOC_ARCH"); ok {
			return v
		}
	}
	return runtime.GOARCH
}

// DebugLogging returns true if debug logging is enabled.
// In dev mode, debug logging is always enabled.
// In other modes, it checks the GAVELOC_DEBUG_LOGGING environment variable.
func DebugLogging() bool {
	if isDevMode() {
		return true
	}
	_, ok := os.LookupEnv("GAVELOC_DEBUG_LOGGING")
	return ok
}

// KeepScratchFiles returns true if the scratch patch directory for an update
// cycle should survive cycle completion instead of being removed. Checked in dev mode only.
func KeepScratchFiles() bool {
	if isDevMode() {
		_, ok := os.LookupEnv("GAVELOC_KEEP_SCRATCH")
		return ok
	}
	return false
}
