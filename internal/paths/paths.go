// Package paths resolves the on-disk locations the core owns: the account
// store file, the integrity-manifest cache, and per-cycle scratch
// directories. Configuration file loading is out of scope; this package
// only resolves XDG base directories under the vendor directory name.
package paths

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/getsentry/sentry-go"
)

const vendorDirName = "gaveloc"

func defaultHomeSubdir(envVar, fallback string) (string, error) {
	if dir := os.Getenv(envVar); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback), nil
}

var dataDir = sync.OnceValue(func() string {
	base, err := defaultHomeSubdir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if err != nil {
		wrapped := fmt.Errorf("unable to determine data directory: %w", err)
		sentry.CaptureException(wrapped)
		panic(wrapped)
	}
	path := filepath.Join(base, vendorDirName)
	slog.Info("selected data directory", "path", path)
	return path
})

var cacheDir = sync.OnceValue(func() string {
	base, err := defaultHomeSubdir("XDG_CACHE_HOME", filepath.Join(".cache"))
	if err != nil {
		wrapped := fmt.Errorf("unable to determine cache directory: %w", err)
		sentry.CaptureException(wrapped)
		panic(wrapped)
	}
	path := filepath.Join(base, vendorDirName)
	slog.Info("selected cache directory", "path", path)
	return path
})

// DataDir returns the directory the core persists non-secret state to
// (currently the account store). Safe for concurrent use; computed once.
func DataDir() string {
	return dataDir()
}

// CacheDir returns the directory used for the integrity-manifest cache.
func CacheDir() string {
	return cacheDir()
}

// InDataDir joins name onto DataDir.
func InDataDir(name string) string {
	return filepath.Join(dataDir(), name)
}

// InCacheDir joins name onto CacheDir.
func InCacheDir(name string) string {
	return filepath.Join(cacheDir(), name)
}

// AccountStoreFile is the path to the AccountStore JSON file.
func AccountStoreFile() string {
	return InDataDir("accounts.json")
}

// NewScratchDir creates a fresh, uniquely named scratch directory for one
// update cycle under the OS temp directory and returns its path. Caller owns
// removal.
func NewScratchDir(cyclePrefix string) (string, error) {
	return os.MkdirTemp("", vendorDirName+"-"+cyclePrefix+"-")
}

// WorkerSocketPath returns the filesystem path of the launcher/worker IPC
// socket for the given launcher PID.
func WorkerSocketPath(launcherPID int) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("gaveloc_patcher_%d.sock", launcherPID))
}
