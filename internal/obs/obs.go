// Package obs wires the process-wide logging and error telemetry: a JSON
// slog handler and, when a DSN is configured, Sentry exception capture.
// Library packages never call Init; only process entry points
// (cmd/gaveloc-launcher, cmd/gaveloc-patcher) do.
package obs

import (
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/nanolyn/gaveloc/internal/build"
)

// defaultFlushTimeout is the time Flush waits for buffered Sentry events to
// be sent before giving up.
const defaultFlushTimeout = 2 * time.Second

// Init installs a structured slog handler and, if GAVELOC_SENTRY_DSN is set,
// initializes Sentry. An empty DSN is a deliberate no-op: configuration
// sourcing is out of scope, but the library is still wired for callers that
// do provide one via the environment.
func Init(release, version string) {
	level := slog.LevelInfo
	if build.DebugLogging() {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	if dsn := os.Getenv("GAVELOC_SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Release:          release,
			Environment:      envName(release),
			TracesSampleRate: 0,
		}); err != nil {
			slog.Warn("sentry init failed", "error", err)
		}
	}

	slog.Info("observability initialized", "release", release, "version", version)
}

func envName(release string) string {
	if release == "" {
		return "dev"
	}
	return release
}

// CaptureUnexpected reports an error that should never happen in normal
// operation (panics during startup, I/O errors reading the keychain or
// version files) without interrupting the caller's control flow.
func CaptureUnexpected(err error) {
	if err == nil {
		return
	}
	slog.Error("unexpected error", "error", err)
	sentry.CaptureException(err)
}

// Flush blocks up to the given timeout waiting for buffered Sentry events to
// be sent; call once from process shutdown paths.
func Flush() {
	sentry.Flush(defaultFlushTimeout)
}
