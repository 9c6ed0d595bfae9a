// Package otp implements OtpLoopback: a single-shot local HTTP listener on
// port 4646 that receives a one-time password pushed from the vendor's
// companion mobile app. A net.Listener, a
// mutex-guarded *http.Server, and a one-shot result channel are all this
// needs: one route, one captured path segment.
package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Port is the fixed loopback port the companion app pushes to.
const Port = 4646

// ErrAlreadyRunning is returned by Start when a listener is already active.
var ErrAlreadyRunning = errors.New("otp loopback: already running")

// Listener is the single-shot OTP loopback HTTP listener.
type Listener struct {
	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	resultCh chan string
	attemptID string
}

// New returns an idle Listener.
func New() *Listener {
	return &Listener{}
}

// Start binds the loopback listener and begins serving. Returns
// ErrAlreadyRunning if a previous Start has not been Stop()ed.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.server != nil {
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", Port))
	if err != nil {
		return fmt.Errorf("otp loopback: binding port %d: %w", Port, err)
	}

	l.attemptID = uuid.NewString()
	l.resultCh = make(chan string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/ffxivlauncher/", l.handleOTP)
	l.server = &http.Server{Handler: mux}
	l.listener = ln

	slog.Info("otp loopback listening", "port", Port, "attempt_id", l.attemptID)

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("otp loopback server error", "error", err, "attempt_id", l.attemptID)
		}
	}()

	return nil
}

func (l *Listener) handleOTP(w http.ResponseWriter, r *http.Request) {
	const prefix = "/ffxivlauncher/"
	otp := r.URL.Path[len(prefix):]
	if otp == "" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OTP received, you may close this window.")

	l.mu.Lock()
	ch := l.resultCh
	l.mu.Unlock()
	if ch != nil {
		select {
		case ch <- otp:
		default:
			// Already delivered to a prior request; this is a single-shot
			// listener so later deliveries are dropped.
		}
	}
}

// Wait blocks until the first OTP arrives or ctx is cancelled. The caller
// races this against its own timeout.
func (l *Listener) Wait(ctx context.Context) (string, error) {
	l.mu.Lock()
	ch := l.resultCh
	l.mu.Unlock()
	if ch == nil {
		return "", errors.New("otp loopback: not started")
	}
	select {
	case otp := <-ch:
		return otp, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop shuts down the listener. Idempotent. A Wait already in progress is
// not woken by Stop; it returns when an OTP arrives or its context ends.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.server != nil {
		l.server.Close()
		l.server = nil
	}
	if l.listener != nil {
		l.listener.Close()
		l.listener = nil
	}
	// The channel is buffered and simply dropped rather than closed: a
	// handler goroutine racing this Stop() may still hold the old
	// reference and attempt a non-blocking send into it, which must never
	// panic on a closed channel.
	l.resultCh = nil
}
