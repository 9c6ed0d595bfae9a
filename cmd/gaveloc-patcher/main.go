// gaveloc-patcher is the isolated patch worker: a
// short-lived process spawned by the launcher per update cycle, holding
// exclusive ownership of the game tree while it applies ZiPatch files. It is
// a separate executable for crash isolation — SqPack writes touch multi-GB
// files — and exits 0 on an orderly Shutdown, or when the connection ends
// after a cancellation (SIGTERM/SIGINT or a Cancel request).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/nanolyn/gaveloc/internal/build"
	"github.com/nanolyn/gaveloc/internal/entities"
	"github.com/nanolyn/gaveloc/internal/ipc"
	"github.com/nanolyn/gaveloc/internal/obs"
	"github.com/nanolyn/gaveloc/internal/zipatch"
)

const (
	exitOK            = 0
	exitUsage         = 2
	exitProtocol      = 3
	exitConnectFailed = 4
)

func main() {
	obs.Init(build.Release, build.Version)
	os.Exit(run())
}

func run() int {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: gaveloc-patcher <socket-path>")
		return exitUsage
	}
	socketPath := os.Args[1]

	conn, err := ipc.DialUnix(socketPath)
	if err != nil {
		slog.Error("connecting to launcher", "error", err)
		return exitConnectFailed
	}
	defer conn.Close()

	w := &worker{conn: conn}

	// SIGTERM is treated as a cancellation request: finish the current
	// patch boundary cleanly instead of dying mid-write.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGINT)
	go func() {
		<-sigCh
		slog.Info("received termination signal, cancelling at next patch boundary")
		w.cancelled.Store(true)
	}()

	if err := conn.SendResponse(ipc.Response{Type: ipc.RespReady}); err != nil {
		slog.Error("sending Ready", "error", err)
		return exitProtocol
	}

	hello, err := conn.RecvRequest()
	if err != nil || hello.Type != ipc.ReqHello {
		slog.Error("expected Hello", "error", err)
		return exitProtocol
	}
	slog.Info("worker ready", "parent_pid", hello.ParentPID)

	// Control requests (Cancel, Shutdown) must be observable while a patch
	// batch is being applied, so a reader goroutine drains the socket into
	// a channel and Cancel flips the shared flag immediately.
	reqCh := make(chan ipc.Request)
	readErr := make(chan error, 1)
	go func() {
		defer close(reqCh)
		for {
			req, err := conn.RecvRequest()
			if err != nil {
				readErr <- err
				return
			}
			if req.Type == ipc.ReqCancel {
				w.cancelled.Store(true)
				continue
			}
			reqCh <- req
		}
	}()

	started := false
	for req := range reqCh {
		switch req.Type {
		case ipc.ReqStartPatch:
			if started {
				slog.Error("second StartPatch in one session")
				return exitProtocol
			}
			started = true
			w.runBatch(req)
		case ipc.ReqShutdown:
			slog.Info("orderly shutdown")
			return exitOK
		default:
			slog.Error("unexpected request", "type", req.Type)
			return exitProtocol
		}
	}

	// Reader loop ended without a Shutdown: launcher hung up or the socket
	// broke. A prior cancellation (signal or Cancel request) still counts
	// as orderly.
	if w.cancelled.Load() {
		return exitOK
	}
	slog.Error("launcher connection lost", "error", <-readErr)
	return exitProtocol
}

type worker struct {
	conn      *ipc.Conn
	cancelled atomic.Bool
}

// runBatch applies every patch in request order, reporting progress and
// stopping at the first failure or observed cancellation. Version files are
// the launcher's to update on each PatchCompleted; the worker only touches
// the game tree.
func (w *worker) runBatch(req ipc.Request) {
	total := uint32(len(req.Patches))
	for i, entry := range req.Patches {
		if w.cancelled.Load() {
			w.send(ipc.Response{Type: ipc.RespCancelled})
			return
		}

		patchPath := filepath.Join(req.PatchDir, entry.Filename())
		w.send(ipc.Response{
			Type:       ipc.RespProgress,
			Index:      uint32(i),
			Total:      total,
			VersionID:  entry.VersionID,
			Repository: entry.Repository,
			State:      entities.PatchInstalling,
			BytesTotal: entry.Length,
		})

		if err := applyOnePatch(patchPath, req.GameRoot); err != nil {
			slog.Error("patch apply failed", "patch", entry.Filename(), "error", err)
			w.send(ipc.Response{Type: ipc.RespError, Message: err.Error()})
			return
		}

		if !req.KeepPatches {
			if err := os.Remove(patchPath); err != nil {
				slog.Warn("removing applied patch file", "path", patchPath, "error", err)
			}
		}

		w.send(ipc.Response{
			Type:       ipc.RespPatchCompleted,
			PatchIndex: uint32(i),
			VersionID:  entry.VersionID,
		})
	}
	w.send(ipc.Response{Type: ipc.RespAllCompleted})
}

func applyOnePatch(patchPath, gameRoot string) error {
	chunks, err := zipatch.NewParser().ParseFile(patchPath)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(patchPath), err)
	}
	applier := zipatch.NewApplier(gameRoot, patchPath)
	if err := applier.Apply(chunks); err != nil {
		return fmt.Errorf("applying %s: %w", filepath.Base(patchPath), err)
	}
	return nil
}

func (w *worker) send(resp ipc.Response) {
	if err := w.conn.SendResponse(resp); err != nil {
		slog.Error("sending response", "type", resp.Type, "error", err)
	}
}
