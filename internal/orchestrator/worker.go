package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nanolyn/gaveloc/internal/coreerr"
	"github.com/nanolyn/gaveloc/internal/entities"
	"github.com/nanolyn/gaveloc/internal/ipc"
	"github.com/nanolyn/gaveloc/internal/paths"
)

// ErrIPC wraps launcher-side protocol failures (connect timeout, worker
// death, malformed frames). The cycle fails and the worker is killed if
// still alive.
var ErrIPC = coreerr.New(coreerr.KindIPC, "patch worker protocol error")

// WorkerApplier is the production PatchApplier: it spawns the isolated
// patch-worker process and drives it over the length-prefixed socket
// protocol.
type WorkerApplier struct {
	WorkerPath string
}

func (w *WorkerApplier) Apply(ctx context.Context, req ApplyRequest, onEvent func(ApplyEvent)) error {
	socketPath := paths.WorkerSocketPath(os.Getpid())
	ln, err := ipc.ListenUnix(socketPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIPC, err)
	}
	defer func() {
		ln.Close()
		os.Remove(socketPath)
	}()

	proc, err := ipc.SpawnWorker(w.WorkerPath, socketPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIPC, err)
	}
	// Reap the worker no matter how this apply ends, so a failed cycle
	// never leaves a zombie or a live writer on the game tree.
	workerDone := make(chan error, 1)
	go func() {
		state, waitErr := proc.Wait()
		if waitErr != nil {
			workerDone <- waitErr
			return
		}
		if !state.Success() {
			workerDone <- fmt.Errorf("worker exited with %s", state)
			return
		}
		workerDone <- nil
	}()
	defer func() {
		select {
		case <-workerDone:
		default:
			if termErr := ipc.TerminateWorker(proc); termErr != nil {
				slog.Warn("terminating worker", "error", termErr)
			}
			<-workerDone
		}
	}()

	conn, err := ipc.AcceptWithTimeout(ln)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIPC, err)
	}
	defer conn.Close()

	ready, err := conn.RecvResponseLongWait()
	if err != nil {
		return fmt.Errorf("%w: waiting for Ready: %v", ErrIPC, err)
	}
	if ready.Type != ipc.RespReady {
		return fmt.Errorf("%w: expected Ready, got %d", ErrIPC, ready.Type)
	}
	if err := conn.SendRequest(ipc.Request{Type: ipc.ReqHello, ParentPID: int32(os.Getpid())}); err != nil {
		return fmt.Errorf("%w: sending Hello: %v", ErrIPC, err)
	}

	start := ipc.Request{
		Type:        ipc.ReqStartPatch,
		Patches:     req.Patches,
		GameRoot:    req.GameRoot,
		PatchDir:    req.PatchDir,
		KeepPatches: req.KeepPatches,
	}
	if err := conn.SendRequest(start); err != nil {
		return fmt.Errorf("%w: sending StartPatch: %v", ErrIPC, err)
	}

	return w.receiveLoop(ctx, conn, proc, req, onEvent, workerDone)
}

// receiveLoop consumes progress until a terminal AllCompleted, Error, or
// Cancelled. A 100 ms receive timeout means "no progress yet" and is
// retried; any other receive failure is checked against the worker's
// liveness ("patcher died").
func (w *WorkerApplier) receiveLoop(ctx context.Context, conn *ipc.Conn, proc *os.Process, req ApplyRequest, onEvent func(ApplyEvent), workerDone <-chan error) error {
	cancelSent := false
	for {
		if ctx.Err() != nil && !cancelSent {
			if err := conn.SendRequest(ipc.Request{Type: ipc.ReqCancel}); err != nil {
				return fmt.Errorf("%w: sending Cancel: %v", ErrIPC, err)
			}
			cancelSent = true
		}

		resp, err := conn.RecvResponse()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-workerDone:
				return fmt.Errorf("%w: %v", ErrIPC, &ipc.ErrWorkerDied{Pid: proc.Pid})
			default:
			}
			return fmt.Errorf("%w: receiving progress: %v", ErrIPC, err)
		}

		switch resp.Type {
		case ipc.RespProgress:
			if onEvent != nil {
				onEvent(ApplyEvent{
					Index:      int(resp.Index),
					Total:      int(resp.Total),
					VersionID:  resp.VersionID,
					Repository: resp.Repository,
					State:      resp.State,
					BytesDone:  resp.BytesDone,
					BytesTotal: resp.BytesTotal,
				})
			}
		case ipc.RespPatchCompleted:
			if onEvent != nil {
				idx := int(resp.PatchIndex)
				ev := ApplyEvent{
					Index:     idx,
					Total:     len(req.Patches),
					VersionID: resp.VersionID,
					State:     entities.PatchCompleted,
				}
				if idx < len(req.Patches) {
					ev.Repository = req.Patches[idx].Repository
				}
				onEvent(ev)
			}
		case ipc.RespAllCompleted:
			if err := conn.SendRequest(ipc.Request{Type: ipc.ReqShutdown}); err != nil {
				slog.Warn("sending Shutdown", "error", err)
			}
			return nil
		case ipc.RespCancelled:
			if err := conn.SendRequest(ipc.Request{Type: ipc.ReqShutdown}); err != nil {
				slog.Warn("sending Shutdown", "error", err)
			}
			return coreerr.ErrCancelled
		case ipc.RespError:
			// Worker errors are relayed verbatim.
			return fmt.Errorf("%w: %s", zipatchApplyFailed, resp.Message)
		default:
			return fmt.Errorf("%w: unexpected response type %d", ErrIPC, resp.Type)
		}
	}
}

// zipatchApplyFailed classifies a worker-relayed apply failure: the game
// tree may be partially patched, and the same patch will be offered again on
// the next cycle.
var zipatchApplyFailed = coreerr.New(coreerr.KindZiPatchApplyFailed, "patch application failed in worker")

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
