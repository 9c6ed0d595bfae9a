// Package orchestrator implements PatchOrchestrator: the use-case layer
// that drives one update cycle from login through patch check, download,
// verification, worker handoff, and version-file updates. The shape is
// check-everything-first, then apply in order with a per-item progress
// reporter.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nanolyn/gaveloc/internal/account"
	"github.com/nanolyn/gaveloc/internal/auth"
	"github.com/nanolyn/gaveloc/internal/build"
	"github.com/nanolyn/gaveloc/internal/coreerr"
	"github.com/nanolyn/gaveloc/internal/credentials"
	"github.com/nanolyn/gaveloc/internal/download"
	"github.com/nanolyn/gaveloc/internal/entities"
	"github.com/nanolyn/gaveloc/internal/obs"
	"github.com/nanolyn/gaveloc/internal/patchserver"
	"github.com/nanolyn/gaveloc/internal/paths"
	"github.com/nanolyn/gaveloc/internal/version"
)

// CycleState is the orchestrator's position in the update state machine.
type CycleState int

const (
	StateIdle CycleState = iota
	StateCheckingPatches
	StateDownloading
	StateVerifying
	StateHandoffToWorker
	StateApplying
	StateCompleted
	StateCancelled
	StateFailed
)

func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingPatches:
		return "checking"
	case StateDownloading:
		return "downloading"
	case StateVerifying:
		return "verifying"
	case StateHandoffToWorker:
		return "handoff"
	case StateApplying:
		return "applying"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrCycleActive is returned by RunUpdateCycle when a cycle is already in
// flight.
var ErrCycleActive = errors.New("an update cycle is already active")

// ErrVerificationFailed marks a patch file that failed post-download
// verification; the file has already been removed and the cycle is
// recoverable on the next check.
var ErrVerificationFailed = coreerr.New(coreerr.KindPatchVerificationFailed, "patch verification failed")

// ApplyEvent is one progress notification from the patch applier, mirroring
// the worker's Progress/PatchCompleted responses.
type ApplyEvent struct {
	Index      int
	Total      int
	VersionID  string
	Repository entities.Repository
	State      entities.PatchState
	BytesDone  uint64
	BytesTotal uint64
}

// ApplyRequest hands a batch of verified patch files to an applier.
type ApplyRequest struct {
	Patches     []entities.PatchEntry
	GameRoot    string
	PatchDir    string
	KeepPatches bool
}

// PatchApplier is the port the orchestrator hands the game tree to for the
// duration of a batch. The production implementation is WorkerApplier (the
// isolated worker process over the IPC socket); tests substitute an
// in-process one. Ownership of the game tree transfers to the applier until
// Apply returns.
type PatchApplier interface {
	Apply(ctx context.Context, req ApplyRequest, onEvent func(ApplyEvent)) error
}

// ProgressFunc receives live per-patch progress during a cycle.
type ProgressFunc func(p entities.PatchProgress)

// Orchestrator wires components A-J into the "update and play" scenario.
type Orchestrator struct {
	Versions    *version.Store
	Server      *patchserver.Client
	Downloads   *download.Client
	Auth        *auth.Client
	Credentials *credentials.Store
	Accounts    *account.Store
	Applier     PatchApplier

	GameRoot string

	mu        sync.Mutex
	state     CycleState
	cancelled atomic.Bool
	abort     context.CancelFunc
}

// New assembles an Orchestrator over the default component implementations,
// applying patches through the worker executable at workerPath.
func New(gameRoot, workerPath string) *Orchestrator {
	return &Orchestrator{
		Versions:    version.New(gameRoot),
		Server:      patchserver.NewClient(),
		Downloads:   download.NewClient(),
		Auth:        auth.NewClient(),
		Credentials: credentials.New(),
		Accounts:    account.New(paths.AccountStoreFile()),
		Applier:     &WorkerApplier{WorkerPath: workerPath},
		GameRoot:    gameRoot,
	}
}

// State returns the current cycle state.
func (o *Orchestrator) State() CycleState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s CycleState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	slog.Debug("cycle state", "state", s.String())
}

// Cancel requests cooperative cancellation of the active cycle. The flag is
// observed between patches and between download chunks; in-flight writes
// complete first.
func (o *Orchestrator) Cancel() {
	o.cancelled.Store(true)
	o.mu.Lock()
	abort := o.abort
	o.mu.Unlock()
	if abort != nil {
		abort()
	}
}

// CheckBootUpdates computes the boot integrity digest and asks the boot
// endpoint for pending boot patches.
func (o *Orchestrator) CheckBootUpdates(ctx context.Context) ([]entities.PatchEntry, error) {
	bootVer, err := o.Versions.Get(entities.RepoBoot)
	if err != nil {
		return nil, err
	}
	digest, err := o.Versions.BootIntegrityDigest()
	if err != nil {
		return nil, err
	}
	return o.Server.CheckBoot(ctx, bootVer.AsString(), digest)
}

// Login produces a usable OAuth session for acct, preferring a valid cached
// session over a fresh credential dance. A fresh login caches its session
// and stamps the account's last-login time.
func (o *Orchestrator) Login(ctx context.Context, acct entities.Account, creds entities.Credentials) (entities.OauthLoginResult, error) {
	now := time.Now()

	if sess, ok, err := o.Credentials.GetSession(ctx, acct.ID); err == nil && ok {
		if sess.IsValid(now) {
			slog.Info("reusing cached session", "account", acct.ID, "remaining_secs", sess.RemainingSecs(now))
			return entities.OauthLoginResult{
				SessionID:     sess.UniqueID,
				RegionCode:    sess.RegionCode,
				TermsAccepted: true,
				Playable:      true,
				MaxExpansion:  sess.MaxExpansion,
			}, nil
		}
		// Expired sessions are treated as absent on read; clean
		// up the keychain entry while we're here.
		if err := o.Credentials.DeleteSession(ctx, acct.ID); err != nil {
			slog.Warn("deleting expired session", "error", err)
		}
	}

	result, err := o.Auth.Login(creds, defaultLaunchRegion, acct.IsFreeTrial)
	if err != nil {
		return entities.OauthLoginResult{}, err
	}

	sess := entities.NewCachedSession(result.SessionID, result.RegionCode, result.MaxExpansion, now.Unix())
	if err := o.Credentials.SetSession(ctx, acct.ID, sess); err != nil {
		// Losing the cache only costs a re-login next launch.
		slog.Warn("caching session", "error", err)
	}

	acct.LastLoginUnix = now.Unix()
	if err := o.Accounts.Save(acct); err != nil {
		slog.Warn("stamping last login", "error", err)
	}
	return result, nil
}

// defaultLaunchRegion is the region code sent on the OAuth landing request.
// The vendor accepts any of its region codes here and corrects it in the
// response; 3 is what the Windows launcher sends for non-JP accounts.
const defaultLaunchRegion = 3

// Logout destroys acct's cached session.
func (o *Orchestrator) Logout(ctx context.Context, id entities.AccountId) error {
	return o.Credentials.DeleteSession(ctx, id)
}

// CheckGameUpdates registers the session with the game-version endpoint and
// enumerates pending game patches. Returns the patches and the server-issued
// unique id required on every subsequent patch download.
func (o *Orchestrator) CheckGameUpdates(ctx context.Context, login entities.OauthLoginResult) ([]entities.PatchEntry, string, error) {
	baseVer, err := o.Versions.Get(entities.RepoBase)
	if err != nil {
		return nil, "", err
	}
	report, err := o.Versions.VersionReport(int(login.MaxExpansion))
	if err != nil {
		return nil, "", err
	}
	return o.Server.RegisterGame(ctx, baseVer.AsString(), login.SessionID, report)
}

// RunUpdateCycle downloads, verifies, and applies patches in list order,
// updating the repository version file after each successful application.
// uniqueID may be empty for boot batches. The returned error
// is nil on a completed (possibly empty) batch; coreerr.ErrCancelled on
// cooperative cancellation; otherwise the classified failure.
func (o *Orchestrator) RunUpdateCycle(ctx context.Context, patches []entities.PatchEntry, uniqueID string, progress ProgressFunc) (err error) {
	o.mu.Lock()
	if o.state != StateIdle && o.state != StateCompleted && o.state != StateCancelled && o.state != StateFailed {
		o.mu.Unlock()
		return ErrCycleActive
	}
	o.state = StateCheckingPatches
	cycleCtx, abort := context.WithCancel(ctx)
	o.abort = abort
	o.mu.Unlock()
	o.cancelled.Store(false)
	defer func() {
		abort()
		o.mu.Lock()
		o.abort = nil
		o.mu.Unlock()
		switch {
		case err == nil:
			o.setState(StateCompleted)
		case errors.Is(err, coreerr.ErrCancelled):
			o.setState(StateCancelled)
		default:
			o.setState(StateFailed)
		}
	}()

	if len(patches) == 0 {
		return nil
	}

	scratch, err := paths.NewScratchDir(uuid.NewString()[:8])
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	defer func() {
		if build.KeepScratchFiles() {
			slog.Info("preserving scratch directory", "path", scratch)
			return
		}
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			obs.CaptureUnexpected(fmt.Errorf("removing scratch directory: %w", rmErr))
		}
	}()

	if err := o.downloadAndVerify(cycleCtx, patches, uniqueID, scratch, progress); err != nil {
		return err
	}

	return o.handOffToWorker(cycleCtx, patches, scratch, progress)
}

func (o *Orchestrator) downloadAndVerify(ctx context.Context, patches []entities.PatchEntry, uniqueID, scratch string, progress ProgressFunc) error {
	report := func(p entities.PatchEntry, state entities.PatchState, done, total uint64) {
		if progress != nil {
			progress(entities.PatchProgress{Patch: p, State: state, BytesDone: done, BytesTotal: total})
		}
	}

	for _, entry := range patches {
		if o.cancelled.Load() {
			return coreerr.ErrCancelled
		}

		dest := filepath.Join(scratch, entry.Filename())
		o.setState(StateDownloading)
		report(entry, entities.PatchDownloading, 0, entry.Length)

		err := o.Downloads.Download(ctx, entry, dest, uniqueID, func(done, total int64) {
			report(entry, entities.PatchDownloading, uint64(done), uint64(total))
		})
		if err != nil {
			os.Remove(dest)
			if o.cancelled.Load() {
				return coreerr.ErrCancelled
			}
			report(entry, entities.PatchFailed, 0, entry.Length)
			return err
		}

		o.setState(StateVerifying)
		report(entry, entities.PatchVerifying, entry.Length, entry.Length)
		ok, err := o.Downloads.Verify(entry, dest)
		if err != nil {
			os.Remove(dest)
			return fmt.Errorf("verifying %s: %w", entry.Filename(), err)
		}
		if !ok {
			os.Remove(dest)
			report(entry, entities.PatchFailed, 0, entry.Length)
			return fmt.Errorf("%w: %s", ErrVerificationFailed, entry.Filename())
		}
	}
	return nil
}

func (o *Orchestrator) handOffToWorker(ctx context.Context, patches []entities.PatchEntry, scratch string, progress ProgressFunc) error {
	if o.cancelled.Load() {
		return coreerr.ErrCancelled
	}
	o.setState(StateHandoffToWorker)

	req := ApplyRequest{
		Patches:     patches,
		GameRoot:    o.GameRoot,
		PatchDir:    scratch,
		KeepPatches: build.KeepScratchFiles(),
	}

	o.setState(StateApplying)
	err := o.Applier.Apply(ctx, req, func(ev ApplyEvent) {
		switch ev.State {
		case entities.PatchCompleted:
			// Each success is durably recorded before the next patch in
			// the batch begins. A failure here leaves
			// the version file at its prior value, so the same patch is
			// offered again on the next check.
			if setErr := o.Versions.Set(ev.Repository, ev.VersionID); setErr != nil {
				obs.CaptureUnexpected(fmt.Errorf("recording applied version %s: %w", ev.VersionID, setErr))
			}
		}
		if progress != nil && ev.Index < len(patches) {
			progress(entities.PatchProgress{
				Patch:      patches[ev.Index],
				State:      ev.State,
				BytesDone:  ev.BytesDone,
				BytesTotal: ev.BytesTotal,
			})
		}
	})
	if err != nil {
		if o.cancelled.Load() && errors.Is(err, coreerr.ErrCancelled) {
			return coreerr.ErrCancelled
		}
		return err
	}
	return nil
}
