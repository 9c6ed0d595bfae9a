// gaveloc-launcher is a minimal command-line front-end over the core: it
// runs the primary "update and play" scenario end to end — boot
// check, login, game registration, patch cycle, launch-argument assembly —
// and hands the result to a detected WINE/Proton runner. The interactive
// shell and news surfaces are external collaborators and not part of this
// repository.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nanolyn/gaveloc/internal/account"
	"github.com/nanolyn/gaveloc/internal/build"
	"github.com/nanolyn/gaveloc/internal/entities"
	"github.com/nanolyn/gaveloc/internal/launchargs"
	"github.com/nanolyn/gaveloc/internal/obs"
	"github.com/nanolyn/gaveloc/internal/orchestrator"
	"github.com/nanolyn/gaveloc/internal/otp"
	"github.com/nanolyn/gaveloc/internal/runner"
	"github.com/nanolyn/gaveloc/internal/version"
)

func main() {
	obs.Init(build.Release, build.Version)
	defer obs.Flush()

	slog.Info("starting gaveloc",
		"version", build.Version,
		"release", build.Release,
		"platform", build.OS(),
		"arch", build.Arch(),
	)

	gameRoot := flag.String("game-root", "", "path to the game installation root")
	username := flag.String("account", "", "vendor account name")
	steam := flag.Bool("steam", false, "account is Steam-linked")
	freeTrial := flag.Bool("free-trial", false, "account is a free trial")
	useOtpPush := flag.Bool("otp-push", false, "wait for a one-time password from the companion app")
	dryRun := flag.Bool("dry-run", false, "stop after printing the launch arguments")
	flag.Parse()

	if *gameRoot == "" || *username == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*gameRoot, *username, *steam, *freeTrial, *useOtpPush, *dryRun); err != nil {
		slog.Error("launcher failed", "error", err)
		os.Exit(1)
	}
}

func run(gameRoot, username string, isSteam, isFreeTrial, useOtpPush, dryRun bool) error {
	ctx := context.Background()

	store := version.New(gameRoot)
	if !store.ValidateInstallation() {
		return fmt.Errorf("no valid game installation at %s", gameRoot)
	}

	workerPath, err := workerBinaryPath()
	if err != nil {
		return err
	}
	orch := orchestrator.New(gameRoot, workerPath)

	acct, creds, err := resolveAccount(orch.Accounts, username, isSteam, isFreeTrial)
	if err != nil {
		return err
	}
	if useOtpPush {
		code, err := waitForOtpPush(ctx)
		if err != nil {
			return err
		}
		creds = creds.WithOTP(code)
	}

	// Boot patches first: the boot stream is unauthenticated and must be
	// current before the game registration is attempted.
	bootPatches, err := orch.CheckBootUpdates(ctx)
	if err != nil {
		return fmt.Errorf("boot check: %w", err)
	}
	if len(bootPatches) > 0 {
		slog.Info("applying boot patches", "count", len(bootPatches))
		if err := orch.RunUpdateCycle(ctx, bootPatches, "", logProgress); err != nil {
			return fmt.Errorf("boot update: %w", err)
		}
	}

	login, err := orch.Login(ctx, acct, creds)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	gamePatches, uniqueID, err := orch.CheckGameUpdates(ctx, login)
	if err != nil {
		return fmt.Errorf("game registration: %w", err)
	}
	if len(gamePatches) > 0 {
		slog.Info("applying game patches", "count", len(gamePatches))
		if err := orch.RunUpdateCycle(ctx, gamePatches, uniqueID, logProgress); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}

	baseVer, err := store.Get(entities.RepoBase)
	if err != nil {
		return err
	}
	encrypted, err := launchargs.EncryptSessionID(login.SessionID)
	if err != nil {
		return err
	}
	args := launchargs.BuildLaunchArgs(launchargs.Params{
		EncryptedSessionID: encrypted,
		MaxExpansion:       login.MaxExpansion,
		GameVersion:        baseVer.AsString(),
		IsSteam:            isSteam,
		Region:             launchargs.Region(login.RegionCode),
		Language:           launchargs.LanguageEnglish,
	})

	if dryRun {
		fmt.Println(args)
		return nil
	}

	runners := runner.Detect()
	if len(runners) == 0 {
		return fmt.Errorf("no wine or proton runner found; install one and retry")
	}
	r := runners[0]
	slog.Info("launching game", "runner", r.Name)
	cmd := r.Command(ctx, gameRoot, defaultWinePrefix(), args)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting game under %s: %w", r.Name, err)
	}
	// The game process is the runner's from here; the launcher does not
	// wait on it.
	return cmd.Process.Release()
}

// resolveAccount loads (or first-run creates) the account record and builds
// the transient credential bundle. The password is taken only from the
// GAVELOC_PASSWORD environment variable; the keychain is not consulted.
func resolveAccount(accounts *account.Store, username string, isSteam, isFreeTrial bool) (entities.Account, entities.Credentials, error) {
	id := entities.NewAccountId(username)
	acct, ok, err := accounts.Get(id)
	if err != nil {
		return entities.Account{}, entities.Credentials{}, err
	}
	if !ok {
		acct = entities.Account{ID: id, DisplayName: username, IsSteam: isSteam, IsFreeTrial: isFreeTrial}
		if err := accounts.Save(acct); err != nil {
			return entities.Account{}, entities.Credentials{}, err
		}
	}

	password := os.Getenv("GAVELOC_PASSWORD")
	return acct, entities.Credentials{Username: username, Password: password}, nil
}

// waitForOtpPush races the loopback listener against a fixed timer; the
// listener itself has no internal timeout.
func waitForOtpPush(ctx context.Context) (string, error) {
	l := otp.New()
	if err := l.Start(); err != nil {
		return "", err
	}
	defer l.Stop()

	slog.Info("waiting for one-time password push", "port", otp.Port)
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	return l.Wait(waitCtx)
}

func logProgress(p entities.PatchProgress) {
	slog.Info("patch progress",
		"patch", p.Patch.VersionID,
		"state", int(p.State),
		"done", p.BytesDone,
		"total", p.BytesTotal,
	)
}

// workerBinaryPath locates gaveloc-patcher next to the launcher executable.
func workerBinaryPath() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating own executable: %w", err)
	}
	worker := filepath.Join(filepath.Dir(self), "gaveloc-patcher")
	if _, err := os.Stat(worker); err != nil {
		return "", fmt.Errorf("patch worker not found at %s: %w", worker, err)
	}
	return worker, nil
}

func defaultWinePrefix() string {
	if p := os.Getenv("WINEPREFIX"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".wine")
}
