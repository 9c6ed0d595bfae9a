// Package runner specifies the interface between the core and the external
// WINE/Proton launch collaborator. It detects installed runners by searching
// well-known install locations and builds the command that launches the
// Windows executable through one; running and supervising that process is
// left to the caller.
package runner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Kind distinguishes the runner families the launcher knows how to drive.
type Kind int

const (
	KindWine Kind = iota
	KindProton
)

// Runner is one detected WINE or Proton installation.
type Runner struct {
	Kind Kind
	Name string
	Path string // path of the wine binary or proton script
}

// Launcher is the port the presentation layer uses to start the game after a
// completed update cycle. The game tree is read-only to the runner apart
// from whatever the game itself writes.
type Launcher interface {
	// Launch starts the Windows game executable under the runner with the
	// assembled launch-argument string and the given WINE prefix, returning
	// once the game process has been started.
	Launch(ctx context.Context, gameRoot, winePrefix, launchArgs string) error
}

// wellKnownProtonDirs are the Steam library locations scanned for Proton
// installs, relative to the user's home directory.
var wellKnownProtonDirs = []string{
	".steam/steam/steamapps/common",
	".local/share/Steam/steamapps/common",
}

// Detect enumerates usable runners: the system wine on PATH, then any Proton
// versions under the well-known Steam library locations. Returns runners in
// preference order (system wine first); an empty slice means the caller must
// ask the user to install one.
func Detect() []Runner {
	var found []Runner

	if winePath, err := exec.LookPath("wine"); err == nil {
		found = append(found, Runner{Kind: KindWine, Name: "system wine", Path: winePath})
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return found
	}
	for _, rel := range wellKnownProtonDirs {
		dir := filepath.Join(home, rel)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasPrefix(e.Name(), "Proton") {
				continue
			}
			script := findProtonScript(filepath.Join(dir, e.Name()))
			if script == "" {
				continue
			}
			found = append(found, Runner{Kind: KindProton, Name: e.Name(), Path: script})
		}
	}
	return found
}

// findProtonScript walks a Proton install directory for its entry script,
// stopping at the first match.
func findProtonScript(dir string) string {
	var result string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if filepath.Base(path) == "proton" {
			result = path
			return filepath.SkipAll
		}
		return nil
	})
	return result
}

// Command builds the exec.Cmd that starts the game's DX11 executable under
// r. The caller owns starting and reaping it; this core never waits on the
// game process.
func (r Runner) Command(ctx context.Context, gameRoot, winePrefix, launchArgs string) *exec.Cmd {
	exe := filepath.Join(gameRoot, "game", "ffxiv_dx11.exe")
	args := append([]string{exe}, strings.Fields(launchArgs)...)
	cmd := exec.CommandContext(ctx, r.Path, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("WINEPREFIX=%s", winePrefix))
	cmd.Dir = filepath.Join(gameRoot, "game")
	return cmd
}
