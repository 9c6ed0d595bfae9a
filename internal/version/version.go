// Package version implements VersionStore: reading and atomically writing
// the per-repository version files inside a game tree, and computing the boot-integrity digest consumed by
// PatchServerClient's boot check. File reads and writes here are small and
// local, so plain os calls suffice.
package version

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nanolyn/gaveloc/internal/coreerr"
	"github.com/nanolyn/gaveloc/internal/entities"
	"github.com/nanolyn/gaveloc/internal/ioutil"
)

// ErrVersionFileNotFound is returned by Get when the repository's version
// file does not exist.
var ErrVersionFileNotFound = coreerr.New(coreerr.KindVersionFileNotFound, "version file not found")

// bootFiles is the fixed list of boot executables whose combined digest
// forms the X-Hash-Check header.
var bootFiles = []string{
	"ffxivboot.exe",
	"ffxivboot64.exe",
	"ffxivlauncher.exe",
	"ffxivlauncher64.exe",
	"ffxivupdater.exe",
	"ffxivupdater64.exe",
}

// Store is the filesystem-backed VersionStore implementation.
type Store struct {
	gameRoot string
}

// New returns a Store rooted at gameRoot.
func New(gameRoot string) *Store {
	return &Store{gameRoot: gameRoot}
}

func (s *Store) versionFilePath(repo entities.Repository) string {
	return filepath.Join(s.gameRoot, filepath.FromSlash(repo.VersionFilePath()))
}

// Get reads and parses the given repository's version file.
func (s *Store) Get(repo entities.Repository) (entities.GameVersion, error) {
	path := s.versionFilePath(repo)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return entities.GameVersion{}, fmt.Errorf("%w: %s", ErrVersionFileNotFound, path)
		}
		return entities.GameVersion{}, fmt.Errorf("reading version file %s: %w", path, err)
	}
	return entities.ParseGameVersion(strings.TrimSpace(string(data)))
}

// Set atomically writes newVersion to repo's version file. If the file
// already exists its prior contents are copied to a sibling ".bck" file
// first; a missing source file (first-ever write) is tolerated,
// not an error.
func (s *Store) Set(repo entities.Repository, newVersion string) error {
	path := s.versionFilePath(repo)

	if existing, err := os.ReadFile(path); err == nil {
		bck := strings.TrimSuffix(path, filepath.Ext(path)) + ".bck"
		if err := writeFileAtomic(bck, existing); err != nil {
			return fmt.Errorf("backing up %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading existing version file %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := writeFileAtomic(path, []byte(newVersion)); err != nil {
		return fmt.Errorf("writing version file %s: %w", path, err)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the same directory then renames
// over the destination, so a crash mid-write never leaves an unreadable
// version file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// BootIntegrityDigest computes the comma-joined "filename/length/sha1hex"
// triples over the fixed boot executable list, silently skipping files that
// are absent.
func (s *Store) BootIntegrityDigest() (string, error) {
	bootDir := filepath.Join(s.gameRoot, "boot")
	var parts []string
	for _, name := range bootFiles {
		path := filepath.Join(bootDir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		digest, err := ioutil.HashFileSHA1(path)
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", path, err)
		}
		parts = append(parts, fmt.Sprintf("%s/%d/%s", name, info.Size(), digest))
	}
	return strings.Join(parts, ","), nil
}

// VersionReport builds the newline-joined "{short_repo_id}/{version}" report
// for Base and expansions 1..=upToExpansion. Fails if any
// required version file is unreadable.
func (s *Store) VersionReport(upToExpansion int) (string, error) {
	var lines []string
	for _, repo := range entities.ExpansionRepositories(upToExpansion) {
		v, err := s.Get(repo)
		if err != nil {
			return "", fmt.Errorf("version report: %w", err)
		}
		lines = append(lines, fmt.Sprintf("%s/%s", repo.ShortID(), v.AsString()))
	}
	return strings.Join(lines, "\n"), nil
}

// ValidateInstallation reports whether boot/, game/, game/sqpack/ exist and
// both the boot and base version files parse.
func (s *Store) ValidateInstallation() bool {
	for _, dir := range []string{"boot", "game", filepath.Join("game", "sqpack")} {
		info, err := os.Stat(filepath.Join(s.gameRoot, dir))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	if _, err := s.Get(entities.RepoBoot); err != nil {
		return false
	}
	if _, err := s.Get(entities.RepoBase); err != nil {
		return false
	}
	return true
}
