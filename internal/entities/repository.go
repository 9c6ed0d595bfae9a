// Package entities holds the core data model shared by every component:
// Repository, GameVersion, PatchEntry/PatchProgress, the integrity types,
// and the account/session types.
package entities

import "strings"

// Repository is a tagged enumeration over the subdivisions of a game
// installation. Iota order is the patch application order inside a batch.
type Repository int

const (
	RepoBoot Repository = iota
	RepoBase
	RepoEx1
	RepoEx2
	RepoEx3
	RepoEx4
	RepoEx5
)

// allRepositories lists repositories in application order, Boot first.
var allRepositories = []Repository{RepoBoot, RepoBase, RepoEx1, RepoEx2, RepoEx3, RepoEx4, RepoEx5}

// ExpansionRepositories returns Base followed by Ex1..upToExpansion, in that
// order, clamped to [0,5]. Used by VersionStore.version_report.
func ExpansionRepositories(upToExpansion int) []Repository {
	if upToExpansion < 0 {
		upToExpansion = 0
	}
	if upToExpansion > 5 {
		upToExpansion = 5
	}
	repos := make([]Repository, 0, upToExpansion+1)
	repos = append(repos, RepoBase)
	for i := 1; i <= upToExpansion; i++ {
		repos = append(repos, allRepositories[1+i])
	}
	return repos
}

// VersionFilePath returns the relative path (from the game root) of this
// repository's version file.
func (r Repository) VersionFilePath() string {
	switch r {
	case RepoBoot:
		return "boot/ffxivboot.ver"
	case RepoBase:
		return "game/ffxivgame.ver"
	case RepoEx1:
		return "game/sqpack/ex1/ex1.ver"
	case RepoEx2:
		return "game/sqpack/ex2/ex2.ver"
	case RepoEx3:
		return "game/sqpack/ex3/ex3.ver"
	case RepoEx4:
		return "game/sqpack/ex4/ex4.ver"
	case RepoEx5:
		return "game/sqpack/ex5/ex5.ver"
	default:
		return ""
	}
}

// ShortID is the identifier used in version-report lines and server URL
// path segments ("ex1".."ex5", "ffxiv" for Base).
func (r Repository) ShortID() string {
	switch r {
	case RepoBoot:
		return "boot"
	case RepoBase:
		return "ffxiv"
	case RepoEx1:
		return "ex1"
	case RepoEx2:
		return "ex2"
	case RepoEx3:
		return "ex3"
	case RepoEx4:
		return "ex4"
	case RepoEx5:
		return "ex5"
	default:
		return "unknown"
	}
}

// RepositoryFromURLSegment infers a game-patch Repository from a server URL
// path. Callers of the boot endpoint never use this; boot
// patch-list lines are unconditionally tagged RepoBoot by the caller.
func RepositoryFromURLSegment(url string) Repository {
	for _, r := range []Repository{RepoEx1, RepoEx2, RepoEx3, RepoEx4, RepoEx5} {
		if strings.Contains(url, "/"+r.ShortID()+"/") {
			return r
		}
	}
	return RepoBase
}
