package entities

import "path"

// PatchEntry is one line of a server patch list.
type PatchEntry struct {
	VersionID     string
	URL           string
	Length        uint64
	HashType      string   // empty if the server omitted hash info
	HashBlockSize uint64   // 0 if absent
	Hashes        []string // nil if absent
	Repository    Repository
}

// Filename is the derived property: the last URL path segment.
func (p PatchEntry) Filename() string {
	return path.Base(p.URL)
}

// PatchState is the live state of an in-flight patch. Transitions
// are monotonic except Failed/Completed, which are terminal.
type PatchState int

const (
	PatchPending PatchState = iota
	PatchDownloading
	PatchVerifying
	PatchInstalling
	PatchCompleted
	PatchFailed
)

// IsTerminal reports whether no further transition from this state is valid.
func (s PatchState) IsTerminal() bool {
	return s == PatchCompleted || s == PatchFailed
}

// PatchProgress is the live state of one patch's progress through a cycle.
type PatchProgress struct {
	Patch      PatchEntry
	State      PatchState
	BytesDone  uint64
	BytesTotal uint64
	// SpeedBytesPerSec is a caller-computed instantaneous rate; zero until
	// at least two progress samples have been observed.
	SpeedBytesPerSec float64
}
