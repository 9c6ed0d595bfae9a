package entities

import (
	"fmt"
	"strconv"
	"strings"
)

// GameVersion is a parsed five-part dotted version literal
// YYYY.MM.DD.RRRR.BBBB, totally ordered lexicographically by its five parts.
type GameVersion struct {
	Year, Month, Day, Revision, Build int
}

// ParseGameVersion parses a dotted five-part version literal. A malformed
// literal returns ErrInvalidVersionFormat.
func ParseGameVersion(s string) (GameVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 5 {
		return GameVersion{}, fmt.Errorf("%w: %q has %d parts, want 5", ErrInvalidVersionFormat, s, len(parts))
	}
	nums := make([]int, 5)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return GameVersion{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersionFormat, s, err)
		}
		nums[i] = n
	}
	return GameVersion{Year: nums[0], Month: nums[1], Day: nums[2], Revision: nums[3], Build: nums[4]}, nil
}

// AsString formats the version back to its dotted literal form.
func (v GameVersion) AsString() string {
	return fmt.Sprintf("%04d.%02d.%02d.%04d.%04d", v.Year, v.Month, v.Day, v.Revision, v.Build)
}

// Less reports whether v sorts before other, ordered lexicographically by
// (year, month, day, revision, build).
func (v GameVersion) Less(other GameVersion) bool {
	if v.Year != other.Year {
		return v.Year < other.Year
	}
	if v.Month != other.Month {
		return v.Month < other.Month
	}
	if v.Day != other.Day {
		return v.Day < other.Day
	}
	if v.Revision != other.Revision {
		return v.Revision < other.Revision
	}
	return v.Build < other.Build
}

func (v GameVersion) Equal(other GameVersion) bool {
	return v == other
}
