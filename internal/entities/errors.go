package entities

import "github.com/nanolyn/gaveloc/internal/coreerr"

// ErrInvalidVersionFormat is returned by ParseGameVersion when the input is
// not a five-part dotted literal of integers.
var ErrInvalidVersionFormat = coreerr.New(coreerr.KindInvalidVersionFormat, "invalid version format")
