package tree

import (
	"errors"
	"fmt"
)

// ErrInvalidDrag is the category of every rejected drag or move. Callers
// report it to the user; it is never a system failure.
var ErrInvalidDrag = errors.New("invalid drag")

var (
	ErrEntryNotFound   = errors.New("no entry at path")
	ErrTargetNotFolder = errors.New("may not drop onto a feed")
	ErrDropIntoSelf    = errors.New("may not drop an entry into itself or its descendants")
	ErrDropOutOfRange  = errors.New("drop position out of range")
	ErrTrashed         = errors.New("entry is in the trash")
)

// ErrStorage wraps failures of the backing store during a move.
var ErrStorage = errors.New("storage failure")

func invalid(reason error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrInvalidDrag, reason, fmt.Sprintf(format, args...))
}
