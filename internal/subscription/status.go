package subscription

import "strings"

// StatusFlags is the volatile per-entry status bitmask.
type StatusFlags uint8

const (
	StatusFetchScheduled StatusFlags = 1 << iota
	StatusFetchJobCreated
	StatusFetchInProgress
	StatusFetchError
	StatusDirty
)

var statusNames = []struct {
	flag StatusFlags
	name string
}{
	{StatusFetchScheduled, "scheduled"},
	{StatusFetchJobCreated, "job"},
	{StatusFetchInProgress, "fetching"},
	{StatusFetchError, "error"},
	{StatusDirty, "dirty"},
}

func (s StatusFlags) Has(flag StatusFlags) bool {
	return s&flag == flag
}

func (s StatusFlags) Any(flag StatusFlags) bool {
	return s&flag != 0
}

// With returns s with flag set or cleared.
func (s StatusFlags) With(flag StatusFlags, active bool) StatusFlags {
	if active {
		return s | flag
	}
	return s &^ flag
}

func (s StatusFlags) FetchScheduled() bool {
	return s.Any(StatusFetchScheduled | StatusFetchJobCreated)
}

func (s StatusFlags) FetchInProgress() bool { return s.Has(StatusFetchInProgress) }
func (s StatusFlags) FetchError() bool      { return s.Has(StatusFetchError) }
func (s StatusFlags) Dirty() bool           { return s.Has(StatusDirty) }

func (s StatusFlags) String() string {
	if s == 0 {
		return "-"
	}
	parts := make([]string, 0, len(statusNames))
	for _, n := range statusNames {
		if s.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
