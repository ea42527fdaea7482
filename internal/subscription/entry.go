// Package subscription defines the durable subscription tree entry and the
// small value types shared by the store, the runtime state and the move engine.
package subscription

import (
	"strings"
	"time"
)

const (
	// RootID is the parent id of top-level entries.
	RootID int64 = 0
	// ParentDeleted marks entries moved to the trash and awaiting purge.
	ParentDeleted int64 = -1
	// ParentMoving marks an entry detached while a relocation is applied.
	ParentMoving int64 = -2
	// FirstID is the lowest id handed out to new entries; ids below it are reserved.
	FirstID int64 = 10
)

// Entry is one node of the subscription tree, either a feed or a folder.
type Entry struct {
	ID         int64
	ParentID   int64
	IsFolder   bool
	Position   int
	Name       string
	URL        string
	WebsiteURL string
	IconID     int64
	Expanded   bool
	Deleted    bool

	UpdatedExt  time.Time // last update reported by the feed itself
	UpdatedInt  time.Time // last successful fetch
	UpdatedIcon time.Time

	LastSelectedMsg int64
}

// Persisted reports whether the entry has been assigned a real id.
func (e Entry) Persisted() bool {
	return e.ID > 0
}

// Label is the text shown for the entry, falling back to its url.
func (e Entry) Label() string {
	if name := strings.TrimSpace(e.Name); name != "" {
		return name
	}
	if e.IsFolder {
		return "unnamed folder"
	}
	if u := strings.TrimSpace(e.URL); u != "" {
		return u
	}
	return "unknown feed"
}

// Detached reports whether parentID is one of the sentinel parents.
func Detached(parentID int64) bool {
	return parentID == ParentDeleted || parentID == ParentMoving
}

// Placement is the structural location written for a single entry.
type Placement struct {
	ID       int64
	ParentID int64
	Position int
}

// Relocation is a structural change applied in one storage transaction.
// MovedID is detached to ParentMoving before the placements are written.
type Relocation struct {
	MovedID     int64
	Placements  []Placement
	MarkDeleted []int64
}
