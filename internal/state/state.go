// Package state keeps the volatile per-entry overlay of the subscription tree:
// cached tree paths, fetch status bits and message counts. Nothing here is
// authoritative for structure; parent and position live only in storage.
package state

import (
	"slices"

	"github.com/glabrego/feedtree/internal/subscription"
)

// countScanLimit bounds how many entries ScanNumAllUnread hands out per call
// so recounting trickles instead of flooding the counting collaborator.
const countScanLimit = 2

// Counts holds the cached message counts of a feed.
type Counts struct {
	Total  int
	Unread int
}

// Entry is the runtime overlay of one subscription.
type Entry struct {
	TreePath  []int
	Status    subscription.StatusFlags
	Counts    *Counts
	LastError string

	IsFolder   bool
	IsDeleted  bool
	IsExpanded bool
}

// State maps subscription ids to their overlay. It is owned by the
// controller goroutine and does no locking of its own.
type State struct {
	entries map[int64]*Entry
}

func New() *State {
	return &State{entries: make(map[int64]*Entry)}
}

// Rebuild discards the overlay and seeds it from the stored entries.
func (s *State) Rebuild(entries []subscription.Entry) {
	s.entries = make(map[int64]*Entry, len(entries))
	for _, e := range entries {
		s.Sync(e)
	}
}

// Sync copies the filterable flags of a stored entry into its overlay.
func (s *State) Sync(e subscription.Entry) {
	st := s.ensure(e.ID)
	st.IsFolder = e.IsFolder
	st.IsDeleted = e.Deleted || e.ParentID == subscription.ParentDeleted
	st.IsExpanded = e.Expanded
}

func (s *State) Remove(id int64) {
	delete(s.entries, id)
}

// Get returns a copy of the overlay for id; ok is false if it was never created.
func (s *State) Get(id int64) (Entry, bool) {
	st, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	out := *st
	out.TreePath = slices.Clone(st.TreePath)
	if st.Counts != nil {
		c := *st.Counts
		out.Counts = &c
	}
	return out, true
}

// IDs returns every known id in ascending order.
func (s *State) IDs() []int64 {
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *State) ensure(id int64) *Entry {
	st, ok := s.entries[id]
	if !ok {
		st = &Entry{}
		s.entries[id] = st
	}
	return st
}

func (s *State) SetTreePath(id int64, path []int) {
	s.ensure(id).TreePath = slices.Clone(path)
}

// TreePath returns the cached path of id; ok is false when it is unresolved.
func (s *State) TreePath(id int64) ([]int, bool) {
	st, ok := s.entries[id]
	if !ok || st.TreePath == nil {
		return nil, false
	}
	return slices.Clone(st.TreePath), true
}

// IDByPath finds the entry currently cached at path.
func (s *State) IDByPath(path []int) (int64, bool) {
	if len(path) == 0 {
		return 0, false
	}
	for id, st := range s.entries {
		if st.TreePath != nil && slices.Equal(st.TreePath, path) {
			return id, true
		}
	}
	return 0, false
}

// ClearTreePaths forgets every cached path.
func (s *State) ClearTreePaths() {
	for _, st := range s.entries {
		st.TreePath = nil
	}
}

// InvalidateTreePaths forgets the cached paths of ids.
func (s *State) InvalidateTreePaths(ids []int64) {
	for _, id := range ids {
		if st, ok := s.entries[id]; ok {
			st.TreePath = nil
		}
	}
}

// ScanNumAllUnread returns at most two feeds whose counts need recomputing,
// lowest ids first.
func (s *State) ScanNumAllUnread() []int64 {
	var ids []int64
	for id, st := range s.entries {
		if st.IsFolder || st.IsDeleted || st.Counts != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	if len(ids) > countScanLimit {
		ids = ids[:countScanLimit]
	}
	return ids
}

func (s *State) SetNumAllUnread(id int64, total, unread int) {
	st := s.ensure(id)
	if st.Counts != nil && st.Counts.Total == total && st.Counts.Unread == unread {
		return
	}
	st.Counts = &Counts{Total: total, Unread: unread}
	st.Status |= subscription.StatusDirty
}

// NumAllUnread returns the cached counts of id, if resolved.
func (s *State) NumAllUnread(id int64) (Counts, bool) {
	st, ok := s.entries[id]
	if !ok || st.Counts == nil {
		return Counts{}, false
	}
	return *st.Counts, true
}

func (s *State) ClearNumAllUnread(id int64) {
	if st, ok := s.entries[id]; ok {
		st.Counts = nil
	}
}

// SetStatus sets or clears flag on every id. Entries whose bits actually
// change are marked dirty.
func (s *State) SetStatus(ids []int64, flag subscription.StatusFlags, active bool) {
	for _, id := range ids {
		st := s.ensure(id)
		next := st.Status.With(flag, active)
		if next == st.Status {
			continue
		}
		st.Status = next | subscription.StatusDirty
	}
}

// IDsByStatus lists non-deleted entries whose flag matches active.
func (s *State) IDsByStatus(flag subscription.StatusFlags, active, includeFolders bool) []int64 {
	var ids []int64
	for id, st := range s.entries {
		if st.IsDeleted || (st.IsFolder && !includeFolders) {
			continue
		}
		if st.Status.Has(flag) == active {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// SetScheduleFetchAll marks every live feed as scheduled for fetching.
func (s *State) SetScheduleFetchAll() {
	var ids []int64
	for id, st := range s.entries {
		if st.IsFolder || st.IsDeleted {
			continue
		}
		ids = append(ids, id)
	}
	s.SetStatus(ids, subscription.StatusFetchScheduled, true)
}

// SetFetchError records the outcome of a fetch; an empty message clears the error.
func (s *State) SetFetchError(id int64, msg string) {
	st := s.ensure(id)
	s.SetStatus([]int64{id}, subscription.StatusFetchError, msg != "")
	if st.LastError != msg {
		st.LastError = msg
		st.Status |= subscription.StatusDirty
	}
}

func (s *State) SetExpanded(id int64, expanded bool) {
	st := s.ensure(id)
	if st.IsExpanded != expanded {
		st.IsExpanded = expanded
		st.Status |= subscription.StatusDirty
	}
}

func (s *State) SetDeleted(ids []int64, deleted bool) {
	for _, id := range ids {
		st := s.ensure(id)
		if st.IsDeleted != deleted {
			st.IsDeleted = deleted
			st.Status |= subscription.StatusDirty
		}
	}
}

// MarkDirty flags ids for re-projection without touching other bits.
func (s *State) MarkDirty(ids []int64) {
	for _, id := range ids {
		s.ensure(id).Status |= subscription.StatusDirty
	}
}

// TakeDirty returns the dirty ids in ascending order and clears their dirty bit.
func (s *State) TakeDirty() []int64 {
	var ids []int64
	for id, st := range s.entries {
		if st.Status.Dirty() {
			st.Status &^= subscription.StatusDirty
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
