package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/glabrego/feedtree/internal/state"
	"github.com/glabrego/feedtree/internal/storage"
	"github.com/glabrego/feedtree/internal/subscription"
)

// Options tune how drop targets are interpreted.
type Options struct {
	// DropBesideFeed turns a drop onto a feed into an insert right after it
	// instead of rejecting the drop.
	DropBesideFeed bool
}

// DragPlan is a validated relocation of Entry to Position below ParentID.
type DragPlan struct {
	Entry    subscription.Entry
	ParentID int64
	Position int
}

// Engine validates and executes moves of subtrees.
type Engine struct {
	store    Store
	state    *state.State
	resolver *Resolver
	opts     Options
	log      *slog.Logger
}

func NewEngine(store Store, st *state.State, resolver *Resolver, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		state:    st,
		resolver: resolver,
		opts:     opts,
		log:      logger.With("component", "drag"),
	}
}

func (e *Engine) SetOptions(opts Options) {
	e.opts = opts
}

// DragCalcPositions resolves a drag gesture from one tree path to another
// into a plan. Both paths refer to the tree as it was when the gesture began.
func (e *Engine) DragCalcPositions(ctx context.Context, from, to []int) (DragPlan, error) {
	if len(from) == 0 {
		return DragPlan{}, invalid(ErrEntryNotFound, "empty source path")
	}
	if len(to) == 0 {
		return DragPlan{}, invalid(ErrDropOutOfRange, "empty target path")
	}
	entry, ok := e.resolver.GetByPath(ctx, from)
	if !ok {
		return DragPlan{}, invalid(ErrEntryNotFound, "nothing to drag at %v", from)
	}

	prefix, index := to[:len(to)-1], to[len(to)-1]
	parentID := subscription.RootID
	if len(prefix) > 0 {
		target, ok := e.resolver.GetByPath(ctx, prefix)
		if !ok {
			return DragPlan{}, invalid(ErrEntryNotFound, "no drop target at %v", prefix)
		}
		switch {
		case target.ID == entry.ID:
			return DragPlan{}, invalid(ErrDropIntoSelf, "entry %d dropped onto itself", entry.ID)
		case target.IsFolder:
			parentID = target.ID
		case e.opts.DropBesideFeed:
			parentID = target.ParentID
			index = target.Position + 1
			if entry.ParentID == target.ParentID && entry.Position < target.Position {
				index = target.Position
			}
		default:
			return DragPlan{}, invalid(ErrTargetNotFolder, "entry %d is not a folder", target.ID)
		}
	}
	return e.plan(ctx, entry, parentID, index)
}

// PlanMove validates moving the entry with id below parentID at index.
func (e *Engine) PlanMove(ctx context.Context, id, parentID int64, index int) (DragPlan, error) {
	entry, err := e.load(ctx, id, "entry")
	if err != nil {
		return DragPlan{}, err
	}
	if parentID != subscription.RootID {
		parent, err := e.load(ctx, parentID, "parent")
		if err != nil {
			return DragPlan{}, err
		}
		if !parent.IsFolder {
			return DragPlan{}, invalid(ErrTargetNotFolder, "entry %d is not a folder", parentID)
		}
	}
	return e.plan(ctx, entry, parentID, index)
}

func (e *Engine) plan(ctx context.Context, entry subscription.Entry, parentID int64, index int) (DragPlan, error) {
	if subscription.Detached(entry.ParentID) || entry.Deleted {
		return DragPlan{}, invalid(ErrTrashed, "entry %d", entry.ID)
	}
	inside, err := e.isWithin(ctx, parentID, entry.ID)
	if err != nil {
		return DragPlan{}, e.storageFailure("walk target ancestry", err)
	}
	if inside {
		return DragPlan{}, invalid(ErrDropIntoSelf, "entry %d into %d", entry.ID, parentID)
	}

	siblings, err := e.store.GetByParent(ctx, parentID)
	if err != nil {
		return DragPlan{}, e.storageFailure("load target siblings", err)
	}
	if index < 0 || index > len(siblings)+1 {
		return DragPlan{}, invalid(ErrDropOutOfRange, "index %d with %d children", index, len(siblings))
	}
	others := len(siblings)
	if entry.ParentID == parentID {
		others--
	}
	return DragPlan{Entry: entry, ParentID: parentID, Position: clampPosition(index, others)}, nil
}

// isWithin reports whether id equals ancestorID or lies below it.
func (e *Engine) isWithin(ctx context.Context, id, ancestorID int64) (bool, error) {
	seen := make(map[int64]bool)
	for id != subscription.RootID && !subscription.Detached(id) {
		if id == ancestorID {
			return true, nil
		}
		if seen[id] {
			e.log.Warn("parent chain loops", "entry_id", id)
			return true, nil
		}
		seen[id] = true
		parent, err := e.store.GetByID(ctx, id)
		if err != nil {
			return false, err
		}
		id = parent.ParentID
	}
	return false, nil
}

func clampPosition(index, n int) int {
	if index < 0 {
		return 0
	}
	if index > n {
		return n
	}
	return index
}

// DragMove executes a plan in one storage transaction and re-resolves the
// tree. On failure nothing is changed.
func (e *Engine) DragMove(ctx context.Context, p DragPlan) ([]*Node, error) {
	cur, err := e.store.GetByID(ctx, p.Entry.ID)
	if err != nil {
		return nil, e.storageFailure("load moved entry", err)
	}
	if cur.ParentID == p.ParentID && cur.Position == p.Position {
		return e.resolver.ResolveFromRoot(ctx)
	}

	oldSiblings, err := e.store.GetByParent(ctx, cur.ParentID)
	if err != nil {
		return nil, e.storageFailure("load old siblings", err)
	}
	oldSiblings = without(oldSiblings, cur.ID)

	rel := subscription.Relocation{MovedID: cur.ID}
	if cur.ParentID == p.ParentID {
		ordered := slices.Insert(oldSiblings, clampPosition(p.Position, len(oldSiblings)), cur)
		rel.Placements = placements(p.ParentID, ordered, cur.ID)
	} else {
		newSiblings, err := e.store.GetByParent(ctx, p.ParentID)
		if err != nil {
			return nil, e.storageFailure("load new siblings", err)
		}
		newSiblings = without(newSiblings, cur.ID)
		ordered := slices.Insert(newSiblings, clampPosition(p.Position, len(newSiblings)), cur)
		rel.Placements = append(placements(cur.ParentID, oldSiblings, cur.ID), placements(p.ParentID, ordered, cur.ID)...)
	}

	affected, err := e.affected(ctx, cur.ParentID, p.ParentID)
	if err != nil {
		return nil, e.storageFailure("collect affected entries", err)
	}
	if err := e.store.ApplyRelocation(ctx, rel); err != nil {
		return nil, e.storageFailure("apply relocation", err)
	}
	e.log.Debug("moved subscription", "entry_id", cur.ID,
		"from_parent", cur.ParentID, "from_position", cur.Position,
		"to_parent", p.ParentID, "to_position", p.Position)

	e.state.InvalidateTreePaths(affected)
	e.state.MarkDirty(affected)
	return e.resolver.ResolveFromRoot(ctx)
}

// Drag validates and executes a drag gesture.
func (e *Engine) Drag(ctx context.Context, from, to []int) ([]*Node, error) {
	p, err := e.DragCalcPositions(ctx, from, to)
	if err != nil {
		if errors.Is(err, ErrInvalidDrag) {
			e.log.Debug("drag rejected", "from", from, "to", to, "reason", err)
		}
		return nil, err
	}
	return e.DragMove(ctx, p)
}

// MoveToTrash reparents the entry with id to the deletion sentinel. The
// subtree stays intact below it and the old siblings are compacted.
func (e *Engine) MoveToTrash(ctx context.Context, id int64) ([]*Node, error) {
	cur, err := e.load(ctx, id, "entry")
	if err != nil {
		return nil, err
	}
	if subscription.Detached(cur.ParentID) || cur.Deleted {
		return nil, invalid(ErrTrashed, "entry %d", id)
	}

	oldSiblings, err := e.store.GetByParent(ctx, cur.ParentID)
	if err != nil {
		return nil, e.storageFailure("load old siblings", err)
	}
	oldSiblings = without(oldSiblings, cur.ID)
	trash, err := e.store.GetByParent(ctx, subscription.ParentDeleted)
	if err != nil {
		return nil, e.storageFailure("load trash", err)
	}
	subtree, err := e.subtree(ctx, cur.ID)
	if err != nil {
		return nil, e.storageFailure("collect subtree", err)
	}
	affected, err := e.affected(ctx, cur.ParentID)
	if err != nil {
		return nil, e.storageFailure("collect affected entries", err)
	}

	rel := subscription.Relocation{
		MovedID:     cur.ID,
		Placements:  placements(cur.ParentID, oldSiblings, cur.ID),
		MarkDeleted: subtree,
	}
	rel.Placements = append(rel.Placements, subscription.Placement{
		ID:       cur.ID,
		ParentID: subscription.ParentDeleted,
		Position: len(trash),
	})
	if err := e.store.ApplyRelocation(ctx, rel); err != nil {
		return nil, e.storageFailure("apply trash relocation", err)
	}
	e.log.Info("moved subscription to trash", "entry_id", cur.ID, "subtree", len(subtree))

	e.state.SetDeleted(subtree, true)
	e.state.InvalidateTreePaths(affected)
	e.state.MarkDirty(affected)
	return e.resolver.ResolveFromRoot(ctx)
}

// Subtree returns id and every entry below it, parents first.
func (e *Engine) Subtree(ctx context.Context, id int64) ([]int64, error) {
	return e.subtree(ctx, id)
}

func (e *Engine) subtree(ctx context.Context, id int64) ([]int64, error) {
	out := []int64{id}
	seen := map[int64]bool{id: true}
	for i := 0; i < len(out); i++ {
		children, err := e.store.GetByParent(ctx, out[i])
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c.ID)
		}
	}
	return out, nil
}

// affected lists the subtrees of the given parents, whose paths may shift.
func (e *Engine) affected(ctx context.Context, parents ...int64) ([]int64, error) {
	var out []int64
	for _, parentID := range parents {
		ids, err := e.subtree(ctx, parentID)
		if err != nil {
			return nil, err
		}
		out = append(out, ids[1:]...)
		if parentID != subscription.RootID {
			out = append(out, parentID)
		}
	}
	return out, nil
}

// load reads one entry. A missing row is a rejected move, anything else a
// storage failure.
func (e *Engine) load(ctx context.Context, id int64, what string) (subscription.Entry, error) {
	entry, err := e.store.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return subscription.Entry{}, invalid(ErrEntryNotFound, "%s %d", what, id)
	}
	if err != nil {
		return subscription.Entry{}, e.storageFailure("load "+what, err)
	}
	return entry, nil
}

func (e *Engine) storageFailure(op string, err error) error {
	e.log.Error("move failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func without(entries []subscription.Entry, id int64) []subscription.Entry {
	return slices.DeleteFunc(slices.Clone(entries), func(e subscription.Entry) bool { return e.ID == id })
}

// placements renumbers ordered as the children of parentID, emitting only
// rows that change plus the moved entry, which is always rewritten.
func placements(parentID int64, ordered []subscription.Entry, movedID int64) []subscription.Placement {
	var out []subscription.Placement
	for i, entry := range ordered {
		if entry.ID != movedID && entry.ParentID == parentID && entry.Position == i {
			continue
		}
		out = append(out, subscription.Placement{ID: entry.ID, ParentID: parentID, Position: i})
	}
	return out
}
