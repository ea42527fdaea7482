// Package tree resolves tree paths over the stored subscription hierarchy and
// relocates subtrees while keeping sibling positions contiguous.
package tree

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/glabrego/feedtree/internal/state"
	"github.com/glabrego/feedtree/internal/subscription"
)

// Store is the part of the subscription store the tree needs.
type Store interface {
	GetByID(ctx context.Context, id int64) (subscription.Entry, error)
	GetByParent(ctx context.Context, parentID int64) ([]subscription.Entry, error)
	ApplyRelocation(ctx context.Context, rel subscription.Relocation) error
}

// Node is one resolved entry with its path and, for folders, its children.
type Node struct {
	Entry    subscription.Entry
	Path     []int
	Children []*Node
}

// Walk visits nodes depth-first, parents before children. Returning false
// from fn skips the children of that node.
func Walk(nodes []*Node, fn func(*Node) bool) {
	for _, n := range nodes {
		if fn(n) {
			Walk(n.Children, fn)
		}
	}
}

type Resolver struct {
	store Store
	state *state.State
	log   *slog.Logger
}

func NewResolver(store Store, st *state.State, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, state: st, log: logger.With("component", "resolver")}
}

// ResolveFromRoot drops every cached path and reassigns them with a
// depth-first walk from the root in folder_position order. The walked
// forest is returned for projection.
func (r *Resolver) ResolveFromRoot(ctx context.Context) ([]*Node, error) {
	r.state.ClearTreePaths()
	visited := make(map[int64]bool)
	nodes, err := r.walk(ctx, subscription.RootID, nil, visited)
	if err != nil {
		return nil, fmt.Errorf("resolve tree paths: %w", err)
	}
	return nodes, nil
}

func (r *Resolver) walk(ctx context.Context, parentID int64, prefix []int, visited map[int64]bool) ([]*Node, error) {
	children, err := r.store.GetByParent(ctx, parentID)
	if err != nil {
		return nil, err
	}
	children = r.order(parentID, children)

	nodes := make([]*Node, 0, len(children))
	for _, child := range children {
		if visited[child.ID] {
			r.log.Warn("subscription reachable twice, skipping", "entry_id", child.ID, "parent_id", parentID)
			continue
		}
		visited[child.ID] = true

		path := append(slices.Clone(prefix), len(nodes))
		r.state.Sync(child)
		r.state.SetTreePath(child.ID, path)
		node := &Node{Entry: child, Path: path}
		if child.IsFolder {
			node.Children, err = r.walk(ctx, child.ID, path, visited)
			if err != nil {
				return nil, err
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// order moves children whose stored position lies beyond the sibling count
// to the end, keeping the relative order of both groups.
func (r *Resolver) order(parentID int64, children []subscription.Entry) []subscription.Entry {
	n := len(children)
	inRange := make([]subscription.Entry, 0, n)
	var overflow []subscription.Entry
	for _, c := range children {
		if c.Position >= n || c.Position < 0 {
			r.log.Warn("folder position out of range, appending",
				"entry_id", c.ID, "parent_id", parentID, "position", c.Position, "siblings", n)
			overflow = append(overflow, c)
			continue
		}
		inRange = append(inRange, c)
	}
	return append(inRange, overflow...)
}

// GetByPath returns the entry currently cached at path. It reports false when
// paths are stale or nothing lives there.
func (r *Resolver) GetByPath(ctx context.Context, path []int) (subscription.Entry, bool) {
	id, ok := r.state.IDByPath(path)
	if !ok {
		return subscription.Entry{}, false
	}
	entry, err := r.store.GetByID(ctx, id)
	if err != nil {
		r.log.Warn("cached path points at missing subscription", "entry_id", id, "path", path, "error", err)
		r.state.InvalidateTreePaths([]int64{id})
		return subscription.Entry{}, false
	}
	return entry, true
}

// PathOf returns the cached path of id.
func (r *Resolver) PathOf(id int64) ([]int, bool) {
	return r.state.TreePath(id)
}
