package tree

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/glabrego/feedtree/internal/state"
	"github.com/glabrego/feedtree/internal/storage"
	"github.com/glabrego/feedtree/internal/subscription"
)

type fixture struct {
	repo     *storage.Repository
	state    *state.State
	resolver *Resolver
	engine   *Engine
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "feedtree.db"), logger)
	if err != nil {
		t.Fatalf("NewRepository returned error: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	st := state.New()
	resolver := NewResolver(repo, st, logger)
	return &fixture{
		repo:     repo,
		state:    st,
		resolver: resolver,
		engine:   NewEngine(repo, st, resolver, opts, logger),
	}
}

func (f *fixture) add(t *testing.T, name string, parentID int64, folder bool) subscription.Entry {
	t.Helper()
	ctx := context.Background()
	siblings, err := f.repo.GetByParent(ctx, parentID)
	if err != nil {
		t.Fatalf("GetByParent returned error: %v", err)
	}
	e, err := f.repo.StoreEntry(ctx, subscription.Entry{
		Name:     name,
		ParentID: parentID,
		IsFolder: folder,
		Position: len(siblings),
	})
	if err != nil {
		t.Fatalf("StoreEntry returned error: %v", err)
	}
	return e
}

func (f *fixture) resolve(t *testing.T) []*Node {
	t.Helper()
	nodes, err := f.resolver.ResolveFromRoot(context.Background())
	if err != nil {
		t.Fatalf("ResolveFromRoot returned error: %v", err)
	}
	return nodes
}

func (f *fixture) names(t *testing.T, parentID int64) []string {
	t.Helper()
	children, err := f.repo.GetByParent(context.Background(), parentID)
	if err != nil {
		t.Fatalf("GetByParent returned error: %v", err)
	}
	out := make([]string, 0, len(children))
	for i, c := range children {
		if c.Position != i {
			t.Fatalf("child %q of %d has position %d, want %d", c.Name, parentID, c.Position, i)
		}
		out = append(out, c.Name)
	}
	return out
}

func (f *fixture) requireContiguous(t *testing.T) {
	t.Helper()
	all, err := f.repo.GetAll(context.Background())
	require.NoError(t, err)
	positions := map[int64][]int{}
	for _, e := range all {
		positions[e.ParentID] = append(positions[e.ParentID], e.Position)
	}
	for parentID, ps := range positions {
		seen := make([]bool, len(ps))
		for _, p := range ps {
			require.Truef(t, p >= 0 && p < len(ps), "parent %d: position %d outside 0..%d", parentID, p, len(ps)-1)
			require.Falsef(t, seen[p], "parent %d: duplicate position %d", parentID, p)
			seen[p] = true
		}
	}
}

func TestDrag_ScenarioA_ReorderWithinParent(t *testing.T) {
	f := newFixture(t, Options{})
	f.add(t, "zero", subscription.RootID, false)
	f.add(t, "one", subscription.RootID, false)
	f.add(t, "two", subscription.RootID, false)
	f.resolve(t)

	if _, err := f.engine.Drag(context.Background(), []int{0}, []int{2}); err != nil {
		t.Fatalf("Drag returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"one", "two", "zero"}, f.names(t, subscription.RootID)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestDrag_ReorderTowardsFront(t *testing.T) {
	f := newFixture(t, Options{})
	f.add(t, "a", subscription.RootID, false)
	f.add(t, "b", subscription.RootID, false)
	f.add(t, "c", subscription.RootID, false)
	f.add(t, "d", subscription.RootID, false)
	f.resolve(t)

	if _, err := f.engine.Drag(context.Background(), []int{3}, []int{1}); err != nil {
		t.Fatalf("Drag returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "d", "b", "c"}, f.names(t, subscription.RootID)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestDrag_ScenarioB_FolderOntoFolder(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.add(t, "A", subscription.RootID, true)
	b := f.add(t, "B", subscription.RootID, true)
	f.resolve(t)

	if _, err := f.engine.Drag(context.Background(), []int{0}, []int{1, 0}); err != nil {
		t.Fatalf("Drag returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"B"}, f.names(t, subscription.RootID)); diff != "" {
		t.Fatalf("unexpected root children (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A"}, f.names(t, b.ID)); diff != "" {
		t.Fatalf("unexpected children of B (-want +got):\n%s", diff)
	}
	if path, ok := f.resolver.PathOf(a.ID); !ok || !cmp.Equal(path, []int{0, 0}) {
		t.Fatalf("expected A at [0 0], got %v ok=%v", path, ok)
	}
}

func TestDrag_FolderOntoFolderBecomesFirstChild(t *testing.T) {
	f := newFixture(t, Options{})
	f.add(t, "A", subscription.RootID, true)
	b := f.add(t, "B", subscription.RootID, true)
	f.add(t, "b1", b.ID, false)
	f.add(t, "b2", b.ID, false)
	f.resolve(t)

	if _, err := f.engine.Drag(context.Background(), []int{0}, []int{1, 0}); err != nil {
		t.Fatalf("Drag returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"A", "b1", "b2"}, f.names(t, b.ID)); diff != "" {
		t.Fatalf("unexpected children of B (-want +got):\n%s", diff)
	}
}

func TestDrag_ScenarioC_FolderIntoOwnDescendant(t *testing.T) {
	f := newFixture(t, Options{})
	top := f.add(t, "top", subscription.RootID, true)
	f.add(t, "feed", top.ID, false)
	inner := f.add(t, "inner", top.ID, true)
	f.add(t, "deep", inner.ID, true)
	f.resolve(t)

	for _, to := range [][]int{{0, 1}, {0, 0}, {0, 1, 0}, {0, 1, 0, 0}} {
		_, err := f.engine.Drag(context.Background(), []int{0}, to)
		if !errors.Is(err, ErrInvalidDrag) {
			t.Fatalf("drag onto %v: expected ErrInvalidDrag, got %v", to, err)
		}
		if !errors.Is(err, ErrDropIntoSelf) {
			t.Fatalf("drag onto %v: expected ErrDropIntoSelf, got %v", to, err)
		}
		if errors.Is(err, ErrStorage) {
			t.Fatalf("drag onto %v: validation error must not look like storage failure", to)
		}
	}
	if diff := cmp.Diff([]string{"feed", "inner"}, f.names(t, top.ID)); diff != "" {
		t.Fatalf("tree changed after rejected drag (-want +got):\n%s", diff)
	}
}

func TestMoveToTrash_ScenarioD(t *testing.T) {
	f := newFixture(t, Options{})
	folder := f.add(t, "folder", subscription.RootID, true)
	f.add(t, "x", folder.ID, false)
	y := f.add(t, "y", folder.ID, true)
	yChild := f.add(t, "y-child", y.ID, false)
	f.add(t, "z", folder.ID, false)
	f.resolve(t)

	ctx := context.Background()
	if _, err := f.engine.MoveToTrash(ctx, y.ID); err != nil {
		t.Fatalf("MoveToTrash returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"x", "z"}, f.names(t, folder.ID)); diff != "" {
		t.Fatalf("unexpected remaining siblings (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"y-child"}, f.names(t, y.ID)); diff != "" {
		t.Fatalf("expected trashed subtree intact (-want +got):\n%s", diff)
	}
	trashed, err := f.repo.GetByID(ctx, yChild.ID)
	require.NoError(t, err)
	require.True(t, trashed.Deleted)
	if _, ok := f.resolver.PathOf(yChild.ID); ok {
		t.Fatal("expected trashed entries to have no tree path")
	}
	st, ok := f.state.Get(yChild.ID)
	require.True(t, ok)
	require.True(t, st.IsDeleted)

	_, err = f.engine.MoveToTrash(ctx, y.ID)
	require.ErrorIs(t, err, ErrTrashed)
}

func TestDrag_OntoFeedRejectedByDefault(t *testing.T) {
	f := newFixture(t, Options{})
	f.add(t, "a", subscription.RootID, false)
	f.add(t, "b", subscription.RootID, false)
	f.resolve(t)

	_, err := f.engine.Drag(context.Background(), []int{0}, []int{1, 0})
	require.ErrorIs(t, err, ErrInvalidDrag)
	require.ErrorIs(t, err, ErrTargetNotFolder)
}

func TestDrag_OntoFeedInsertsBesideWhenEnabled(t *testing.T) {
	f := newFixture(t, Options{DropBesideFeed: true})
	f.add(t, "a", subscription.RootID, false)
	f.add(t, "b", subscription.RootID, false)
	f.add(t, "c", subscription.RootID, false)
	f.resolve(t)

	if _, err := f.engine.Drag(context.Background(), []int{0}, []int{1, 0}); err != nil {
		t.Fatalf("Drag returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"b", "a", "c"}, f.names(t, subscription.RootID)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}

	f.resolve(t)
	if _, err := f.engine.Drag(context.Background(), []int{2}, []int{0, 0}); err != nil {
		t.Fatalf("Drag returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"b", "c", "a"}, f.names(t, subscription.RootID)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestDrag_OutOfRangeAndAppend(t *testing.T) {
	f := newFixture(t, Options{})
	folder := f.add(t, "folder", subscription.RootID, true)
	f.add(t, "f1", folder.ID, false)
	f.add(t, "loose", subscription.RootID, false)
	f.resolve(t)
	ctx := context.Background()

	_, err := f.engine.Drag(ctx, []int{1}, []int{0, 3})
	require.ErrorIs(t, err, ErrDropOutOfRange)

	_, err = f.engine.Drag(ctx, []int{7}, []int{0})
	require.ErrorIs(t, err, ErrEntryNotFound)

	// One past the last child appends.
	if _, err := f.engine.Drag(ctx, []int{1}, []int{0, 2}); err != nil {
		t.Fatalf("Drag returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"f1", "loose"}, f.names(t, folder.ID)); diff != "" {
		t.Fatalf("unexpected children (-want +got):\n%s", diff)
	}
}

func TestDrag_NestedToRoot(t *testing.T) {
	f := newFixture(t, Options{})
	folder := f.add(t, "folder", subscription.RootID, true)
	f.add(t, "f1", folder.ID, false)
	f.add(t, "f2", folder.ID, false)
	f.add(t, "top", subscription.RootID, false)
	f.resolve(t)

	if _, err := f.engine.Drag(context.Background(), []int{0, 0}, []int{0}); err != nil {
		t.Fatalf("Drag returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"f1", "folder", "top"}, f.names(t, subscription.RootID)); diff != "" {
		t.Fatalf("unexpected root (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"f2"}, f.names(t, folder.ID)); diff != "" {
		t.Fatalf("unexpected folder (-want +got):\n%s", diff)
	}
}

func TestPlanMove_ValidatesLikeDrag(t *testing.T) {
	f := newFixture(t, Options{})
	folder := f.add(t, "folder", subscription.RootID, true)
	feed := f.add(t, "feed", subscription.RootID, false)
	ctx := context.Background()

	_, err := f.engine.PlanMove(ctx, folder.ID, feed.ID, 0)
	require.ErrorIs(t, err, ErrTargetNotFolder)
	_, err = f.engine.PlanMove(ctx, folder.ID, folder.ID, 0)
	require.ErrorIs(t, err, ErrDropIntoSelf)

	p, err := f.engine.PlanMove(ctx, feed.ID, folder.ID, 0)
	require.NoError(t, err)
	require.Equal(t, DragPlan{Entry: feed, ParentID: folder.ID, Position: 0}, p)
}

func TestResolver_RoundTripAndIdempotence(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.add(t, "a", subscription.RootID, true)
	f.add(t, "a1", a.ID, false)
	a2 := f.add(t, "a2", a.ID, true)
	a2x := f.add(t, "a2x", a2.ID, false)
	f.add(t, "b", subscription.RootID, false)
	ctx := context.Background()

	f.resolve(t)
	first := map[int64][]int{}
	for _, id := range f.state.IDs() {
		path, ok := f.state.TreePath(id)
		require.True(t, ok, "id %d has no path", id)
		first[id] = path
	}
	for id, path := range first {
		got, ok := f.resolver.GetByPath(ctx, path)
		require.True(t, ok, "no entry at %v", path)
		require.Equal(t, id, got.ID)
	}

	f.resolve(t)
	second := map[int64][]int{}
	for _, id := range f.state.IDs() {
		second[id], _ = f.state.TreePath(id)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second resolve changed paths (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 0}, first[a2x.ID]); diff != "" {
		t.Fatalf("unexpected path of a2x (-want +got):\n%s", diff)
	}
}

func TestResolver_OutOfRangePositionIsAppended(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.add(t, "a", subscription.RootID, false)
	b := f.add(t, "b", subscription.RootID, false)
	c := f.add(t, "c", subscription.RootID, false)
	require.NoError(t, f.repo.UpdateParentAndPosition(context.Background(), a.ID, subscription.RootID, 7))

	nodes := f.resolve(t)
	got := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		got = append(got, n.Entry.ID)
	}
	if diff := cmp.Diff([]int64{b.ID, c.ID, a.ID}, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	path, _ := f.resolver.PathOf(a.ID)
	require.Equal(t, []int{2}, path)
}

func TestResolver_GetByPathStale(t *testing.T) {
	f := newFixture(t, Options{})
	f.add(t, "a", subscription.RootID, false)

	if _, ok := f.resolver.GetByPath(context.Background(), []int{0}); ok {
		t.Fatal("expected no entry before resolution")
	}
	f.resolve(t)
	if _, ok := f.resolver.GetByPath(context.Background(), []int{0}); !ok {
		t.Fatal("expected entry after resolution")
	}
}

func TestDrag_RandomMovesKeepPositionsContiguous(t *testing.T) {
	f := newFixture(t, Options{})
	rng := rand.New(rand.NewPCG(7, 11))
	parents := []int64{subscription.RootID}
	for i := 0; i < 14; i++ {
		parent := parents[rng.IntN(len(parents))]
		folder := i%3 == 0
		e := f.add(t, "n", parent, folder)
		if folder {
			parents = append(parents, e.ID)
		}
	}

	ctx := context.Background()
	nodes := f.resolve(t)
	for step := 0; step < 60; step++ {
		var paths [][]int
		Walk(nodes, func(n *Node) bool {
			paths = append(paths, n.Path)
			return true
		})
		from := paths[rng.IntN(len(paths))]
		to := append([]int(nil), paths[rng.IntN(len(paths))]...)
		if rng.IntN(2) == 0 {
			to = append(to, rng.IntN(3))
		}

		next, err := f.engine.Drag(ctx, from, to)
		if err != nil {
			require.ErrorIs(t, err, ErrInvalidDrag, "step %d: %v -> %v", step, from, to)
			continue
		}
		nodes = next
		f.requireContiguous(t)
	}
}

// failingStore passes through to the repository until a read error is set.
type failingStore struct {
	Store
	byIDErr     error
	byParentErr error
}

func (s *failingStore) GetByID(ctx context.Context, id int64) (subscription.Entry, error) {
	if s.byIDErr != nil {
		return subscription.Entry{}, s.byIDErr
	}
	return s.Store.GetByID(ctx, id)
}

func (s *failingStore) GetByParent(ctx context.Context, parentID int64) ([]subscription.Entry, error) {
	if s.byParentErr != nil {
		return nil, s.byParentErr
	}
	return s.Store.GetByParent(ctx, parentID)
}

func TestEngine_StorageFailuresAreNotRejections(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.add(t, "a", subscription.RootID, false)
	f.add(t, "b", subscription.RootID, false)
	f.resolve(t)
	ctx := context.Background()

	var logs bytes.Buffer
	store := &failingStore{Store: f.repo}
	engine := NewEngine(store, f.state, f.resolver, Options{}, slog.New(slog.NewTextHandler(&logs, nil)))
	diskErr := errors.New("disk I/O error")

	store.byParentErr = diskErr
	_, err := engine.Drag(ctx, []int{0}, []int{1})
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, diskErr)
	require.NotErrorIs(t, err, ErrInvalidDrag)
	require.Contains(t, logs.String(), "level=ERROR")

	store.byParentErr = nil
	store.byIDErr = diskErr
	logs.Reset()
	_, err = engine.PlanMove(ctx, a.ID, subscription.RootID, 1)
	require.ErrorIs(t, err, ErrStorage)
	require.NotErrorIs(t, err, ErrInvalidDrag)
	require.Contains(t, logs.String(), "level=ERROR")

	logs.Reset()
	_, err = engine.MoveToTrash(ctx, a.ID)
	require.ErrorIs(t, err, ErrStorage)
	require.NotErrorIs(t, err, ErrInvalidDrag)
	require.Contains(t, logs.String(), "level=ERROR")

	if diff := cmp.Diff([]string{"a", "b"}, f.names(t, subscription.RootID)); diff != "" {
		t.Fatalf("expected tree unchanged (-want +got):\n%s", diff)
	}
}

func TestEngine_MissingEntryIsRejected(t *testing.T) {
	f := newFixture(t, Options{})
	folder := f.add(t, "folder", subscription.RootID, true)
	f.resolve(t)
	ctx := context.Background()

	_, err := f.engine.PlanMove(ctx, 999, subscription.RootID, 0)
	require.ErrorIs(t, err, ErrInvalidDrag)
	require.ErrorIs(t, err, ErrEntryNotFound)
	require.NotErrorIs(t, err, ErrStorage)

	_, err = f.engine.PlanMove(ctx, folder.ID, 999, 0)
	require.ErrorIs(t, err, ErrEntryNotFound)

	_, err = f.engine.MoveToTrash(ctx, 999)
	require.ErrorIs(t, err, ErrEntryNotFound)
	require.NotErrorIs(t, err, ErrStorage)
}
