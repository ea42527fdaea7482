// Package app wires the subscription tree components together and drives
// them from a single goroutine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glabrego/feedtree/internal/display"
	"github.com/glabrego/feedtree/internal/downloader"
	"github.com/glabrego/feedtree/internal/events"
	"github.com/glabrego/feedtree/internal/platform"
	"github.com/glabrego/feedtree/internal/state"
	"github.com/glabrego/feedtree/internal/subscription"
	"github.com/glabrego/feedtree/internal/tree"
)

type Store interface {
	tree.Store
	GetAll(ctx context.Context) ([]subscription.Entry, error)
	StoreEntry(ctx context.Context, entry subscription.Entry) (subscription.Entry, error)
	SaveMessages(ctx context.Context, subscriptionID int64, guids []string) (int, error)
	CountMessages(ctx context.Context, subscriptionID int64) (total, unread int, err error)
	MarkAllRead(ctx context.Context, subscriptionIDs []int64) error
	SaveIcon(ctx context.Context, url string) (int64, error)
	Purge(ctx context.Context) (int, error)
}

// Queue is the downloader boundary: jobs out, results in.
type Queue interface {
	TryEnqueue(job downloader.Job) bool
	Results() <-chan downloader.Result
}

type Options struct {
	Display display.Options
	Tree    tree.Options
}

// Deps is everything the controller is built from.
type Deps struct {
	Store   Store
	Queue   Queue
	Bus     *events.Bus
	Logger  *slog.Logger
	Options Options
	Now     func() time.Time
}

// Controller owns the runtime state and is the only writer of the store.
// It is not safe for concurrent use.
type Controller struct {
	store     Store
	queue     Queue
	bus       *events.Bus
	state     *state.State
	resolver  *tree.Resolver
	engine    *tree.Engine
	projector *display.Projector
	log       *slog.Logger
	now       func() time.Time

	nodes   []*tree.Node
	rows    []display.Row
	parents map[int64]int64
	stale   bool
	icons   []downloader.Job
}

func New(d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := d.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	st := state.New()
	resolver := tree.NewResolver(d.Store, st, logger)
	return &Controller{
		store:     d.Store,
		queue:     d.Queue,
		bus:       bus,
		state:     st,
		resolver:  resolver,
		engine:    tree.NewEngine(d.Store, st, resolver, d.Options.Tree, logger),
		projector: display.NewProjector(st, d.Options.Display),
		log:       logger.With("component", "controller"),
		now:       now,
		parents:   make(map[int64]int64),
	}
}

func (c *Controller) Bus() *events.Bus {
	return c.bus
}

func (c *Controller) State() *state.State {
	return c.state
}

// Load seeds the runtime state from storage and publishes the first rows.
func (c *Controller) Load(ctx context.Context) error {
	entries, err := c.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	c.state.Rebuild(entries)
	c.log.Info("loaded subscriptions", "count", len(entries))
	return c.reload(ctx)
}

func (c *Controller) reload(ctx context.Context) error {
	nodes, err := c.resolver.ResolveFromRoot(ctx)
	if err != nil {
		return err
	}
	c.replace(nodes)
	return nil
}

func (c *Controller) replace(nodes []*tree.Node) {
	c.nodes = nodes
	c.stale = false
	c.parents = make(map[int64]int64, len(c.parents))
	tree.Walk(nodes, func(n *tree.Node) bool {
		for _, child := range n.Children {
			c.parents[child.Entry.ID] = n.Entry.ID
		}
		return true
	})
	c.rows = c.projector.Project(nodes)
	c.state.TakeDirty()
	c.bus.Publish(events.Event{Kind: events.TreeChanged, Rows: c.rows})
}

// Rows returns every projected row, collapsed ones included.
func (c *Controller) Rows() []display.Row {
	return c.rows
}

func (c *Controller) VisibleRows() []display.Row {
	return display.Visible(c.rows)
}

func (c *Controller) Entry(ctx context.Context, id int64) (subscription.Entry, error) {
	e, err := c.store.GetByID(ctx, id)
	if err != nil {
		return subscription.Entry{}, fmt.Errorf("load subscription %d: %w", id, err)
	}
	return e, nil
}

// EntryAt returns the entry currently shown at path.
func (c *Controller) EntryAt(ctx context.Context, path []int) (subscription.Entry, bool) {
	return c.resolver.GetByPath(ctx, path)
}

func (c *Controller) DisplayOptions() display.Options {
	return c.projector.Options()
}

func (c *Controller) SetDisplayOptions(opts display.Options) {
	c.projector.SetOptions(opts)
	c.replace(c.nodes)
}

func (c *Controller) SetTreeOptions(opts tree.Options) {
	c.engine.SetOptions(opts)
}

func (c *Controller) NewFolder(ctx context.Context, name string, parentID int64) (subscription.Entry, error) {
	return c.create(ctx, subscription.Entry{Name: strings.TrimSpace(name), IsFolder: true, Expanded: true}, parentID)
}

// NewFeed adds a feed at the end of parentID and schedules its first fetch.
func (c *Controller) NewFeed(ctx context.Context, feedURL, name string, parentID int64) (subscription.Entry, error) {
	u, err := platform.ValidateFeedURL(feedURL)
	if err != nil {
		return subscription.Entry{}, err
	}
	e, err := c.create(ctx, subscription.Entry{Name: strings.TrimSpace(name), URL: u}, parentID)
	if err != nil {
		return subscription.Entry{}, err
	}
	c.state.SetStatus([]int64{e.ID}, subscription.StatusFetchScheduled, true)
	return e, nil
}

func (c *Controller) create(ctx context.Context, e subscription.Entry, parentID int64) (subscription.Entry, error) {
	if parentID != subscription.RootID {
		parent, err := c.store.GetByID(ctx, parentID)
		if err != nil {
			return subscription.Entry{}, fmt.Errorf("load parent %d: %w", parentID, err)
		}
		if !parent.IsFolder {
			return subscription.Entry{}, fmt.Errorf("parent %d: %w", parentID, tree.ErrTargetNotFolder)
		}
		if subscription.Detached(parent.ParentID) || parent.Deleted {
			return subscription.Entry{}, fmt.Errorf("parent %d: %w", parentID, tree.ErrTrashed)
		}
	}
	siblings, err := c.store.GetByParent(ctx, parentID)
	if err != nil {
		return subscription.Entry{}, fmt.Errorf("load children of %d: %w", parentID, err)
	}
	e.ParentID = parentID
	e.Position = len(siblings)
	stored, err := c.store.StoreEntry(ctx, e)
	if err != nil {
		return subscription.Entry{}, fmt.Errorf("store subscription: %w", err)
	}
	c.log.Info("created subscription", "entry_id", stored.ID, "folder", stored.IsFolder, "parent_id", parentID)
	c.state.Sync(stored)
	if err := c.reload(ctx); err != nil {
		return subscription.Entry{}, err
	}
	return stored, nil
}

func (c *Controller) Rename(ctx context.Context, id int64, name string) error {
	return c.update(ctx, id, func(e *subscription.Entry) { e.Name = strings.TrimSpace(name) })
}

func (c *Controller) SetExpanded(ctx context.Context, id int64, expanded bool) error {
	if err := c.update(ctx, id, func(e *subscription.Entry) { e.Expanded = expanded }); err != nil {
		return err
	}
	c.state.SetExpanded(id, expanded)
	return nil
}

// SetLastSelected remembers the message last shown for a feed. Only the
// debug tooltip shows it, so rows catch up on the next tick.
func (c *Controller) SetLastSelected(ctx context.Context, id, msgID int64) error {
	e, err := c.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load subscription %d: %w", id, err)
	}
	e.LastSelectedMsg = msgID
	if _, err := c.store.StoreEntry(ctx, e); err != nil {
		return fmt.Errorf("store subscription %d: %w", id, err)
	}
	c.stale = true
	return nil
}

func (c *Controller) update(ctx context.Context, id int64, fn func(*subscription.Entry)) error {
	e, err := c.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load subscription %d: %w", id, err)
	}
	fn(&e)
	if _, err := c.store.StoreEntry(ctx, e); err != nil {
		return fmt.Errorf("store subscription %d: %w", id, err)
	}
	return c.reload(ctx)
}

// Drag executes a drag gesture between two tree paths. Rejections are
// published on the bus as well as returned.
func (c *Controller) Drag(ctx context.Context, from, to []int) error {
	nodes, err := c.engine.Drag(ctx, from, to)
	return c.afterMove(ctx, nodes, err)
}

// Move places id below parentID at index.
func (c *Controller) Move(ctx context.Context, id, parentID int64, index int) error {
	p, err := c.engine.PlanMove(ctx, id, parentID, index)
	if err != nil {
		return c.afterMove(ctx, nil, err)
	}
	nodes, err := c.engine.DragMove(ctx, p)
	return c.afterMove(ctx, nodes, err)
}

func (c *Controller) MoveToTrash(ctx context.Context, id int64) error {
	nodes, err := c.engine.MoveToTrash(ctx, id)
	return c.afterMove(ctx, nodes, err)
}

func (c *Controller) afterMove(ctx context.Context, nodes []*tree.Node, err error) error {
	if err != nil {
		if errors.Is(err, tree.ErrInvalidDrag) {
			c.bus.Publish(events.Event{Kind: events.DragRejected, Err: err})
		} else {
			// The cached paths may be stale after a failed write.
			if rerr := c.reload(ctx); rerr != nil {
				c.log.Error("reload after failed move", "error", rerr)
			}
		}
		return err
	}
	c.replace(nodes)
	return nil
}

// MarkRead marks every message of a feed, or of all feeds below a folder, as
// read. Counts are recomputed on the following ticks.
func (c *Controller) MarkRead(ctx context.Context, id int64) error {
	ids, err := c.feedsBelow(ctx, id)
	if err != nil {
		return err
	}
	if err := c.store.MarkAllRead(ctx, ids); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	for _, fid := range ids {
		c.state.ClearNumAllUnread(fid)
	}
	c.state.MarkDirty(ids)
	return nil
}

// ScheduleFetch queues a fetch of a feed, or of every feed below a folder.
func (c *Controller) ScheduleFetch(ctx context.Context, id int64) error {
	ids, err := c.feedsBelow(ctx, id)
	if err != nil {
		return err
	}
	c.state.SetStatus(ids, subscription.StatusFetchScheduled, true)
	return nil
}

func (c *Controller) RefreshAll() {
	c.state.SetScheduleFetchAll()
}

func (c *Controller) feedsBelow(ctx context.Context, id int64) ([]int64, error) {
	ids, err := c.engine.Subtree(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("collect subtree of %d: %w", id, err)
	}
	feeds := ids[:0]
	for _, fid := range ids {
		st, ok := c.state.Get(fid)
		if !ok || st.IsFolder || st.IsDeleted {
			continue
		}
		feeds = append(feeds, fid)
	}
	return feeds, nil
}

// Purge removes the trash for good.
func (c *Controller) Purge(ctx context.Context) (int, error) {
	n, err := c.store.Purge(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge trash: %w", err)
	}
	entries, err := c.store.GetAll(ctx)
	if err != nil {
		return n, fmt.Errorf("load subscriptions: %w", err)
	}
	alive := make(map[int64]bool, len(entries))
	for _, e := range entries {
		alive[e.ID] = true
	}
	for _, id := range c.state.IDs() {
		if !alive[id] {
			c.state.Remove(id)
		}
	}
	c.log.Info("purged trash", "removed", n)
	return n, nil
}
