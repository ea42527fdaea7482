package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/glabrego/feedtree/internal/display"
	"github.com/glabrego/feedtree/internal/downloader"
	"github.com/glabrego/feedtree/internal/events"
	"github.com/glabrego/feedtree/internal/storage"
	"github.com/glabrego/feedtree/internal/subscription"
)

// Tick runs one controller cycle: apply downloader results, hand scheduled
// fetches to the queue, recount a few feeds and publish the rows that
// changed.
func (c *Controller) Tick(ctx context.Context) error {
	if c.queue != nil {
		c.drain(ctx)
		c.dispatch(ctx)
	}
	c.recount(ctx)
	return c.flush(ctx)
}

func (c *Controller) drain(ctx context.Context) {
	for {
		select {
		case res := <-c.queue.Results():
			c.apply(ctx, res)
		default:
			return
		}
	}
}

func (c *Controller) dispatch(ctx context.Context) {
	pending := c.icons
	c.icons = nil
	for i, job := range pending {
		if !c.queue.TryEnqueue(job) {
			c.icons = append(c.icons, pending[i:]...)
			return
		}
	}

	for _, id := range c.state.IDsByStatus(subscription.StatusFetchScheduled, true, false) {
		// One job per feed; a refetch waits until the running job reports back.
		if st, _ := c.state.Get(id); st.Status.Any(subscription.StatusFetchJobCreated | subscription.StatusFetchInProgress) {
			continue
		}
		e, err := c.store.GetByID(ctx, id)
		if err != nil {
			c.log.Warn("scheduled subscription missing", "entry_id", id, "error", err)
			c.state.SetStatus([]int64{id}, subscription.StatusFetchScheduled, false)
			continue
		}
		if !c.queue.TryEnqueue(downloader.Job{Kind: downloader.KindFeed, ID: id, URL: e.URL}) {
			c.log.Debug("job queue full, retrying next tick", "entry_id", id)
			return
		}
		c.state.SetStatus([]int64{id}, subscription.StatusFetchScheduled, false)
		c.state.SetStatus([]int64{id}, subscription.StatusFetchJobCreated, true)
	}
}

func (c *Controller) recount(ctx context.Context) {
	for _, id := range c.state.ScanNumAllUnread() {
		total, unread, err := c.store.CountMessages(ctx, id)
		if err != nil {
			c.log.Error("count messages", "entry_id", id, "error", err)
			continue
		}
		c.state.SetNumAllUnread(id, total, unread)
	}
}

func (c *Controller) flush(ctx context.Context) error {
	if c.stale {
		if err := c.reload(ctx); err != nil {
			return fmt.Errorf("refresh rows: %w", err)
		}
		return nil
	}
	dirty := c.state.TakeDirty()
	if len(dirty) == 0 {
		return nil
	}
	// Folder rows aggregate their children, so they change too.
	seen := make(map[int64]bool, len(dirty))
	ids := make([]int64, 0, len(dirty))
	for _, id := range dirty {
		for ; id != subscription.RootID && !seen[id]; id = c.parents[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	c.rows = c.projector.Project(c.nodes)
	if changed := display.Changed(c.rows, ids); len(changed) > 0 {
		c.bus.Publish(events.Event{Kind: events.RowsChanged, Rows: changed})
	}
	return nil
}

func (c *Controller) apply(ctx context.Context, res downloader.Result) {
	if _, ok := c.state.Get(res.ID); !ok {
		c.log.Debug("dropping result for unknown subscription", "entry_id", res.ID, "kind", res.Kind)
		return
	}
	if res.Started {
		if res.Kind == downloader.KindFeed {
			c.state.SetStatus([]int64{res.ID}, subscription.StatusFetchInProgress, true)
		}
		return
	}
	switch res.Kind {
	case downloader.KindFeed:
		c.applyFeed(ctx, res)
	case downloader.KindIcon:
		c.applyIcon(ctx, res)
	}
}

func (c *Controller) applyFeed(ctx context.Context, res downloader.Result) {
	c.state.SetStatus([]int64{res.ID}, subscription.StatusFetchJobCreated|subscription.StatusFetchInProgress, false)
	if res.Err != nil {
		c.state.SetFetchError(res.ID, res.Err.Error())
		c.bus.Publish(events.Event{Kind: events.FetchFailed, ID: res.ID, Err: res.Err})
		return
	}
	c.state.SetFetchError(res.ID, "")

	e, err := c.store.GetByID(ctx, res.ID)
	if errors.Is(err, storage.ErrNotFound) {
		c.log.Debug("fetched subscription is gone", "entry_id", res.ID)
		return
	}
	if err != nil {
		c.log.Error("load fetched subscription", "entry_id", res.ID, "error", err)
		return
	}
	added, err := c.store.SaveMessages(ctx, e.ID, res.Feed.GUIDs)
	if err != nil {
		c.log.Error("save messages", "entry_id", e.ID, "error", err)
		return
	}

	e.UpdatedInt = c.now()
	if !res.Feed.Updated.IsZero() {
		e.UpdatedExt = res.Feed.Updated
	}
	if e.WebsiteURL == "" && res.Feed.Homepage != "" {
		e.WebsiteURL = res.Feed.Homepage
	}
	if e.Name == "" && res.Feed.Title != "" {
		e.Name = res.Feed.Title
		c.stale = true
	}
	if _, err := c.store.StoreEntry(ctx, e); err != nil {
		c.log.Error("store fetched subscription", "entry_id", e.ID, "error", err)
		return
	}
	if e.IconID == 0 && e.WebsiteURL != "" {
		c.icons = append(c.icons, downloader.Job{Kind: downloader.KindIcon, ID: e.ID, URL: e.WebsiteURL})
	}
	c.log.Debug("applied feed result", "entry_id", e.ID, "new_messages", added, "elapsed", res.Elapsed)
	c.state.ClearNumAllUnread(e.ID)
	c.state.MarkDirty([]int64{e.ID})
}

func (c *Controller) applyIcon(ctx context.Context, res downloader.Result) {
	if res.Err != nil {
		c.log.Warn("icon fetch failed", "entry_id", res.ID, "error", res.Err)
		return
	}
	e, err := c.store.GetByID(ctx, res.ID)
	if err != nil {
		c.log.Debug("icon for missing subscription", "entry_id", res.ID, "error", err)
		return
	}
	iconID, err := c.store.SaveIcon(ctx, res.IconURL)
	if err != nil {
		c.log.Error("save icon", "entry_id", res.ID, "error", err)
		return
	}
	e.IconID = iconID
	e.UpdatedIcon = c.now()
	if _, err := c.store.StoreEntry(ctx, e); err != nil {
		c.log.Error("store icon reference", "entry_id", res.ID, "error", err)
		return
	}
	c.stale = true
}
