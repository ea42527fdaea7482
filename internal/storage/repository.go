package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/glabrego/feedtree/internal/subscription"
)

// ErrNotFound is returned when a subscription row does not exist.
var ErrNotFound = errors.New("subscription not found")

type Repository struct {
	db  *sql.DB
	log *slog.Logger

	// maint serializes maintenance batches against structural writes.
	maint sync.Mutex
}

func NewRepository(path string, logger *slog.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// All access happens from the controller goroutine; one connection keeps
	// transactions and plain queries from contending for the write lock.
	db.SetMaxOpenConns(1)
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, log: logger.With("component", "storage")}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) Init(ctx context.Context) error {
	const schema = `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS subscriptions (
  id INTEGER PRIMARY KEY,
  parent_id INTEGER NOT NULL DEFAULT 0,
  is_folder INTEGER NOT NULL DEFAULT 0,
  folder_position INTEGER NOT NULL DEFAULT 0,
  display_name TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL DEFAULT '',
  website_url TEXT NOT NULL DEFAULT '',
  icon_id INTEGER NOT NULL DEFAULT 0,
  expanded INTEGER NOT NULL DEFAULT 0,
  deleted INTEGER NOT NULL DEFAULT 0,
  updated_ext TEXT NOT NULL DEFAULT '',
  updated_int TEXT NOT NULL DEFAULT '',
  updated_icon TEXT NOT NULL DEFAULT '',
  last_selected_msg INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_parent ON subscriptions(parent_id, folder_position);
CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  subscription_id INTEGER NOT NULL,
  guid TEXT NOT NULL,
  is_read INTEGER NOT NULL DEFAULT 0,
  UNIQUE(subscription_id, guid)
);
CREATE TABLE IF NOT EXISTS icons (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  url TEXT NOT NULL UNIQUE
);
`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const entryColumns = `id, parent_id, is_folder, folder_position, display_name, url, website_url, icon_id,
  expanded, deleted, updated_ext, updated_int, updated_icon, last_selected_msg`

func (r *Repository) GetAll(ctx context.Context) ([]subscription.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+entryColumns+`
FROM subscriptions
ORDER BY parent_id, folder_position, id`)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	return scanEntries(rows)
}

func (r *Repository) GetByID(ctx context.Context, id int64) (subscription.Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM subscriptions WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.Entry{}, fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return subscription.Entry{}, fmt.Errorf("scan subscription %d: %w", id, err)
	}
	return entry, nil
}

// GetByParent returns the children of parentID in folder_position order.
// When the stored positions are not exactly 0..n-1 the corruption is logged
// and the children are returned in id order instead.
func (r *Repository) GetByParent(ctx context.Context, parentID int64) ([]subscription.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+entryColumns+`
FROM subscriptions
WHERE parent_id = ?
ORDER BY folder_position, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query children of %d: %w", parentID, err)
	}
	children, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	for i, child := range children {
		if child.Position != i {
			r.log.Warn("folder positions not contiguous, using id order",
				"parent_id", parentID, "entry_id", child.ID, "position", child.Position, "expected", i)
			sort.SliceStable(children, func(a, b int) bool { return children[a].ID < children[b].ID })
			break
		}
	}
	return children, nil
}

// StoreEntry inserts an entry with a freshly allocated id when entry.ID <= 0,
// otherwise it updates the existing row.
func (r *Repository) StoreEntry(ctx context.Context, entry subscription.Entry) (subscription.Entry, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if entry.ID > 0 {
			res, err := tx.ExecContext(ctx, `
UPDATE subscriptions SET
  parent_id=?, is_folder=?, folder_position=?, display_name=?, url=?, website_url=?, icon_id=?,
  expanded=?, deleted=?, updated_ext=?, updated_int=?, updated_icon=?, last_selected_msg=?
WHERE id=?`, append(entryArgs(entry)[1:], entry.ID)...)
			if err != nil {
				return fmt.Errorf("update subscription %d: %w", entry.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("update subscription %d: %w", entry.ID, err)
			}
			if n == 0 {
				return fmt.Errorf("update subscription %d: %w", entry.ID, ErrNotFound)
			}
			return nil
		}

		var maxID int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM subscriptions`).Scan(&maxID); err != nil {
			return fmt.Errorf("allocate subscription id: %w", err)
		}
		entry.ID = max(maxID+1, subscription.FirstID)
		if _, err := tx.ExecContext(ctx, `
INSERT INTO subscriptions (`+entryColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, entryArgs(entry)...); err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return subscription.Entry{}, err
	}
	return entry, nil
}

// UpdateParentAndPosition rewrites the structural fields of a single row.
// Sibling positions are the caller's responsibility.
func (r *Repository) UpdateParentAndPosition(ctx context.Context, id, parentID int64, position int) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return setPlacement(ctx, tx, subscription.Placement{ID: id, ParentID: parentID, Position: position})
	})
}

// ApplyRelocation writes a whole structural change in one transaction. The
// moved entry is first detached to the mid-move sentinel so that it never
// shares a slot with a sibling while positions are rewritten.
func (r *Repository) ApplyRelocation(ctx context.Context, rel subscription.Relocation) error {
	r.maint.Lock()
	defer r.maint.Unlock()

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if rel.MovedID > 0 {
			if _, err := tx.ExecContext(ctx, `UPDATE subscriptions SET parent_id=? WHERE id=?`,
				subscription.ParentMoving, rel.MovedID); err != nil {
				return fmt.Errorf("detach subscription %d: %w", rel.MovedID, err)
			}
		}
		for _, p := range rel.Placements {
			if err := setPlacement(ctx, tx, p); err != nil {
				return err
			}
		}
		for _, id := range rel.MarkDeleted {
			if _, err := tx.ExecContext(ctx, `UPDATE subscriptions SET deleted=1 WHERE id=?`, id); err != nil {
				return fmt.Errorf("mark subscription %d deleted: %w", id, err)
			}
		}
		return nil
	})
}

func setPlacement(ctx context.Context, tx *sql.Tx, p subscription.Placement) error {
	res, err := tx.ExecContext(ctx, `UPDATE subscriptions SET parent_id=?, folder_position=? WHERE id=?`,
		p.ParentID, p.Position, p.ID)
	if err != nil {
		return fmt.Errorf("place subscription %d: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("place subscription %d: %w", p.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("place subscription %d: %w", p.ID, ErrNotFound)
	}
	return nil
}

// Purge physically removes everything below the deletion sentinel together
// with their message references. It returns the number of removed entries.
func (r *Repository) Purge(ctx context.Context) (int, error) {
	r.maint.Lock()
	defer r.maint.Unlock()

	removed := 0
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := subtreeIDs(ctx, tx, subscription.ParentDeleted)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE subscription_id=?`, id); err != nil {
				return fmt.Errorf("purge messages of %d: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=?`, id); err != nil {
				return fmt.Errorf("purge subscription %d: %w", id, err)
			}
		}
		removed = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.log.Info("purged deleted subscriptions", "count", removed)
	}
	return removed, nil
}

func subtreeIDs(ctx context.Context, tx *sql.Tx, parentID int64) ([]int64, error) {
	var out []int64
	queue := []int64{parentID}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		rows, err := tx.QueryContext(ctx, `SELECT id FROM subscriptions WHERE parent_id=?`, parent)
		if err != nil {
			return nil, fmt.Errorf("query children of %d: %w", parent, err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan child id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("rows iteration: %w", err)
		}
		rows.Close()
		out = append(out, ids...)
		queue = append(queue, ids...)
	}
	return out, nil
}

func (r *Repository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (subscription.Entry, error) {
	var e subscription.Entry
	var updatedExt, updatedInt, updatedIcon string
	if err := s.Scan(
		&e.ID,
		&e.ParentID,
		&e.IsFolder,
		&e.Position,
		&e.Name,
		&e.URL,
		&e.WebsiteURL,
		&e.IconID,
		&e.Expanded,
		&e.Deleted,
		&updatedExt,
		&updatedInt,
		&updatedIcon,
		&e.LastSelectedMsg,
	); err != nil {
		return subscription.Entry{}, err
	}
	var err error
	if e.UpdatedExt, err = parseTime(updatedExt); err != nil {
		return subscription.Entry{}, fmt.Errorf("parse updated_ext of %d: %w", e.ID, err)
	}
	if e.UpdatedInt, err = parseTime(updatedInt); err != nil {
		return subscription.Entry{}, fmt.Errorf("parse updated_int of %d: %w", e.ID, err)
	}
	if e.UpdatedIcon, err = parseTime(updatedIcon); err != nil {
		return subscription.Entry{}, fmt.Errorf("parse updated_icon of %d: %w", e.ID, err)
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]subscription.Entry, error) {
	defer rows.Close()

	var entries []subscription.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return entries, nil
}

// entryArgs returns the column values in entryColumns order.
func entryArgs(e subscription.Entry) []any {
	return []any{
		e.ID,
		e.ParentID,
		e.IsFolder,
		e.Position,
		e.Name,
		e.URL,
		e.WebsiteURL,
		e.IconID,
		e.Expanded,
		e.Deleted,
		formatTime(e.UpdatedExt),
		formatTime(e.UpdatedInt),
		formatTime(e.UpdatedIcon),
		e.LastSelectedMsg,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
