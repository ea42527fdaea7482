package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SaveMessages records message references for a feed. GUIDs already known
// for the feed are ignored; new ones start unread. It returns how many were new.
func (r *Repository) SaveMessages(ctx context.Context, subscriptionID int64, guids []string) (int, error) {
	added := 0
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO messages (subscription_id, guid, is_read)
VALUES (?, ?, 0)
ON CONFLICT(subscription_id, guid) DO NOTHING
`)
		if err != nil {
			return fmt.Errorf("prepare save messages statement: %w", err)
		}
		defer stmt.Close()

		for _, guid := range guids {
			guid = strings.TrimSpace(guid)
			if guid == "" {
				continue
			}
			res, err := stmt.ExecContext(ctx, subscriptionID, guid)
			if err != nil {
				return fmt.Errorf("save message %q of %d: %w", guid, subscriptionID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("save message %q of %d: %w", guid, subscriptionID, err)
			}
			added += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// CountMessages returns the total and unread message counts of one feed.
func (r *Repository) CountMessages(ctx context.Context, subscriptionID int64) (total, unread int, err error) {
	err = r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0)
FROM messages
WHERE subscription_id = ?`, subscriptionID).Scan(&total, &unread)
	if err != nil {
		return 0, 0, fmt.Errorf("count messages of %d: %w", subscriptionID, err)
	}
	return total, unread, nil
}

// MarkAllRead marks every message of the given feeds as read.
func (r *Repository) MarkAllRead(ctx context.Context, subscriptionIDs []int64) error {
	if len(subscriptionIDs) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range subscriptionIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE messages SET is_read=1 WHERE subscription_id=?`, id); err != nil {
				return fmt.Errorf("mark messages of %d read: %w", id, err)
			}
		}
		return nil
	})
}

// SaveIcon returns the id of the icon reference for url, creating it if needed.
func (r *Repository) SaveIcon(ctx context.Context, url string) (int64, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return 0, fmt.Errorf("save icon: empty url")
	}
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO icons (url) VALUES (?) ON CONFLICT(url) DO NOTHING`, url); err != nil {
			return fmt.Errorf("insert icon: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT id FROM icons WHERE url=?`, url).Scan(&id); err != nil {
			return fmt.Errorf("query icon id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}
