package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/navsync/internal/models"
)

const (
	opUpsert = "upsert"
	opDelete = "delete"
)

func recordChange(tx *sql.Tx, id models.Identity, op string) error {
	_, err := tx.Exec(`
		INSERT INTO pending_changes (id, op, seq)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM pending_changes))
		ON CONFLICT(id) DO UPDATE SET op = excluded.op, seq = excluded.seq
	`, string(id), op)
	if err != nil {
		return fmt.Errorf("record change %s: %w", id, err)
	}
	return nil
}

// Save applies a user mutation. lastModified is stamped from the clock but
// never moves backwards for an identity, and the change is queued for upload.
func (db *DB) Save(ctx context.Context, e models.Entity) error {
	if err := e.Identity().Validate(); err != nil {
		return err
	}
	if err := models.CheckReferences(e); err != nil {
		return err
	}
	return db.write(ctx, func(tx *sql.Tx) error {
		prev, err := getEntity(ctx, tx, e.Identity())
		if err != nil {
			return err
		}
		stamp := db.now().UTC()
		if prev != nil && !stamp.After(prev.LastModified()) {
			stamp = prev.LastModified().Add(time.Nanosecond)
		}
		e.SetLastModified(stamp)
		if err := upsertEntity(tx, e, false); err != nil {
			return err
		}
		return recordChange(tx, e.Identity(), opUpsert)
	})
}

// Delete removes an entity by user action and queues the deletion.
func (db *DB) Delete(ctx context.Context, id models.Identity) error {
	table, err := tableFor(id.Kind())
	if err != nil {
		return err
	}
	return db.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM `+table+` WHERE id = ?`, string(id))
		if err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return recordChange(tx, id, opDelete)
	})
}

// ChangedIdentities returns identities upserted or deleted locally and not
// yet acknowledged, oldest change first.
func (db *DB) ChangedIdentities(ctx context.Context) (models.ChangeSet, error) {
	var cs models.ChangeSet
	rows, err := db.conn.QueryContext(ctx, `SELECT id, op, seq FROM pending_changes ORDER BY seq`)
	if err != nil {
		return cs, fmt.Errorf("query pending changes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, op string
			seq    int64
		)
		if err := rows.Scan(&id, &op, &seq); err != nil {
			return cs, fmt.Errorf("scan pending change: %w", err)
		}
		if op == opDelete {
			cs.Deleted = append(cs.Deleted, models.Identity(id))
		} else {
			cs.Upserted = append(cs.Upserted, models.Identity(id))
		}
		cs.Through = max(cs.Through, seq)
	}
	return cs, rows.Err()
}

// Acknowledge clears pending changes for ids recorded at or before through.
// Edits made after the change-set was read stay pending.
func (db *DB) Acknowledge(ctx context.Context, ids []models.Identity, through int64) error {
	if len(ids) == 0 {
		return nil
	}
	return db.write(ctx, func(tx *sql.Tx) error {
		// Keep well under SQLite's bound-parameter limit.
		for start := 0; start < len(ids); start += 500 {
			end := min(start+500, len(ids))
			chunk := ids[start:end]
			args := make([]any, 0, len(chunk)+1)
			for _, id := range chunk {
				args = append(args, string(id))
			}
			args = append(args, through)
			marks := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
			if _, err := tx.Exec(`DELETE FROM pending_changes WHERE id IN (`+marks+`) AND seq <= ?`, args...); err != nil {
				return fmt.Errorf("acknowledge: %w", err)
			}
		}
		return nil
	})
}

// CountPending returns how many local changes await upload.
func (db *DB) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_changes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}
