package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const keyLastFullSync = "last_full_sync_at"

func (db *DB) getState(ctx context.Context, key string) (string, error) {
	var v string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

func (db *DB) setState(ctx context.Context, key, value string) error {
	return db.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT OR REPLACE INTO sync_state (key, value) VALUES (?, ?)`, key, value)
		return err
	})
}

// LastFullSyncAt returns when the last full sync completed, zero if never.
func (db *DB) LastFullSyncAt(ctx context.Context) (time.Time, error) {
	v, err := db.getState(ctx, keyLastFullSync)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", keyLastFullSync, err)
	}
	return t, nil
}

// MarkFullSync records a completed full sync.
func (db *DB) MarkFullSync(ctx context.Context, at time.Time) error {
	return db.setState(ctx, keyLastFullSync, at.UTC().Format(time.RFC3339Nano))
}
