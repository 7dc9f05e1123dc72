// Package retrycache is the durable set of identities whose upload was
// deferred, either because the remote copy was newer or because their batch
// partially failed. Reconciliation drains it.
package retrycache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/serial"
)

// FileName is the cache database under the data directory.
const FileName = "cache.db"

const schema = `
CREATE TABLE IF NOT EXISTS retry_queue (
    identity TEXT PRIMARY KEY,
    queued_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_retry_queue_queued ON retry_queue(queued_at);
`

// Entry is one deferred identity.
type Entry struct {
	Identity models.Identity `json:"identity"`
	QueuedAt time.Time       `json:"queued_at"`
}

// Cache is safe for concurrent use. Enqueue and Drain run on the same serial
// executor, so an enqueue racing a drain lands either in the drained set or
// in the next one, never in neither.
type Cache struct {
	conn   *sql.DB
	writer *serial.Executor
	now    func() time.Time
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	conn, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=2000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open retry cache: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create retry cache schema: %w", err)
	}
	return &Cache{conn: conn, writer: serial.New("cache"), now: time.Now}, nil
}

// Close stops the writer and closes the database.
func (c *Cache) Close() error {
	c.writer.Close()
	return c.conn.Close()
}

// Enqueue adds id. An identity already queued keeps its original position.
func (c *Cache) Enqueue(ctx context.Context, id models.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	return c.writer.Do(ctx, func(ctx context.Context) error {
		_, err := c.conn.ExecContext(ctx,
			`INSERT OR IGNORE INTO retry_queue (identity, queued_at) VALUES (?, ?)`,
			string(id), c.now().UnixNano())
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", id, err)
		}
		return nil
	})
}

// Drain removes and returns every queued identity, oldest first.
func (c *Cache) Drain(ctx context.Context) ([]models.Identity, error) {
	var ids []models.Identity
	err := c.writer.Do(ctx, func(ctx context.Context) error {
		tx, err := c.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin drain: %w", err)
		}
		defer tx.Rollback()

		entries, err := list(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM retry_queue`); err != nil {
			return fmt.Errorf("clear retry queue: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit drain: %w", err)
		}
		for _, e := range entries {
			ids = append(ids, e.Identity)
		}
		return nil
	})
	return ids, err
}

// List returns the queued entries without removing them.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	return list(ctx, c.conn)
}

// Len returns the number of queued identities.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM retry_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count retry queue: %w", err)
	}
	return n, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func list(ctx context.Context, q querier) ([]Entry, error) {
	rows, err := q.QueryContext(ctx, `SELECT identity, queued_at FROM retry_queue ORDER BY queued_at, identity`)
	if err != nil {
		return nil, fmt.Errorf("list retry queue: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			id string
			at int64
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan retry entry: %w", err)
		}
		out = append(out, Entry{Identity: models.Identity(id), QueuedAt: time.Unix(0, at).UTC()})
	}
	return out, rows.Err()
}
