// Package db is the on-device store for synchronized entities. It tracks
// which identities the user changed since the last upload and answers the
// point and parent lookups the sync engine needs.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/marcus/navsync/internal/serial"
	_ "modernc.org/sqlite"
)

const (
	dataDir = ".navsync"
	dbFile  = "live.db"
)

var (
	// ErrNotInitialized is returned by Open when no store exists yet.
	ErrNotInitialized = errors.New("local store not found: run 'navsync init' first")
	// ErrNotFound is returned by user mutations that target a missing entity.
	ErrNotFound = errors.New("entity not found")
)

// DB is the local ("live") store. Every write runs on a single serial
// executor and, across processes, under the store's file lock.
type DB struct {
	conn    *sql.DB
	baseDir string
	writer  *serial.Executor
	now     func() time.Time
}

// Path returns the database file location under baseDir.
func Path(baseDir string) string {
	return filepath.Join(baseDir, dataDir, dbFile)
}

// Open opens an existing store and applies pending migrations.
func Open(baseDir string) (*DB, error) {
	if _, err := os.Stat(Path(baseDir)); os.IsNotExist(err) {
		return nil, ErrNotInitialized
	}
	return open(baseDir)
}

// Initialize creates the store if needed and opens it.
func Initialize(baseDir string) (*DB, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, dataDir), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return open(baseDir)
}

func open(baseDir string) (*DB, error) {
	conn, err := sql.Open("sqlite", Path(baseDir))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: writes are serialized anyway and reads are short.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=2000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db := &DB{
		conn:    conn,
		baseDir: baseDir,
		writer:  serial.New("live"),
		now:     time.Now,
	}
	if _, err := db.RunMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Close stops the writer and closes the database.
func (db *DB) Close() error {
	db.writer.Close()
	return db.conn.Close()
}

// BaseDir returns the directory holding .navsync.
func (db *DB) BaseDir() string {
	return db.baseDir
}

// write runs fn in a transaction on the store's executor while holding the
// cross-process file lock.
func (db *DB) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return db.writer.Do(ctx, func(ctx context.Context) error {
		lock := newFileLock(db.baseDir)
		if err := lock.acquire(ctx, lockTimeout); err != nil {
			return err
		}
		defer lock.release()

		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// SchemaVersion reads the stored schema version, 0 when unset.
func (db *DB) SchemaVersion() int {
	var v string
	if err := db.conn.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&v); err != nil {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

// RunMigrations applies every migration newer than the stored version.
func (db *DB) RunMigrations(ctx context.Context) (int, error) {
	current := db.SchemaVersion()
	if current >= SchemaVersion {
		return 0, nil
	}

	ran := 0
	err := db.write(ctx, func(tx *sql.Tx) error {
		for _, m := range Migrations {
			if m.Version <= current {
				continue
			}
			if _, err := tx.Exec(m.SQL); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
			ran++
		}
		_, err := tx.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
			strconv.Itoa(SchemaVersion))
		return err
	})
	return ran, err
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
