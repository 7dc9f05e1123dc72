package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lockFileName   = "db.lock"
	lockTimeout    = 2 * time.Second
	lockBackoffMin = 5 * time.Millisecond
	lockBackoffMax = 100 * time.Millisecond
)

// fileLock is an exclusive, cross-process lock on <baseDir>/.navsync/db.lock.
// The OS drops it when the holding process exits, crashed or not.
type fileLock struct {
	path string
	f    *os.File
}

func newFileLock(baseDir string) *fileLock {
	return &fileLock{path: filepath.Join(baseDir, dataDir, lockFileName)}
}

// acquire polls for the lock until it is held, the timeout passes or ctx ends.
func (l *fileLock) acquire(ctx context.Context, timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.f = f

	deadline := time.Now().Add(timeout)
	wait := lockBackoffMin
	for {
		if err := l.tryLock(); err == nil {
			l.stampHolder()
			return nil
		}
		if time.Now().After(deadline) {
			holder := l.holder()
			l.f.Close()
			l.f = nil
			return fmt.Errorf("write lock timeout after %v (held by %s)", timeout, holder)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			l.f.Close()
			l.f = nil
			return ctx.Err()
		case <-t.C:
		}
		wait = min(wait*2, lockBackoffMax)
	}
}

func (l *fileLock) release() error {
	if l.f == nil {
		return nil
	}
	l.f.Truncate(0)
	l.unlock()
	err := l.f.Close()
	l.f = nil
	return err
}

func (l *fileLock) stampHolder() {
	l.f.Truncate(0)
	l.f.Seek(0, 0)
	fmt.Fprintf(l.f, "pid=%d since=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	l.f.Sync()
}

// holder describes the current lock owner for timeout diagnostics.
func (l *fileLock) holder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "unknown"
	}
	fields := map[string]string{}
	for _, kv := range strings.Fields(string(data)) {
		if k, v, ok := strings.Cut(kv, "="); ok {
			fields[k] = v
		}
	}
	pid, since := fields["pid"], fields["since"]
	if pid == "" {
		return "unknown"
	}
	if n, err := strconv.Atoi(pid); err == nil && !isProcessAlive(n) {
		return fmt.Sprintf("pid %s since %s, stale", pid, since)
	}
	return fmt.Sprintf("pid %s since %s", pid, since)
}
