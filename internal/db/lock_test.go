//go:build unix

package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func lockDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, dataDir), 0755); err != nil {
		t.Fatalf("create data dir: %v", err)
	}
	return dir
}

func TestFileLockAcquireRelease(t *testing.T) {
	dir := lockDir(t)
	l := newFileLock(dir)
	if err := l.acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, dataDir, lockFileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if !strings.Contains(string(data), "pid=") {
		t.Errorf("lock file should name its holder, got %q", data)
	}
	if err := l.release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestFileLockExcludesConcurrentHolders(t *testing.T) {
	dir := lockDir(t)

	const workers, rounds = 4, 10
	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				l := newFileLock(dir)
				if err := l.acquire(context.Background(), 5*time.Second); err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				v := atomic.LoadInt64(&counter)
				time.Sleep(time.Millisecond)
				atomic.StoreInt64(&counter, v+1)
				l.release()
			}
		}()
	}
	wg.Wait()

	if counter != workers*rounds {
		t.Errorf("got %d, want %d", counter, workers*rounds)
	}
}

func TestFileLockTimeoutNamesHolder(t *testing.T) {
	dir := lockDir(t)
	first := newFileLock(dir)
	if err := first.acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer first.release()

	second := newFileLock(dir)
	err := second.acquire(context.Background(), 50*time.Millisecond)
	if err == nil {
		second.release()
		t.Fatal("expected timeout")
	}
	if !strings.Contains(err.Error(), "timeout") || !strings.Contains(err.Error(), "pid") {
		t.Errorf("undiagnostic error: %v", err)
	}
}

func TestFileLockHonoursContext(t *testing.T) {
	dir := lockDir(t)
	first := newFileLock(dir)
	if err := first.acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer first.release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := newFileLock(dir).acquire(ctx, 10*time.Second)
	if err != context.DeadlineExceeded {
		t.Fatalf("got %v, want %v", err, context.DeadlineExceeded)
	}
}
