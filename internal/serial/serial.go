// Package serial provides a single-writer execution context. Every mutation of
// a logical store is funneled through one Executor so writes to that store are
// never concurrent, without callers sharing locks.
package serial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("executor closed")

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Executor runs submitted functions one at a time, in submission order, on a
// dedicated goroutine.
type Executor struct {
	name   string
	jobs   chan job
	quit   chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// New starts an executor. The name only appears in logs.
func New(name string) *Executor {
	e := &Executor{
		name: name,
		jobs: make(chan job, 64),
		quit: make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer e.wg.Done()
	for {
		select {
		case j := <-e.jobs:
			e.run(j)
		case <-e.quit:
			// Drain whatever was accepted before Close.
			for {
				select {
				case j := <-e.jobs:
					e.run(j)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) run(j job) {
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("serial: job panic", "executor", e.name, "panic", r)
			j.done <- fmt.Errorf("%s: panic: %v", e.name, r)
		}
	}()
	j.done <- j.fn(j.ctx)
}

// Do runs fn on the executor goroutine and waits for its result.
// Calling Do from inside another job on the same executor deadlocks.
func (e *Executor) Do(ctx context.Context, fn func(context.Context) error) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrClosed
	}
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case e.jobs <- j:
		e.mu.RUnlock()
	case <-ctx.Done():
		e.mu.RUnlock()
		return ctx.Err()
	}
	return <-j.done
}

// Close stops accepting work, finishes queued jobs and waits for the loop.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	close(e.quit)
	e.wg.Wait()
}
