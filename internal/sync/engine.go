// Package sync is the offline-first synchronization engine. It uploads local
// mutations in bounded batches, defers conflicting records to a durable retry
// cache, downloads the dataset in dependency order, and applies pushed
// remote changes through the merge rule.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/serial"
)

// LocalStore is the on-device store the engine reads changes from and merges
// remote records into. Get returns a nil entity when the identity is absent.
// ApplyUpsert enforces last-write-wins atomically with the write and reports
// whether the entity was stored.
type LocalStore interface {
	ChangedIdentities(ctx context.Context) (models.ChangeSet, error)
	Get(ctx context.Context, id models.Identity) (models.Entity, error)
	FindByParent(ctx context.Context, parent models.Identity) ([]models.Entity, error)
	ApplyUpsert(ctx context.Context, e models.Entity) (bool, error)
	ApplyDelete(ctx context.Context, id models.Identity) error
	Acknowledge(ctx context.Context, ids []models.Identity, through int64) error
	MarkFullSync(ctx context.Context, at time.Time) error
}

// RemoteStore is the shared database. Fetch returns ErrNotFound for unknown
// identities.
type RemoteStore interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, kind models.Kind, cursor string) (Page, error)
	Fetch(ctx context.Context, id models.Identity) (models.WireRecord, error)
	BatchUpsertAndDelete(ctx context.Context, req BatchRequest) (*BatchResult, error)
	Subscribe(ctx context.Context, kinds []models.Kind) (<-chan models.Notification, error)
}

// RetryCache holds identities whose upload was deferred.
type RetryCache interface {
	Enqueue(ctx context.Context, id models.Identity) error
	Drain(ctx context.Context) ([]models.Identity, error)
}

// Relay receives fire-and-forget progress and change events.
type Relay interface {
	OnProgress(fraction float64)
	OnEntityKindChanged(kind models.Kind)
	OnLog(message string)
}

// Config wires an Engine.
type Config struct {
	Local  LocalStore
	Remote RemoteStore
	Cache  RetryCache
	Relay  Relay

	// BatchLimit caps operations per batch. Zero or anything above
	// BatchLimit means BatchLimit.
	BatchLimit int

	// ReconcileInterval and PushInterval drive Watch. Zero disables the tick.
	ReconcileInterval time.Duration
	PushInterval      time.Duration

	Logger *slog.Logger
}

// Engine coordinates uploads, downloads and reconciliation for one local
// store. Create it with New and release it with Close.
type Engine struct {
	local  LocalStore
	remote RemoteStore
	cache  RetryCache
	relay  Relay
	log    *slog.Logger

	batchLimit        int
	reconcileInterval time.Duration
	pushInterval      time.Duration

	// merges serializes read-compare-write merges into the local store.
	merges *serial.Executor

	bg       gosync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

type nopRelay struct{}

func (nopRelay) OnProgress(float64)              {}
func (nopRelay) OnEntityKindChanged(models.Kind) {}
func (nopRelay) OnLog(string)                    {}

// New builds an engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Local == nil || cfg.Remote == nil || cfg.Cache == nil {
		return nil, errors.New("sync: local store, remote store and retry cache are required")
	}
	e := &Engine{
		local:             cfg.Local,
		remote:            cfg.Remote,
		cache:             cfg.Cache,
		relay:             cfg.Relay,
		log:               cfg.Logger,
		batchLimit:        cfg.BatchLimit,
		reconcileInterval: cfg.ReconcileInterval,
		pushInterval:      cfg.PushInterval,
		merges:            serial.New("merge"),
	}
	if e.relay == nil {
		e.relay = nopRelay{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.batchLimit <= 0 || e.batchLimit > BatchLimit {
		e.batchLimit = BatchLimit
	}
	e.bgCtx, e.bgCancel = context.WithCancel(context.Background())
	return e, nil
}

// Close waits for asynchronous uploads to finish, then stops the engine.
func (e *Engine) Close() {
	e.bg.Wait()
	e.bgCancel()
	e.merges.Close()
}

// checkReachable pings the remote before a large operation.
func (e *Engine) checkReachable(ctx context.Context, op string) error {
	if err := e.remote.Ping(ctx); err != nil {
		e.relay.OnLog(fmt.Sprintf("%s deferred: remote store unreachable", op))
		if errors.Is(err, ErrUnreachable) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w: %v", op, ErrUnreachable, err)
	}
	return nil
}

func (e *Engine) logf(format string, args ...any) {
	e.relay.OnLog(fmt.Sprintf(format, args...))
}
