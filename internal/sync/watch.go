package sync

import (
	"context"
	"time"

	"github.com/marcus/navsync/internal/models"
)

const (
	resubscribeMin = time.Second
	resubscribeMax = time.Minute
)

// Watch keeps the local store converging until ctx ends: it applies pushed
// notifications as they arrive, pushes pending local changes and reconciles
// the retry cache on their intervals, and resubscribes with backoff when
// the notification stream drops.
func (e *Engine) Watch(ctx context.Context) error {
	reconcileC, stopReconcile := tick(e.reconcileInterval)
	defer stopReconcile()
	pushC, stopPush := tick(e.pushInterval)
	defer stopPush()

	backoff := resubscribeMin
	for {
		notes, err := e.remote.Subscribe(ctx, models.Kinds())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.log.Warn("watch: subscribe", "err", err, "retry_in", backoff)
			e.logf("subscription unavailable, retrying in %s", backoff)
		} else {
			backoff = resubscribeMin
			e.log.Info("watch: subscribed")
			if done := e.watchStream(ctx, notes, reconcileC, pushC); done {
				return nil
			}
			e.log.Warn("watch: subscription dropped", "retry_in", backoff)
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = min(backoff*2, resubscribeMax)
	}
}

// watchStream serves one subscription. It reports true when ctx ended and
// false when the stream closed.
func (e *Engine) watchStream(ctx context.Context, notes <-chan models.Notification, reconcileC, pushC <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case n, ok := <-notes:
			if !ok {
				return false
			}
			if err := e.OnRemoteChange(ctx, n); err != nil {
				e.log.Warn("watch: apply remote change", "id", n.Identity, "reason", n.Reason, "err", err)
			}
		case <-reconcileC:
			if _, err := e.Reconcile(ctx); err != nil {
				e.log.Warn("watch: reconcile", "err", err)
			}
		case <-pushC:
			if _, err := e.PushPending(ctx); err != nil {
				e.log.Warn("watch: push", "err", err)
			}
		}
	}
}

// tick returns a ticker channel, or nil (never fires) for a zero interval.
func tick(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}
