package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/marcus/navsync/internal/models"
)

// OnRemoteChange applies one pushed notification and then tells the relay
// which kind changed. Created and updated records are fetched and merged;
// deletions remove the local entity.
func (e *Engine) OnRemoteChange(ctx context.Context, n models.Notification) error {
	if err := n.Identity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	switch n.Reason {
	case models.ReasonCreated, models.ReasonUpdated:
		w, err := e.remote.Fetch(ctx, n.Identity)
		if errors.Is(err, ErrNotFound) {
			// Deleted again before we got to it.
			e.log.Debug("remote change: record gone", "id", n.Identity)
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch %s: %w", n.Identity, err)
		}
		if _, err := e.Merge(ctx, []models.WireRecord{w}); err != nil {
			return err
		}
	case models.ReasonDeleted:
		if err := e.applyRemoteDelete(ctx, n.Identity); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown reason %q", ErrInvalidArgument, n.Reason)
	}

	e.relay.OnEntityKindChanged(n.Identity.Kind())
	return nil
}
