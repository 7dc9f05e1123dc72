package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/marcus/navsync/internal/models"
)

// Reconcile drains the retry cache and settles each identity against the
// state both sides hold now, not the state that caused the deferral:
//
//   - server copy strictly newer than the current local copy: merge it in
//     and drop the local change;
//   - otherwise: resubmit the current local record, or its deletion when
//     the local entity is gone, with the overwrite policy.
//
// Identities that cannot be settled this pass go back in the cache.
func (e *Engine) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	if err := e.checkReachable(ctx, "reconcile"); err != nil {
		return report, err
	}

	// Read the change watermark before draining so acknowledgements never
	// cover edits made during this pass.
	cs, err := e.local.ChangedIdentities(ctx)
	if err != nil {
		return report, fmt.Errorf("read change set: %w", err)
	}
	drained, err := e.cache.Drain(ctx)
	if err != nil {
		return report, fmt.Errorf("drain retry cache: %w", err)
	}
	ids := dedupe(drained)
	report.Drained = len(ids)
	if len(ids) == 0 {
		return report, nil
	}

	var (
		toSave   []models.WireRecord
		toDelete []models.Identity
		merged   []models.Identity
	)
	for _, id := range ids {
		local, err := e.local.Get(ctx, id)
		if err != nil {
			e.log.Warn("reconcile: read local", "id", id, "err", err)
			e.requeue(ctx, []models.Identity{id})
			report.Requeued++
			continue
		}

		remote, err := e.remote.Fetch(ctx, id)
		hasRemote := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			e.log.Warn("reconcile: fetch remote", "id", id, "err", err)
			e.requeue(ctx, []models.Identity{id})
			report.Requeued++
			continue
		}

		switch {
		case local == nil:
			toDelete = append(toDelete, id)
		case hasRemote && remote.LastModified.After(local.LastModified()):
			if _, err := e.Merge(ctx, []models.WireRecord{remote}); err != nil {
				e.log.Warn("reconcile: merge", "id", id, "err", err)
				e.requeue(ctx, []models.Identity{id})
				report.Requeued++
				continue
			}
			merged = append(merged, id)
			e.relay.OnEntityKindChanged(id.Kind())
		case local.IsPlaceholder():
			// Nothing of ours to send.
		default:
			toSave = append(toSave, local.ToWire())
		}
	}
	report.Merged = len(merged)

	accepted, upErr := e.UploadCached(ctx, toSave, toDelete)
	for _, id := range accepted {
		if slices.Contains(toDelete, id) {
			report.Deleted++
		} else {
			report.Uploaded++
		}
	}

	if ack := append(merged, accepted...); len(ack) > 0 {
		if err := e.local.Acknowledge(ctx, ack, cs.Through); err != nil {
			return report, errors.Join(upErr, fmt.Errorf("acknowledge: %w", err))
		}
	}
	e.log.Info("reconciled", "drained", report.Drained, "merged", report.Merged,
		"uploaded", report.Uploaded, "deleted", report.Deleted, "requeued", report.Requeued)
	return report, upErr
}

func dedupe(ids []models.Identity) []models.Identity {
	seen := make(map[models.Identity]bool, len(ids))
	out := make([]models.Identity, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
