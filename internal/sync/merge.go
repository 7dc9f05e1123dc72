package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/marcus/navsync/internal/models"
)

// Merge applies remote records to the local store in order under the
// last-write-wins rule. Malformed records are logged and counted, never
// fatal; store errors abort the merge.
func (e *Engine) Merge(ctx context.Context, records []models.WireRecord) (MergeStats, error) {
	var stats MergeStats
	err := e.merges.Do(ctx, func(ctx context.Context) error {
		for _, w := range records {
			s, err := e.mergeOne(ctx, w)
			if errors.Is(err, ErrInvalidArgument) {
				e.log.Warn("merge: invalid record", "id", w.Identity, "err", err)
				stats.Invalid++
				continue
			}
			if err != nil {
				return err
			}
			stats.add(s)
		}
		return nil
	})
	return stats, err
}

// mergeOne runs on the merge executor. A remote record replaces the local
// copy only when strictly newer; placeholders always yield to the real
// record. Missing parents get a placeholder so the reference resolves once
// the parent arrives. The read below only skips obvious losers early: the
// store repeats the comparison inside its write so a concurrent user save is
// never overwritten by an older record.
func (e *Engine) mergeOne(ctx context.Context, w models.WireRecord) (MergeStats, error) {
	var stats MergeStats
	incoming, err := models.EntityFromWire(w)
	if err != nil {
		return stats, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := models.CheckReferences(incoming); err != nil {
		return stats, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	local, err := e.local.Get(ctx, w.Identity)
	if err != nil {
		return stats, fmt.Errorf("merge %s: %w", w.Identity, err)
	}
	if local != nil && !local.IsPlaceholder() && !w.LastModified.After(local.LastModified()) {
		stats.Discarded++
		return stats, nil
	}

	n, err := e.ensureParents(ctx, incoming)
	if err != nil {
		return stats, err
	}
	stats.Placeholders += n

	applied, err := e.local.ApplyUpsert(ctx, incoming)
	if err != nil {
		return stats, fmt.Errorf("merge %s: %w", w.Identity, err)
	}
	if !applied {
		e.log.Debug("merge: local copy changed meanwhile, keeping it", "id", w.Identity)
		stats.Discarded++
		return stats, nil
	}
	stats.Applied++
	return stats, nil
}

func (e *Engine) ensureParents(ctx context.Context, ent models.Entity) (int, error) {
	created := 0
	for _, ref := range ent.References() {
		if err := ref.Validate(); err != nil {
			e.log.Warn("merge: bad reference", "id", ent.Identity(), "ref", ref, "err", err)
			continue
		}
		parent, err := e.local.Get(ctx, ref)
		if err != nil {
			return created, fmt.Errorf("resolve parent %s: %w", ref, err)
		}
		if parent != nil {
			continue
		}
		p, err := models.NewPlaceholder(ref)
		if err != nil {
			return created, err
		}
		applied, err := e.local.ApplyUpsert(ctx, p)
		if err != nil {
			return created, fmt.Errorf("placeholder %s: %w", ref, err)
		}
		if applied {
			e.log.Debug("merge: placeholder parent", "id", ent.Identity(), "parent", ref)
			created++
		}
	}
	return created, nil
}

// applyRemoteDelete removes a local entity deleted remotely. Children stay.
func (e *Engine) applyRemoteDelete(ctx context.Context, id models.Identity) error {
	return e.merges.Do(ctx, func(ctx context.Context) error {
		children, err := e.local.FindByParent(ctx, id)
		if err != nil {
			return fmt.Errorf("find children of %s: %w", id, err)
		}
		if err := e.local.ApplyDelete(ctx, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		if len(children) > 0 {
			e.log.Info("remote delete left children in place", "id", id, "children", len(children))
		}
		return nil
	})
}
