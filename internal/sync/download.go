package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus/navsync/internal/models"
)

// FullSync downloads every kind in dependency order (Zone, Area, Cell,
// Beacon), merging each kind completely before querying the next, and
// reports a quarter of progress per kind.
func (e *Engine) FullSync(ctx context.Context) (MergeStats, error) {
	var total MergeStats
	if err := e.checkReachable(ctx, "full sync"); err != nil {
		return total, err
	}

	kinds := models.Kinds()
	for i, k := range kinds {
		records, err := e.queryAll(ctx, k)
		if err != nil {
			return total, fmt.Errorf("full sync %s: %w", k, err)
		}
		stats, err := e.Merge(ctx, records)
		total.add(stats)
		if err != nil {
			return total, fmt.Errorf("full sync %s: %w", k, err)
		}
		e.log.Info("full sync: kind merged", "kind", k, "records", len(records),
			"applied", stats.Applied, "discarded", stats.Discarded)
		e.relay.OnProgress(float64(i+1) / float64(len(kinds)))
	}

	if err := e.local.MarkFullSync(ctx, time.Now()); err != nil {
		e.log.Warn("full sync: record completion", "err", err)
	}
	e.logf("full sync complete: %d applied, %d unchanged", total.Applied, total.Discarded)
	return total, nil
}

// queryAll follows the continuation cursor for one kind, page by page.
func (e *Engine) queryAll(ctx context.Context, k models.Kind) ([]models.WireRecord, error) {
	var (
		all    []models.WireRecord
		cursor string
	)
	for page := 0; ; page++ {
		p, err := e.remote.Query(ctx, k, cursor)
		if err != nil {
			return nil, fmt.Errorf("query page %d: %w", page, err)
		}
		all = append(all, p.Records...)
		if p.NextCursor == "" {
			return all, nil
		}
		if p.NextCursor == cursor {
			return nil, fmt.Errorf("query page %d: cursor did not advance", page)
		}
		cursor = p.NextCursor
	}
}
