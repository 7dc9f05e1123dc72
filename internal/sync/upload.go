package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/navsync/internal/models"
)

// chunkOutcome is what one dispatched chunk produced.
type chunkOutcome struct {
	result *BatchResult
	err    error
}

// dispatch sends every chunk concurrently and waits for all of them. A failed
// chunk does not cancel its siblings.
func (e *Engine) dispatch(ctx context.Context, chunks []Chunk, policy SavePolicy) []chunkOutcome {
	out := make([]chunkOutcome, len(chunks))
	var g errgroup.Group
	for _, c := range chunks {
		g.Go(func() error {
			req := BatchRequest{SavePolicy: policy, Records: c.Records, Deletes: c.Deletes}
			res, err := e.remote.BatchUpsertAndDelete(ctx, req)
			if err != nil {
				err = &BatchError{Chunk: c.Index, Err: err}
			}
			out[c.Index] = chunkOutcome{result: res, err: err}
			return nil
		})
	}
	g.Wait()
	return out
}

// Upload sends the current local versions of changed and the deletions of
// deleted to the remote store. Records the server holds a newer copy of are
// deferred to the retry cache; a partially failed batch triggers one
// reconciliation pass once every chunk has finished. Whole-batch failures
// are returned joined; per-record outcomes are in the report.
func (e *Engine) Upload(ctx context.Context, changed, deleted []models.Identity) (*UploadReport, error) {
	report := &UploadReport{}

	records, deletes, sent, err := e.resolve(ctx, changed, deleted, report)
	if err != nil {
		return report, err
	}
	chunks := PlanBatches(records, deletes, e.batchLimit)
	if len(chunks) == 0 {
		return report, nil
	}
	if len(chunks) > 1 {
		if err := e.checkReachable(ctx, "upload"); err != nil {
			return report, err
		}
	}
	report.Batches = len(chunks)

	for i, o := range e.dispatch(ctx, chunks, SaveChangedKeys) {
		if o.err != nil {
			e.batchFailed(o.err)
			report.Errors = append(report.Errors, o.err)
			continue
		}
		e.interpret(ctx, chunks[i], o.result, sent, report)
	}

	if report.PartialFailure {
		e.logf("upload: partial failure, reconciling retry cache")
		if _, err := e.Reconcile(ctx); err != nil {
			e.log.Warn("reconcile after partial failure", "err", err)
		}
	}
	return report, errors.Join(report.Errors...)
}

// UploadAsync runs Upload in the background and acknowledges the identities
// the remote store accepted. Only changes recorded before the upload started
// are cleared; edits made meanwhile stay pending. Progress and errors surface
// through the relay only. Close waits for it.
func (e *Engine) UploadAsync(changed, deleted []models.Identity) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx := e.bgCtx
		cs, err := e.local.ChangedIdentities(ctx)
		if err != nil {
			e.logf("upload failed: read change set: %v", err)
			return
		}
		report, err := e.Upload(ctx, changed, deleted)
		if len(report.Acknowledged) > 0 {
			if ackErr := e.local.Acknowledge(ctx, report.Acknowledged, cs.Through); ackErr != nil {
				e.log.Warn("upload: acknowledge", "err", ackErr)
			}
		}
		if err != nil {
			e.logf("upload failed: %v", err)
			return
		}
		e.logf("upload: %d acknowledged, %d deferred, %d failed, %d invalid",
			len(report.Acknowledged), len(report.Deferred), len(report.Failed), len(report.Invalid))
	}()
}

// PushPending uploads the local change-set and acknowledges what the remote
// store accepted.
func (e *Engine) PushPending(ctx context.Context) (*UploadReport, error) {
	cs, err := e.local.ChangedIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("read change set: %w", err)
	}
	if cs.Empty() {
		return &UploadReport{}, nil
	}
	report, upErr := e.Upload(ctx, cs.Upserted, cs.Deleted)
	if len(report.Acknowledged) > 0 {
		if err := e.local.Acknowledge(ctx, report.Acknowledged, cs.Through); err != nil {
			return report, errors.Join(upErr, fmt.Errorf("acknowledge: %w", err))
		}
	}
	return report, upErr
}

// UploadCached resubmits already-reconciled records with the overwrite
// policy. It returns the identities the remote store accepted.
func (e *Engine) UploadCached(ctx context.Context, toSave []models.WireRecord, toDelete []models.Identity) ([]models.Identity, error) {
	chunks := PlanBatches(toSave, toDelete, e.batchLimit)
	var (
		accepted []models.Identity
		errs     []error
	)
	for i, o := range e.dispatch(ctx, chunks, SaveAllKeys) {
		if o.err != nil {
			e.batchFailed(o.err)
			errs = append(errs, o.err)
			if Retryable(o.err) {
				e.requeue(ctx, chunkIdentities(chunks[i]))
			}
			continue
		}
		for _, r := range o.result.Results {
			switch r.Status {
			case StatusSaved, StatusDeleted:
				accepted = append(accepted, r.Identity)
			case StatusInvalid:
				e.log.Warn("cached upload: invalid record", "id", r.Identity, "msg", r.Message)
			default:
				e.requeue(ctx, []models.Identity{r.Identity})
			}
		}
	}
	return accepted, errors.Join(errs...)
}

// resolve turns identities into wire records. Identities no longer present
// locally become deletions; placeholders and malformed records are skipped.
func (e *Engine) resolve(ctx context.Context, changed, deleted []models.Identity, report *UploadReport) ([]models.WireRecord, []models.Identity, map[models.Identity]time.Time, error) {
	var (
		records []models.WireRecord
		deletes []models.Identity
		sent    = make(map[models.Identity]time.Time, len(changed))
		seen    = make(map[models.Identity]bool, len(changed)+len(deleted))
	)
	for _, id := range changed {
		if seen[id] {
			continue
		}
		seen[id] = true
		ent, err := e.local.Get(ctx, id)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolve %s: %w", id, err)
		}
		if ent == nil {
			deletes = append(deletes, id)
			continue
		}
		if ent.IsPlaceholder() {
			e.log.Debug("upload: skip placeholder", "id", id)
			continue
		}
		w := ent.ToWire()
		if err := w.Validate(); err != nil {
			e.log.Warn("upload: invalid record", "id", id, "err", err)
			report.Invalid = append(report.Invalid, id)
			continue
		}
		records = append(records, w)
		sent[id] = w.LastModified
	}
	for _, id := range deleted {
		if seen[id] {
			continue
		}
		seen[id] = true
		deletes = append(deletes, id)
	}
	return records, deletes, sent, nil
}

// interpret applies the per-record outcome rules to one chunk's result.
func (e *Engine) interpret(ctx context.Context, c Chunk, res *BatchResult, sent map[models.Identity]time.Time, report *UploadReport) {
	if res.PartialFailure {
		report.PartialFailure = true
		e.log.Warn("upload: partial failure", "chunk", c.Index)
	}
	for _, r := range res.Results {
		switch r.Status {
		case StatusSaved, StatusDeleted:
			report.Acknowledged = append(report.Acknowledged, r.Identity)

		case StatusConflict:
			local, ok := sent[r.Identity]
			if ok && r.ServerModified.After(local) {
				if err := e.cache.Enqueue(ctx, r.Identity); err != nil {
					e.log.Error("defer conflict", "id", r.Identity, "err", err)
					continue
				}
				report.Deferred = append(report.Deferred, r.Identity)
				continue
			}
			// Not actually newer: leave it pending for the next push.
			e.log.Warn("upload: conflict without newer server copy", "id", r.Identity,
				"server", r.ServerModified, "local", local)

		case StatusInvalid:
			e.log.Warn("upload: record rejected", "id", r.Identity, "err", ErrInvalidArgument, "msg", r.Message)
			report.Invalid = append(report.Invalid, r.Identity)

		default:
			if err := e.cache.Enqueue(ctx, r.Identity); err != nil {
				e.log.Error("queue failed record", "id", r.Identity, "err", err)
				continue
			}
			report.Failed = append(report.Failed, r.Identity)
		}
	}
}

func (e *Engine) batchFailed(err error) {
	var be *BatchError
	chunk := -1
	if errors.As(err, &be) {
		chunk = be.Chunk
	}
	switch {
	case errors.Is(err, ErrLimitExceeded):
		e.log.Error("upload: batch limit exceeded", "chunk", chunk, "err", err)
		e.logf("batch %d refused: limit exceeded", chunk)
	case errors.Is(err, ErrInvalidArgument):
		e.log.Error("upload: batch rejected", "chunk", chunk, "err", err)
	default:
		e.log.Warn("upload: batch failed", "chunk", chunk, "err", err)
		e.logf("batch %d failed: %v", chunk, err)
	}
}

func (e *Engine) requeue(ctx context.Context, ids []models.Identity) {
	for _, id := range ids {
		if err := e.cache.Enqueue(ctx, id); err != nil {
			e.log.Error("requeue", "id", id, "err", err)
		}
	}
}

func chunkIdentities(c Chunk) []models.Identity {
	ids := make([]models.Identity, 0, c.Ops())
	for _, r := range c.Records {
		ids = append(ids, r.Identity)
	}
	return append(ids, c.Deletes...)
}
