package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/marcus/navsync/internal/models"
)

func TestUploadIssuesCeilBatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const n = 801
	var changed []models.Identity
	for i := 0; i < n; i++ {
		z := zone(fmt.Sprintf("Zone.%04d", i), 10, i)
		h.seedLocal(t, z)
		changed = append(changed, z.ID)
	}

	report, err := h.engine.Upload(ctx, changed, nil)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if report.Batches != 3 || h.remote.batchCount() != 3 {
		t.Fatalf("batches: got %d (remote %d), want 3", report.Batches, h.remote.batchCount())
	}
	for i, b := range h.remote.batches {
		if b.Ops() > BatchLimit {
			t.Errorf("batch %d: %d ops exceeds limit", i, b.Ops())
		}
		if b.SavePolicy != SaveChangedKeys {
			t.Errorf("batch %d policy: got %q", i, b.SavePolicy)
		}
	}
	if len(report.Acknowledged) != n {
		t.Errorf("acknowledged: got %d, want %d", len(report.Acknowledged), n)
	}
}

func TestUploadDefersNewerServerVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	local := zone("Zone.a", 10, 1)
	h.seedLocal(t, local)
	h.remote.put(zone("Zone.a", 20, 2).ToWire())

	for i := 0; i < 2; i++ {
		report, err := h.engine.Upload(ctx, []models.Identity{"Zone.a"}, nil)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		if len(report.Deferred) != 1 {
			t.Fatalf("deferred: got %v", report.Deferred)
		}
	}

	drained, _ := h.cache.Drain(ctx)
	if len(drained) != 1 || drained[0] != "Zone.a" {
		t.Errorf("retry cache: got %v, want [Zone.a]", drained)
	}
	got := h.mustGet(t, "Zone.a").(*models.Zone)
	if got.Level != 1 || !got.LastModified().Equal(at(10)) {
		t.Errorf("local copy changed before reconciliation: %+v", got)
	}
	if w, _ := h.remote.get("Zone.a"); !w.LastModified.Equal(at(20)) {
		t.Errorf("server copy overwritten: %v", w.LastModified)
	}
}

func TestUploadPartialFailureReconciles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedLocal(t, zone("Zone.a", 10, 1), zone("Zone.b", 10, 2))
	h.remote.failOnce["Zone.a"] = true

	report, err := h.engine.Upload(ctx, []models.Identity{"Zone.a", "Zone.b"}, nil)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !report.PartialFailure || len(report.Failed) != 1 {
		t.Fatalf("report: %+v", report)
	}
	if _, ok := h.remote.get("Zone.a"); !ok {
		t.Error("failed record was not resubmitted")
	}
	last := h.remote.batches[len(h.remote.batches)-1]
	if last.SavePolicy != SaveAllKeys {
		t.Errorf("resubmission policy: got %q, want %q", last.SavePolicy, SaveAllKeys)
	}
	if left := h.cache.snapshot(); len(left) != 0 {
		t.Errorf("retry cache not cleared: %v", left)
	}
}

func TestUploadLimitExceededStops(t *testing.T) {
	h := newHarness(t)
	h.seedLocal(t, zone("Zone.a", 10, 1))
	h.remote.batchErr = fmt.Errorf("server said: %w", ErrLimitExceeded)

	_, err := h.engine.Upload(context.Background(), []models.Identity{"Zone.a"}, nil)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("got %v, want ErrLimitExceeded", err)
	}
	var be *BatchError
	if !errors.As(err, &be) || be.Chunk != 0 {
		t.Errorf("batch error: got %v", err)
	}
	if Retryable(err) {
		t.Error("limit exceeded should not be retryable")
	}
	if left := h.cache.snapshot(); len(left) != 0 {
		t.Errorf("nothing should be queued: %v", left)
	}
}

func TestUploadUnreachableDefersLargeUpload(t *testing.T) {
	h := newHarness(t)
	h.remote.pingErr = errors.New("no route to host")

	var changed []models.Identity
	for i := 0; i < BatchLimit+1; i++ {
		changed = append(changed, models.Identity(fmt.Sprintf("Zone.%d", i)))
	}
	// Missing locally, so they plan as deletions; still a two-chunk upload.
	_, err := h.engine.Upload(context.Background(), changed, nil)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
	if h.remote.batchCount() != 0 {
		t.Errorf("no batch should be sent, got %d", h.remote.batchCount())
	}
}

func TestUploadSkipsPlaceholders(t *testing.T) {
	h := newHarness(t)
	p, _ := models.NewPlaceholder("Area.p")
	h.seedLocal(t, p)

	report, err := h.engine.Upload(context.Background(), []models.Identity{"Area.p"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Batches != 0 {
		t.Errorf("placeholder uploaded in %d batches", report.Batches)
	}
}

func TestPushPendingAcknowledges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.local.Save(ctx, zone("Zone.a", 0, 1)); err != nil {
		t.Fatal(err)
	}
	if err := h.local.Save(ctx, zone("Zone.b", 0, 1)); err != nil {
		t.Fatal(err)
	}
	if err := h.local.Delete(ctx, "Zone.b"); err != nil {
		t.Fatal(err)
	}

	report, err := h.engine.PushPending(ctx)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(report.Acknowledged) != 2 {
		t.Errorf("acknowledged: got %v", report.Acknowledged)
	}
	if n, _ := h.local.CountPending(ctx); n != 0 {
		t.Errorf("pending after push: got %d, want 0", n)
	}
	if h.remote.batches[0].Deletes[0] != "Zone.b" {
		t.Errorf("deletion not sent: %+v", h.remote.batches[0])
	}
}

func TestUploadAsyncReportsThroughRelay(t *testing.T) {
	h := newHarness(t)
	h.seedLocal(t, zone("Zone.a", 10, 1))

	h.engine.UploadAsync([]models.Identity{"Zone.a"}, nil)
	h.engine.Close()

	if _, ok := h.remote.get("Zone.a"); !ok {
		t.Fatal("async upload did not reach the remote store")
	}
	h.relay.mu.Lock()
	defer h.relay.mu.Unlock()
	if len(h.relay.logs) == 0 {
		t.Error("expected a relay log line")
	}
}

func TestUploadAsyncAcknowledgesAcceptedChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.local.Save(ctx, zone("Zone.a", 0, 1)); err != nil {
		t.Fatal(err)
	}
	cs, err := h.local.ChangedIdentities(ctx)
	if err != nil {
		t.Fatal(err)
	}

	h.engine.UploadAsync(cs.Upserted, cs.Deleted)
	h.engine.Close()

	if _, ok := h.remote.get("Zone.a"); !ok {
		t.Fatal("async upload did not reach the remote store")
	}
	if n, _ := h.local.CountPending(ctx); n != 0 {
		t.Errorf("pending after async upload: got %d, want 0", n)
	}
}
