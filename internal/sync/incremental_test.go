package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/navsync/internal/models"
)

func TestOnRemoteChangeDeletePropagates(t *testing.T) {
	h := newHarness(t)
	h.seedLocal(t, zone("Zone.z", 1, 1), cell("Cell.abc", "Zone.z", "", 1), beacon("Beacon.b", "Cell.abc", 1))

	err := h.engine.OnRemoteChange(context.Background(), models.Notification{Identity: "Cell.abc", Reason: models.ReasonDeleted})
	if err != nil {
		t.Fatal(err)
	}
	if e := h.mustGet(t, "Cell.abc"); e != nil {
		t.Errorf("cell still present: %+v", e)
	}
	if e := h.mustGet(t, "Beacon.b"); e == nil {
		t.Error("children must not be cascade-deleted")
	}
	kinds := h.relay.kindsSeen()
	if len(kinds) != 1 || kinds[0] != models.KindCell {
		t.Errorf("relay kinds: got %v, want [Cell]", kinds)
	}
}

func TestOnRemoteChangeFetchesAndMerges(t *testing.T) {
	h := newHarness(t)
	h.seedLocal(t, zone("Zone.z", 10, 1))
	h.remote.put(zone("Zone.z", 30, 7).ToWire())

	err := h.engine.OnRemoteChange(context.Background(), models.Notification{Identity: "Zone.z", Reason: models.ReasonUpdated})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.mustGet(t, "Zone.z").(*models.Zone).Level; got != 7 {
		t.Errorf("level: got %d, want 7", got)
	}
	if kinds := h.relay.kindsSeen(); len(kinds) != 1 || kinds[0] != models.KindZone {
		t.Errorf("relay kinds: got %v", kinds)
	}
}

func TestOnRemoteChangeCreatesPlaceholderParent(t *testing.T) {
	h := newHarness(t)
	h.remote.put(beacon("Beacon.b", "Cell.late", 10).ToWire())

	err := h.engine.OnRemoteChange(context.Background(), models.Notification{Identity: "Beacon.b", Reason: models.ReasonCreated})
	if err != nil {
		t.Fatal(err)
	}
	p := h.mustGet(t, "Cell.late")
	if p == nil || !p.IsPlaceholder() {
		t.Fatalf("expected placeholder cell, got %+v", p)
	}
}

func TestOnRemoteChangeGoneRecord(t *testing.T) {
	h := newHarness(t)
	err := h.engine.OnRemoteChange(context.Background(), models.Notification{Identity: "Zone.gone", Reason: models.ReasonCreated})
	if err != nil {
		t.Fatalf("got %v, want nil", err)
	}
}

func TestOnRemoteChangeRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.engine.OnRemoteChange(ctx, models.Notification{Identity: "bogus", Reason: models.ReasonDeleted})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad identity: got %v", err)
	}
	err = h.engine.OnRemoteChange(ctx, models.Notification{Identity: "Zone.z", Reason: "moved"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad reason: got %v", err)
	}
}

func TestWatchAppliesNotifications(t *testing.T) {
	h := newHarness(t)
	h.seedLocal(t, zone("Zone.z", 1, 1))
	h.remote.subs = make(chan models.Notification, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Watch(ctx) }()

	h.remote.subs <- models.Notification{Identity: "Zone.z", Reason: models.ReasonDeleted}

	deadline := time.Now().Add(5 * time.Second)
	for len(h.relay.kindsSeen()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notification not applied")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	if e := h.mustGet(t, "Zone.z"); e != nil {
		t.Errorf("zone still present: %+v", e)
	}
}
