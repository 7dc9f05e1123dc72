package api

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marcus/navsync/internal/db"
	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/retrycache"
	navsync "github.com/marcus/navsync/internal/sync"
	"github.com/marcus/navsync/internal/syncclient"
)

// device is one client install talking to the harness server.
type device struct {
	local  *db.DB
	cache  *retrycache.Cache
	engine *navsync.Engine
}

func newDevice(t *testing.T, h *TestHarness, name string, compress bool) *device {
	t.Helper()
	dir := t.TempDir()
	local, err := db.Initialize(dir)
	if err != nil {
		t.Fatalf("init local store: %v", err)
	}
	cache, err := retrycache.Open(filepath.Join(dir, retrycache.FileName))
	if err != nil {
		t.Fatalf("open retry cache: %v", err)
	}
	client := syncclient.New(h.BaseURL, h.CreateKey(name), name)
	client.Compress = compress
	engine, err := navsync.New(navsync.Config{Local: local, Remote: client, Cache: cache})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		cache.Close()
		local.Close()
	})
	return &device{local: local, cache: cache, engine: engine}
}

func (d *device) save(t *testing.T, e models.Entity) {
	t.Helper()
	if err := d.local.Save(context.Background(), e); err != nil {
		t.Fatalf("save %s: %v", e.Identity(), err)
	}
}

func (d *device) push(t *testing.T) *navsync.UploadReport {
	t.Helper()
	report, err := d.engine.PushPending(context.Background())
	if err != nil {
		t.Fatalf("push pending: %v", err)
	}
	return report
}

func TestRoundTripBetweenDevices(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	a := newDevice(t, h, "device-a", true)
	b := newDevice(t, h, "device-b", false)

	zone := &models.Zone{Base: models.Base{ID: "Zone.hq"}, Level: 1}
	area := &models.Area{Base: models.Base{ID: "Area.lobby"}, ZoneID: "Zone.hq", Name: "Lobby"}
	cell := &models.Cell{Base: models.Base{ID: "Cell.c1"}, ZoneID: "Zone.hq", AreaID: "Area.lobby", Row: 2, Col: 3, Type: models.CellSample}
	a.save(t, zone)
	a.save(t, area)
	a.save(t, cell)

	report := a.push(t)
	if len(report.Acknowledged) != 3 {
		t.Fatalf("acknowledged %v, want 3 records", report.Acknowledged)
	}
	if n, _ := a.local.CountPending(ctx); n != 0 {
		t.Fatalf("device a still has %d pending changes", n)
	}

	stats, err := b.engine.FullSync(ctx)
	if err != nil {
		t.Fatalf("full sync: %v", err)
	}
	if stats.Applied != 3 || stats.Placeholders != 0 {
		t.Fatalf("full sync stats = %+v", stats)
	}
	got, err := b.local.Get(ctx, "Cell.c1")
	if err != nil || got == nil {
		t.Fatalf("device b cell: %v %v", got, err)
	}
	if c := got.(*models.Cell); c.Row != 2 || c.Col != 3 || c.Type != models.CellSample || c.AreaID != "Area.lobby" {
		t.Fatalf("device b cell = %+v", c)
	}

	// b renames the area; a hears about it.
	lobby, _ := b.local.Get(ctx, "Area.lobby")
	lobby.(*models.Area).Name = "Atrium"
	b.save(t, lobby)
	b.push(t)

	if err := a.engine.OnRemoteChange(ctx, models.Notification{Identity: "Area.lobby", Reason: models.ReasonUpdated}); err != nil {
		t.Fatalf("on remote change: %v", err)
	}
	got, _ = a.local.Get(ctx, "Area.lobby")
	if name := got.(*models.Area).Name; name != "Atrium" {
		t.Fatalf("device a area name = %q, want Atrium", name)
	}

	// b deletes the cell; a follows.
	if err := b.local.Delete(ctx, "Cell.c1"); err != nil {
		t.Fatal(err)
	}
	b.push(t)
	if err := a.engine.OnRemoteChange(ctx, models.Notification{Identity: "Cell.c1", Reason: models.ReasonDeleted}); err != nil {
		t.Fatalf("on remote change: %v", err)
	}
	if got, _ := a.local.Get(ctx, "Cell.c1"); got != nil {
		t.Fatalf("device a still has deleted cell: %+v", got)
	}
}

func TestConflictDeferredThenReconciled(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	a := newDevice(t, h, "device-a", false)
	b := newDevice(t, h, "device-b", false)

	a.save(t, &models.Zone{Base: models.Base{ID: "Zone.hq"}, Level: 1})
	a.push(t)
	if _, err := b.engine.FullSync(ctx); err != nil {
		t.Fatal(err)
	}

	// a edits first, b edits later and wins the race to the server.
	za, _ := a.local.Get(ctx, "Zone.hq")
	za.(*models.Zone).Level = 2
	a.save(t, za)
	zb, _ := b.local.Get(ctx, "Zone.hq")
	zb.(*models.Zone).Level = 3
	b.save(t, zb)
	b.push(t)

	report := a.push(t)
	if len(report.Deferred) != 1 || report.Deferred[0] != "Zone.hq" {
		t.Fatalf("deferred = %v, want [Zone.hq]", report.Deferred)
	}
	if n, _ := a.cache.Len(ctx); n != 1 {
		t.Fatalf("retry cache holds %d, want 1", n)
	}
	got, _ := a.local.Get(ctx, "Zone.hq")
	if lvl := got.(*models.Zone).Level; lvl != 2 {
		t.Fatalf("local copy changed before reconcile: level %d", lvl)
	}

	rr, err := a.engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rr.Merged != 1 {
		t.Fatalf("reconcile report = %+v, want one merge", rr)
	}
	got, _ = a.local.Get(ctx, "Zone.hq")
	if lvl := got.(*models.Zone).Level; lvl != 3 {
		t.Fatalf("level after reconcile = %d, want 3", lvl)
	}
	if n, _ := a.local.CountPending(ctx); n != 0 {
		t.Fatalf("pending after reconcile = %d, want 0", n)
	}
}
