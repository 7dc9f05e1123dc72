package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/marcus/navsync/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitializeCreatesFile(t *testing.T) {
	dir := t.TempDir()
	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(Path(dir)); err != nil {
		t.Errorf("database file: %v", err)
	}
	if got := db.SchemaVersion(); got != SchemaVersion {
		t.Errorf("schema version: got %d, want %d", got, SchemaVersion)
	}
}

func TestOpenWithoutInit(t *testing.T) {
	_, err := Open(t.TempDir())
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	db := newTestDB(t)
	e, err := db.Get(context.Background(), "Zone.nope")
	if err != nil {
		t.Fatal(err)
	}
	if e != nil {
		t.Errorf("got %v, want nil", e)
	}
}

func TestApplyUpsertRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 42, time.UTC)

	in := []models.Entity{
		&models.Zone{Base: models.Base{ID: "Zone.z", Modified: ts}, Level: 2, Image: []byte{1, 2, 3}},
		&models.Area{Base: models.Base{ID: "Area.a", Modified: ts}, ZoneID: "Zone.z", Name: "Lab"},
		&models.Cell{Base: models.Base{ID: "Cell.c", Modified: ts}, ZoneID: "Zone.z", AreaID: "Area.a", Row: 4, Col: 7, Type: models.CellDoor},
		&models.Beacon{Base: models.Base{ID: "Beacon.b", Modified: ts}, CellID: "Cell.c", MACAddress: "aa:bb", SignalStrength: -61},
	}
	for _, e := range in {
		if _, err := db.ApplyUpsert(ctx, e); err != nil {
			t.Fatalf("apply %s: %v", e.Identity(), err)
		}
	}

	c, err := db.Get(ctx, "Cell.c")
	if err != nil {
		t.Fatal(err)
	}
	cell, ok := c.(*models.Cell)
	if !ok {
		t.Fatalf("got %T, want *models.Cell", c)
	}
	if cell.Row != 4 || cell.Col != 7 || cell.Type != models.CellDoor || cell.AreaID != "Area.a" {
		t.Errorf("cell: %+v", cell)
	}
	if !cell.LastModified().Equal(ts) {
		t.Errorf("last modified: got %v, want %v", cell.LastModified(), ts)
	}

	z, _ := db.Get(ctx, "Zone.z")
	if got := z.(*models.Zone).Image; len(got) != 3 {
		t.Errorf("image: got %v", got)
	}

	cs, err := db.ChangedIdentities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !cs.Empty() {
		t.Errorf("merge writes must not create pending changes: %+v", cs)
	}
}

func TestApplyUpsertNeverReplacesNewer(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Save(ctx, &models.Zone{Base: models.Base{ID: "Zone.z"}, Level: 99}); err != nil {
		t.Fatal(err)
	}
	saved, _ := db.Get(ctx, "Zone.z")

	tests := []struct {
		name string
		in   models.Entity
	}{
		{"older record", &models.Zone{Base: models.Base{ID: "Zone.z", Modified: time.Unix(20, 0)}, Level: 2}},
		{"same timestamp", &models.Zone{Base: models.Base{ID: "Zone.z", Modified: saved.LastModified()}, Level: 3}},
		{"placeholder", &models.Zone{Base: models.Base{ID: "Zone.z", Placeholder: true}}},
	}
	for _, tt := range tests {
		applied, err := db.ApplyUpsert(ctx, tt.in)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if applied {
			t.Errorf("%s: applied over a newer local copy", tt.name)
		}
	}
	got, _ := db.Get(ctx, "Zone.z")
	if z := got.(*models.Zone); z.Level != 99 || z.IsPlaceholder() || !z.LastModified().Equal(saved.LastModified()) {
		t.Errorf("local copy changed: %+v", z)
	}

	newer := &models.Zone{Base: models.Base{ID: "Zone.z", Modified: saved.LastModified().Add(time.Second)}, Level: 4}
	if applied, err := db.ApplyUpsert(ctx, newer); err != nil || !applied {
		t.Fatalf("newer record: applied=%v err=%v", applied, err)
	}
	got, _ = db.Get(ctx, "Zone.z")
	if z := got.(*models.Zone); z.Level != 4 {
		t.Errorf("level: got %d, want 4", z.Level)
	}
}

func TestFindByParent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ts := time.Unix(100, 0)

	for _, e := range []models.Entity{
		&models.Area{Base: models.Base{ID: "Area.a", Modified: ts}, ZoneID: "Zone.z"},
		&models.Cell{Base: models.Base{ID: "Cell.c1", Modified: ts}, ZoneID: "Zone.z", AreaID: "Area.a"},
		&models.Cell{Base: models.Base{ID: "Cell.c2", Modified: ts}, ZoneID: "Zone.z"},
		&models.Beacon{Base: models.Base{ID: "Beacon.b", Modified: ts}, CellID: "Cell.c1"},
	} {
		if _, err := db.ApplyUpsert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		parent models.Identity
		want   int
	}{
		{"Zone.z", 3},
		{"Area.a", 1},
		{"Cell.c1", 1},
		{"Cell.c2", 0},
		{"Beacon.b", 0},
	}
	for _, tt := range tests {
		got, err := db.FindByParent(ctx, tt.parent)
		if err != nil {
			t.Fatalf("%s: %v", tt.parent, err)
		}
		if len(got) != tt.want {
			t.Errorf("%s: got %d children, want %d", tt.parent, len(got), tt.want)
		}
	}
}

func TestSaveStampsAndQueues(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return fixed }

	z := &models.Zone{Base: models.Base{ID: "Zone.z"}, Level: 1}
	if err := db.Save(ctx, z); err != nil {
		t.Fatal(err)
	}
	if !z.LastModified().Equal(fixed) {
		t.Errorf("stamp: got %v, want %v", z.LastModified(), fixed)
	}

	// Same clock reading again must still move forward.
	z.Level = 2
	if err := db.Save(ctx, z); err != nil {
		t.Fatal(err)
	}
	if !z.LastModified().After(fixed) {
		t.Errorf("second save should advance lastModified, got %v", z.LastModified())
	}

	cs, err := db.ChangedIdentities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Upserted) != 1 || cs.Upserted[0] != "Zone.z" || len(cs.Deleted) != 0 {
		t.Errorf("change set: %+v", cs)
	}
}

func TestSaveRejectsBadReferences(t *testing.T) {
	db := newTestDB(t)
	err := db.Save(context.Background(), &models.Beacon{Base: models.Base{ID: "Beacon.b"}})
	if !errors.Is(err, models.ErrInvalidReference) {
		t.Fatalf("got %v, want ErrInvalidReference", err)
	}
}

func TestDeleteQueuesDeletion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Save(ctx, &models.Zone{Base: models.Base{ID: "Zone.z"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete(ctx, "Zone.z"); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete(ctx, "Zone.z"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}

	cs, _ := db.ChangedIdentities(ctx)
	if len(cs.Deleted) != 1 || len(cs.Upserted) != 0 {
		t.Errorf("change set: %+v", cs)
	}
}

func TestAcknowledgeKeepsNewerEdits(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := &models.Zone{Base: models.Base{ID: "Zone.a"}}
	b := &models.Zone{Base: models.Base{ID: "Zone.b"}}
	for _, z := range []*models.Zone{a, b} {
		if err := db.Save(ctx, z); err != nil {
			t.Fatal(err)
		}
	}
	cs, _ := db.ChangedIdentities(ctx)

	// Edit a after the change-set was read.
	a.Level = 9
	if err := db.Save(ctx, a); err != nil {
		t.Fatal(err)
	}

	if err := db.Acknowledge(ctx, cs.Upserted, cs.Through); err != nil {
		t.Fatal(err)
	}
	left, _ := db.ChangedIdentities(ctx)
	if len(left.Upserted) != 1 || left.Upserted[0] != "Zone.a" {
		t.Errorf("pending after ack: got %+v, want only Zone.a", left)
	}
}

func TestApplyDeleteDropsPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.Save(ctx, &models.Zone{Base: models.Base{ID: "Zone.z"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.ApplyDelete(ctx, "Zone.z"); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.CountPending(ctx); n != 0 {
		t.Errorf("pending: got %d, want 0", n)
	}
	if e, _ := db.Get(ctx, "Zone.z"); e != nil {
		t.Errorf("entity still present: %v", e)
	}
}

func TestPlaceholdersCounted(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p, _ := models.NewPlaceholder("Area.a")
	if _, err := db.ApplyUpsert(ctx, p); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.CountPlaceholders(ctx); n != 1 {
		t.Fatalf("placeholders: got %d, want 1", n)
	}

	area := &models.Area{Base: models.Base{ID: "Area.a", Modified: time.Unix(10, 0)}, ZoneID: "Zone.z", Name: "Hall"}
	if _, err := db.ApplyUpsert(ctx, area); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.CountPlaceholders(ctx); n != 0 {
		t.Errorf("placeholders after enrich: got %d, want 0", n)
	}
	areas, _ := db.List(ctx, models.KindArea)
	if len(areas) != 1 {
		t.Errorf("areas: got %d, want 1", len(areas))
	}
}

func TestFullSyncMarker(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	got, err := db.LastFullSyncAt(ctx)
	if err != nil || !got.IsZero() {
		t.Fatalf("fresh store: got %v, %v", got, err)
	}
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := db.MarkFullSync(ctx, at); err != nil {
		t.Fatal(err)
	}
	got, _ = db.LastFullSyncAt(ctx)
	if !got.Equal(at) {
		t.Errorf("got %v, want %v", got, at)
	}
}
