package sync

import (
	"context"
	"sort"
	gosync "sync"
	"testing"
	"time"

	"github.com/marcus/navsync/internal/db"
	"github.com/marcus/navsync/internal/models"
)

// fakeRemote is an in-memory remote store with the server's save-policy
// rules and hooks for injecting failures.
type fakeRemote struct {
	mu       gosync.Mutex
	records  map[models.Identity]models.WireRecord
	batches  []BatchRequest
	pageSize int
	queries  []models.Kind

	pingErr  error
	batchErr error
	failOnce map[models.Identity]bool
	subs     chan models.Notification
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records:  make(map[models.Identity]models.WireRecord),
		failOnce: make(map[models.Identity]bool),
		pageSize: PageSize,
	}
}

func (r *fakeRemote) put(ws ...models.WireRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range ws {
		r.records[w.Identity] = w
	}
}

func (r *fakeRemote) get(id models.Identity) (models.WireRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.records[id]
	return w, ok
}

func (r *fakeRemote) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *fakeRemote) Ping(context.Context) error { return r.pingErr }

func (r *fakeRemote) Query(_ context.Context, k models.Kind, cursor string) (Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, k)

	var ids []string
	for id := range r.records {
		if id.Kind() == k && string(id) > cursor {
			ids = append(ids, string(id))
		}
	}
	sort.Strings(ids)

	var p Page
	for i, id := range ids {
		if i == r.pageSize {
			p.NextCursor = ids[i-1]
			break
		}
		p.Records = append(p.Records, r.records[models.Identity(id)])
	}
	return p, nil
}

func (r *fakeRemote) Fetch(_ context.Context, id models.Identity) (models.WireRecord, error) {
	w, ok := r.get(id)
	if !ok {
		return models.WireRecord{}, ErrNotFound
	}
	return w, nil
}

func (r *fakeRemote) BatchUpsertAndDelete(_ context.Context, req BatchRequest) (*BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, req)
	if r.batchErr != nil {
		return nil, r.batchErr
	}

	res := &BatchResult{}
	for _, w := range req.Records {
		if r.failOnce[w.Identity] {
			delete(r.failOnce, w.Identity)
			res.PartialFailure = true
			res.Results = append(res.Results, RecordResult{Identity: w.Identity, Status: StatusFailed})
			continue
		}
		if err := w.Validate(); err != nil {
			res.PartialFailure = true
			res.Results = append(res.Results, RecordResult{Identity: w.Identity, Status: StatusInvalid, Message: err.Error()})
			continue
		}
		cur, ok := r.records[w.Identity]
		if ok && req.SavePolicy == SaveChangedKeys && cur.LastModified.After(w.LastModified) {
			res.Results = append(res.Results, RecordResult{Identity: w.Identity, Status: StatusConflict, ServerModified: cur.LastModified})
			continue
		}
		r.records[w.Identity] = w
		res.Results = append(res.Results, RecordResult{Identity: w.Identity, Status: StatusSaved})
	}
	for _, id := range req.Deletes {
		delete(r.records, id)
		res.Results = append(res.Results, RecordResult{Identity: id, Status: StatusDeleted})
	}
	return res, nil
}

func (r *fakeRemote) Subscribe(context.Context, []models.Kind) (<-chan models.Notification, error) {
	return r.subs, nil
}

// memCache is an in-memory retry cache.
type memCache struct {
	mu  gosync.Mutex
	ids []models.Identity
}

func (c *memCache) Enqueue(_ context.Context, id models.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, x := range c.ids {
		if x == id {
			return nil
		}
	}
	c.ids = append(c.ids, id)
	return nil
}

func (c *memCache) Drain(context.Context) ([]models.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.ids
	c.ids = nil
	return out, nil
}

func (c *memCache) snapshot() []models.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Identity(nil), c.ids...)
}

// recRelay records every relayed event.
type recRelay struct {
	mu       gosync.Mutex
	progress []float64
	kinds    []models.Kind
	logs     []string
}

func (r *recRelay) OnProgress(f float64) {
	r.mu.Lock()
	r.progress = append(r.progress, f)
	r.mu.Unlock()
}

func (r *recRelay) OnEntityKindChanged(k models.Kind) {
	r.mu.Lock()
	r.kinds = append(r.kinds, k)
	r.mu.Unlock()
}

func (r *recRelay) OnLog(msg string) {
	r.mu.Lock()
	r.logs = append(r.logs, msg)
	r.mu.Unlock()
}

func (r *recRelay) kindsSeen() []models.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Kind(nil), r.kinds...)
}

type harness struct {
	engine *Engine
	local  *db.DB
	remote *fakeRemote
	cache  *memCache
	relay  *recRelay
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	local, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("init local store: %v", err)
	}
	h := &harness{local: local, remote: newFakeRemote(), cache: &memCache{}, relay: &recRelay{}}
	h.engine, err = New(Config{Local: local, Remote: h.remote, Cache: h.cache, Relay: h.relay})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() {
		h.engine.Close()
		local.Close()
	})
	return h
}

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func zone(id string, sec int64, level int) *models.Zone {
	return &models.Zone{Base: models.Base{ID: models.Identity(id), Modified: at(sec)}, Level: level}
}

func area(id, zoneID string, sec int64) *models.Area {
	return &models.Area{Base: models.Base{ID: models.Identity(id), Modified: at(sec)}, ZoneID: models.Identity(zoneID), Name: id}
}

func cell(id, zoneID, areaID string, sec int64) *models.Cell {
	return &models.Cell{
		Base:   models.Base{ID: models.Identity(id), Modified: at(sec)},
		ZoneID: models.Identity(zoneID), AreaID: models.Identity(areaID), Type: models.CellSpace,
	}
}

func beacon(id, cellID string, sec int64) *models.Beacon {
	return &models.Beacon{Base: models.Base{ID: models.Identity(id), Modified: at(sec)}, CellID: models.Identity(cellID), MACAddress: "00:11", SignalStrength: -50}
}

func (h *harness) seedLocal(t *testing.T, es ...models.Entity) {
	t.Helper()
	for _, e := range es {
		if _, err := h.local.ApplyUpsert(context.Background(), e); err != nil {
			t.Fatalf("seed %s: %v", e.Identity(), err)
		}
	}
}

func (h *harness) mustGet(t *testing.T, id models.Identity) models.Entity {
	t.Helper()
	e, err := h.local.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return e
}
