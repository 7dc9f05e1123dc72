package serverdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/sync"
)

// MaxPageSize caps the records returned by one QueryRecords call.
const MaxPageSize = sync.PageSize

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = sync.ErrNotFound

func scanRecord(sc interface{ Scan(...any) error }) (models.WireRecord, error) {
	var (
		w      models.WireRecord
		nanos  int64
		parent string
		attrs  string
	)
	if err := sc.Scan(&w.Identity, &w.Kind, &nanos, &parent, &attrs); err != nil {
		return w, err
	}
	w.LastModified = time.Unix(0, nanos).UTC()
	w.Parent = models.Identity(parent)
	if attrs != "" && attrs != "{}" {
		if err := json.Unmarshal([]byte(attrs), &w.Attributes); err != nil {
			return w, fmt.Errorf("decode attributes of %s: %w", w.Identity, err)
		}
	}
	return w, nil
}

// GetRecord returns the stored copy of id.
func (db *ServerDB) GetRecord(ctx context.Context, id models.Identity) (models.WireRecord, error) {
	return getRecord(ctx, db.conn, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q queryer, id models.Identity) (models.WireRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT identity, kind, last_modified, parent, attributes FROM records WHERE identity = ?`, id)
	w, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WireRecord{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.WireRecord{}, fmt.Errorf("get %s: %w", id, err)
	}
	return w, nil
}

// QueryRecords returns one page of records of kind, ordered by identity and
// starting after cursor. The returned cursor is empty on the last page.
func (db *ServerDB) QueryRecords(ctx context.Context, kind models.Kind, cursor string, limit int) (sync.Page, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT identity, kind, last_modified, parent, attributes FROM records
		WHERE kind = ? AND identity > ?
		ORDER BY identity LIMIT ?
	`, kind, cursor, limit+1)
	if err != nil {
		return sync.Page{}, fmt.Errorf("query %s: %w", kind, err)
	}
	defer rows.Close()

	page := sync.Page{Records: []models.WireRecord{}}
	for rows.Next() {
		w, err := scanRecord(rows)
		if err != nil {
			return sync.Page{}, fmt.Errorf("query %s: %w", kind, err)
		}
		page.Records = append(page.Records, w)
	}
	if err := rows.Err(); err != nil {
		return sync.Page{}, fmt.Errorf("query %s: iterate: %w", kind, err)
	}
	if len(page.Records) > limit {
		page.Records = page.Records[:limit]
		page.NextCursor = string(page.Records[limit-1].Identity)
	}
	return page, nil
}

// CountRecords returns the number of stored records per kind.
func (db *ServerDB) CountRecords(ctx context.Context) (map[models.Kind]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT kind, COUNT(*) FROM records GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()
	counts := make(map[models.Kind]int)
	for rows.Next() {
		var k models.Kind
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, fmt.Errorf("count records: %w", err)
		}
		counts[k] = n
	}
	return counts, rows.Err()
}

// ApplyBatch applies a batch in a single transaction and reports a result for
// every operation. Under changed_keys a record older than the stored copy is
// a conflict and newer ones merge their attributes over the stored ones;
// under all_keys the record replaces the stored copy. Deleting an absent
// record succeeds. The returned notifications describe the changes that took
// effect, in batch order.
func (db *ServerDB) ApplyBatch(ctx context.Context, req sync.BatchRequest, deviceID string) (*sync.BatchResult, []models.Notification, error) {
	if !req.SavePolicy.Valid() {
		return nil, nil, fmt.Errorf("save policy %q: %w", req.SavePolicy, sync.ErrInvalidArgument)
	}
	if req.Ops() > sync.BatchLimit {
		return nil, nil, fmt.Errorf("batch of %d operations: %w", req.Ops(), sync.ErrLimitExceeded)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	res := &sync.BatchResult{Results: make([]sync.RecordResult, 0, req.Ops())}
	var notes []models.Notification
	for _, w := range req.Records {
		r, note, err := applyRecord(ctx, tx, req.SavePolicy, w, deviceID)
		if err != nil {
			return nil, nil, err
		}
		if r.Status == sync.StatusInvalid {
			res.PartialFailure = true
		}
		if note != nil {
			notes = append(notes, *note)
		}
		res.Results = append(res.Results, r)
	}
	for _, id := range req.Deletes {
		if err := id.Validate(); err != nil {
			res.PartialFailure = true
			res.Results = append(res.Results, sync.RecordResult{Identity: id, Status: sync.StatusInvalid, Message: err.Error()})
			continue
		}
		out, err := tx.ExecContext(ctx, `DELETE FROM records WHERE identity = ?`, id)
		if err != nil {
			return nil, nil, fmt.Errorf("delete %s: %w", id, err)
		}
		if n, _ := out.RowsAffected(); n > 0 {
			notes = append(notes, models.Notification{Identity: id, Reason: models.ReasonDeleted})
		}
		res.Results = append(res.Results, sync.RecordResult{Identity: id, Status: sync.StatusDeleted})
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit batch: %w", err)
	}
	return res, notes, nil
}

func applyRecord(ctx context.Context, tx *sql.Tx, policy sync.SavePolicy, w models.WireRecord, deviceID string) (sync.RecordResult, *models.Notification, error) {
	result := sync.RecordResult{Identity: w.Identity, Status: sync.StatusSaved}
	invalid := func(err error) (sync.RecordResult, *models.Notification, error) {
		result.Status = sync.StatusInvalid
		result.Message = err.Error()
		return result, nil, nil
	}
	if err := w.Validate(); err != nil {
		return invalid(err)
	}

	cur, err := getRecord(ctx, tx, w.Identity)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return result, nil, err
	}

	if exists && policy == sync.SaveChangedKeys {
		if cur.LastModified.After(w.LastModified) {
			result.Status = sync.StatusConflict
			result.ServerModified = cur.LastModified
			return result, nil, nil
		}
		merged := maps.Clone(cur.Attributes)
		if merged == nil {
			merged = make(map[string]any, len(w.Attributes))
		}
		maps.Copy(merged, w.Attributes)
		w.Attributes = merged
	}

	// The stored copy must still decode into an entity whose parents are of
	// the right kinds.
	ent, err := models.EntityFromWire(w)
	if err != nil {
		return invalid(err)
	}
	if err := models.CheckReferences(ent); err != nil {
		return invalid(err)
	}

	attrs, err := json.Marshal(w.Attributes)
	if err != nil {
		return invalid(fmt.Errorf("encode attributes: %w", err))
	}
	if w.Attributes == nil {
		attrs = []byte("{}")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (identity, kind, last_modified, parent, attributes, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			kind = excluded.kind,
			last_modified = excluded.last_modified,
			parent = excluded.parent,
			attributes = excluded.attributes,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`, w.Identity, w.Kind, w.LastModified.UnixNano(), string(w.Parent), string(attrs), deviceID, time.Now().UTC())
	if err != nil {
		return result, nil, fmt.Errorf("save %s: %w", w.Identity, err)
	}

	reason := models.ReasonCreated
	if exists {
		reason = models.ReasonUpdated
	}
	return result, &models.Notification{Identity: w.Identity, Reason: reason}, nil
}
