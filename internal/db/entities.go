package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/marcus/navsync/internal/models"
)

// Column lists per kind. Order matches scanEntity.
var columns = map[models.Kind]string{
	models.KindZone:   "id, last_modified, placeholder, level, image",
	models.KindArea:   "id, last_modified, placeholder, zone_id, name",
	models.KindCell:   "id, last_modified, placeholder, zone_id, area_id, row_index, col_index, kind",
	models.KindBeacon: "id, last_modified, placeholder, cell_id, mac_address, signal_strength",
}

func tableFor(k models.Kind) (string, error) {
	switch k {
	case models.KindZone:
		return "zones", nil
	case models.KindArea:
		return "areas", nil
	case models.KindCell:
		return "cells", nil
	case models.KindBeacon:
		return "beacons", nil
	}
	return "", fmt.Errorf("unknown kind %q", k)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(k models.Kind, row scanner) (models.Entity, error) {
	var (
		id          string
		modified    int64
		placeholder bool
	)
	base := func() models.Base {
		return models.Base{ID: models.Identity(id), Modified: fromNanos(modified), Placeholder: placeholder}
	}

	switch k {
	case models.KindZone:
		z := &models.Zone{}
		if err := row.Scan(&id, &modified, &placeholder, &z.Level, &z.Image); err != nil {
			return nil, err
		}
		z.Base = base()
		return z, nil
	case models.KindArea:
		a := &models.Area{}
		var zone string
		if err := row.Scan(&id, &modified, &placeholder, &zone, &a.Name); err != nil {
			return nil, err
		}
		a.Base, a.ZoneID = base(), models.Identity(zone)
		return a, nil
	case models.KindCell:
		c := &models.Cell{}
		var zone, area, kind string
		if err := row.Scan(&id, &modified, &placeholder, &zone, &area, &c.Row, &c.Col, &kind); err != nil {
			return nil, err
		}
		c.Base, c.ZoneID, c.AreaID, c.Type = base(), models.Identity(zone), models.Identity(area), models.CellKind(kind)
		return c, nil
	case models.KindBeacon:
		b := &models.Beacon{}
		var cell string
		if err := row.Scan(&id, &modified, &placeholder, &cell, &b.MACAddress, &b.SignalStrength); err != nil {
			return nil, err
		}
		b.Base, b.CellID = base(), models.Identity(cell)
		return b, nil
	}
	return nil, fmt.Errorf("unknown kind %q", k)
}

// upsertEntity writes e as-is. placeholder overrides the entity's own flag.
func upsertEntity(tx *sql.Tx, e models.Entity, placeholder bool) error {
	id, mod := string(e.Identity()), toNanos(e.LastModified())
	var err error
	switch v := e.(type) {
	case *models.Zone:
		_, err = tx.Exec(`INSERT OR REPLACE INTO zones (`+columns[models.KindZone]+`) VALUES (?, ?, ?, ?, ?)`,
			id, mod, placeholder, v.Level, v.Image)
	case *models.Area:
		_, err = tx.Exec(`INSERT OR REPLACE INTO areas (`+columns[models.KindArea]+`) VALUES (?, ?, ?, ?, ?)`,
			id, mod, placeholder, string(v.ZoneID), v.Name)
	case *models.Cell:
		kind := v.Type
		if kind == "" {
			kind = models.CellSpace
		}
		_, err = tx.Exec(`INSERT OR REPLACE INTO cells (`+columns[models.KindCell]+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, mod, placeholder, string(v.ZoneID), string(v.AreaID), v.Row, v.Col, string(kind))
	case *models.Beacon:
		_, err = tx.Exec(`INSERT OR REPLACE INTO beacons (`+columns[models.KindBeacon]+`) VALUES (?, ?, ?, ?, ?, ?)`,
			id, mod, placeholder, string(v.CellID), v.MACAddress, v.SignalStrength)
	default:
		return fmt.Errorf("unsupported entity %T", e)
	}
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

func getEntity(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id models.Identity) (models.Entity, error) {
	k := id.Kind()
	table, err := tableFor(k)
	if err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx, `SELECT `+columns[k]+` FROM `+table+` WHERE id = ?`, string(id))
	e, err := scanEntity(k, row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return e, nil
}

// Get returns the entity with the given identity, or nil when absent.
func (db *DB) Get(ctx context.Context, id models.Identity) (models.Entity, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return getEntity(ctx, db.conn, id)
}

func (db *DB) queryEntities(ctx context.Context, k models.Kind, where string, args ...any) ([]models.Entity, error) {
	table, err := tableFor(k)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + columns[k] + ` FROM ` + table
	if where != "" {
		query += ` WHERE ` + where
	}
	rows, err := db.conn.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := scanEntity(k, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindByParent returns every entity that references parent. A zone's
// children include the cells placed directly in it as well as its areas.
func (db *DB) FindByParent(ctx context.Context, parent models.Identity) ([]models.Entity, error) {
	if err := parent.Validate(); err != nil {
		return nil, err
	}
	p := string(parent)
	switch parent.Kind() {
	case models.KindZone:
		areas, err := db.queryEntities(ctx, models.KindArea, "zone_id = ?", p)
		if err != nil {
			return nil, err
		}
		cells, err := db.queryEntities(ctx, models.KindCell, "zone_id = ?", p)
		if err != nil {
			return nil, err
		}
		return append(areas, cells...), nil
	case models.KindArea:
		return db.queryEntities(ctx, models.KindCell, "area_id = ?", p)
	case models.KindCell:
		return db.queryEntities(ctx, models.KindBeacon, "cell_id = ?", p)
	}
	return nil, nil
}

// List returns all entities of a kind ordered by identity.
func (db *DB) List(ctx context.Context, k models.Kind) ([]models.Entity, error) {
	return db.queryEntities(ctx, k, "")
}

// CountPlaceholders counts stand-in entities still waiting for their record.
func (db *DB) CountPlaceholders(ctx context.Context) (int, error) {
	var parts []string
	for _, k := range models.Kinds() {
		table, _ := tableFor(k)
		parts = append(parts, `SELECT COUNT(*) AS n FROM `+table+` WHERE placeholder = 1`)
	}
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT SUM(n) FROM (`+strings.Join(parts, " UNION ALL ")+`)`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count placeholders: %w", err)
	}
	return n, nil
}

// ApplyUpsert stores a merged remote entity (or a placeholder) and reports
// whether it was written. The last-write-wins check runs in the same write
// transaction as the insert, so a user edit saved concurrently is never
// replaced by an older record: a real record lands only over nothing, over a
// placeholder, or over an older copy, and a placeholder lands only over
// nothing. It records no pending change.
func (db *DB) ApplyUpsert(ctx context.Context, e models.Entity) (bool, error) {
	if err := e.Identity().Validate(); err != nil {
		return false, err
	}
	applied := false
	err := db.write(ctx, func(tx *sql.Tx) error {
		cur, err := getEntity(ctx, tx, e.Identity())
		if err != nil {
			return err
		}
		if cur != nil {
			if e.IsPlaceholder() {
				return nil
			}
			if !cur.IsPlaceholder() && !e.LastModified().After(cur.LastModified()) {
				return nil
			}
		}
		if err := upsertEntity(tx, e, e.IsPlaceholder()); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// ApplyDelete removes a locally present entity because the remote store
// deleted it. Children are left in place. Any pending local change for the
// identity is dropped with it.
func (db *DB) ApplyDelete(ctx context.Context, id models.Identity) error {
	table, err := tableFor(id.Kind())
	if err != nil {
		return err
	}
	return db.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE id = ?`, string(id)); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		_, err := tx.Exec(`DELETE FROM pending_changes WHERE id = ?`, string(id))
		return err
	})
}
