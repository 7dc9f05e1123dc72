// Package layout imports building layouts described in YAML. Every entity in
// a layout is created in the local store as a user mutation, so it is queued
// for upload like any hand-made edit.
package layout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marcus/navsync/internal/models"
)

// Layout is a YAML document of zones and everything they contain.
type Layout struct {
	Zones []ZoneSpec `yaml:"zones"`
}

// ZoneSpec describes one floor. Image is a file path, relative to the layout
// file, of the floor plan.
type ZoneSpec struct {
	ID    string     `yaml:"id,omitempty"`
	Level int        `yaml:"level"`
	Image string     `yaml:"image,omitempty"`
	Areas []AreaSpec `yaml:"areas,omitempty"`
	Cells []CellSpec `yaml:"cells,omitempty"`
}

type AreaSpec struct {
	ID   string `yaml:"id,omitempty"`
	Name string `yaml:"name"`
}

// CellSpec places a grid tile. Area names an area of the same zone by name
// or identity.
type CellSpec struct {
	ID      string       `yaml:"id,omitempty"`
	Row     int          `yaml:"row"`
	Col     int          `yaml:"col"`
	Kind    string       `yaml:"kind,omitempty"`
	Area    string       `yaml:"area,omitempty"`
	Beacons []BeaconSpec `yaml:"beacons,omitempty"`
}

type BeaconSpec struct {
	ID     string `yaml:"id,omitempty"`
	MAC    string `yaml:"mac"`
	Signal int    `yaml:"signal"`
}

// Saver stores an entity created by user action.
type Saver interface {
	Save(ctx context.Context, e models.Entity) error
}

// Result counts imported entities per kind.
type Result struct {
	Created map[models.Kind]int
	Total   int
}

// Parse decodes a layout document. Unknown fields are rejected.
func Parse(r io.Reader) (*Layout, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var l Layout
	if err := dec.Decode(&l); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("layout is empty")
		}
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	return &l, nil
}

// Load reads and parses a layout file.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

func identity(raw string, k models.Kind) (models.Identity, error) {
	if raw == "" {
		return models.NewIdentity(k), nil
	}
	id := models.Identity(raw)
	if err := id.Validate(); err != nil {
		return "", err
	}
	if id.Kind() != k {
		return "", fmt.Errorf("identity %s is not a %s", id, k)
	}
	return id, nil
}

// Entities expands the layout into entities, parents before children.
// baseDir resolves zone image paths.
func (l *Layout) Entities(baseDir string) ([]models.Entity, error) {
	if len(l.Zones) == 0 {
		return nil, errors.New("layout has no zones")
	}
	var out []models.Entity
	seen := make(map[models.Identity]bool)
	add := func(e models.Entity) error {
		if seen[e.Identity()] {
			return fmt.Errorf("duplicate identity %s", e.Identity())
		}
		seen[e.Identity()] = true
		out = append(out, e)
		return nil
	}

	for zi, zs := range l.Zones {
		zid, err := identity(zs.ID, models.KindZone)
		if err != nil {
			return nil, fmt.Errorf("zone %d: %w", zi, err)
		}
		zone := &models.Zone{Base: models.Base{ID: zid}, Level: zs.Level}
		if zs.Image != "" {
			path := zs.Image
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			if zone.Image, err = os.ReadFile(path); err != nil {
				return nil, fmt.Errorf("zone %d image: %w", zi, err)
			}
		}
		if err := add(zone); err != nil {
			return nil, err
		}

		areas := make(map[string]models.Identity)
		for ai, as := range zs.Areas {
			name := strings.TrimSpace(as.Name)
			if name == "" {
				return nil, fmt.Errorf("zone %d area %d: name is required", zi, ai)
			}
			if _, dup := areas[name]; dup {
				return nil, fmt.Errorf("zone %d: duplicate area %q", zi, name)
			}
			aid, err := identity(as.ID, models.KindArea)
			if err != nil {
				return nil, fmt.Errorf("zone %d area %q: %w", zi, name, err)
			}
			areas[name] = aid
			areas[string(aid)] = aid
			if err := add(&models.Area{Base: models.Base{ID: aid}, ZoneID: zid, Name: name}); err != nil {
				return nil, err
			}
		}

		type pos struct{ row, col int }
		cells := make(map[pos]bool)
		var beacons []models.Entity
		for ci, cs := range zs.Cells {
			if cs.Row < 0 || cs.Col < 0 {
				return nil, fmt.Errorf("zone %d cell %d: negative position", zi, ci)
			}
			p := pos{cs.Row, cs.Col}
			if cells[p] {
				return nil, fmt.Errorf("zone %d: two cells at (%d,%d)", zi, cs.Row, cs.Col)
			}
			cells[p] = true
			kind, err := models.ParseCellKind(cs.Kind)
			if err != nil {
				return nil, fmt.Errorf("zone %d cell (%d,%d): %w", zi, cs.Row, cs.Col, err)
			}
			cid, err := identity(cs.ID, models.KindCell)
			if err != nil {
				return nil, fmt.Errorf("zone %d cell (%d,%d): %w", zi, cs.Row, cs.Col, err)
			}
			cell := &models.Cell{Base: models.Base{ID: cid}, ZoneID: zid, Row: cs.Row, Col: cs.Col, Type: kind}
			if cs.Area != "" {
				aid, ok := areas[cs.Area]
				if !ok {
					return nil, fmt.Errorf("zone %d cell (%d,%d): unknown area %q", zi, cs.Row, cs.Col, cs.Area)
				}
				cell.AreaID = aid
			}
			if err := add(cell); err != nil {
				return nil, err
			}
			for bi, bs := range cs.Beacons {
				if strings.TrimSpace(bs.MAC) == "" {
					return nil, fmt.Errorf("zone %d cell (%d,%d) beacon %d: mac is required", zi, cs.Row, cs.Col, bi)
				}
				bid, err := identity(bs.ID, models.KindBeacon)
				if err != nil {
					return nil, fmt.Errorf("zone %d cell (%d,%d) beacon %d: %w", zi, cs.Row, cs.Col, bi, err)
				}
				beacons = append(beacons, &models.Beacon{
					Base:           models.Base{ID: bid},
					CellID:         cid,
					MACAddress:     strings.ToLower(strings.TrimSpace(bs.MAC)),
					SignalStrength: bs.Signal,
				})
			}
		}
		for _, b := range beacons {
			if err := add(b); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Import saves every entity of the layout through s. The whole layout is
// validated before the first save. On a save error the entities saved so
// far stay in the store and the count is returned with the error.
func Import(ctx context.Context, s Saver, l *Layout, baseDir string) (Result, error) {
	res := Result{Created: make(map[models.Kind]int)}
	entities, err := l.Entities(baseDir)
	if err != nil {
		return res, err
	}
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.Save(ctx, e); err != nil {
			return res, fmt.Errorf("save %s: %w", e.Identity(), err)
		}
		res.Created[e.Kind()]++
		res.Total++
	}
	return res, nil
}
