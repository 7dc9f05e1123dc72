package models

import (
	"errors"
	"fmt"
	"time"
)

// Entity is the capability every synchronized kind implements: it can be
// serialized to a wire record, report its references, and absorb a winning
// remote version.
type Entity interface {
	Identity() Identity
	Kind() Kind
	LastModified() time.Time
	SetLastModified(t time.Time)
	// ParentIdentity is the owning entity, or "" for top-level kinds.
	ParentIdentity() Identity
	// References lists every entity this one points at, primary parent first.
	References() []Identity
	IsPlaceholder() bool
	ToWire() WireRecord
	ApplyWire(w WireRecord) error
}

// Base carries the attributes common to every kind.
type Base struct {
	ID          Identity  `json:"identity"`
	Modified    time.Time `json:"last_modified"`
	Placeholder bool      `json:"placeholder,omitempty"`
}

func (b *Base) Identity() Identity          { return b.ID }
func (b *Base) LastModified() time.Time     { return b.Modified }
func (b *Base) SetLastModified(t time.Time) { b.Modified = t }
func (b *Base) IsPlaceholder() bool         { return b.Placeholder }

func (b *Base) applyBase(w WireRecord, want Kind) error {
	if w.Kind != want {
		return fmt.Errorf("apply %s record to %s", w.Kind, want)
	}
	if b.ID != "" && b.ID != w.Identity {
		return fmt.Errorf("apply %s onto %s: identity mismatch", w.Identity, b.ID)
	}
	b.ID = w.Identity
	b.Modified = w.LastModified
	b.Placeholder = false
	return nil
}

func (b *Base) wire(k Kind, parent Identity, attrs map[string]any) WireRecord {
	return WireRecord{
		Identity:     b.ID,
		Kind:         k,
		LastModified: b.Modified,
		Parent:       parent,
		Attributes:   attrs,
	}
}

// Zone is a top-level container (a building floor).
type Zone struct {
	Base
	Level int    `json:"level"`
	Image []byte `json:"image,omitempty"`
}

func (z *Zone) Kind() Kind               { return KindZone }
func (z *Zone) ParentIdentity() Identity { return "" }
func (z *Zone) References() []Identity   { return nil }

func (z *Zone) ToWire() WireRecord {
	return z.wire(KindZone, "", map[string]any{
		"level": z.Level,
		"image": z.Image,
	})
}

func (z *Zone) ApplyWire(w WireRecord) error {
	if err := z.applyBase(w, KindZone); err != nil {
		return err
	}
	level, err := attrInt(w.Attributes, "level")
	if err != nil {
		return err
	}
	img, err := attrBytes(w.Attributes, "image")
	if err != nil {
		return err
	}
	z.Level, z.Image = level, img
	return nil
}

// Area is a room belonging to a zone.
type Area struct {
	Base
	ZoneID Identity `json:"zone,omitempty"`
	Name   string   `json:"name"`
}

func (a *Area) Kind() Kind               { return KindArea }
func (a *Area) ParentIdentity() Identity { return a.ZoneID }

func (a *Area) References() []Identity {
	if a.ZoneID == "" {
		return nil
	}
	return []Identity{a.ZoneID}
}

func (a *Area) ToWire() WireRecord {
	return a.wire(KindArea, a.ZoneID, map[string]any{
		"name": a.Name,
		"zone": string(a.ZoneID),
	})
}

func (a *Area) ApplyWire(w WireRecord) error {
	if err := a.applyBase(w, KindArea); err != nil {
		return err
	}
	a.Name = attrString(w.Attributes, "name")
	a.ZoneID = Identity(attrString(w.Attributes, "zone"))
	if a.ZoneID == "" {
		a.ZoneID = w.Parent
	}
	return nil
}

// Cell is a grid tile. It always belongs to a zone and to at most one area.
type Cell struct {
	Base
	ZoneID Identity `json:"zone,omitempty"`
	AreaID Identity `json:"area,omitempty"`
	Row    int      `json:"row"`
	Col    int      `json:"col"`
	Type   CellKind `json:"kind"`
}

func (c *Cell) Kind() Kind { return KindCell }

// ParentIdentity is the owning area when the cell has one, otherwise its zone.
func (c *Cell) ParentIdentity() Identity {
	if c.AreaID != "" {
		return c.AreaID
	}
	return c.ZoneID
}

func (c *Cell) References() []Identity {
	var refs []Identity
	if c.AreaID != "" {
		refs = append(refs, c.AreaID)
	}
	if c.ZoneID != "" {
		refs = append(refs, c.ZoneID)
	}
	return refs
}

func (c *Cell) ToWire() WireRecord {
	return c.wire(KindCell, c.ParentIdentity(), map[string]any{
		"row":  c.Row,
		"col":  c.Col,
		"kind": string(c.Type),
		"zone": string(c.ZoneID),
		"area": string(c.AreaID),
	})
}

func (c *Cell) ApplyWire(w WireRecord) error {
	if err := c.applyBase(w, KindCell); err != nil {
		return err
	}
	row, err := attrInt(w.Attributes, "row")
	if err != nil {
		return err
	}
	col, err := attrInt(w.Attributes, "col")
	if err != nil {
		return err
	}
	kind, err := ParseCellKind(attrString(w.Attributes, "kind"))
	if err != nil {
		return err
	}
	c.Row, c.Col, c.Type = row, col, kind
	c.ZoneID = Identity(attrString(w.Attributes, "zone"))
	c.AreaID = Identity(attrString(w.Attributes, "area"))
	if c.ZoneID == "" && c.AreaID == "" && w.Parent != "" {
		switch w.Parent.Kind() {
		case KindArea:
			c.AreaID = w.Parent
		case KindZone:
			c.ZoneID = w.Parent
		}
	}
	return nil
}

// Beacon is a wireless access point reading taken on a cell.
type Beacon struct {
	Base
	CellID         Identity `json:"cell,omitempty"`
	MACAddress     string   `json:"mac_address"`
	SignalStrength int      `json:"signal_strength"`
}

func (b *Beacon) Kind() Kind               { return KindBeacon }
func (b *Beacon) ParentIdentity() Identity { return b.CellID }

func (b *Beacon) References() []Identity {
	if b.CellID == "" {
		return nil
	}
	return []Identity{b.CellID}
}

func (b *Beacon) ToWire() WireRecord {
	return b.wire(KindBeacon, b.CellID, map[string]any{
		"mac_address":     b.MACAddress,
		"signal_strength": b.SignalStrength,
		"cell":            string(b.CellID),
	})
}

func (b *Beacon) ApplyWire(w WireRecord) error {
	if err := b.applyBase(w, KindBeacon); err != nil {
		return err
	}
	rssi, err := attrInt(w.Attributes, "signal_strength")
	if err != nil {
		return err
	}
	b.MACAddress = attrString(w.Attributes, "mac_address")
	b.SignalStrength = rssi
	b.CellID = Identity(attrString(w.Attributes, "cell"))
	if b.CellID == "" {
		b.CellID = w.Parent
	}
	return nil
}

// New returns an empty entity of the given kind with the identity set.
func New(id Identity) (Entity, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	base := Base{ID: id}
	switch id.Kind() {
	case KindZone:
		return &Zone{Base: base}, nil
	case KindArea:
		return &Area{Base: base}, nil
	case KindCell:
		return &Cell{Base: base, Type: CellSpace}, nil
	default:
		return &Beacon{Base: base}, nil
	}
}

// NewPlaceholder builds a minimal stand-in for a referenced entity that has
// not arrived locally yet. Only the identity is set.
func NewPlaceholder(id Identity) (Entity, error) {
	e, err := New(id)
	if err != nil {
		return nil, err
	}
	switch v := e.(type) {
	case *Zone:
		v.Placeholder = true
	case *Area:
		v.Placeholder = true
	case *Cell:
		v.Placeholder = true
	case *Beacon:
		v.Placeholder = true
	}
	return e, nil
}

// EntityFromWire decodes a wire record into its concrete entity type.
func EntityFromWire(w WireRecord) (Entity, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	e, err := New(w.Identity)
	if err != nil {
		return nil, err
	}
	if err := e.ApplyWire(w); err != nil {
		return nil, fmt.Errorf("decode %s: %w", w.Identity, err)
	}
	return e, nil
}

// ErrInvalidReference reports a missing or mistyped parent reference.
var ErrInvalidReference = errors.New("invalid reference")

// CheckReferences verifies that a non-placeholder entity points at parents of
// the right kinds. A Cell needs a Zone; its Area is optional.
func CheckReferences(e Entity) error {
	if e.IsPlaceholder() {
		return nil
	}
	want := func(id Identity, k Kind, required bool) error {
		if id == "" {
			if required {
				return fmt.Errorf("%w: %s needs a %s", ErrInvalidReference, e.Identity(), k)
			}
			return nil
		}
		if id.Kind() != k {
			return fmt.Errorf("%w: %s references %s, want a %s", ErrInvalidReference, e.Identity(), id, k)
		}
		return nil
	}
	switch v := e.(type) {
	case *Area:
		return want(v.ZoneID, KindZone, true)
	case *Cell:
		if err := want(v.ZoneID, KindZone, true); err != nil {
			return err
		}
		return want(v.AreaID, KindArea, false)
	case *Beacon:
		return want(v.CellID, KindCell, true)
	}
	return nil
}
