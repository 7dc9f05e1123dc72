// Package models defines the synchronized record model: the four entity kinds
// of the spatial hierarchy (Zone → Area → Cell → Beacon), their identities,
// and the wire representation exchanged with the remote store.
package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind is one of the four synchronized entity kinds.
type Kind string

const (
	KindZone   Kind = "Zone"   // top-level container, e.g. a floor
	KindArea   Kind = "Area"   // a room on a zone
	KindCell   Kind = "Cell"   // a grid tile on a zone
	KindBeacon Kind = "Beacon" // a wireless access point reading on a cell
)

// Kinds returns every entity kind in dependency order (parents before children).
func Kinds() []Kind {
	return []Kind{KindZone, KindArea, KindCell, KindBeacon}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindZone, KindArea, KindCell, KindBeacon:
		return true
	}
	return false
}

// ParseKind accepts a kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind: %q", s)
}

// ErrInvalidIdentity is returned for identities that are not <Kind>.<suffix>.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is the stable, globally unique key of a synchronized entity,
// formed as <Kind>.<uuid>. It is never reassigned.
type Identity string

// NewIdentity generates a fresh identity for the given kind.
func NewIdentity(k Kind) Identity {
	return Identity(string(k) + "." + uuid.NewString())
}

// Kind returns the entity kind encoded in the identity prefix (the substring
// before the first '.'). Unknown prefixes are returned as-is; use Validate.
func (id Identity) Kind() Kind {
	s := string(id)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return Kind(s[:i])
	}
	return Kind(s)
}

// Validate checks the identity has a known kind prefix and a non-empty suffix.
func (id Identity) Validate() error {
	s := string(id)
	i := strings.IndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	if !Kind(s[:i]).Valid() {
		return fmt.Errorf("%w: unknown kind in %q", ErrInvalidIdentity, s)
	}
	return nil
}

func (id Identity) String() string { return string(id) }

// CellKind classifies a grid cell.
type CellKind string

const (
	CellSample     CellKind = "sample"
	CellSpace      CellKind = "space"
	CellWall       CellKind = "wall"
	CellDoor       CellKind = "door"
	CellNavigation CellKind = "navigation"
)

// ParseCellKind validates a cell kind name. Empty maps to CellSpace.
func ParseCellKind(s string) (CellKind, error) {
	switch CellKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", CellSpace:
		return CellSpace, nil
	case CellSample:
		return CellSample, nil
	case CellWall:
		return CellWall, nil
	case CellDoor:
		return CellDoor, nil
	case CellNavigation:
		return CellNavigation, nil
	}
	return "", fmt.Errorf("unknown cell kind: %q", s)
}
