package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// WireRecord is the transport-agnostic representation of an entity exchanged
// with the remote store. The engine only looks at identity, kind, timestamp and
// parent; attributes are opaque to it.
type WireRecord struct {
	Identity     Identity       `json:"identity"`
	Kind         Kind           `json:"kind"`
	LastModified time.Time      `json:"last_modified"`
	Parent       Identity       `json:"parent,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// Validate rejects malformed records: bad identity, unknown kind, or a kind
// that disagrees with the identity prefix.
func (w WireRecord) Validate() error {
	if err := w.Identity.Validate(); err != nil {
		return err
	}
	if w.Kind != w.Identity.Kind() {
		return fmt.Errorf("kind %q does not match identity %q", w.Kind, w.Identity)
	}
	if w.Parent != "" {
		if err := w.Parent.Validate(); err != nil {
			return fmt.Errorf("parent: %w", err)
		}
	}
	if w.LastModified.IsZero() {
		return fmt.Errorf("last_modified is required for %s", w.Identity)
	}
	return nil
}

// Reason describes why a remote change notification was sent.
type Reason string

const (
	ReasonCreated Reason = "created"
	ReasonUpdated Reason = "updated"
	ReasonDeleted Reason = "deleted"
)

// Notification is a single "entity changed" event from the remote store.
type Notification struct {
	Identity Identity `json:"identity"`
	Reason   Reason   `json:"reason"`
}

// --- attribute decoding helpers ---
// Attributes arrive either as Go values (in-process) or as decoded JSON
// (float64 numbers, base64 strings for bytes).

func attrString(attrs map[string]any, key string) string {
	switch v := attrs[key].(type) {
	case string:
		return v
	case Identity:
		return string(v)
	case CellKind:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func attrInt(attrs map[string]any, key string) (int, error) {
	switch v := attrs[key].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("attribute %s: %v is not an integer", key, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("attribute %s: %w", key, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("attribute %s: unexpected type %T", key, v)
	}
}

func attrBytes(attrs map[string]any, key string) ([]byte, error) {
	switch v := attrs[key].(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", key, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("attribute %s: unexpected type %T", key, v)
	}
}

// ChangeSet lists identities changed locally since the last acknowledged
// upload. Through is the highest change sequence it covers and is handed
// back when acknowledging.
type ChangeSet struct {
	Upserted []Identity
	Deleted  []Identity
	Through  int64
}

// Empty reports whether there is nothing to upload.
func (c ChangeSet) Empty() bool {
	return len(c.Upserted) == 0 && len(c.Deleted) == 0
}
