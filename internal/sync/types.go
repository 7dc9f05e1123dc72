package sync

import (
	"time"

	"github.com/marcus/navsync/internal/models"
)

const (
	// BatchLimit is the remote store's ceiling on operations per batch.
	BatchLimit = 400
	// PageSize is the server-side cap on records per query page.
	PageSize = 500
)

// SavePolicy controls how the remote store applies an upserted record.
type SavePolicy string

const (
	// SaveChangedKeys merges fields and refuses records older than the
	// server copy.
	SaveChangedKeys SavePolicy = "changed_keys"
	// SaveAllKeys overwrites every field unconditionally.
	SaveAllKeys SavePolicy = "all_keys"
)

// Valid reports whether p is a known policy.
func (p SavePolicy) Valid() bool {
	return p == SaveChangedKeys || p == SaveAllKeys
}

// BatchRequest is one batch upsert-and-delete operation.
type BatchRequest struct {
	SavePolicy SavePolicy          `json:"save_policy"`
	Records    []models.WireRecord `json:"records,omitempty"`
	Deletes    []models.Identity   `json:"deletes,omitempty"`
}

// Ops counts the operations in the request.
func (r BatchRequest) Ops() int {
	return len(r.Records) + len(r.Deletes)
}

// RecordStatus is the per-record outcome of a batch.
type RecordStatus string

const (
	StatusSaved    RecordStatus = "saved"
	StatusDeleted  RecordStatus = "deleted"
	StatusConflict RecordStatus = "conflict"
	StatusInvalid  RecordStatus = "invalid"
	StatusFailed   RecordStatus = "failed"
)

// RecordResult reports what happened to one record of a batch. For
// conflicts, ServerModified carries the server copy's lastModified.
type RecordResult struct {
	Identity       models.Identity `json:"identity"`
	Status         RecordStatus    `json:"status"`
	ServerModified time.Time       `json:"server_last_modified,omitzero"`
	Message        string          `json:"message,omitempty"`
}

// BatchResult is the remote answer to a BatchRequest.
type BatchResult struct {
	Results        []RecordResult `json:"results"`
	PartialFailure bool           `json:"partial_failure"`
}

// Page is one page of a type-scoped query. An empty NextCursor means the
// query is exhausted.
type Page struct {
	Records    []models.WireRecord `json:"records"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// UploadReport summarizes an upload.
type UploadReport struct {
	Batches int
	// Acknowledged identities were saved or deleted remotely.
	Acknowledged []models.Identity
	// Deferred identities lost to a newer server copy and were queued.
	Deferred []models.Identity
	// Failed identities belonged to a partially failed batch and were queued.
	Failed []models.Identity
	// Invalid identities were refused as malformed.
	Invalid        []models.Identity
	PartialFailure bool
	// Errors holds whole-batch failures, each a *BatchError.
	Errors []error
}

// MergeStats counts the outcome of merging remote records.
type MergeStats struct {
	Applied      int
	Discarded    int
	Placeholders int
	Invalid      int
}

func (s *MergeStats) add(o MergeStats) {
	s.Applied += o.Applied
	s.Discarded += o.Discarded
	s.Placeholders += o.Placeholders
	s.Invalid += o.Invalid
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Drained  int
	Merged   int
	Uploaded int
	Deleted  int
	Requeued int
}
