package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/golang/snappy"

	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/serverdb"
	navsync "github.com/marcus/navsync/internal/sync"
)

// handleQuery handles GET /v1/records?kind=&cursor=&limit=.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := models.ParseKind(q.Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	limit := serverdb.MaxPageSize
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid limit")
			return
		}
		limit = min(n, serverdb.MaxPageSize)
	}

	page, err := s.store.QueryRecords(r.Context(), kind, q.Get("cursor"), limit)
	if err != nil {
		logFor(r.Context()).Error("query records", "kind", kind, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "query failed")
		return
	}
	s.metrics.RecordQuery()
	writeJSON(w, http.StatusOK, page)
}

// handleFetch handles GET /v1/records/{identity}.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := models.Identity(r.PathValue("identity"))
	if err := id.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	rec, err := s.store.GetRecord(r.Context(), id)
	if errors.Is(err, serverdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("record %s not found", id))
		return
	}
	if err != nil {
		logFor(r.Context()).Error("get record", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// readBody returns the request body, inflating it when the client sent it
// snappy-compressed.
func (s *Server) readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if r.Header.Get("Content-Encoding") != "snappy" {
		return data, nil
	}
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("snappy body: %w", err)
	}
	if int64(n) > s.config.MaxBodyBytes {
		return nil, &http.MaxBytesError{Limit: s.config.MaxBodyBytes}
	}
	return snappy.Decode(nil, data)
}

// handleBatch handles POST /v1/records/batch.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeLimitExceeded, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	var req navsync.BatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if !req.SavePolicy.Valid() {
		writeError(w, http.StatusBadRequest, ErrCodeInvalid, fmt.Sprintf("unknown save_policy %q", req.SavePolicy))
		return
	}
	if req.Ops() > navsync.BatchLimit {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeLimitExceeded,
			fmt.Sprintf("batch of %d operations exceeds max %d", req.Ops(), navsync.BatchLimit))
		return
	}

	device := getDeviceID(r.Context())
	res, notes, err := s.store.ApplyBatch(r.Context(), req, device)
	if err != nil {
		logFor(r.Context()).Error("apply batch", "ops", req.Ops(), "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to apply batch")
		return
	}

	var saved, deleted, conflicts, invalid int
	for _, rr := range res.Results {
		switch rr.Status {
		case navsync.StatusSaved:
			saved++
		case navsync.StatusDeleted:
			deleted++
		case navsync.StatusConflict:
			conflicts++
		case navsync.StatusInvalid:
			invalid++
		}
	}
	s.metrics.RecordBatch(saved, deleted, conflicts, invalid)
	logFor(r.Context()).Info("batch applied",
		"policy", req.SavePolicy,
		"saved", saved,
		"deleted", deleted,
		"conflicts", conflicts,
		"invalid", invalid,
	)

	s.hub.Publish(device, notes)
	writeJSON(w, http.StatusOK, res)
}
