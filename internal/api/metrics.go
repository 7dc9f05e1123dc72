package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime      time.Time
	requests       atomic.Int64
	serverErrors   atomic.Int64
	clientErrors   atomic.Int64
	rateLimited    atomic.Int64
	queries        atomic.Int64
	batches        atomic.Int64
	recordsSaved   atomic.Int64
	recordsDeleted atomic.Int64
	conflicts      atomic.Int64
	invalid        atomic.Int64
	notifications  atomic.Int64
	subscribers    atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds  float64        `json:"uptime_seconds"`
	Requests       int64          `json:"requests"`
	ServerErrors   int64          `json:"server_errors"`
	ClientErrors   int64          `json:"client_errors"`
	RateLimited    int64          `json:"rate_limited"`
	Queries        int64          `json:"queries"`
	Batches        int64          `json:"batches"`
	RecordsSaved   int64          `json:"records_saved"`
	RecordsDeleted int64          `json:"records_deleted"`
	Conflicts      int64          `json:"conflicts"`
	Invalid        int64          `json:"invalid"`
	Notifications  int64          `json:"notifications"`
	Subscribers    int64          `json:"subscribers"`
	Records        map[string]int `json:"records,omitempty"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Add(1)
}

func (m *Metrics) RecordQuery() {
	m.queries.Add(1)
}

// RecordBatch counts one applied batch and its per-record outcomes.
func (m *Metrics) RecordBatch(saved, deleted, conflicts, invalid int) {
	m.batches.Add(1)
	m.recordsSaved.Add(int64(saved))
	m.recordsDeleted.Add(int64(deleted))
	m.conflicts.Add(int64(conflicts))
	m.invalid.Add(int64(invalid))
}

// RecordNotifications adds n to the delivered notification counter.
func (m *Metrics) RecordNotifications(n int) {
	m.notifications.Add(int64(n))
}

// SubscriberDelta adjusts the live subscriber gauge.
func (m *Metrics) SubscriberDelta(d int64) {
	m.subscribers.Add(d)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:  time.Since(m.startTime).Seconds(),
		Requests:       m.requests.Load(),
		ServerErrors:   m.serverErrors.Load(),
		ClientErrors:   m.clientErrors.Load(),
		RateLimited:    m.rateLimited.Load(),
		Queries:        m.queries.Load(),
		Batches:        m.batches.Load(),
		RecordsSaved:   m.recordsSaved.Load(),
		RecordsDeleted: m.recordsDeleted.Load(),
		Conflicts:      m.conflicts.Load(),
		Invalid:        m.invalid.Load(),
		Notifications:  m.notifications.Load(),
		Subscribers:    m.subscribers.Load(),
	}
}
