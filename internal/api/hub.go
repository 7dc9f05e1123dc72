package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/marcus/navsync/internal/models"
)

const (
	subscriberBuffer = 256
	writeTimeout     = 5 * time.Second
)

// subscriber is one websocket client and the kinds it listens to.
type subscriber struct {
	device string
	kinds  map[models.Kind]bool
	send   chan models.Notification
	conn   *websocket.Conn
}

func (sub *subscriber) wants(n models.Notification) bool {
	return len(sub.kinds) == 0 || sub.kinds[n.Identity.Kind()]
}

// Hub fans record change notifications out to websocket subscribers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	metrics *Metrics
}

// NewHub creates an empty Hub.
func NewHub(m *Metrics) *Hub {
	return &Hub{subs: make(map[*subscriber]struct{}), metrics: m}
}

// Publish queues notifications for every subscriber interested in their kind,
// except the originating device. A subscriber whose buffer is full misses the
// notification; its next reconciliation catches up.
func (h *Hub) Publish(origin string, notes []models.Notification) {
	if len(notes) == 0 {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for sub := range h.subs {
		if origin != "" && sub.device == origin {
			continue
		}
		for _, n := range notes {
			if !sub.wants(n) {
				continue
			}
			select {
			case sub.send <- n:
				delivered++
			default:
				slog.Warn("subscriber buffer full, dropping notification", "device", sub.device, "id", n.Identity)
			}
		}
	}
	h.metrics.RecordNotifications(delivered)
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.metrics.SubscriberDelta(1)
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		h.metrics.SubscriberDelta(-1)
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		_ = sub.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// parseKinds reads the comma-separated kinds filter. Empty means all kinds.
func parseKinds(raw string) (map[models.Kind]bool, error) {
	kinds := make(map[models.Kind]bool)
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := models.ParseKind(part)
		if err != nil {
			return nil, err
		}
		kinds[k] = true
	}
	return kinds, nil
}

// handleSubscribe handles GET /v1/subscribe?kinds=Zone,Cell.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	// Subscriptions outlive the server's per-request deadlines.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logFor(r.Context()).Warn("websocket upgrade failed", "err", err)
		return
	}

	sub := &subscriber{
		device: getDeviceID(r.Context()),
		kinds:  kinds,
		send:   make(chan models.Notification, subscriberBuffer),
		conn:   conn,
	}
	s.hub.add(sub)
	defer s.hub.remove(sub)
	logFor(r.Context()).Info("subscriber connected", "kinds", len(kinds), "total", s.hub.Len())

	// Clients never send; CloseRead cancels ctx once they go away.
	ctx := conn.CloseRead(context.Background())
	s.writeLoop(ctx, sub)
	logFor(r.Context()).Info("subscriber disconnected")
}

func (s *Server) writeLoop(ctx context.Context, sub *subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-sub.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, sub.conn, n)
			cancel()
			if err != nil {
				slog.Debug("write notification", "device", sub.device, "err", err)
				_ = sub.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}
