package syncclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/sync"
)

// Subscribe opens the change-notification stream for kinds. The returned
// channel closes when the connection drops or ctx ends.
func (c *Client) Subscribe(ctx context.Context, kinds []models.Kind) (<-chan models.Notification, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	u, err := url.Parse(c.BaseURL + "/v1/subscribe")
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"kinds": {strings.Join(names, ",")}}.Encode()

	h := http.Header{}
	if c.APIKey != "" {
		h.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.DeviceID != "" {
		h.Set(DeviceHeader, c.DeviceID)
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, classify(resp.StatusCode, nil)
		}
		return nil, fmt.Errorf("%w: subscribe: %v", sync.ErrUnreachable, err)
	}

	out := make(chan models.Notification, 64)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			var n models.Notification
			if err := wsjson.Read(ctx, conn, &n); err != nil {
				if ctx.Err() == nil {
					slog.Debug("subscription closed", "err", err)
				}
				return
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
