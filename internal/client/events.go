package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"

	"sprache-backend/internal/models"
)

// Subscribe connects to the server's event stream and calls fn for every
// conversation event until ctx is done or the connection drops.
func (c *Client) Subscribe(ctx context.Context, fn func(models.WSMessage)) error {
	u, err := url.Parse(c.baseURL + "/api/v1/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg models.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("event stream closed: %w", err)
		}
		fn(msg)
	}
}
