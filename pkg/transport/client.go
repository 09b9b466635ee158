package transport

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// Client is an outbound WebSocket connection to another role's Server,
// used by the balancer to forward frames to a configured decoder or
// processor address. Grounded on the same github.com/coder/websocket
// dependency server.go uses, the client side of the dial this package's
// own tests perform against httptest.NewServer.
type Client struct {
	ws  *websocket.Conn
	ctx context.Context
}

// Dial connects to a peer's WebSocket endpoint at addr (a ws:// or wss://
// URL). onMessage, if non-nil, is invoked from a dedicated goroutine for
// every frame the peer sends until the connection closes or ctx is
// canceled.
func Dial(ctx context.Context, addr string, onMessage func(data []byte)) (*Client, error) {
	ws, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", addr, err)
	}
	c := &Client{ws: ws, ctx: ctx}

	if onMessage != nil {
		go c.readLoop(onMessage)
	}
	return c, nil
}

func (c *Client) readLoop(onMessage func(data []byte)) {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return
		}
		onMessage(data)
	}
}

// Send writes data to the peer, bounded by writeTimeout so a stalled
// upstream cannot block the forwarding goroutine indefinitely.
func (c *Client) Send(data []byte) bool {
	writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, data) == nil
}

// Close closes the connection to the peer.
func (c *Client) Close() {
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
}
