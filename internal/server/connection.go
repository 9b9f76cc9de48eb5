package server

import (
	"context"

	"github.com/helixbridge/helixbridge/internal/schema"
)

// Connection is the runtime handle for one active server. At most one
// Connection exists per server id; it lives in the manager's table only
// while connecting or open.
type Connection struct {
	ServerID string
	Protocol schema.Protocol
	State    schema.ReadyState

	ws   *wsConn        // websocket / mcp-ws
	http *httpTransport // http / sse

	base   context.Context    // done once the transport closes
	cancel context.CancelFunc // stops the read loop and in-flight http calls
}

func (c *Connection) open() bool { return c != nil && c.State == schema.StateOpen }

// closeTransport tears down whichever transport the connection holds.
func (c *Connection) closeTransport() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.ws != nil {
		c.ws.close()
	}
}
