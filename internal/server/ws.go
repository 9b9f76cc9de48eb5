package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsDialTimeout = 10 * time.Second

// wsConn wraps one WebSocket connection with serialised writes. The
// WebSocket transport cannot carry custom handshake headers, so
// authentication travels in-band as the first frame.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func dialWS(ctx context.Context, url string) (*wsConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// send marshals v and writes it as one text frame.
func (w *wsConn) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) close() {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.WriteMessage( //nolint:errcheck
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.conn.Close()
}

// readLoop delivers raw frames to handle until the connection drops or ctx
// is cancelled; returns the terminal read error.
func (w *wsConn) readLoop(ctx context.Context, handle func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, raw, err := w.conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(raw)
	}
}
