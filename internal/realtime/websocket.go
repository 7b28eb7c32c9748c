package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	closeGrace = time.Second
)

// WSConn adapts a gorilla websocket connection to Conn.
type WSConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWSConn wraps ws.
func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

// Send writes e as a JSON text frame. A write that exceeds the deadline
// fails and the hub drops the subscriber.
func (c *WSConn) Send(ctx context.Context, e *models.Event) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(e)
}

// CloseWith sends a close frame with code and reason, then closes.
func (c *WSConn) CloseWith(code int, reason string) error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(closeGrace))
	c.writeMu.Unlock()
	return c.Close()
}

// Close closes the underlying connection once.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// ReadLoop discards client frames until the peer goes away, which is how
// gorilla surfaces close frames and pongs.
func (c *WSConn) ReadLoop() error {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return err
		}
	}
}
