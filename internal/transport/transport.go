// Package transport implements the gateway's inbound client duplex
// channel: a WebSocket connection accepting UTF-8 text frames, one JSON
// message (or batch array) per frame.
//
// Grounded on the teacher's lsp/websocket_client.go gorillaRWC, which
// wraps gorilla/websocket as an io.ReadWriteCloser for an *outbound* dial
// to an LSP-over-WebSocket server. Here the same library performs the
// symmetric *inbound* role: the gateway is the WebSocket server, each
// client editor is the dialer. The whole-message (not io.Reader) framing
// this package exposes follows spec.md's "one message per frame"
// contract directly rather than feeding a jsonrpc2.Stream, since the
// client side is plain JSON text, not LSP Content-Length framing.
package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a duplex channel of whole text messages to one connected
// client, plus disconnect notification.
type Conn interface {
	ReadMessage() (string, error)
	WriteMessage(text string) error
	Close() error
	Disconnected() <-chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketConn adapts a gorilla/websocket connection to Conn.
type WebSocketConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	doneCh    chan struct{}
}

// Upgrade upgrades an inbound HTTP request to a WebSocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocketConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: upgrade: %w", err)
	}
	return &WebSocketConn{conn: conn, doneCh: make(chan struct{})}, nil
}

// ReadMessage blocks for the next UTF-8 text frame. Binary frames are
// skipped silently and never returned ("accepts UTF-8 text frames only").
func (c *WebSocketConn) ReadMessage() (string, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			c.markDisconnected()
			return "", fmt.Errorf("transport: read: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		return string(data), nil
	}
}

// WriteMessage sends text as a single WebSocket text frame. Writes are
// serialized: gorilla/websocket forbids concurrent writers on one
// connection.
func (c *WebSocketConn) WriteMessage(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *WebSocketConn) Close() error {
	c.markDisconnected()
	return c.conn.Close()
}

// Disconnected is closed once the connection has failed a read or been
// explicitly closed.
func (c *WebSocketConn) Disconnected() <-chan struct{} {
	return c.doneCh
}

func (c *WebSocketConn) markDisconnected() {
	c.closeOnce.Do(func() { close(c.doneCh) })
}

var _ Conn = (*WebSocketConn)(nil)
