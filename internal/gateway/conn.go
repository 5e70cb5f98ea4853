package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Conn wraps one upgraded websocket as a registry handle.
// gorilla/websocket permits a single concurrent writer, so application
// sends, liveness probes and the close frame all serialize on mu. Reads
// stay on the connection's handler goroutine and need no lock.
type Conn struct {
	userID string
	ws     *websocket.Conn

	mu     sync.Mutex
	alive  atomic.Bool
	closed atomic.Bool
}

func newConn(userID string, ws *websocket.Conn) *Conn {
	c := &Conn{userID: userID, ws: ws}
	c.alive.Store(true)
	ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	return c
}

func (c *Conn) UserID() string { return c.userID }

func (c *Conn) Alive() bool { return c.alive.Load() }

func (c *Conn) SetAlive(v bool) { c.alive.Store(v) }

// Send JSON-encodes v and writes it as one text frame.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// Ping sends a transport-level probe. The pong handler re-arms the
// liveness flag when the client answers.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close tears down the transport. Safe to call from multiple goroutines
// and multiple times; only the first call closes the socket.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.ws.Close()
}

// closePolicyViolation rejects an unauthenticated handshake: a close
// frame with code 1008 and a human-readable reason, then teardown.
func closePolicyViolation(ws *websocket.Conn, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = ws.Close()
}
