// Package relay accepts WebSocket upgrades and maintains a registry of
// persistent client connections with heartbeat-based idle eviction.
//
// The registry is process-scoped and in-memory; a restart drops every
// connection.
package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a relay connection. Normal connections
// move connecting, open, closed; socket faults detour through error.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateError      State = "error"
	StateClosed     State = "closed"
)

// Conn is one relay connection and its registry metadata.
type Conn struct {
	ID         string
	RemoteAddr string
	CreatedAt  time.Time

	ws *websocket.Conn

	writeMu sync.Mutex // serializes data frames (read loop vs heartbeat goroutine)

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	messages     int64
}

func newConn(ws *websocket.Conn, remoteAddr string) *Conn {
	now := time.Now()
	return &Conn{
		ID:           uuid.NewString(),
		RemoteAddr:   remoteAddr,
		CreatedAt:    now,
		ws:           ws,
		state:        StateConnecting,
		lastActivity: now,
	}
}

// touch records activity on the connection.
func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// recordMessage counts one inbound message as activity.
func (c *Conn) recordMessage() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.messages++
	c.mu.Unlock()
}

// LastActivity returns the time of the most recent inbound message or pong.
func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Messages returns the inbound message count.
func (c *Conn) Messages() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages
}

// State returns the connection's lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// send writes v as a JSON frame.
func (c *Conn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// ping sends a liveness probe. WriteControl is safe to call concurrently
// with data writes.
func (c *Conn) ping(deadline time.Time) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// closeWith sends a close frame and closes the socket.
func (c *Conn) closeWith(code int, reason string, deadline time.Time) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = c.ws.Close()
}
