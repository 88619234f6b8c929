package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/metrics"
)

// controlWait bounds how long a control frame write may block.
const controlWait = 10 * time.Second

// Message is the typed JSON frame exchanged on relay connections. Frames
// that do not parse as a Message, or whose type is unknown, are handed to
// the Forwarder as-is.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Stats describes the registry for the info endpoint.
type Stats struct {
	Connections int `json:"connections"`
	Capacity    int `json:"capacity"`
}

// Relay upgrades HTTP requests to WebSocket connections, registers them,
// and services their frames until they close or are evicted.
type Relay struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	registry    *Registry
	forwarder   Forwarder
	upgrader    websocket.Upgrader
	heartbeat   time.Duration
	idleTimeout time.Duration
}

// New creates a relay sized and timed from cfg. A nil forwarder falls back
// to EchoForwarder.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, forwarder Forwarder) *Relay {
	if forwarder == nil {
		forwarder = EchoForwarder{}
	}
	return &Relay{
		logger:    logger.With("component", "relay"),
		metrics:   m,
		registry:  NewRegistry(cfg.Relay.MaxConnections),
		forwarder: forwarder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay fronts pages served from arbitrary origins, so
			// cross-origin upgrades are expected.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		heartbeat:   time.Duration(cfg.Relay.HeartbeatSeconds) * time.Second,
		idleTimeout: time.Duration(cfg.Relay.IdleTimeoutSeconds) * time.Second,
	}
}

// Registry exposes the connection registry.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Stats reports the current registry occupancy.
func (r *Relay) Stats() Stats {
	return Stats{
		Connections: r.registry.Len(),
		Capacity:    r.registry.Capacity(),
	}
}

// Accept upgrades the request and services the connection until it closes.
// It blocks for the lifetime of the connection.
func (r *Relay) Accept(w http.ResponseWriter, req *http.Request) error {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		return fmt.Errorf("websocket upgrade: %w", err)
	}

	conn := newConn(ws, req.RemoteAddr)

	if err := r.registry.Add(conn); err != nil {
		// A close code can only be delivered on an established socket, so
		// the rejection completes the handshake and closes immediately.
		// The connection is never registered and never counted as open.
		if r.metrics != nil {
			r.metrics.RelayRejections.Inc()
		}
		r.logger.Warn("relay connection rejected",
			"remote_addr", conn.RemoteAddr,
			"capacity", r.registry.Capacity(),
		)
		conn.closeWith(websocket.CloseTryAgainLater, "connection capacity reached", time.Now().Add(controlWait))
		return nil
	}

	conn.setState(StateOpen)
	if r.metrics != nil {
		r.metrics.RelayConnections.Inc()
	}
	r.logger.Info("relay connection opened",
		"conn_id", conn.ID,
		"remote_addr", conn.RemoteAddr,
		"connections", r.registry.Len(),
	)

	ws.SetPongHandler(func(string) error {
		conn.touch()
		return nil
	})

	if err := conn.send(map[string]any{
		"type":      "welcome",
		"id":        conn.ID,
		"timestamp": time.Now().Unix(),
	}); err != nil {
		r.logger.Warn("relay welcome failed", "conn_id", conn.ID, "err", err)
		r.release(conn)
		return nil
	}

	r.readLoop(conn)
	return nil
}

// readLoop services inbound frames until the socket errors or closes.
func (r *Relay) readLoop(conn *Conn) {
	defer r.release(conn)
	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				conn.setState(StateError)
				r.logger.Warn("relay connection error", "conn_id", conn.ID, "err", err)
			}
			return
		}

		conn.recordMessage()
		if r.metrics != nil {
			r.metrics.RelayMessages.Inc()
		}
		r.dispatch(conn, payload)
	}
}

// dispatch routes one inbound frame by its declared type.
func (r *Relay) dispatch(conn *Conn, payload []byte) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err == nil {
		switch msg.Type {
		case "ping":
			if err := conn.send(map[string]any{
				"type":      "pong",
				"timestamp": time.Now().Unix(),
			}); err != nil {
				r.logger.Warn("relay pong failed", "conn_id", conn.ID, "err", err)
			}
			return
		case "ice-candidate":
			r.handleICECandidate(conn, msg)
			return
		case "offer":
			r.handleOffer(conn, msg)
			return
		case "answer":
			r.handleAnswer(conn, msg)
			return
		}
	}

	if err := r.forwarder.ForwardInbound(conn, payload); err != nil {
		r.logger.Warn("relay forward failed", "conn_id", conn.ID, "err", err)
	}
}

// release deregisters the connection and closes its socket. It is safe to
// call after an eviction has already deregistered the same connection.
func (r *Relay) release(conn *Conn) {
	conn.setState(StateClosed)
	if r.registry.Remove(conn.ID) {
		if r.metrics != nil {
			r.metrics.RelayConnections.Dec()
		}
		r.logger.Info("relay connection closed",
			"conn_id", conn.ID,
			"messages", conn.Messages(),
			"connections", r.registry.Len(),
		)
	}
	_ = conn.ws.Close()
}
