package relay

import "time"

// Forwarder is the extension point for carrying relay frames somewhere
// real: an implementation could bridge to an upstream WebSocket, a message
// broker, or a peer connection. The relay itself never interprets the
// payloads it hands over.
type Forwarder interface {
	// ForwardInbound handles one inbound data frame from conn.
	ForwardInbound(conn *Conn, payload []byte) error
}

// EchoForwarder is the built-in Forwarder. It does not forward anywhere;
// every inbound frame is answered on the same connection with an
// acknowledgment carrying the connection id and its message count.
type EchoForwarder struct{}

func (EchoForwarder) ForwardInbound(conn *Conn, _ []byte) error {
	return conn.send(map[string]any{
		"type":      "relay-ack",
		"id":        conn.ID,
		"received":  conn.Messages(),
		"timestamp": time.Now().Unix(),
	})
}
