package relay

// Peer-to-peer signaling frames (ICE candidates, SDP offers and answers)
// are recognized on the wire but not relayed to any peer. The handlers
// below are placeholders for a future peer transport; today they only log.

func (r *Relay) handleICECandidate(conn *Conn, _ Message) {
	r.logger.Debug("ice candidate received, signaling not implemented", "conn_id", conn.ID)
}

func (r *Relay) handleOffer(conn *Conn, _ Message) {
	r.logger.Debug("offer received, signaling not implemented", "conn_id", conn.ID)
}

func (r *Relay) handleAnswer(conn *Conn, _ Message) {
	r.logger.Debug("answer received, signaling not implemented", "conn_id", conn.ID)
}
