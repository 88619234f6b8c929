package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Run drives the heartbeat sweep until ctx is canceled. Each sweep first
// evicts connections idle past the timeout, then probes the survivors, so
// an evicted connection is never probed afterwards.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	r.logger.Info("relay heartbeat started",
		"interval", r.heartbeat,
		"idle_timeout", r.idleTimeout,
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// sweep performs one eviction and probe pass.
func (r *Relay) sweep(now time.Time) {
	for _, conn := range r.registry.Snapshot() {
		if now.Sub(conn.LastActivity()) > r.idleTimeout {
			r.evict(conn)
		}
	}

	// A fresh snapshot, so connections evicted above are excluded.
	deadline := time.Now().Add(controlWait)
	for _, conn := range r.registry.Snapshot() {
		if err := conn.ping(deadline); err != nil {
			r.logger.Warn("relay ping failed", "conn_id", conn.ID, "err", err)
		}
	}
}

// evict deregisters and force-closes an idle connection. The read loop's
// own release then finds the registry entry already gone.
func (r *Relay) evict(conn *Conn) {
	conn.setState(StateClosed)
	if r.registry.Remove(conn.ID) {
		if r.metrics != nil {
			r.metrics.RelayConnections.Dec()
			r.metrics.RelayEvictions.Inc()
		}
		r.logger.Info("relay connection evicted",
			"conn_id", conn.ID,
			"idle", time.Since(conn.LastActivity()).Round(time.Second),
		)
	}
	conn.closeWith(websocket.CloseGoingAway, "idle timeout", time.Now().Add(controlWait))
}

// CloseAll force-closes every registered connection. Used on shutdown.
func (r *Relay) CloseAll() {
	for _, conn := range r.registry.Snapshot() {
		conn.setState(StateClosed)
		if r.registry.Remove(conn.ID) {
			if r.metrics != nil {
				r.metrics.RelayConnections.Dec()
			}
		}
		conn.closeWith(websocket.CloseGoingAway, "server shutting down", time.Now().Add(controlWait))
	}
}
