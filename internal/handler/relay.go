package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"mirror-proxy-go/internal/relay"
)

// RelayHandler upgrades requests into relay WebSocket connections.
type RelayHandler struct {
	relay  *relay.Relay
	logger *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(r *relay.Relay, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		relay:  r,
		logger: logger.With("component", "relay_handler"),
	}
}

// Handle upgrades the request and blocks until the connection closes. A
// failed upgrade has already been answered by the websocket library, so the
// error is logged rather than mapped to a second response.
func (h *RelayHandler) Handle(c echo.Context) error {
	if err := h.relay.Accept(c.Response(), c.Request()); err != nil {
		h.logger.Warn("relay upgrade failed",
			"err", err,
			"remote_ip", c.RealIP(),
		)
	}
	return nil
}
