package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/relay"
	"mirror-proxy-go/internal/session"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the health and service-info endpoints.
type HealthHandler struct {
	cfg      *config.Config
	version  Version
	sessions *session.Manager
	tracker  *session.Tracker
	relay    *relay.Relay
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, sessions *session.Manager, tracker *session.Tracker, r *relay.Relay) *HealthHandler {
	return &HealthHandler{
		cfg:      cfg,
		version:  v,
		sessions: sessions,
		tracker:  tracker,
		relay:    r,
	}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Info returns service information plus live session and relay statistics.
func (h *HealthHandler) Info(c echo.Context) error {
	stats := h.tracker.Stats()
	// The tracker only knows sessions that have proxied something; the
	// manager count is the authoritative total.
	stats.Sessions = h.sessions.Count()

	return c.JSON(http.StatusOK, map[string]any{
		"service": "mirror-proxy",
		"version": string(h.version),
		"origin":  h.cfg.Upstream.BaseURL,
		"endpoints": map[string]string{
			"health": "/health",
			"api":    "/api/*",
			"proxy":  "/proxy?url=<absolute-url>",
			"relay":  "/ws-relay",
		},
		"sessions": stats,
		"relay":    h.relay.Stats(),
	})
}
