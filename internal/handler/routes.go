package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, relay *RelayHandler, m *metrics.Metrics) {
	e.GET("/health", health.Healthz)
	e.GET("/", health.Info)

	e.Any("/api", proxy.HandleAPI)
	e.Any("/api/*", proxy.HandleAPI)
	e.Any("/proxy", proxy.HandleProxy)
	e.GET("/ws-relay", relay.Handle)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
