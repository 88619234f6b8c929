// Package middleware provides the Echo middleware applied to every request
// passing through the proxy: structured request logging, Prometheus metrics,
// and response hardening.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"mirror-proxy-go/internal/session"
)

// RequestLogger returns an Echo middleware that logs one line per request
// with slog. Server errors log at Error and client errors at Warn, so an
// origin going bad stands out without a log-level change. Only the presence
// of the proxy session cookie is logged, never its value.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			status := responseStatus(c, err)

			hasSession := false
			if _, cerr := req.Cookie(session.CookieName); cerr == nil {
				hasSession = true
			}

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
				"session", hasSession,
			}

			switch {
			case status >= 500:
				logger.Error("request", attrs...)
			case status >= 400:
				logger.Warn("request", attrs...)
			default:
				logger.Info("request", attrs...)
			}

			return err
		}
	}
}
