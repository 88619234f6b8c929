package handler

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"mirror-proxy-go/internal/model"
	"mirror-proxy-go/internal/service"
	"mirror-proxy-go/internal/session"
)

// secretParamPattern matches credential-looking query parameters in URLs
// embedded in error messages.
var secretParamPattern = regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|password|auth)=)[^&\s"]+`)

// ProxyHandler serves the two proxied routes: origin paths under /api and
// arbitrary absolute URLs via /proxy?url=.
type ProxyHandler struct {
	service  *service.ProxyService
	sessions *session.Manager
	tracker  *session.Tracker
	relay    *RelayHandler
	logger   *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, sessions *session.Manager, tracker *session.Tracker, relay *RelayHandler, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:  svc,
		sessions: sessions,
		tracker:  tracker,
		relay:    relay,
		logger:   logger.With("component", "proxy_handler"),
	}
}

// HandleAPI proxies /api/* requests onto the same path of the configured
// origin: /api/users becomes <origin>/users.
func (h *ProxyHandler) HandleAPI(c echo.Context) error {
	req := c.Request()
	path := strings.TrimPrefix(req.URL.Path, "/api")
	target := h.service.OriginURL(path, req.URL.RawQuery)
	return h.forward(c, target)
}

// HandleProxy proxies the absolute URL named by the url query parameter.
// Upgrade requests on this route go to the connection relay instead.
func (h *ProxyHandler) HandleProxy(c echo.Context) error {
	if websocket.IsWebSocketUpgrade(c.Request()) {
		return h.relay.Handle(c)
	}

	raw := c.QueryParam("url")
	if raw == "" {
		return c.JSON(http.StatusBadRequest,
			model.NewErrorEnvelope("missing_url", "the url query parameter is required"))
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return c.JSON(http.StatusBadRequest,
			model.NewErrorEnvelope("invalid_url", "the url query parameter must be an absolute http(s) URL"))
	}

	return h.forward(c, u.String())
}

// forward runs the shared pipeline: session, cookie jar, origin call, and
// the streamed (or rewritten) response.
func (h *ProxyHandler) forward(c echo.Context, target string) error {
	sess := h.ensureSession(c)
	h.tracker.Touch(sess.ID)

	req := c.Request()
	pr := &model.ProxyRequest{
		Method: req.Method,
		URL:    target,
		Header: req.Header,
		Body:   req.Body,
	}

	resp, err := h.service.Forward(sess, pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// If the copy fails mid-stream the status has already been sent; the
	// client gets a truncated body and we log the cause.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitizeError(err),
			"path", req.URL.Path,
		)
	}

	return nil
}

// ensureSession resolves the request's session token, creating a session
// (and setting the session cookie) when none is valid.
func (h *ProxyHandler) ensureSession(c echo.Context) *session.ProxySession {
	var token string
	if ck, err := c.Cookie(session.CookieName); err == nil {
		token = ck.Value
	}

	sess, setToken, _ := h.sessions.Ensure(token)
	if setToken != "" {
		c.SetCookie(&http.Cookie{
			Name:     session.CookieName,
			Value:    setToken,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway,
			model.NewErrorEnvelope("origin_unreachable", "origin host unreachable"))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.JSON(http.StatusGatewayTimeout,
			model.NewErrorEnvelope("origin_timeout", "origin request timed out"))
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway,
			model.NewErrorEnvelope("origin_connection_failed", "origin connection failed"))
	}

	return c.JSON(http.StatusBadGateway,
		model.NewErrorEnvelope("origin_request_failed", "origin request failed"))
}

// sanitizeError redacts credential-looking query values from error messages
// that may embed proxied URLs.
func sanitizeError(err error) string {
	return secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
