// Package service implements the proxied request pipeline: cookie relay
// into the session jar, forwarding to the origin, and content rewriting on
// the way back.
package service

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"mirror-proxy-go/internal/client"
	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/model"
	"mirror-proxy-go/internal/rewrite"
	"mirror-proxy-go/internal/session"
)

// forwardableRequestHeaders are the only request headers forwarded to the
// origin. Accept-Encoding is deliberately absent so origins answer with
// plain bodies the rewriter can work on; Cookie is rebuilt from the
// session jar instead of passed through.
var forwardableRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"Content-Type",
	"Content-Length",
	"User-Agent",
}

// forwardableResponseHeaders are the only response headers forwarded to the
// client, keyed in canonical form. Set-Cookie is deliberately absent: origin
// cookies live in the session jar and never reach the client.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Content-Encoding": true,
	"Content-Language": true,
	"Cache-Control":    true,
	"Date":             true,
	"Expires":          true,
	"Etag":             true,
	"Last-Modified":    true,
	"Location":         true,
}

const userAgent = "mirror-proxy-go/1.0"

// ProxyService handles the forwarding pipeline for proxied requests.
type ProxyService struct {
	client    *client.OriginClient
	logger    *slog.Logger
	cookies   *session.CookieRelay
	engine    *rewrite.Engine
	baseURL   *url.URL
	proxyBase string
}

// NewProxyService creates a ProxyService for the configured origin.
func NewProxyService(c *client.OriginClient, cfg *config.Config, logger *slog.Logger, engine *rewrite.Engine, cookies *session.CookieRelay) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ProxyService{
		client:    c,
		logger:    logger.With("component", "proxy_service"),
		cookies:   cookies,
		engine:    engine,
		baseURL:   u,
		proxyBase: strings.TrimSuffix(cfg.Server.PublicURL, "/"),
	}, nil
}

// OriginURL maps a proxy-local path and query onto the configured origin.
func (s *ProxyService) OriginURL(path, rawQuery string) string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = rawQuery
	return u.String()
}

// Forward sends pr to its target URL on behalf of sess and returns the
// response with cookies relayed, links rewritten, and headers filtered.
// The caller is responsible for closing the response body.
func (s *ProxyService) Forward(sess *session.ProxySession, pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	// Client cookies join the session jar; the origin sees the jar, not the
	// client's Cookie header.
	s.cookies.Ingest(sess, readCookies(pr.Header))

	header := s.filterRequestHeaders(pr.Header)
	if jar := s.cookies.Header(sess); jar != "" {
		header.Set("Cookie", jar)
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"url", pr.URL,
	)

	resp, err := s.client.Forward(pr.Method, pr.URL, header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to origin: %w", err)
	}

	for _, sc := range resp.Header.Values("Set-Cookie") {
		s.cookies.Relay(sess, sc)
	}

	rctx, err := rewrite.NewContext(s.proxyBase, pr.URL)
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("build rewrite context: %w", err)
	}

	// Redirect targets route back through the proxy like any other link.
	if loc := resp.Header.Get("Location"); loc != "" {
		resp.Header.Set("Location", rewrite.Resolve(rctx, loc))
	}

	if err := s.rewriteBody(rctx, resp); err != nil {
		return nil, err
	}

	resp.Header = s.filterResponseHeaders(resp.Header)
	return resp, nil
}

// rewriteBody buffers and rewrites HTML, CSS and script bodies; everything
// else keeps streaming. Rewritten bodies get a recomputed Content-Length.
func (s *ProxyService) rewriteBody(rctx rewrite.Context, resp *model.ProxyResponse) error {
	kind := rewriteKind(resp.Header.Get("Content-Type"))
	if kind == "" {
		return nil
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		// The transport asks for identity encoding; an origin that
		// compresses anyway is passed through untouched.
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read origin body: %w", err)
	}

	var out string
	switch kind {
	case "html":
		out = s.engine.HTML(rctx, string(raw))
	case "css":
		out = s.engine.CSS(rctx, string(raw))
	case "script":
		out = s.engine.Script(rctx, string(raw))
	}

	resp.Body = io.NopCloser(strings.NewReader(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	resp.Rewritten = true
	return nil
}

// rewriteKind maps a Content-Type onto the rewriter that handles it, or ""
// for content that passes through untouched.
func rewriteKind(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mt {
	case "text/html":
		return "html"
	case "text/css":
		return "css"
	case "application/javascript", "text/javascript", "application/x-javascript":
		return "script"
	}
	return ""
}

// readCookies parses the Cookie headers of a proxied request.
func readCookies(h http.Header) []*http.Cookie {
	return (&http.Request{Header: h}).Cookies()
}

func (s *ProxyService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	if dst.Get("User-Agent") == "" {
		dst.Set("User-Agent", userAgent)
	}
	return dst
}

func (s *ProxyService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	return dst
}
