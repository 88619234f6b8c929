package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"mirror-proxy-go/internal/client"
	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/relay"
	"mirror-proxy-go/internal/rewrite"
	"mirror-proxy-go/internal/service"
	"mirror-proxy-go/internal/session"
)

func testConfig(originURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Upstream.BaseURL = originURL
	cfg.Upstream.IdleConnections = 4
	cfg.Server.PublicURL = "http://localhost:3000"
	cfg.Relay.MaxConnections = 4
	cfg.Relay.HeartbeatSeconds = 30
	cfg.Relay.IdleTimeoutSeconds = 60
	return cfg
}

func newTestProxyHandler(t *testing.T, cfg *config.Config) *ProxyHandler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := session.NewTracker(logger)
	sessions := session.NewManager(cfg, logger, tracker)
	cookies := session.NewCookieRelay(cfg, logger, nil)
	engine := rewrite.NewEngine(logger, nil)
	oc := client.NewOriginClient(cfg, logger, nil)

	svc, err := service.NewProxyService(oc, cfg, logger, engine, cookies)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}

	relayH := NewRelayHandler(relay.New(cfg, logger, nil, nil), logger)
	return NewProxyHandler(svc, sessions, tracker, relayH, logger)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	for _, ck := range rec.Result().Cookies() {
		if ck.Name == session.CookieName {
			return ck
		}
	}
	return nil
}

func TestProxyHandler_HandleAPI(t *testing.T) {
	var originPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		originPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, testConfig(upstream.URL))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/users?page=2", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleAPI(c); err != nil {
		t.Fatalf("HandleAPI() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if originPath != "/users" {
		t.Errorf("origin path = %q, want %q (the /api prefix must be stripped)", originPath, "/users")
	}
	if ck := sessionCookie(t, rec); ck == nil {
		t.Error("first request did not set the session cookie")
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["result"] != "ok" {
		t.Errorf("body.result = %q, want %q", body["result"], "ok")
	}
}

func TestProxyHandler_HandleProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, testConfig(upstream.URL))

	e := echo.New()
	target := url.QueryEscape(upstream.URL + "/page")
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+target, http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleProxy(c); err != nil {
		t.Fatalf("HandleProxy() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Body.String(); got != "hello" {
		t.Errorf("body = %q, want %q", got, "hello")
	}
}

func TestProxyHandler_HandleProxy_URLValidation(t *testing.T) {
	h := newTestProxyHandler(t, testConfig("http://origin.invalid"))

	tests := []struct {
		name     string
		target   string
		wantCode string
	}{
		{"missing url", "/proxy", "missing_url"},
		{"relative url", "/proxy?url=%2Fusers", "invalid_url"},
		{"non-http scheme", "/proxy?url=ftp%3A%2F%2Fhost%2Ffile", "invalid_url"},
		{"scheme without host", "/proxy?url=http%3A%2F%2F", "invalid_url"},
		{"bare word", "/proxy?url=nonsense", "invalid_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, tt.target, http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.HandleProxy(c); err != nil {
				t.Fatalf("HandleProxy() error = %v", err)
			}

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}

			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["error"] != tt.wantCode {
				t.Errorf("error = %q, want %q", body["error"], tt.wantCode)
			}
			if body["timestamp"] == "" {
				t.Error("envelope timestamp is empty")
			}
		})
	}
}

func TestProxyHandler_SessionCookieRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, testConfig(upstream.URL))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/first", http.NoBody)
	rec := httptest.NewRecorder()
	if err := h.HandleAPI(e.NewContext(req, rec)); err != nil {
		t.Fatalf("HandleAPI() error = %v", err)
	}
	ck := sessionCookie(t, rec)
	if ck == nil {
		t.Fatal("first request did not set the session cookie")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/second", http.NoBody)
	req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	rec = httptest.NewRecorder()
	if err := h.HandleAPI(e.NewContext(req, rec)); err != nil {
		t.Fatalf("HandleAPI() error = %v", err)
	}
	if again := sessionCookie(t, rec); again != nil {
		t.Errorf("second request re-issued the session cookie %q", again.Value)
	}
}

func TestProxyHandler_TamperedTokenGetsNewSession(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, testConfig(upstream.URL))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/x", http.NoBody)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "forged.deadbeef"})
	rec := httptest.NewRecorder()
	if err := h.HandleAPI(e.NewContext(req, rec)); err != nil {
		t.Fatalf("HandleAPI() error = %v", err)
	}

	ck := sessionCookie(t, rec)
	if ck == nil {
		t.Fatal("tampered token did not produce a fresh session cookie")
	}
	if ck.Value == "forged.deadbeef" {
		t.Error("forged token was echoed back instead of replaced")
	}
}

func TestProxyHandler_mapError_DNSError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &ProxyHandler{logger: logger}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/users", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	dnsErr := &net.DNSError{Err: "no such host", Name: "origin.example.com"}
	wrapped := fmt.Errorf("forward to origin: %w", dnsErr)

	if err := h.mapError(c, wrapped); err != nil {
		t.Fatalf("mapError() returned error: %v", err)
	}

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "origin_unreachable" {
		t.Errorf("error = %q, want %q", body["error"], "origin_unreachable")
	}
}

func TestProxyHandler_mapError_URLError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &ProxyHandler{logger: logger}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	urlErr := &url.Error{Op: "Get", URL: "https://origin.example.com/page", Err: fmt.Errorf("connection refused")}
	wrapped := fmt.Errorf("forward to origin: %w", urlErr)

	if err := h.mapError(c, wrapped); err != nil {
		t.Fatalf("mapError() returned error: %v", err)
	}

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "origin_connection_failed" {
		t.Errorf("error = %q, want %q", body["error"], "origin_connection_failed")
	}
}

func TestProxyHandler_HandleAPI_POST(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "hello" {
			t.Errorf("origin body = %q, want %q", string(body), "hello")
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, testConfig(upstream.URL))

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/things", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleAPI(c); err != nil {
		t.Fatalf("HandleAPI() error = %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d (origin status must propagate)", rec.Code, http.StatusCreated)
	}
}

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name string
		err  string
		want string
	}{
		{
			name: "redacts token in URL",
			err:  `Get "https://origin.example.com/page?token=secret123&x=1": connection refused`,
			want: `Get "https://origin.example.com/page?token=[REDACTED]&x=1": connection refused`,
		},
		{
			name: "redacts api_key at end of URL",
			err:  `Get "https://origin.example.com/page?api_key=secret123": EOF`,
			want: `Get "https://origin.example.com/page?api_key=[REDACTED]": EOF`,
		},
		{
			name: "no credentials unchanged",
			err:  "connection refused",
			want: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeError(fmt.Errorf("%s", tt.err))
			if got != tt.want {
				t.Errorf("sanitizeError() = %q, want %q", got, tt.want)
			}
		})
	}
}
