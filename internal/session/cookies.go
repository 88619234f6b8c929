package session

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/metrics"
)

// CookieRecord is one stored cookie together with the attributes carried by
// the Set-Cookie header that produced it. A session jar holds at most one
// record per name; the last write wins.
type CookieRecord struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	Secure   bool
	HttpOnly bool
	SameSite string
}

// CookieRelay stores origin cookies in per-session jars and replays them on
// later requests, applying the configured name policy and attribute
// overrides. Policy order is fixed: allow-list, then deny-list, then
// overrides. A name on both lists is dropped.
type CookieRelay struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	allow         map[string]bool
	deny          map[string]bool
	stripSecure   bool
	stripHTTPOnly bool
}

// NewCookieRelay creates a CookieRelay from the configured policy. The
// metrics parameter is optional; pass nil to disable drop counting.
func NewCookieRelay(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *CookieRelay {
	return &CookieRelay{
		logger:        logger.With("component", "cookie_relay"),
		metrics:       m,
		allow:         nameSet(cfg.Session.CookieAllow),
		deny:          nameSet(cfg.Session.CookieDeny),
		stripSecure:   cfg.Session.StripSecure,
		stripHTTPOnly: cfg.Session.StripHTTPOnly,
	}
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// Ingest merges the cookies of an inbound client request into the session
// jar, overwriting by name. The proxy's own session cookie is skipped so it
// is never replayed toward the origin.
func (r *CookieRelay) Ingest(s *ProxySession, cookies []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cookies {
		if c.Name == "" || c.Name == CookieName {
			continue
		}
		s.jar[c.Name] = CookieRecord{Name: c.Name, Value: c.Value}
	}
}

// Relay parses one Set-Cookie header value, applies the policy, and stores
// the record in the session jar, replacing any prior record of the same
// name. Malformed headers and policy rejections are logged and dropped;
// nothing is surfaced to the caller.
func (r *CookieRelay) Relay(s *ProxySession, header string) {
	rec, err := parseSetCookie(header)
	if err != nil {
		// The raw header is not logged; cookie values do not belong in logs.
		r.drop(s, "malformed", "", err)
		return
	}

	if len(r.allow) > 0 && !r.allow[rec.Name] {
		r.drop(s, "not_allowed", rec.Name, nil)
		return
	}
	if r.deny[rec.Name] {
		r.drop(s, "denied", rec.Name, nil)
		return
	}

	if r.stripSecure {
		rec.Secure = false
	}
	if r.stripHTTPOnly {
		rec.HttpOnly = false
	}

	s.mu.Lock()
	s.jar[rec.Name] = rec
	s.mu.Unlock()
}

// Read returns the session's records sorted by name.
func (r *CookieRelay) Read(s *ProxySession) []CookieRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]CookieRecord, 0, len(s.jar))
	for _, rec := range s.jar {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}

// Clear removes every record from the session jar.
func (r *CookieRelay) Clear(s *ProxySession) {
	s.mu.Lock()
	s.jar = make(map[string]CookieRecord)
	s.mu.Unlock()
}

// Header renders the jar as a Cookie request header value, or "" for an
// empty jar.
func (r *CookieRelay) Header(s *ProxySession) string {
	records := r.Read(s)
	if len(records) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(records))
	for _, rec := range records {
		pairs = append(pairs, rec.Name+"="+rec.Value)
	}
	return strings.Join(pairs, "; ")
}

func (r *CookieRelay) drop(s *ProxySession, reason, detail string, err error) {
	r.logger.Warn("set-cookie dropped",
		"session_id", s.ID,
		"reason", reason,
		"detail", detail,
		"err", err,
	)
	if r.metrics != nil {
		r.metrics.CookieDrops.WithLabelValues(reason).Inc()
	}
}

func parseSetCookie(header string) (CookieRecord, error) {
	c, err := http.ParseSetCookie(header)
	if err != nil {
		return CookieRecord{}, fmt.Errorf("parse set-cookie: %w", err)
	}
	return CookieRecord{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		SameSite: sameSiteName(c.SameSite),
	}, nil
}

func sameSiteName(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "lax"
	case http.SameSiteStrictMode:
		return "strict"
	case http.SameSiteNoneMode:
		return "none"
	default:
		return ""
	}
}
