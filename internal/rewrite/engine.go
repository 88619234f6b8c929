package rewrite

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"mirror-proxy-go/internal/metrics"
)

// urlAttributes are the element attributes whose values carry URLs.
var urlAttributes = map[string]bool{
	"src":       true,
	"href":      true,
	"action":    true,
	"data-url":  true,
	"data-src":  true,
	"data-href": true,
}

// cssURLPattern matches url(...) tokens with optional single or double quoting.
var cssURLPattern = regexp.MustCompile(`(?i)url\s*\(\s*(?:'([^']*)'|"([^"]*)"|([^)\s'"]+))\s*\)`)

// scriptLiteralPattern matches single- and double-quoted string literals.
var scriptLiteralPattern = regexp.MustCompile(`"([^"]*)"|'([^']*)'`)

// Engine rewrites proxied content through Resolve. Every entry point is a
// pure transformation: the same input and Context produce the same output.
// Failures are logged and counted rather than surfaced, so the caller
// always gets content back, worst case the original.
type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an Engine. The metrics parameter is optional; pass nil
// to disable rewrite failure counting.
func NewEngine(logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		logger:  logger.With("component", "rewrite"),
		metrics: m,
	}
}

// HTML parses the document, rewrites the URL-bearing attributes of every
// element, and renders it back. Values that are empty or javascript: URIs
// are left alone. If the document cannot be parsed or rendered the original
// input is returned.
func (e *Engine) HTML(ctx Context, body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		e.fail("html", err)
		return body
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for i, attr := range n.Attr {
				if !urlAttributes[strings.ToLower(attr.Key)] {
					continue
				}
				val := strings.TrimSpace(attr.Val)
				if val == "" || strings.HasPrefix(val, "javascript:") {
					continue
				}
				n.Attr[i].Val = Resolve(ctx, val)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		e.fail("html", err)
		return body
	}
	return buf.String()
}

// CSS rewrites every url(...) reference. Rewritten values come out
// single-quoted; tokens the resolver leaves unchanged keep their original
// form.
func (e *Engine) CSS(ctx Context, body string) string {
	return cssURLPattern.ReplaceAllStringFunc(body, func(match string) string {
		groups := cssURLPattern.FindStringSubmatch(match)
		raw := groups[1]
		if raw == "" {
			raw = groups[2]
		}
		if raw == "" {
			raw = groups[3]
		}
		if raw == "" {
			return match
		}

		resolved := Resolve(ctx, raw)
		if resolved == raw {
			return match
		}
		return "url('" + resolved + "')"
	})
}

// Script rewrites quoted string literals that look like URLs: absolute
// http(s) URLs, root-relative paths, or strings containing "api" or
// "endpoint". This is a textual heuristic, not a parse of the script; it
// can miss literals and rewrite non-URL strings that happen to match.
func (e *Engine) Script(ctx Context, body string) string {
	return scriptLiteralPattern.ReplaceAllStringFunc(body, func(match string) string {
		quote := match[:1]
		inner := match[1 : len(match)-1]
		if !scriptLiteralEligible(inner) {
			return match
		}

		resolved := Resolve(ctx, inner)
		if resolved == inner {
			return match
		}
		return quote + resolved + quote
	})
}

func scriptLiteralEligible(s string) bool {
	switch {
	case strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://"):
		return true
	case strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//"):
		return true
	case strings.Contains(s, "api") || strings.Contains(s, "endpoint"):
		return true
	}
	return false
}

func (e *Engine) fail(kind string, err error) {
	e.logger.Warn("content rewrite failed, returning original",
		"kind", kind,
		"err", err,
	)
	if e.metrics != nil {
		e.metrics.RewriteFailures.WithLabelValues(kind).Inc()
	}
}
