// Package rewrite transforms URLs embedded in proxied HTML, CSS and script
// payloads so that navigation and sub-resource fetches keep traversing the
// proxy.
package rewrite

import (
	"fmt"
	"net/url"
	"strings"
)

// Context carries the two URLs a rewrite resolves against. It is built per
// invocation and never persisted.
type Context struct {
	// ProxyBase is the externally visible base URL of this proxy without a
	// trailing slash, e.g. "http://localhost:3000".
	ProxyBase string
	// Target is the origin URL the content was fetched from; relative
	// references resolve against it.
	Target *url.URL
}

// NewContext builds a Context from the proxy base URL and the origin URL the
// content being rewritten was fetched from.
func NewContext(proxyBase, target string) (Context, error) {
	u, err := url.Parse(target)
	if err != nil {
		return Context{}, fmt.Errorf("parse target url: %w", err)
	}
	return Context{ProxyBase: strings.TrimSuffix(proxyBase, "/"), Target: u}, nil
}

// Resolve maps a URL reference found in proxied content to a link through
// this proxy. Purely string/URL arithmetic; no network access.
//
// The input is returned unchanged when it is empty, a fragment, a
// javascript: URI, already a proxy link, or an absolute URL with a scheme
// other than http/https (data:, mailto:, blob: and the rest of the
// pseudo-protocol family). Everything else resolves to an absolute origin
// URL and is encoded with ProxyLink: absolute http(s) stays as-is,
// protocol-relative assumes https, root-relative joins the target's scheme
// and host, and the remainder resolves document-relative against the target
// URL. Resolving an already-resolved link is a no-op, so the function is
// idempotent.
func Resolve(ctx Context, raw string) string {
	s := strings.TrimSpace(raw)

	switch {
	case s == "" || strings.HasPrefix(s, "#"):
		return raw
	case strings.HasPrefix(s, "javascript:"):
		return raw
	case ctx.ProxyBase != "" && strings.HasPrefix(s, ctx.ProxyBase):
		return raw
	}

	var abs string
	switch {
	case strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://"):
		abs = s
	case strings.HasPrefix(s, "//"):
		abs = "https:" + s
	case strings.HasPrefix(s, "/"):
		abs = ctx.Target.Scheme + "://" + ctx.Target.Host + s
	default:
		ref, err := url.Parse(s)
		if err != nil {
			return raw
		}
		if ref.IsAbs() && ref.Scheme != "http" && ref.Scheme != "https" {
			return raw
		}
		abs = ctx.Target.ResolveReference(ref).String()
	}

	return ProxyLink(ctx, abs)
}

// ProxyLink encodes an absolute origin URL as a link through this proxy.
func ProxyLink(ctx Context, absolute string) string {
	return ctx.ProxyBase + "/proxy?url=" + url.QueryEscape(absolute)
}
