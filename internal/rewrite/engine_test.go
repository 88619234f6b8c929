package rewrite

import (
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testEngine() *Engine {
	return NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestHTML_RewritesAnchor(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/app/page")

	out := e.HTML(ctx, `<a href="https://api.example.com/login">Sign in</a>`)

	want := `href="` + wrapped("https://api.example.com/login") + `"`
	if !strings.Contains(out, want) {
		t.Errorf("HTML() = %q, want it to contain %q", out, want)
	}
	if !strings.Contains(out, ">Sign in</a>") {
		t.Errorf("HTML() = %q, anchor text lost", out)
	}
}

func TestHTML_RewritesURLAttributes(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/app/page")

	out := e.HTML(ctx, `<img src="/img/a.png" data-src="/img/b.png" class="hero">`)

	if !strings.Contains(out, `src="`+wrapped("https://api.example.com/img/a.png")+`"`) {
		t.Errorf("HTML() = %q, src not rewritten", out)
	}
	if !strings.Contains(out, `data-src="`+wrapped("https://api.example.com/img/b.png")+`"`) {
		t.Errorf("HTML() = %q, data-src not rewritten", out)
	}
	if !strings.Contains(out, `class="hero"`) {
		t.Errorf("HTML() = %q, non-URL attribute touched", out)
	}
}

func TestHTML_RewritesFormAction(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/")

	out := e.HTML(ctx, `<form action="/login" method="post"></form>`)

	if !strings.Contains(out, `action="`+wrapped("https://api.example.com/login")+`"`) {
		t.Errorf("HTML() = %q, form action not rewritten", out)
	}
}

func TestHTML_LeavesFragmentsAndJavascript(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/")

	out := e.HTML(ctx, `<a href="#top">up</a><a href="javascript:void(0)">noop</a>`)

	if !strings.Contains(out, `href="#top"`) {
		t.Errorf("HTML() = %q, fragment href touched", out)
	}
	if !strings.Contains(out, `href="javascript:void(0)"`) {
		t.Errorf("HTML() = %q, javascript href touched", out)
	}
}

func TestHTML_Idempotent(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/app/page")

	once := e.HTML(ctx, `<p><a href="/next">next</a><img src="logo.png"></p>`)
	twice := e.HTML(ctx, once)

	if twice != once {
		t.Errorf("HTML() not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestCSS_RewritesURLTokens(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/app/style.css")

	tests := []struct {
		name string
		in   string
		abs  string
	}{
		{"double quoted", `body { background: url("https://cdn.example.com/bg.png"); }`, "https://cdn.example.com/bg.png"},
		{"single quoted", `@font-face { src: url('/fonts/a.woff2'); }`, "https://api.example.com/fonts/a.woff2"},
		{"unquoted", `.icon { background: url(/img/x.svg); }`, "https://api.example.com/img/x.svg"},
		{"relative", `.logo { background: url(logo.png); }`, "https://api.example.com/app/logo.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.CSS(ctx, tt.in)
			want := "url('" + wrapped(tt.abs) + "')"
			if !strings.Contains(out, want) {
				t.Errorf("CSS(%q) = %q, want it to contain %q", tt.in, out, want)
			}
		})
	}
}

func TestCSS_LeavesDataURIs(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/")

	in := `.dot { background: url(data:image/png;base64,AAAA); }`
	if out := e.CSS(ctx, in); out != in {
		t.Errorf("CSS() = %q, want data: URI untouched", out)
	}
}

func TestCSS_LeavesEmptyURL(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/")

	in := `.empty { background: url(''); }`
	if out := e.CSS(ctx, in); out != in {
		t.Errorf("CSS() = %q, want empty url() untouched", out)
	}
}

func TestCSS_RewritesAllTokens(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/")

	in := `.a { background: url(/one.png); } .b { background: url(/two.png); }`
	out := e.CSS(ctx, in)

	if !strings.Contains(out, wrapped("https://api.example.com/one.png")) ||
		!strings.Contains(out, wrapped("https://api.example.com/two.png")) {
		t.Errorf("CSS() = %q, want both url() tokens rewritten", out)
	}
}

func TestScript_RewritesAbsoluteLiteral(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/app/main.js")

	out := e.Script(ctx, `fetch("https://api.example.com/v1/users")`)

	want := `fetch("` + wrapped("https://api.example.com/v1/users") + `")`
	if out != want {
		t.Errorf("Script() = %q, want %q", out, want)
	}
}

func TestScript_RewritesRootRelativeKeepingQuotes(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/app/main.js")

	out := e.Script(ctx, `xhr.open('GET', '/api/users')`)

	want := `xhr.open('GET', '` + wrapped("https://api.example.com/api/users") + `')`
	if out != want {
		t.Errorf("Script() = %q, want %q", out, want)
	}
}

func TestScript_LeavesPlainStrings(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/")

	tests := []string{
		`console.log("hello world")`,
		`var mode = 'standalone';`,
		`load("//cdn.example.com/x.js")`,
	}

	for _, in := range tests {
		if out := e.Script(ctx, in); out != in {
			t.Errorf("Script(%q) = %q, want unchanged", in, out)
		}
	}
}

func TestScript_RewritesHeuristicMatches(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/app/page")

	out := e.Script(ctx, `loadFrom("api/v2/search")`)

	want := wrapped("https://api.example.com/app/api/v2/search")
	if !strings.Contains(out, want) {
		t.Errorf("Script() = %q, want it to contain %q", out, want)
	}
}

func TestScript_LeavesProxyLinks(t *testing.T) {
	e := testEngine()
	ctx := testContext(t, "https://api.example.com/")

	in := `fetch("` + wrapped("https://api.example.com/v1") + `")`
	if out := e.Script(ctx, in); out != in {
		t.Errorf("Script() = %q, want proxy link untouched", out)
	}
}
