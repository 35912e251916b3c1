package transform

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/relayfront/relayfront/internal/condition"
)

func TestApplyNoConditionPassesThroughUnchanged(t *testing.T) {
	header := http.Header{"X-Original": []string{"v"}}
	body := io.NopCloser(bytes.NewBufferString("foo"))

	pass := Pass{
		Condition: &condition.Condition{MethodIs: "POST"},
		Headers:   HeaderOp{Add: map[string]string{"X-New": "v"}},
	}
	ctx := condition.Context{Method: "GET", Path: "/x", Header: header}

	out, err := Apply(pass, header, body, ctx, Placeholders{})
	if err != nil {
		t.Fatal(err)
	}
	if header.Get("X-New") != "" {
		t.Error("headers should be untouched when condition is false")
	}
	b, _ := io.ReadAll(out)
	if string(b) != "foo" {
		t.Errorf("body should be untouched when condition is false, got %q", b)
	}
}

func TestApplyHeaderAddOverwritesAndInterpolates(t *testing.T) {
	header := http.Header{"X-Trace": []string{"old"}}
	pass := Pass{
		Headers: HeaderOp{Add: map[string]string{"X-Trace": "new", "X-Method": "{method}"}},
	}
	ctx := condition.Context{Method: "POST", Path: "/x"}

	_, err := Apply(pass, header, nil, ctx, Placeholders{Method: "POST"})
	if err != nil {
		t.Fatal(err)
	}
	if header.Get("X-Trace") != "new" {
		t.Errorf("expected overwrite, got %q", header.Get("X-Trace"))
	}
	if header.Get("X-Method") != "POST" {
		t.Errorf("expected placeholder interpolation, got %q", header.Get("X-Method"))
	}
}

func TestApplyUnknownPlaceholderLeftLiteral(t *testing.T) {
	header := http.Header{}
	pass := Pass{Headers: HeaderOp{Add: map[string]string{"X-Weird": "{not_a_placeholder}"}}}
	_, err := Apply(pass, header, nil, condition.Context{}, Placeholders{})
	if err != nil {
		t.Fatal(err)
	}
	if header.Get("X-Weird") != "{not_a_placeholder}" {
		t.Errorf("expected literal passthrough, got %q", header.Get("X-Weird"))
	}
}

func TestApplySetJSONSetsContentTypeAndLength(t *testing.T) {
	header := http.Header{}
	body := io.NopCloser(bytes.NewBufferString("foo"))
	pass := Pass{Body: BodyOp{SetJSON: map[string]any{"msg": "x"}}}

	out, err := Apply(pass, header, body, condition.Context{}, Placeholders{})
	if err != nil {
		t.Fatal(err)
	}
	if header.Get("Content-Type") != "application/json" {
		t.Errorf("expected application/json, got %q", header.Get("Content-Type"))
	}
	b, _ := io.ReadAll(out)
	if string(b) != `{"msg":"x"}` {
		t.Errorf("unexpected body: %s", b)
	}
	if header.Get("Content-Length") != "11" {
		t.Errorf("expected recomputed content-length, got %q", header.Get("Content-Length"))
	}
}

func TestApplySetTextSetsContentType(t *testing.T) {
	header := http.Header{}
	pass := Pass{Body: BodyOp{SetText: "hello {method}"}}
	ctx := condition.Context{Method: "PUT"}

	out, err := Apply(pass, header, nil, ctx, Placeholders{Method: "PUT"})
	if err != nil {
		t.Fatal(err)
	}
	if header.Get("Content-Type") != "text/plain" {
		t.Errorf("expected text/plain, got %q", header.Get("Content-Type"))
	}
	b, _ := io.ReadAll(out)
	if string(b) != "hello PUT" {
		t.Errorf("unexpected body: %s", b)
	}
}

func TestStripHopByHopRemovesStandardSet(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "close")
	h.Set("Upgrade", "websocket")
	h.Set("X-Keep", "yes")

	StripHopByHop(h)

	if h.Get("Connection") != "" || h.Get("Upgrade") != "" {
		t.Error("hop-by-hop headers should be stripped")
	}
	if h.Get("X-Keep") != "yes" {
		t.Error("non-hop-by-hop headers should survive")
	}
}

func TestStripHopByHopHonorsConnectionTokenList(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Custom-Hop")
	h.Set("X-Custom-Hop", "value")

	StripHopByHop(h)

	if h.Get("X-Custom-Hop") != "" {
		t.Error("headers named in Connection should also be stripped")
	}
}
