// Package transform implements the request/response rewrite engine:
// header removal/addition with placeholder interpolation, and body
// rewrites gated by a condition (internal/condition). See spec §4.G.
package transform

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/relayfront/relayfront/internal/condition"
)

// hopByHop headers apply only to a single transport hop and are stripped
// on both pass-through paths regardless of user transforms (spec §4.G).
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// HeaderOp is a header add/remove pass.
type HeaderOp struct {
	Add    map[string]string
	Remove []string
}

// BodyOp is a body rewrite pass. Unchanged is the zero value.
type BodyOp struct {
	SetText string
	SetJSON map[string]any
}

func (b BodyOp) isZero() bool {
	return b.SetText == "" && b.SetJSON == nil
}

// Pass is one side (request or response) of a route's transform
// configuration.
type Pass struct {
	Condition *condition.Condition
	Headers   HeaderOp
	Body      BodyOp
}

// Placeholders is the context substituted into header values and text
// bodies: {client_ip}, {uri_path}, {timestamp_iso}, {method}. Unknown
// placeholders are left literal.
type Placeholders struct {
	ClientIP string
	URIPath  string
	Method   string
}

// Interpolate substitutes the known placeholders into s, leaving any
// unrecognized {...} token literal.
func (p Placeholders) Interpolate(s string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	replacer := strings.NewReplacer(
		"{client_ip}", p.ClientIP,
		"{uri_path}", p.URIPath,
		"{timestamp_iso}", time.Now().UTC().Format(time.RFC3339),
		"{method}", p.Method,
	)
	return replacer.Replace(s)
}

// StripHopByHop removes the hop-by-hop header set from h, in place.
func StripHopByHop(h http.Header) {
	for _, name := range hopByHop {
		h.Del(name)
	}
	// RFC 7230 §6.1: additional hop-by-hop headers may be named by the
	// Connection header's value.
	if conn := h.Get("Connection"); conn != "" {
		for _, tok := range strings.Split(conn, ",") {
			tok = strings.TrimSpace(tok)
			if httpguts.ValidHeaderFieldName(tok) {
				h.Del(tok)
			}
		}
	}
}

// Apply runs pass against header/body if its condition holds, returning
// the (possibly replaced) body reader. If the condition is false, header
// and body are returned byte-identical to the input (spec §8 invariant).
// When no body rewrite applies the original reader is streamed through
// untouched, preserving back-pressure; only set_text/set_json materialize
// a buffered replacement.
func Apply(pass Pass, header http.Header, body io.ReadCloser, ctx condition.Context, ph Placeholders) (io.ReadCloser, error) {
	if !condition.Evaluate(pass.Condition, ctx) {
		return body, nil
	}

	for _, name := range pass.Headers.Remove {
		header.Del(name)
	}
	for name, value := range pass.Headers.Add {
		header.Set(name, ph.Interpolate(value))
	}

	if pass.Body.isZero() {
		return body, nil
	}

	if body != nil {
		_ = body.Close()
	}

	var newBody []byte
	var contentType string
	switch {
	case pass.Body.SetText != "":
		newBody = []byte(ph.Interpolate(pass.Body.SetText))
		contentType = "text/plain"
	case pass.Body.SetJSON != nil:
		interpolated := make(map[string]any, len(pass.Body.SetJSON))
		for k, v := range pass.Body.SetJSON {
			if s, ok := v.(string); ok {
				interpolated[k] = ph.Interpolate(s)
			} else {
				interpolated[k] = v
			}
		}
		encoded, err := json.Marshal(interpolated)
		if err != nil {
			return nil, err
		}
		newBody = encoded
		contentType = "application/json"
	}

	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(newBody)))
	header.Del("Transfer-Encoding")

	return io.NopCloser(bytes.NewReader(newBody)), nil
}
