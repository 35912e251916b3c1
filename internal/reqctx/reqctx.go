// Package reqctx builds the per-request metadata that flows through the
// dispatch pipeline. A Context is built once at router entry and is never
// mutated afterwards, except for the bookkeeping fields the router itself
// owns (RouteID, MatchedPrefix).
package reqctx

import (
	"crypto/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

// Context carries request metadata through the routing, rate-limit,
// transform and proxy stages. Fields set at New are read-only; RouteID and
// MatchedPrefix are filled in by the router immediately after a route
// match and are not touched again.
type Context struct {
	CorrelationID string
	ClientIP      string
	Method        string
	Path          string
	RawQuery      string
	Header        http.Header
	ArrivedAt     time.Time

	RouteID       string
	MatchedPrefix string
}

// entropy is a monotonic ULID source; Monotonic is not safe for concurrent
// use on its own, so every mint goes through idMu.
var (
	idMu    sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

func nextID(now time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// New builds a Context from an inbound request. The client IP is taken
// from RemoteAddr, falling back to the raw value if it cannot be split
// into host:port (e.g. unix socket peers).
func New(r *http.Request) *Context {
	now := time.Now()
	return &Context{
		CorrelationID: nextID(now),
		ClientIP:      clientIP(r),
		Method:        r.Method,
		Path:          r.URL.Path,
		RawQuery:      r.URL.RawQuery,
		Header:        r.Header.Clone(),
		ArrivedAt:     now,
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
