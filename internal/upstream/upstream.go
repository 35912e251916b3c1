// Package upstream is the pooled HTTP client the router dispatches proxy
// and load-balance actions through. It builds the forwarded request path
// per spec §4.H, streams the body, and classifies failures into the
// taxonomy the router maps to status codes (§7).
package upstream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
)

// idempotentMethods MAY be retried once on a connection-level failure
// before response headers are received (spec §4.H).
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// ErrorKind classifies an upstream failure for the router's status-code
// mapping (spec §7): Upstream -> 502, Timeout -> 504. Send returns every
// failure as an *Error of one of these two kinds.
type ErrorKind int

const (
	KindUpstream ErrorKind = iota
	KindTimeout
)

// Error wraps a classified upstream failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func classify(err error) *Error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindUpstream, Err: err}
}

// Client is a connection-pooled HTTP/1.1+HTTP/2 client keyed by
// (scheme, host, port, ALPN) via the stdlib transport's native pooling.
// A per-backend circuit breaker wraps each backend's RoundTrip calls:
// after 5 consecutive client-observed failures, calls to that backend
// fail fast for 30s (see internal/health for the complementary
// active-probe threshold machinery). The load balancer does not consult
// the breaker, so such a backend can still be picked.
type Client struct {
	http *http.Client

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// New builds a Client using the system root store. The per-call timeout
// is passed to Send, where it bounds the round trip including any retry.
func New() *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

func (c *Client) breakerFor(backendURL string) *gobreaker.CircuitBreaker[*http.Response] {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()

	if b, ok := c.breakers[backendURL]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        backendURL,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[backendURL] = b
	return b
}

// BuildPath constructs the forwarded request path per spec §4.H: if
// pathRewrite is set, pathRewrite with the match suffix appended (target.Path
// is not used); otherwise target.Path with the match suffix appended.
func BuildPath(target *url.URL, pathRewrite, matchSuffix string) string {
	base := strings.TrimSuffix(target.Path, "/")
	if pathRewrite != "" {
		return joinPath(strings.TrimSuffix(pathRewrite, "/"), matchSuffix)
	}
	return joinPath(base, matchSuffix)
}

func joinPath(base, suffix string) string {
	if suffix == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	return base + suffix
}

// Send issues method against targetURL (scheme+host+path already
// resolved by BuildPath) carrying header and a lazy body. query is
// preserved verbatim. timeout bounds the whole call with an absolute
// deadline; on expiry the in-flight request is aborted and a KindTimeout
// Error is returned.
func (c *Client) Send(ctx context.Context, method, targetURL, query string, header http.Header, body io.Reader, timeout time.Duration) (*http.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	full := targetURL
	if query != "" {
		full += "?" + query
	}

	resp, err := c.doOnce(ctx, method, full, header, body)
	if err == nil {
		return resp, nil
	}

	if idempotentMethods[method] && isConnectionLevel(err) {
		select {
		case <-time.After(RetryBackoff()):
		case <-ctx.Done():
			return nil, classify(ctx.Err())
		}

		resp, retryErr := c.doOnce(ctx, method, full, header, body)
		if retryErr == nil {
			return resp, nil
		}
		err = retryErr
	}

	return nil, classify(err)
}

func (c *Client) doOnce(ctx context.Context, method, full string, header http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, full, body)
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()

	backendURL := backendOf(full)
	breaker := c.breakerFor(backendURL)

	return breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
}

func backendOf(fullURL string) string {
	u, err := url.Parse(fullURL)
	if err != nil {
		return fullURL
	}
	return u.Scheme + "://" + u.Host
}

// isConnectionLevel reports whether err occurred before any response
// headers were received (dial/TLS/connection-reset), as opposed to a
// protocol error mid-stream, per spec §4.H's retry eligibility rule.
func isConnectionLevel(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// RetryBackoff computes a short bounded delay before the single allowed
// retry, per SPEC_FULL's domain-stack wiring of a real backoff library
// rather than a fixed sleep.
func RetryBackoff() time.Duration {
	b := backoff.NewExponentialBackOff()
	d := b.NextBackOff()
	if d == backoff.Stop {
		return 50 * time.Millisecond
	}
	return d
}
