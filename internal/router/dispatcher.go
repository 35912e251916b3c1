package router

import (
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relayfront/relayfront/internal/backend"
	"github.com/relayfront/relayfront/internal/condition"
	"github.com/relayfront/relayfront/internal/config"
	"github.com/relayfront/relayfront/internal/loadbalancer"
	"github.com/relayfront/relayfront/internal/logging"
	"github.com/relayfront/relayfront/internal/metrics"
	"github.com/relayfront/relayfront/internal/ratelimit"
	"github.com/relayfront/relayfront/internal/reqctx"
	"github.com/relayfront/relayfront/internal/staticfs"
	"github.com/relayfront/relayfront/internal/tracker"
	"github.com/relayfront/relayfront/internal/transform"
	"github.com/relayfront/relayfront/internal/upstream"
)

// Dispatcher implements the per-request pipeline of spec §4.I: build
// context, admit through the rate limiter, apply request transforms,
// execute the matched route's action, apply response transforms, return
// to the wire.
type Dispatcher struct {
	snapshot atomic.Pointer[config.Snapshot]

	Backends *backend.Registry
	LB       *loadbalancer.Balancer
	Limiter  *ratelimit.Store
	Upstream *upstream.Client
	Tracker  *tracker.Tracker
	Metrics  metrics.Recorder

	staticServers atomic.Pointer[map[string]*staticfs.Server] // route id -> server, rebuilt on reload
	wsUpgrader    Upgrader
}

// New returns a Dispatcher wired to the given collaborators. Call
// SetSnapshot before serving any request.
func New(backends *backend.Registry, lb *loadbalancer.Balancer, limiter *ratelimit.Store, client *upstream.Client, t *tracker.Tracker, rec metrics.Recorder) *Dispatcher {
	d := &Dispatcher{
		Backends: backends,
		LB:       lb,
		Limiter:  limiter,
		Upstream: client,
		Tracker:  t,
		Metrics:  rec,
	}
	empty := make(map[string]*staticfs.Server)
	d.staticServers.Store(&empty)
	return d
}

// SetSnapshot atomically publishes a new configuration snapshot. Readers
// that loaded the previous snapshot finish their in-flight request under
// it; new requests see snap (spec §3, §8: "fully-old or fully-new; no
// field mixing").
func (d *Dispatcher) SetSnapshot(snap *config.Snapshot) {
	servers := make(map[string]*staticfs.Server)
	for _, r := range snap.Routes() {
		if r.Type == config.RouteStatic {
			servers[r.ID] = staticfs.New(r.Root)
		}
	}
	d.staticServers.Store(&servers)
	d.snapshot.Store(snap)
}

// ServeHTTP is the request entrypoint: connection tracking, then the
// full dispatch pipeline.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !d.Tracker.Enter() {
		w.Header().Set("Connection", "close")
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	defer d.Tracker.Exit()

	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("recovered from panic in dispatch")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}()

	start := time.Now()
	snap := d.snapshot.Load()
	ctx := reqctx.New(r)

	status, routeID := d.dispatch(w, r, ctx, snap)

	outcome := outcomeFor(status)
	d.Metrics.ObserveRequest(routeID, outcome, time.Since(start).Seconds())
	logging.AccessEntry(ctx.CorrelationID, routeID, ctx.Method, ctx.Path, status, float64(time.Since(start).Microseconds())/1000)
}

func outcomeFor(status int) string {
	switch {
	case status >= 500:
		return "error"
	case status >= 400:
		return "rejected"
	default:
		return "ok"
	}
}

// dispatch runs steps 1-6 of spec §4.I and returns the final status code
// and matched route id (or "" if none matched) for observability.
func (d *Dispatcher) dispatch(w http.ResponseWriter, r *http.Request, ctx *reqctx.Context, snap *config.Snapshot) (int, string) {
	if snap == nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return http.StatusServiceUnavailable, ""
	}

	route, suffix, ok := Match(snap.Routes(), ctx.Path)
	if !ok {
		http.NotFound(w, r)
		return http.StatusNotFound, ""
	}
	ctx.RouteID = route.ID
	ctx.MatchedPrefix = route.ID

	if route.RateLimit != nil {
		if status, ok := d.admit(w, route, ctx); !ok {
			return status, route.ID
		}
	}

	reqCondCtx := condition.Context{Method: ctx.Method, Path: ctx.Path, Header: r.Header}
	ph := transform.Placeholders{ClientIP: ctx.ClientIP, URIPath: ctx.Path, Method: ctx.Method}

	body, err := transform.Apply(transform.Pass{Condition: route.RequestBody.Condition, Body: route.RequestBody.Body}, r.Header, r.Body, reqCondCtx, ph)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return http.StatusInternalServerError, route.ID
	}
	r.Body = body

	for name, v := range route.RequestHeaders.Add {
		r.Header.Set(name, ph.Interpolate(v))
	}
	for _, name := range route.RequestHeaders.Remove {
		r.Header.Del(name)
	}
	// A websocket upgrade needs its Connection/Upgrade headers intact.
	if route.Type != config.RouteWebSocket {
		transform.StripHopByHop(r.Header)
	}

	status := d.execute(w, r, ctx, route, suffix, ph)
	return status, route.ID
}

func (d *Dispatcher) admit(w http.ResponseWriter, route config.Route, ctx *reqctx.Context) (int, bool) {
	key, ok := ratelimit.KeyFor(*route.RateLimit, ctx.ClientIP, ctx.Header)
	if !ok {
		status := route.RateLimit.StatusCode
		if status == 0 {
			status = http.StatusTooManyRequests
		}
		http.Error(w, route.RateLimit.Message, status)
		return status, false
	}

	decision := d.Limiter.Admit(route.ID, key, *route.RateLimit)
	if !decision.Allow {
		if decision.RetryAfter > 0 {
			w.Header().Set("Retry-After", ratelimit.RetryAfterHeader(decision.RetryAfter))
		}
		http.Error(w, decision.Message, decision.StatusCode)
		return decision.StatusCode, false
	}
	return 0, true
}

// execute runs the matched route's action (step 4 of spec §4.I) and the
// response-side transform pass (step 5), writing the final response.
func (d *Dispatcher) execute(w http.ResponseWriter, r *http.Request, ctx *reqctx.Context, route config.Route, suffix string, ph transform.Placeholders) int {
	switch route.Type {
	case config.RouteRedirect:
		return d.doRedirect(w, r, route)
	case config.RouteStatic:
		return d.doStatic(w, r, route, suffix)
	case config.RouteProxy:
		return d.doProxy(w, r, ctx, route, route.ProxyTarget, suffix, ph)
	case config.RouteLoadBalance:
		target, ok := d.LB.Pick(route.Targets, d.Backends, route.Strategy)
		if !ok {
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return http.StatusServiceUnavailable
		}
		return d.doProxy(w, r, ctx, route, target, suffix, ph)
	case config.RouteWebSocket:
		return d.doWebSocket(w, r, route, suffix)
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
}

func (d *Dispatcher) doRedirect(w http.ResponseWriter, r *http.Request, route config.Route) int {
	target := route.RedirectTarget
	if u, err := url.Parse(target); err == nil && !u.IsAbs() {
		target = r.URL.ResolveReference(u).String()
	}
	w.Header().Set("Location", target)
	w.WriteHeader(route.RedirectStatus)
	return route.RedirectStatus
}

func (d *Dispatcher) doStatic(w http.ResponseWriter, r *http.Request, route config.Route, suffix string) int {
	servers := *d.staticServers.Load()
	srv, ok := servers[route.ID]
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	srv.ServeSuffix(rec, r, suffix)
	return rec.status
}

func (d *Dispatcher) doProxy(w http.ResponseWriter, r *http.Request, ctx *reqctx.Context, route config.Route, target, suffix string, ph transform.Placeholders) int {
	targetURL, err := url.Parse(target)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}

	path := upstream.BuildPath(targetURL, route.PathRewrite, suffix)
	full := targetURL.Scheme + "://" + targetURL.Host + path

	resp, err := d.Upstream.Send(r.Context(), r.Method, full, ctx.RawQuery, r.Header, r.Body, 30*time.Second)
	if err != nil {
		return d.writeUpstreamError(w, err)
	}
	defer resp.Body.Close()

	reqCondCtx := condition.Context{Method: ctx.Method, Path: ctx.Path, Header: resp.Header}
	body, err := transform.Apply(transform.Pass{Condition: route.ResponseBody.Condition, Body: route.ResponseBody.Body}, resp.Header, resp.Body, reqCondCtx, ph)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	defer body.Close()

	for name, v := range route.ResponseHeaders.Add {
		resp.Header.Set(name, ph.Interpolate(v))
	}
	for _, name := range route.ResponseHeaders.Remove {
		resp.Header.Del(name)
	}
	transform.StripHopByHop(resp.Header)

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, body)
	return resp.StatusCode
}

func (d *Dispatcher) writeUpstreamError(w http.ResponseWriter, err error) int {
	var uerr *upstream.Error
	status := http.StatusBadGateway
	if asUpstreamError(err, &uerr) && uerr.Kind == upstream.KindTimeout {
		status = http.StatusGatewayTimeout
	}
	http.Error(w, http.StatusText(status), status)
	return status
}

func asUpstreamError(err error, target **upstream.Error) bool {
	if e, ok := err.(*upstream.Error); ok {
		*target = e
		return true
	}
	return false
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// statusRecorder captures the status code a downstream handler (e.g.
// http.FileServer) wrote, so doStatic can report it for metrics/logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

