// Package config owns the declarative configuration model: YAML decode,
// batch validation, and the immutable Snapshot the rest of the system
// consumes (spec §4.A). Snapshots are values; there is no interior
// mutability once Validate returns one.
package config

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relayfront/relayfront/internal/backend"
	"github.com/relayfront/relayfront/internal/loadbalancer"
	"github.com/relayfront/relayfront/internal/ratelimit"
	"github.com/relayfront/relayfront/internal/transform"
)

// RawTLS is the YAML shape of the tls key (spec §6). Absent ⇒ plaintext.
type RawTLS struct {
	CertPath string   `yaml:"cert_path,omitempty"`
	KeyPath  string   `yaml:"key_path,omitempty"`
	ACME     *RawACME `yaml:"acme,omitempty"`
}

type RawACME struct {
	Enabled                bool     `yaml:"enabled"`
	Domains                []string `yaml:"domains"`
	Email                  string   `yaml:"email"`
	Staging                bool     `yaml:"staging,omitempty"`
	CAURL                  string   `yaml:"ca_url,omitempty"`
	StoragePath            string   `yaml:"storage_path,omitempty"`
	RenewalDaysBeforeExpiry int     `yaml:"renewal_days_before_expiry,omitempty"`
}

// RawProtocols is the YAML shape of the protocols key (spec §6).
type RawProtocols struct {
	HTTP2Enabled              bool `yaml:"http2_enabled,omitempty"`
	HTTP3Enabled              bool `yaml:"http3_enabled,omitempty"`
	WebSocketEnabled          bool `yaml:"websocket_enabled,omitempty"`
	HTTP2MaxFrameSize         int  `yaml:"http2_max_frame_size,omitempty"`
	HTTP2MaxConcurrentStreams int  `yaml:"http2_max_concurrent_streams,omitempty"`
}

// RawHealthCheck is the YAML shape of the health_check key (spec §6).
type RawHealthCheck struct {
	Enabled           bool   `yaml:"enabled"`
	IntervalSecs      int    `yaml:"interval_secs"`
	TimeoutSecs       int    `yaml:"timeout_secs"`
	Path              string `yaml:"path"`
	UnhealthyThreshold int   `yaml:"unhealthy_threshold"`
	HealthyThreshold   int   `yaml:"healthy_threshold"`
}

// Raw is the top-level YAML document (spec §6).
type Raw struct {
	ListenAddr         string              `yaml:"listen_addr"`
	TLS                *RawTLS             `yaml:"tls,omitempty"`
	Protocols          RawProtocols        `yaml:"protocols,omitempty"`
	HealthCheck        RawHealthCheck      `yaml:"health_check,omitempty"`
	BackendHealthPaths map[string]string   `yaml:"backend_health_paths,omitempty"`
	Routes             map[string]RawRoute `yaml:"routes"`
}

// Load reads and YAML-decodes the file at path into a Raw document. It
// does not validate; call Validate on the result.
func Load(path string) (Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Raw{}, fmt.Errorf("reading config file: %w", err)
	}
	var raw Raw
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Raw{}, fmt.Errorf("parsing yaml: %w", err)
	}
	return raw, nil
}

// orderedRoute pairs a route prefix with its validated definition, kept
// sorted longest-prefix-first so the router can do a simple linear scan.
type orderedRoute struct {
	prefix string
	route  Route
}

// Snapshot is the immutable, validated configuration value produced by
// Validate. It is shared by readers via a copy-on-update handle (spec §3)
// owned by the supervisor.
type Snapshot struct {
	ListenAddr  string
	TLS         *RawTLS
	Protocols   RawProtocols
	HealthCheck HealthCheckConfig

	routes []orderedRoute // longest prefix first
}

// HealthCheckConfig is the validated, typed form of RawHealthCheck plus
// per-backend path overrides.
type HealthCheckConfig struct {
	Enabled       bool
	Interval      time.Duration
	Timeout       time.Duration
	DefaultPath   string
	PathOverrides map[string]string
	Thresholds    backend.Thresholds
}

// Routes returns the validated routes ordered longest-prefix first, the
// order the router matches in.
func (s *Snapshot) Routes() []Route {
	out := make([]Route, len(s.routes))
	for i, r := range s.routes {
		out[i] = r.route
	}
	return out
}

// BackendURLs returns every backend URL referenced by any route, for the
// supervisor's registry reconciliation (Ensure/GC).
func (s *Snapshot) BackendURLs() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(u string) {
		u = backend.CanonicalURL(u)
		if _, ok := seen[u]; !ok {
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	for _, r := range s.routes {
		switch r.route.Type {
		case RouteProxy, RouteWebSocket:
			add(r.route.ProxyTarget)
		case RouteLoadBalance:
			for _, t := range r.route.Targets {
				add(t)
			}
		}
	}
	return out
}

// ValidationError is one batched validation failure, with the field path
// it applies to (spec §4.A: "reports all errors in a single batch").
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validate checks raw against every rule in spec §4.A and, if there are
// no errors, returns an immutable Snapshot. All errors are collected and
// returned together; no early exit.
func Validate(raw Raw) (*Snapshot, []error) {
	var errs []error
	addf := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if _, _, err := net.SplitHostPort(raw.ListenAddr); err != nil {
		addf("listen_addr", "must be ip:port: %v", err)
	}

	if raw.TLS != nil && raw.TLS.ACME != nil && raw.TLS.ACME.Enabled {
		if len(raw.TLS.ACME.Domains) == 0 {
			addf("tls.acme.domains", "must be non-empty when acme is enabled")
		}
		if raw.TLS.ACME.Email == "" {
			addf("tls.acme.email", "must be non-empty when acme is enabled")
		}
	}

	hc := HealthCheckConfig{
		Enabled:       raw.HealthCheck.Enabled,
		Interval:      time.Duration(raw.HealthCheck.IntervalSecs) * time.Second,
		Timeout:       time.Duration(raw.HealthCheck.TimeoutSecs) * time.Second,
		DefaultPath:   raw.HealthCheck.Path,
		PathOverrides: raw.BackendHealthPaths,
		Thresholds: backend.Thresholds{
			Unhealthy: raw.HealthCheck.UnhealthyThreshold,
			Healthy:   raw.HealthCheck.HealthyThreshold,
		},
	}
	if hc.DefaultPath == "" {
		hc.DefaultPath = "/health"
	}

	var ordered []orderedRoute
	for prefix, rr := range raw.Routes {
		if !strings.HasPrefix(prefix, "/") {
			addf(fmt.Sprintf("routes[%s]", prefix), "path prefix must begin with /")
			continue
		}
		route, routeErrs := validateRoute(prefix, rr)
		for _, e := range routeErrs {
			errs = append(errs, e)
		}
		if len(routeErrs) == 0 {
			ordered = append(ordered, orderedRoute{prefix: prefix, route: route})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i].prefix) != len(ordered[j].prefix) {
			return len(ordered[i].prefix) > len(ordered[j].prefix)
		}
		return ordered[i].prefix < ordered[j].prefix
	})

	return &Snapshot{
		ListenAddr:  raw.ListenAddr,
		TLS:         raw.TLS,
		Protocols:   raw.Protocols,
		HealthCheck: hc,
		routes:      ordered,
	}, nil
}

func validateRoute(prefix string, rr RawRoute) (Route, []error) {
	var errs []error
	addf := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:  fmt.Sprintf("routes[%s].%s", prefix, field),
			Reason: fmt.Sprintf(format, args...),
		})
	}

	route := Route{ID: prefix, Type: rr.Type}

	switch rr.Type {
	case RouteStatic:
		if rr.Root == "" {
			addf("root", "must be set for a static route")
		} else if _, err := os.Stat(rr.Root); err != nil {
			addf("root", "does not exist: %v", err)
		}
		route.Root = rr.Root

	case RouteRedirect:
		if rr.Target == "" {
			addf("target", "must be set for a redirect route")
		}
		if rr.StatusCode < 300 || rr.StatusCode > 399 {
			addf("status_code", "must be in [300,399], got %d", rr.StatusCode)
		}
		route.RedirectTarget = rr.Target
		route.RedirectStatus = rr.StatusCode

	case RouteProxy:
		validateAbsoluteHTTPURL(addf, "target", rr.Target)
		route.ProxyTarget = rr.Target
		applyCommonProxyFields(&route, rr, addf)

	case RouteLoadBalance:
		if len(rr.Targets) == 0 {
			addf("targets", "must have at least one target")
		}
		for i, t := range rr.Targets {
			validateAbsoluteHTTPURL(addf, fmt.Sprintf("targets[%d]", i), t)
		}
		route.Targets = rr.Targets
		switch loadbalancer.Strategy(rr.Strategy) {
		case loadbalancer.RoundRobin, loadbalancer.Random:
			route.Strategy = loadbalancer.Strategy(rr.Strategy)
		case "":
			route.Strategy = loadbalancer.RoundRobin
		default:
			addf("strategy", "must be round_robin or random, got %q", rr.Strategy)
		}
		applyCommonProxyFields(&route, rr, addf)

	case RouteWebSocket:
		validateAbsoluteHTTPURL(addf, "target", rr.Target)
		route.ProxyTarget = rr.Target
		route.MaxFrameSize = rr.MaxFrameSize
		route.MaxMessageSize = rr.MaxMessageSize
		if rr.RateLimit != nil {
			route.RateLimit = validateRateLimit(addf, rr.RateLimit)
		}

	default:
		addf("type", "unknown route type %q", rr.Type)
	}

	return route, errs
}

func applyCommonProxyFields(route *Route, rr RawRoute, addf func(field, format string, args ...any)) {
	route.PathRewrite = rr.PathRewrite

	if rr.RateLimit != nil {
		route.RateLimit = validateRateLimit(addf, rr.RateLimit)
	}
	if rr.RequestHeaders != nil {
		route.RequestHeaders = transform.HeaderOp{Add: rr.RequestHeaders.Add, Remove: rr.RequestHeaders.Remove}
	}
	if rr.ResponseHeaders != nil {
		route.ResponseHeaders = transform.HeaderOp{Add: rr.ResponseHeaders.Add, Remove: rr.ResponseHeaders.Remove}
	}
	if rr.RequestBody != nil {
		route.RequestBody = bodyPassFromRaw(rr.RequestBody)
	}
	if rr.ResponseBody != nil {
		route.ResponseBody = bodyPassFromRaw(rr.ResponseBody)
	}
}

func bodyPassFromRaw(rb *RawBodyOp) transform.Pass {
	pass := transform.Pass{Condition: conditionFromRaw(rb.Condition)}
	pass.Body = transform.BodyOp{SetText: rb.SetText, SetJSON: rb.SetJSON}
	return pass
}

func validateAbsoluteHTTPURL(addf func(field, format string, args ...any), field, raw string) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		addf(field, "must be an absolute http(s) URL, got %q", raw)
	}
}

func validateRateLimit(addf func(field, format string, args ...any), rr *RawRateLimit) *ratelimit.Policy {
	p := &ratelimit.Policy{
		By:         ratelimit.By(rr.By),
		HeaderName: rr.HeaderName,
		Requests:   rr.Requests,
		StatusCode: rr.StatusCode,
		Message:    rr.Message,
		Algorithm:  ratelimit.Algorithm(rr.Algorithm),
	}

	switch p.By {
	case ratelimit.ByIP, ratelimit.ByRoute:
	case ratelimit.ByHeader:
		if rr.HeaderName == "" {
			addf("rate_limit.header_name", "must be non-empty when by=header")
		}
	default:
		addf("rate_limit.by", "must be one of ip, header, route, got %q", rr.By)
	}

	if rr.Requests < 1 {
		addf("rate_limit.requests", "must be >= 1, got %d", rr.Requests)
	}

	period, err := parsePeriod(rr.Period)
	if err != nil {
		addf("rate_limit.period", "%v", err)
	} else {
		p.Period = period
	}

	if rr.StatusCode != 0 && (rr.StatusCode < 400 || rr.StatusCode > 599) {
		addf("rate_limit.status_code", "must be a 4xx/5xx status, got %d", rr.StatusCode)
	}
	if p.StatusCode == 0 {
		p.StatusCode = http.StatusTooManyRequests
	}

	return p
}

// parsePeriod parses a duration string using units from {s, m, h}, per
// spec §4.A (e.g. "1s", "5m", "1h").
func parsePeriod(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("must be set")
	}
	unit := s[len(s)-1]
	var mult time.Duration
	switch unit {
	case 's':
		mult = time.Second
	case 'm':
		mult = time.Minute
	case 'h':
		mult = time.Hour
	default:
		return 0, fmt.Errorf("unit must be one of s, m, h, got %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid numeric value in %q", s)
	}
	return time.Duration(n) * mult, nil
}
