package config

import (
	"fmt"
	"strings"
)

// FormatRoute renders a validated route in a compact, eskip-flavored
// single-line notation: `prefix: type target -> opt=val, opt=val`. It
// is used for log lines and the validate CLI's reporting, so a route
// table reads the same way whether it's coming from the YAML file or
// a running process's logs.
func FormatRoute(prefix string, r Route) string {
	var head string
	switch r.Type {
	case RouteStatic:
		head = fmt.Sprintf("%s: static %s", prefix, r.Root)
	case RouteRedirect:
		head = fmt.Sprintf("%s: redirect %d %s", prefix, r.RedirectStatus, r.RedirectTarget)
	case RouteProxy:
		head = fmt.Sprintf("%s: proxy %s", prefix, r.ProxyTarget)
	case RouteLoadBalance:
		head = fmt.Sprintf("%s: load_balance(%s) %s", prefix, r.Strategy, strings.Join(r.Targets, ","))
	case RouteWebSocket:
		head = fmt.Sprintf("%s: websocket %s", prefix, r.ProxyTarget)
	default:
		head = fmt.Sprintf("%s: %s", prefix, r.Type)
	}

	opts := routeOpts(r)
	if len(opts) == 0 {
		return head
	}
	return head + " -> " + strings.Join(opts, ", ")
}

func routeOpts(r Route) []string {
	var opts []string
	if r.PathRewrite != "" {
		opts = append(opts, fmt.Sprintf("path_rewrite=%s", r.PathRewrite))
	}
	if r.RateLimit != nil {
		opts = append(opts, fmt.Sprintf("rate_limit=%s/%d/%s", r.RateLimit.By, r.RateLimit.Requests, r.RateLimit.Period))
	}
	if len(r.RequestHeaders.Add) > 0 || len(r.RequestHeaders.Remove) > 0 {
		opts = append(opts, "request_headers")
	}
	if len(r.ResponseHeaders.Add) > 0 || len(r.ResponseHeaders.Remove) > 0 {
		opts = append(opts, "response_headers")
	}
	if r.RequestBody.Condition != nil {
		opts = append(opts, "request_body")
	}
	if r.ResponseBody.Condition != nil {
		opts = append(opts, "response_body")
	}
	if r.MaxFrameSize > 0 {
		opts = append(opts, fmt.Sprintf("max_frame_size=%d", r.MaxFrameSize))
	}
	if r.MaxMessageSize > 0 {
		opts = append(opts, fmt.Sprintf("max_message_size=%d", r.MaxMessageSize))
	}
	return opts
}

// RouteStrings renders every route in the snapshot via FormatRoute,
// longest-prefix first (the same order the router matches in).
func (s *Snapshot) RouteStrings() []string {
	out := make([]string, len(s.routes))
	for i, r := range s.routes {
		out[i] = FormatRoute(r.prefix, r.route)
	}
	return out
}
