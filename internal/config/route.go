package config

import (
	"github.com/relayfront/relayfront/internal/condition"
	"github.com/relayfront/relayfront/internal/loadbalancer"
	"github.com/relayfront/relayfront/internal/ratelimit"
	"github.com/relayfront/relayfront/internal/transform"
)

// RouteType tags the Route sum type (spec §3).
type RouteType string

const (
	RouteStatic      RouteType = "static"
	RouteRedirect    RouteType = "redirect"
	RouteProxy       RouteType = "proxy"
	RouteLoadBalance RouteType = "load_balance"
	RouteWebSocket   RouteType = "websocket"
)

// RawHeaderOp is the YAML shape of request_headers/response_headers
// (spec §6).
type RawHeaderOp struct {
	Add    map[string]string `yaml:"add,omitempty"`
	Remove []string          `yaml:"remove,omitempty"`
}

// RawBodyOp is the YAML shape of request_body/response_body (spec §6).
type RawBodyOp struct {
	Condition *RawCondition  `yaml:"condition,omitempty"`
	SetText   string         `yaml:"set_text,omitempty"`
	SetJSON   map[string]any `yaml:"set_json,omitempty"`
}

// RawCondition is the YAML shape of a condition object (spec §6).
type RawCondition struct {
	PathMatches string             `yaml:"path_matches,omitempty"`
	MethodIs    string             `yaml:"method_is,omitempty"`
	HasHeader   *RawHeaderHasCheck `yaml:"has_header,omitempty"`
}

type RawHeaderHasCheck struct {
	Name         string `yaml:"name"`
	ValueMatches string `yaml:"value_matches,omitempty"`
}

// RawRateLimit is the YAML shape of rate_limit (spec §6).
type RawRateLimit struct {
	By         string `yaml:"by"`
	HeaderName string `yaml:"header_name,omitempty"`
	Requests   int    `yaml:"requests"`
	Period     string `yaml:"period"`
	StatusCode int    `yaml:"status_code,omitempty"`
	Message    string `yaml:"message,omitempty"`
	Algorithm  string `yaml:"algorithm,omitempty"`
}

// RawRoute is the YAML shape of one entry in the routes map (spec §6).
// Only the fields relevant to Type are meaningful; validation enforces
// that.
type RawRoute struct {
	Type RouteType `yaml:"type"`

	// static
	Root string `yaml:"root,omitempty"`

	// redirect
	Target     string `yaml:"target,omitempty"`
	StatusCode int    `yaml:"status_code,omitempty"`

	// proxy / load_balance / websocket
	Targets     []string `yaml:"targets,omitempty"`
	Strategy    string   `yaml:"strategy,omitempty"`
	PathRewrite string   `yaml:"path_rewrite,omitempty"`

	RateLimit       *RawRateLimit `yaml:"rate_limit,omitempty"`
	RequestHeaders  *RawHeaderOp  `yaml:"request_headers,omitempty"`
	ResponseHeaders *RawHeaderOp  `yaml:"response_headers,omitempty"`
	RequestBody     *RawBodyOp    `yaml:"request_body,omitempty"`
	ResponseBody    *RawBodyOp    `yaml:"response_body,omitempty"`

	// websocket
	MaxFrameSize   int `yaml:"max_frame_size,omitempty"`
	MaxMessageSize int `yaml:"max_message_size,omitempty"`
}

// Route is a validated, immutable route definition. Exactly the fields
// for Type are populated; the rest are zero values.
type Route struct {
	ID   string // the configured path prefix, doubling as route id
	Type RouteType

	Root string // static

	RedirectTarget string // redirect
	RedirectStatus int

	ProxyTarget string   // proxy
	Targets     []string // load_balance
	Strategy    loadbalancer.Strategy

	PathRewrite string

	RateLimit *ratelimit.Policy

	RequestHeaders  transform.HeaderOp
	ResponseHeaders transform.HeaderOp
	RequestBody     transform.Pass
	ResponseBody    transform.Pass

	MaxFrameSize   int
	MaxMessageSize int
}

func conditionFromRaw(rc *RawCondition) *condition.Condition {
	if rc == nil {
		return nil
	}
	c := &condition.Condition{PathMatches: rc.PathMatches, MethodIs: rc.MethodIs}
	if rc.HasHeader != nil {
		c.HasHeader = &condition.HeaderCheck{Name: rc.HasHeader.Name, ValueMatches: rc.HasHeader.ValueMatches}
	}
	if condition.IsEmpty(c) {
		return nil
	}
	return c
}
