// Package condition evaluates the small boolean predicate language used to
// gate transform passes (internal/transform). A Condition is pure and
// never fails: an absent Condition, or one with no fields set, evaluates
// to true.
package condition

import (
	"net/http"
	"strings"
)

// HeaderCheck asserts a header is present, optionally with a substring
// match against its value.
type HeaderCheck struct {
	Name         string `yaml:"name"`
	ValueMatches string `yaml:"value_matches,omitempty"`
}

// Condition is the implicit conjunction of whichever of its fields are
// set: path_matches, method_is, has_header. This mirrors the YAML shape
// in spec §6, where a condition is a single object, not a predicate list.
type Condition struct {
	PathMatches string       `yaml:"path_matches,omitempty"`
	MethodIs    string       `yaml:"method_is,omitempty"`
	HasHeader   *HeaderCheck `yaml:"has_header,omitempty"`
}

// Context is the minimal view of a request/response Evaluate needs.
type Context struct {
	Method string
	Path   string
	Header http.Header
}

// Evaluate reports whether c holds against ctx. A nil Condition is
// vacuously true. path_matches is a substring test against ctx.Path (see
// spec §9's Open Question: substring, not prefix).
func Evaluate(c *Condition, ctx Context) bool {
	if c == nil {
		return true
	}
	if c.PathMatches != "" && !strings.Contains(ctx.Path, c.PathMatches) {
		return false
	}
	if c.MethodIs != "" && !strings.EqualFold(c.MethodIs, ctx.Method) {
		return false
	}
	if c.HasHeader != nil && !headerMatches(ctx.Header, c.HasHeader) {
		return false
	}
	return true
}

func headerMatches(h http.Header, check *HeaderCheck) bool {
	values, ok := h[http.CanonicalHeaderKey(check.Name)]
	if !ok || len(values) == 0 {
		return false
	}
	if check.ValueMatches == "" {
		return true
	}
	for _, v := range values {
		if strings.Contains(v, check.ValueMatches) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether c has no fields set (an absent condition).
func IsEmpty(c *Condition) bool {
	return c == nil || (c.PathMatches == "" && c.MethodIs == "" && c.HasHeader == nil)
}
