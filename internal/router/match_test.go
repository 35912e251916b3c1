package router

import (
	"testing"

	"github.com/relayfront/relayfront/internal/config"
)

func routes(ids ...string) []config.Route {
	out := make([]config.Route, len(ids))
	for i, id := range ids {
		out[i] = config.Route{ID: id}
	}
	return out
}

func TestMatchLongestPrefixPrecedence(t *testing.T) {
	rs := routes("/api/v1", "/api")

	r, suffix, ok := Match(rs, "/api/v1/users")
	if !ok || r.ID != "/api/v1" || suffix != "/users" {
		t.Fatalf("got %+v %q %v", r, suffix, ok)
	}

	r, suffix, ok = Match(rs, "/api/other")
	if !ok || r.ID != "/api" || suffix != "/other" {
		t.Fatalf("got %+v %q %v", r, suffix, ok)
	}
}

func TestMatchExactEquality(t *testing.T) {
	rs := routes("/proxy")
	r, suffix, ok := Match(rs, "/proxy")
	if !ok || r.ID != "/proxy" || suffix != "" {
		t.Fatalf("got %+v %q %v", r, suffix, ok)
	}
}

func TestMatchBoundaryRejectsPartialSegment(t *testing.T) {
	rs := routes("/api")
	_, _, ok := Match(rs, "/apikeys")
	if ok {
		t.Fatal("expected no match: /apikeys is not bounded by /api")
	}
}

func TestMatchRootCatchAll(t *testing.T) {
	rs := routes("/api", "/")
	r, suffix, ok := Match(rs, "/whatever")
	if !ok || r.ID != "/" || suffix != "whatever" {
		t.Fatalf("got %+v %q %v", r, suffix, ok)
	}
}

func TestMatchNoMatch(t *testing.T) {
	rs := routes("/api")
	_, _, ok := Match(rs, "/other")
	if ok {
		t.Fatal("expected no match")
	}
}
