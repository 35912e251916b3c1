// Package router implements longest-prefix route matching and the
// per-request dispatch pipeline (spec §4.I).
package router

import (
	"strings"

	"github.com/relayfront/relayfront/internal/config"
)

// Match finds the longest-prefix route matching path in routes, which
// must already be ordered longest-prefix-first (config.Snapshot.Routes
// guarantees this). It returns the matched route, the match suffix
// (path with the prefix removed), and whether a match was found.
//
// A prefix matches only if the prefix equals the full path, or the next
// character after the prefix is '/', or the prefix is "/" itself — the
// boundary rule from spec §4.I/glossary, which exists so "/api" does not
// spuriously match "/apikeys".
func Match(routes []config.Route, path string) (route config.Route, suffix string, ok bool) {
	for _, r := range routes {
		if matchesBoundary(r.ID, path) {
			return r, path[len(r.ID):], true
		}
	}
	return config.Route{}, "", false
}

func matchesBoundary(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/'
}
