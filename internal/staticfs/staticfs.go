// Package staticfs is the out-of-core "static tree" collaborator the
// router dispatches Static routes to (spec §1: "Static file serving
// primitives (MIME sniffing, range requests)... dispatches to a 'static
// tree' collaborator by path"). It is a thin wrapper over
// net/http.FileServer; the only behavior the core requires of it is the
// directory-traversal guard in spec §4.I.
package staticfs

import (
	"net/http"
	"strings"
)

// Server serves one route's static root.
type Server struct {
	root string
	fs   http.Handler
}

// New returns a Server rooted at root.
func New(root string) *Server {
	return &Server{root: root, fs: http.FileServer(http.Dir(root))}
}

// ServeSuffix serves the file at suffix (the request path after the
// matched route prefix) relative to the server's root. Any ".." path
// segment in suffix — an attempt to escape the root — yields 403,
// regardless of whether the underlying filesystem lookup would actually
// resolve outside root (spec §4.I).
func (s *Server) ServeSuffix(w http.ResponseWriter, r *http.Request, suffix string) {
	if containsDotDotSegment(suffix) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// http.FileServer strips a wildcard prefix via http.StripPrefix; here
	// we've already reduced the path to just the suffix, so serve it
	// directly by rewriting the request's URL.Path for the duration of
	// the call. MIME sniffing and range-request handling are entirely
	// stdlib's http.FileServer/ServeContent behavior, out of scope per
	// spec §1.
	clone := r.Clone(r.Context())
	if suffix == "" {
		suffix = "/"
	}
	clone.URL.Path = suffix
	s.fs.ServeHTTP(w, clone)
}

func containsDotDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
