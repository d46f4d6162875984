// Package router matches requests against an ordered route table.
//
// Matching rules, checked in table order with the first match winning:
//   - exact method and path
//   - http.MethodAny matches every method
//   - WildcardPath matches every path
//   - a GET route also serves HEAD for the same path
package router

import (
	"errors"
	"fmt"

	"github.com/searchktools/fast-uring/core/http"
)

// WildcardPath matches any request path
const WildcardPath = "**"

var ErrInvalidRoute = errors.New("invalid route")

// Route binds a method and path to a handler. Routes with UsesBody set get
// the request body read off the wire; for the others any body is ignored.
type Route struct {
	Method   http.Method
	Path     string
	Handler  http.Handler
	UsesBody bool
}

// IsZero reports whether r is the sentinel that terminates a route list
func (r *Route) IsZero() bool {
	return r.Method == http.MethodAny && r.Path == "" && r.Handler == nil && !r.UsesBody
}

func (r *Route) wildcard() bool {
	return r.Method == http.MethodAny || r.Path == WildcardPath
}

// Table is an immutable ordered route list with an exact-match index
type Table struct {
	routes []Route

	// hash(method, path) -> indices of exact routes, ascending
	exact map[uint64][]int
	// indices of routes with a wildcard method or path, ascending
	wild []int
}

// NewTable builds a table from routes, stopping at the first zero Route
func NewTable(routes []Route) (*Table, error) {
	t := &Table{exact: make(map[uint64][]int, len(routes))}
	for i := range routes {
		r := routes[i]
		if r.IsZero() {
			break
		}
		if r.Path == "" || r.Handler == nil {
			return nil, fmt.Errorf("%w: entry %d (%s %q)", ErrInvalidRoute, i, r.Method, r.Path)
		}
		idx := len(t.routes)
		t.routes = append(t.routes, r)
		if r.wildcard() {
			t.wild = append(t.wild, idx)
			continue
		}
		h := hashRoute(r.Method, r.Path)
		t.exact[h] = append(t.exact[h], idx)
	}
	return t, nil
}

// Len returns the number of routes
func (t *Table) Len() int { return len(t.routes) }

// Route returns route i
func (t *Table) Route(i int) *Route { return &t.routes[i] }

// Match returns the index of the first route serving method and path
func (t *Table) Match(method http.Method, path string) (int, bool) {
	return match(t, method, path)
}

// MatchBytes is Match for a path still in the receive buffer
func (t *Table) MatchBytes(method http.Method, path []byte) (int, bool) {
	return match(t, method, path)
}

func match[P string | []byte](t *Table, method http.Method, path P) (int, bool) {
	best := exactIndex(t, method, path)
	if method == http.MethodHead {
		if i := exactIndex(t, http.MethodGet, path); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	for _, i := range t.wild {
		if best >= 0 && i > best {
			break
		}
		r := &t.routes[i]
		if (r.Method == http.MethodAny || r.Method == method) &&
			(r.Path == WildcardPath || r.Path == string(path)) {
			best = i
			break
		}
	}
	return best, best >= 0
}

func exactIndex[P string | []byte](t *Table, method http.Method, path P) int {
	for _, i := range t.exact[hashRoute(method, path)] {
		r := &t.routes[i]
		if r.Method == method && r.Path == string(path) {
			return i
		}
	}
	return -1
}

// hashRoute computes a fast hash for method+path
func hashRoute[P string | []byte](method http.Method, path P) uint64 {
	// FNV-1a
	const prime = 1099511628211
	hash := uint64(14695981039346656037)

	hash ^= uint64(method)
	hash *= prime
	for i := 0; i < len(path); i++ {
		hash ^= uint64(path[i])
		hash *= prime
	}
	return hash
}
