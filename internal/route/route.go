// Package route maps request paths onto named routes.
package route

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// TemplateRoute is the route name of the ModernGov template page. Only
// responses on this route are transformed.
const TemplateRoute = "localgov_moderngov.modern_gov"

// DefaultTemplatePath is where the template page lives when no routes are
// configured.
const DefaultTemplatePath = "/moderngov-template"

// Route names a path pattern. Patterns use doublestar glob syntax, so
// "/moderngov-template" matches exactly and "/moderngov/**" matches a tree.
type Route struct {
	Name    string
	Pattern string
}

// Resolver matches paths against an ordered list of routes.
type Resolver struct {
	routes []Route
}

// NewResolver validates patterns and keeps routes in the given order.
func NewResolver(routes []Route) (*Resolver, error) {
	for i, r := range routes {
		if r.Name == "" {
			return nil, fmt.Errorf("routes[%d]: name is required", i)
		}
		if !strings.HasPrefix(r.Pattern, "/") {
			return nil, fmt.Errorf("routes[%d]: pattern '%s' must start with /", i, r.Pattern)
		}
		if !doublestar.ValidatePattern(r.Pattern) {
			return nil, fmt.Errorf("routes[%d]: invalid pattern '%s'", i, r.Pattern)
		}
	}
	return &Resolver{routes: append([]Route(nil), routes...)}, nil
}

// Default returns a resolver serving the template page at its usual path.
func Default() *Resolver {
	return &Resolver{routes: []Route{{Name: TemplateRoute, Pattern: DefaultTemplatePath}}}
}

// Resolve returns the name of the first route matching path, or "".
func (r *Resolver) Resolve(path string) string {
	if path == "" {
		path = "/"
	}
	for _, rt := range r.routes {
		if ok, _ := doublestar.Match(rt.Pattern, path); ok {
			return rt.Name
		}
	}
	return ""
}

// IsTemplate reports whether path resolves to the template route.
func (r *Resolver) IsTemplate(path string) bool {
	return r.Resolve(path) == TemplateRoute
}
