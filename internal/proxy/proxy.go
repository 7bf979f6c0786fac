// Package proxy provides HTTP reverse proxy functionality for the chatgate
// gateway. It forwards admitted requests to the chatbot backend services;
// all rate limiting decisions happen upstream in the middleware chain.
package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"

	chatgatehttp "github.com/mittyparmar/chatgate/internal/httputil"
)

// Route maps a path prefix to an upstream service.
type Route struct {
	// Prefix is the request path prefix this route serves (e.g. "/api/chat").
	Prefix string
	// Target is the upstream base URL.
	Target *url.URL
}

type compiledRoute struct {
	prefix string
	proxy  *httputil.ReverseProxy
}

// GatewayProxy forwards requests to backend services by path prefix.
// The longest matching prefix wins. Request paths are forwarded unchanged,
// so upstream services see the same routes the client called.
type GatewayProxy struct {
	routes []compiledRoute
}

// New creates a gateway proxy over the provided routes.
func New(routes []Route) (*GatewayProxy, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("proxy: at least one route is required")
	}

	compiled := make([]compiledRoute, 0, len(routes))
	for _, r := range routes {
		if r.Prefix == "" || !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("proxy: route prefix must start with /, got %q", r.Prefix)
		}
		if r.Target == nil {
			return nil, fmt.Errorf("proxy: route %q requires a target URL", r.Prefix)
		}
		if r.Target.Scheme != "http" && r.Target.Scheme != "https" {
			return nil, fmt.Errorf("proxy: route %q target scheme must be http or https, got %q", r.Prefix, r.Target.Scheme)
		}
		if r.Target.Host == "" {
			return nil, fmt.Errorf("proxy: route %q target must include a host", r.Prefix)
		}

		rp := httputil.NewSingleHostReverseProxy(r.Target)
		rp.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
			slog.Error("proxy: backend error", "path", req.URL.Path, "error", err)
			chatgatehttp.WriteJSON(w, http.StatusBadGateway, map[string]string{
				"error": "bad gateway",
			})
		}

		compiled = append(compiled, compiledRoute{prefix: r.Prefix, proxy: rp})
	}

	// Longest prefix first so /api/chat/admin beats /api/chat.
	sort.Slice(compiled, func(i, j int) bool {
		return len(compiled[i].prefix) > len(compiled[j].prefix)
	})

	return &GatewayProxy{routes: compiled}, nil
}

// ServeHTTP forwards the request to the first matching route.
func (gp *GatewayProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, route := range gp.routes {
		if matchesPrefix(r.URL.Path, route.prefix) {
			route.proxy.ServeHTTP(w, r)
			return
		}
	}

	chatgatehttp.WriteJSON(w, http.StatusNotFound, map[string]string{
		"error": "no backend route for path",
	})
}

// matchesPrefix reports whether path falls under prefix on a path-segment
// boundary, so /api/chatter does not match the /api/chat route.
func matchesPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/' || strings.HasSuffix(prefix, "/")
}
