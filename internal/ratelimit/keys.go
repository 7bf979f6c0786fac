package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc derives the rate limit key for a request.
type KeyFunc func(r *http.Request) string

// ClientIPKey keys requests by client network address. When trustProxy is
// set the first entry of X-Forwarded-For wins; only enable that behind a
// trusted reverse proxy, since the header is client-controlled otherwise.
func ClientIPKey(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		return clientIP(r, trustProxy)
	}
}

// IPPathKey keys requests by client address plus request path, so each
// route gets its own budget per client.
func IPPathKey(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		return clientIP(r, trustProxy) + ":" + r.URL.Path
	}
}

// HeaderKey keys requests by a header value (e.g. an API key), falling
// back to the client address when the header is empty.
func HeaderKey(name string, trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v
		}
		return clientIP(r, trustProxy)
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
		if xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				candidate := strings.TrimSpace(parts[0])
				if candidate != "" {
					return candidate
				}
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}

	if trimmed := strings.TrimSpace(r.RemoteAddr); trimmed != "" {
		return trimmed
	}

	return "unknown"
}
