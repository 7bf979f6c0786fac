package api

import (
	"net/http"
	"strings"

	gatehttp "github.com/mittyparmar/chatgate/internal/httputil"
)

// RequireAdminToken guards management endpoints with a shared bearer token.
// The token is read from the Authorization header or, as a fallback, from
// X-Admin-Token. A handler wrapped with an empty expected token always
// responds 403 so an unconfigured deployment never exposes the admin surface.
func RequireAdminToken(expectedToken string, next http.Handler) http.Handler {
	expectedToken = strings.TrimSpace(expectedToken)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if expectedToken == "" {
			gatehttp.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "admin API token not configured"})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
		}

		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="chatgate-admin"`)
			gatehttp.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing admin token"})
			return
		}

		if token != expectedToken {
			gatehttp.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "invalid admin token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
