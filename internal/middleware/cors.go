package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// Origins is the list of browser origins allowed to talk to the relay. "*"
// allows any origin.
type Origins []string

// Allows reports whether origin is in the list.
func (o Origins) Allows(origin string) bool {
	return slices.Contains(o, "*") || slices.Contains(o, origin)
}

// CheckOrigin is a websocket.Upgrader CheckOrigin func. Requests without an
// Origin header come from non-browser clients and are accepted.
func (o Origins) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || o.Allows(origin)
}

// CORS creates a CORS middleware
func CORS(allowed Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && allowed.Allows(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization")
				w.Header().Add("Vary", "Origin")
			}

			// Handle preflight request
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ParseOrigins parses a comma-separated origins string, skipping blanks.
func ParseOrigins(originsStr string) Origins {
	var origins Origins
	for _, origin := range strings.Split(originsStr, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
