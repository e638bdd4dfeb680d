package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/webxterm/webxterm/internal/logutil"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RestrictOrigins rejects browser requests whose Origin header is neither
// same-host nor listed in allowed. Requests without an Origin header pass,
// as does everything when allowed contains "*".
func RestrictOrigins(allowed []string) func(http.Handler) http.Handler {
	permitted := make(map[string]bool, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o == "" {
			continue
		}
		if o == "*" {
			wildcard = true
		}
		permitted[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard || originAllowed(origin, r.Host, permitted) {
				next.ServeHTTP(w, r)
				return
			}
			log.Printf("[api] rejected %s %s from origin %s", r.Method, r.URL.Path, logutil.SanitizeForLog(origin))
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Origin not allowed"})
		})
	}
}

func originAllowed(origin, host string, permitted map[string]bool) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, host) {
		return true
	}
	return permitted[strings.ToLower(u.Scheme+"://"+u.Host)]
}
