package middleware

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/branchworks/branchmerge/internal/config"
)

// APIKeyAuth validates the X-API-Key header against the configured
// keys. With RequireAPIKey off every request passes through; with it
// on and no keys configured every request is rejected, which config
// validation prevents at startup.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAPIKey {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				denyJSON(w, http.StatusUnauthorized, "missing API key")
				return
			}

			if !matchesAnyKey(key, cfg.APIKeys) {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				denyJSON(w, http.StatusForbidden, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchesAnyKey compares against every configured key so the timing
// does not reveal which key matched, or whether any did.
func matchesAnyKey(key string, validKeys []string) bool {
	valid := 0
	for _, vk := range validKeys {
		valid |= subtle.ConstantTimeCompare([]byte(key), []byte(vk))
	}
	return valid == 1
}

func denyJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, `{"error":"`+message+`"}`)
}
