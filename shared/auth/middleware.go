package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// HTTPMiddleware validates a Bearer JWT on every request and stores the
// parsed Claims in the request context.
func HTTPMiddleware(v *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerHTTP(r)
			if token == "" {
				deny(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := v.Validate(token)
			if err != nil {
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireCommandRole rejects requests whose claims cannot send commands.
// Must run after HTTPMiddleware.
func RequireCommandRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFromContext(r.Context())
		if !ok || !c.Role.CanSendCommand() {
			deny(w, http.StatusForbidden, "role cannot send commands")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerHTTP(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}

// deny writes the {ok:false} envelope the dashboard expects.
func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "message": msg})
}
