package auth

import (
	"net/http"
	"strings"

	"github.com/ilikefeeling/reshk-sub001/internal/api"
	"github.com/rs/zerolog/log"
)

// NewMiddleware authenticates every request with a bearer token.
// A nil validator rejects everything.
func NewMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				api.WriteProblem(w, r, http.StatusUnauthorized, "missing Authorization header")
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				api.WriteProblem(w, r, http.StatusUnauthorized, "expected 'Bearer <token>'")
				return
			}
			if validator == nil {
				api.WriteProblem(w, r, http.StatusUnauthorized, "authentication not configured")
				return
			}

			actor, err := validator.Validate(strings.TrimSpace(token))
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected bearer token")
				api.WriteProblem(w, r, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// RequireAdmin rejects authenticated callers without the admin role
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFrom(r.Context())
		if actor.UserID == "" {
			api.WriteProblem(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		if !actor.IsAdmin() {
			api.WriteProblem(w, r, http.StatusForbidden, "administrator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
