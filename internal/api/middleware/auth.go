package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/kasia/glutenfree-community/internal/domain"
	"github.com/kasia/glutenfree-community/internal/service"
)

type contextKey string

const (
	SessionKey contextKey = "session"
)

// Session validates the session cookie, enforces expiry and injects the
// session snapshot into the request context. Requests without a valid
// authenticated session get a 401 with a login redirect, matching what the
// frontend expects.
func Session(sessions *service.SessionManager, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil {
				unauthorized(w)
				return
			}

			session, err := sessions.Validate(r.Context(), cookie.Value)
			if err != nil {
				switch {
				case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSessionExpired):
					unauthorized(w)
				default:
					log.Printf("ERROR [middleware.Session] session validation failed: %v", err)
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
				return
			}

			if session.UserID == 0 {
				// Anonymous sessions carry a CSRF token but no identity.
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), SessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates a subtree to the given roles. Must run after Session.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := GetSession(r.Context())
			if !ok {
				unauthorized(w)
				return
			}
			for _, role := range roles {
				if session.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"success":false,"error":"Forbidden"}`))
		})
	}
}

func GetSession(ctx context.Context) (*domain.Session, bool) {
	session, ok := ctx.Value(SessionKey).(*domain.Session)
	return session, ok
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"success":false,"error":"Unauthorized","redirect":"/login"}`))
}
