package middleware

import (
	"errors"
	"log"
	"mime"
	"net/http"

	"github.com/kasia/glutenfree-community/internal/domain"
	"github.com/kasia/glutenfree-community/internal/service"
)

const (
	CSRFHeader    = "X-CSRF-Token"
	CSRFFormField = "csrf_token"
)

// CSRF rejects state-changing requests whose token does not match the one
// stored on the session. Read-only methods pass through untouched.
func CSRF(sessions *service.SessionManager, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			submitted := r.Header.Get(CSRFHeader)
			if submitted == "" && hasFormBody(r) {
				// PostFormValue consumes the body, so only form encodings
				// may take this path; JSON bodies must stay readable for
				// the handler.
				submitted = r.PostFormValue(CSRFFormField)
			}

			var token string
			if cookie, err := r.Cookie(cookieName); err == nil {
				token = cookie.Value
			}

			if err := sessions.VerifyCSRF(r.Context(), token, submitted); err != nil {
				if !errors.Is(err, domain.ErrInvalidCSRFToken) {
					log.Printf("ERROR [middleware.CSRF] verification failed: %v", err)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"success":false,"error":"Invalid request"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func hasFormBody(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
