package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kasia/glutenfree-community/internal/api/middleware"
	"github.com/kasia/glutenfree-community/internal/config"
	"github.com/kasia/glutenfree-community/internal/domain"
	"github.com/kasia/glutenfree-community/internal/ratelimit"
	"github.com/kasia/glutenfree-community/internal/service"
)

type AuthHandler struct {
	authService *service.AuthService
	cfg         *config.Config
}

func NewAuthHandler(authService *service.AuthService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{authService: authService, cfg: cfg}
}

type LoginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	CSRFToken string `json:"csrf_token,omitempty"`
}

type RegisterRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	UserType        string `json:"user_type,omitempty"`
	CSRFToken       string `json:"csrf_token,omitempty"`
}

// Login handles POST /login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.authService.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	}, h.clientContext(r, req.CSRFToken))
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	h.setSessionCookie(w, result.Session.Token)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"redirect": result.Redirect,
	})
}

// Register handles POST /register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	input := service.RegisterInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	}
	if req.UserType != "" {
		userType := domain.UserType(req.UserType)
		input.UserType = &userType
	}

	result, err := h.authService.Register(r.Context(), input, h.clientContext(r, req.CSRFToken))
	if err != nil {
		var validationErr *service.ValidationError
		var rateErr *service.RateLimitedError
		switch {
		case errors.As(err, &validationErr):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"errors":  validationErr.Fields,
			})
		case errors.Is(err, domain.ErrEmailExists):
			writeJSON(w, http.StatusConflict, map[string]any{
				"success": false,
				"error":   "Email already registered",
			})
		case errors.As(err, &rateErr):
			writeRateLimited(w, rateErr)
		case errors.Is(err, domain.ErrInvalidCSRFToken):
			writeError(w, http.StatusForbidden, "Invalid request")
		default:
			log.Printf("ERROR [handlers.Auth] register failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.setSessionCookie(w, result.Session.Token)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"redirect": result.Redirect,
	})
}

// Logout handles POST /logout. Always succeeds, even without a session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var token string
	if cookie, err := r.Cookie(h.cfg.SessionCookieName); err == nil {
		token = cookie.Value
	}

	if err := h.authService.Logout(r.Context(), token, h.clientContext(r, "")); err != nil {
		log.Printf("ERROR [handlers.Auth] logout failed: %v", err)
	}

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"redirect": "/login",
	})
}

// Form handles GET /login and GET /register: it guarantees a session exists
// and hands out a freshly issued CSRF token for the form about to be
// rendered. Already-authenticated visitors are pointed at the dashboard.
func (h *AuthHandler) Form(w http.ResponseWriter, r *http.Request) {
	sessions := h.authService.Sessions()

	if cookie, err := r.Cookie(h.cfg.SessionCookieName); err == nil {
		session, err := sessions.Validate(r.Context(), cookie.Value)
		if err == nil {
			csrf, err := sessions.IssueCSRF(r.Context(), session.Token)
			if err != nil {
				log.Printf("ERROR [handlers.Auth] csrf issue failed: %v", err)
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			resp := map[string]any{"csrfToken": csrf}
			if session.UserID != 0 {
				resp["redirect"] = "/dashboard"
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	session, err := sessions.Begin(r.Context())
	if err != nil {
		log.Printf("ERROR [handlers.Auth] anonymous session failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.setSessionCookie(w, session.Token)
	writeJSON(w, http.StatusOK, map[string]any{"csrfToken": session.CSRFToken})
}

// Me handles GET /me for the authenticated SPA shell.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":    session.UserID,
		"email": session.Email,
		"name":  session.Name,
		"role":  session.Role,
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword handles POST /forgot-password. The response never reveals
// whether the email is registered; token delivery belongs to the mail layer.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.authService.ForgotPassword(r.Context(), req.Email, h.clientContext(r, ""))
	if err != nil {
		log.Printf("ERROR [handlers.Auth] forgot password failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if token != "" {
		log.Printf("[handlers.Auth] password reset token issued for %s", req.Email)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If the email is registered, reset instructions have been sent.",
	})
}

type resetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// ResetPassword handles POST /reset-password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.authService.ResetPassword(r.Context(), req.Token, req.Password, req.ConfirmPassword, h.clientContext(r, ""))
	if err != nil {
		var validationErr *service.ValidationError
		switch {
		case errors.As(err, &validationErr):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"errors":  validationErr.Fields,
			})
		case errors.Is(err, service.ErrInvalidResetToken):
			writeError(w, http.StatusForbidden, "Invalid or expired reset token")
		default:
			log.Printf("ERROR [handlers.Auth] password reset failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"redirect": "/login",
	})
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	var rateErr *service.RateLimitedError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Invalid input")
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, domain.ErrAccountDisabled):
		// Same body as a credential mismatch; only the status differs.
		writeError(w, http.StatusForbidden, "Invalid email or password")
	case errors.Is(err, domain.ErrInvalidCSRFToken):
		writeError(w, http.StatusForbidden, "Invalid request")
	case errors.As(err, &rateErr):
		writeRateLimited(w, rateErr)
	default:
		log.Printf("ERROR [handlers.Auth] login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *AuthHandler) clientContext(r *http.Request, csrfToken string) service.ClientContext {
	if csrfToken == "" {
		csrfToken = r.Header.Get(middleware.CSRFHeader)
	}

	var sessionToken string
	if cookie, err := r.Cookie(h.cfg.SessionCookieName); err == nil {
		sessionToken = cookie.Value
	}

	return service.ClientContext{
		IP:           ratelimit.ClientIP(r),
		UserAgent:    r.UserAgent(),
		CSRFToken:    csrfToken,
		SessionToken: sessionToken,
	}
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionMaxTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearSessionCookie must mirror the attributes used at issue time; a partial
// mismatch makes browsers keep the stale cookie.
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR [handlers] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

func writeRateLimited(w http.ResponseWriter, err *service.RateLimitedError) {
	seconds := int(math.Ceil(err.RetryAfter.Seconds()))
	minutes := int(math.Ceil(err.RetryAfter.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"success": false,
		"error":   "Too many attempts. Please try again in " + strconv.Itoa(minutes) + " minutes.",
	})
}
