package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kasia/glutenfree-community/internal/api/handlers"
	"github.com/kasia/glutenfree-community/internal/api/middleware"
	"github.com/kasia/glutenfree-community/internal/config"
	"github.com/kasia/glutenfree-community/internal/service"
)

func NewRouter(services *service.Services, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.CORS)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	authHandler := handlers.NewAuthHandler(services.Auth, cfg)

	// Form renders hand out the CSRF token the POST handlers verify.
	r.Get("/login", authHandler.Form)
	r.Get("/register", authHandler.Form)
	r.Post("/login", authHandler.Login)
	r.Post("/register", authHandler.Register)
	r.Post("/forgot-password", authHandler.ForgotPassword)
	r.Post("/reset-password", authHandler.ResetPassword)

	// Logout stays public so it is idempotent even with a dead session.
	r.Post("/logout", authHandler.Logout)

	// Authenticated routes. App routes that mutate state (recipes, profile,
	// moderation) mount middleware.CSRF on top of this group.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Session(services.Sessions, cfg.SessionCookieName))
		r.Use(middleware.CSRF(services.Sessions, cfg.SessionCookieName))
		r.Get("/me", authHandler.Me)
	})

	return r
}
