package service

import (
	"github.com/kasia/glutenfree-community/internal/config"
	"github.com/kasia/glutenfree-community/internal/ratelimit"
	"github.com/kasia/glutenfree-community/internal/repository"
)

type Services struct {
	Auth     *AuthService
	Sessions *SessionManager
}

func NewServices(repos *repository.Repositories, limiter ratelimit.Store, cfg *config.Config) *Services {
	sessions := NewSessionManager(repos.Session, cfg)
	return &Services{
		Auth:     NewAuthService(repos, sessions, limiter, cfg),
		Sessions: sessions,
	}
}
