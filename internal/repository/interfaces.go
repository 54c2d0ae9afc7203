package repository

import (
	"context"
	"time"

	"github.com/kasia/glutenfree-community/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uint) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Update(ctx context.Context, user *domain.User) error
	UpdateLastLogin(ctx context.Context, userID uint, at time.Time) error
	UpdatePassword(ctx context.Context, userID uint, passwordHash string) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByToken(ctx context.Context, token string) (*domain.Session, error)
	Touch(ctx context.Context, token string, at time.Time) error
	UpdateCSRFToken(ctx context.Context, token, csrfToken string) error
	Delete(ctx context.Context, token string) error
	DeleteByUserID(ctx context.Context, userID uint) error
	DeleteExpiredBefore(ctx context.Context, loginCutoff, activityCutoff time.Time) error
}

type AuthEventRepository interface {
	Create(ctx context.Context, event *domain.AuthEvent) error
}

type Repositories struct {
	User      UserRepository
	Session   SessionRepository
	AuthEvent AuthEventRepository
}
