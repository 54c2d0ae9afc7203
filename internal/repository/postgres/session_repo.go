package postgres

import (
	"context"
	"time"

	"github.com/kasia/glutenfree-community/internal/domain"
	"gorm.io/gorm"
)

type sessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *sessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, session *domain.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *sessionRepository) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).First(&session, "token = ?", token).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) Touch(ctx context.Context, token string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("token = ?", token).
		Update("last_activity", at).Error
}

func (r *sessionRepository) UpdateCSRFToken(ctx context.Context, token, csrfToken string) error {
	return r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("token = ?", token).
		Update("csrf_token", csrfToken).Error
}

func (r *sessionRepository) Delete(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).Delete(&domain.Session{}, "token = ?", token).Error
}

func (r *sessionRepository) DeleteByUserID(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).Delete(&domain.Session{}, "user_id = ?", userID).Error
}

// DeleteExpiredBefore removes sessions past either expiry window. Called from
// a background sweep; per-request expiry is still enforced on read.
func (r *sessionRepository) DeleteExpiredBefore(ctx context.Context, loginCutoff, activityCutoff time.Time) error {
	return r.db.WithContext(ctx).
		Where("login_time < ? OR last_activity < ?", loginCutoff, activityCutoff).
		Delete(&domain.Session{}).Error
}
