package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/kasia/glutenfree-community/internal/config"
	"github.com/kasia/glutenfree-community/internal/domain"
	"github.com/kasia/glutenfree-community/internal/repository"
	"gorm.io/gorm"
)

const sessionTokenBytes = 32

// SessionManager owns the session lifecycle: anonymous sessions for pre-login
// forms, token regeneration at authentication, idle and absolute expiry, and
// the per-session CSRF token.
type SessionManager struct {
	sessions repository.SessionRepository
	idleTTL  time.Duration
	maxTTL   time.Duration
	now      func() time.Time
}

func NewSessionManager(sessions repository.SessionRepository, cfg *config.Config) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		idleTTL:  cfg.SessionIdleTTL,
		maxTTL:   cfg.SessionMaxTTL,
		now:      time.Now,
	}
}

// Begin creates an anonymous session so the login and register forms have a
// CSRF token to embed before any user is authenticated.
func (m *SessionManager) Begin(ctx context.Context) (*domain.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	csrf, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	session := &domain.Session{
		Token:        token,
		CSRFToken:    csrf,
		LoginTime:    now,
		LastActivity: now,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Authenticate issues a fresh session for the user. The previous token, if
// any, is destroyed and never reused, so an attacker who pre-set a session
// identifier cannot ride it into the authenticated session.
func (m *SessionManager) Authenticate(ctx context.Context, user *domain.User, oldToken string) (*domain.Session, error) {
	if oldToken != "" {
		if err := m.sessions.Delete(ctx, oldToken); err != nil {
			return nil, err
		}
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	csrf, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	session := &domain.Session{
		Token:        token,
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Role:         user.Role,
		CSRFToken:    csrf,
		LoginTime:    now,
		LastActivity: now,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Validate loads the session and enforces both expiry windows before touching
// last_activity. An expired session is destroyed and reported as such.
func (m *SessionManager) Validate(ctx context.Context, token string) (*domain.Session, error) {
	session, err := m.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}

	if expired, _ := session.ExpiredAt(m.now(), m.idleTTL, m.maxTTL); expired {
		_ = m.sessions.Delete(ctx, token)
		return nil, domain.ErrSessionExpired
	}

	if err := m.sessions.Touch(ctx, token, m.now()); err != nil {
		return nil, err
	}
	return session, nil
}

// DestroyAllForUser removes every session the user holds, used when the
// password changes.
func (m *SessionManager) DestroyAllForUser(ctx context.Context, userID uint) error {
	return m.sessions.DeleteByUserID(ctx, userID)
}

// Destroy is idempotent; destroying a missing session is not an error.
func (m *SessionManager) Destroy(ctx context.Context, token string) error {
	err := m.sessions.Delete(ctx, token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}

// IssueCSRF replaces the session's active CSRF token. A fresh token is issued
// on every form render, which invalidates forms still open in older tabs; a
// known UX limitation of the single-token-per-session model.
func (m *SessionManager) IssueCSRF(ctx context.Context, token string) (string, error) {
	csrf, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := m.sessions.UpdateCSRFToken(ctx, token, csrf); err != nil {
		return "", err
	}
	return csrf, nil
}

// VerifyCSRF compares in constant time. A missing stored or submitted token
// is a mismatch.
func (m *SessionManager) VerifyCSRF(ctx context.Context, token, submitted string) error {
	if submitted == "" {
		return domain.ErrInvalidCSRFToken
	}
	session, err := m.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrInvalidCSRFToken
		}
		return err
	}
	if session.CSRFToken == "" {
		return domain.ErrInvalidCSRFToken
	}
	if subtle.ConstantTimeCompare([]byte(session.CSRFToken), []byte(submitted)) != 1 {
		return domain.ErrInvalidCSRFToken
	}
	return nil
}

func generateToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
