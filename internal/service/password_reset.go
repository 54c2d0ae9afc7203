package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kasia/glutenfree-community/internal/domain"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var ErrInvalidResetToken = errors.New("invalid or expired reset token")

// ForgotPassword issues a signed, short-lived reset token for the account.
// The response to the caller is identical whether or not the email is
// registered; only the returned token (handed to the mail delivery layer)
// differs.
func (s *AuthService) ForgotPassword(ctx context.Context, email string, cc ClientContext) (string, error) {
	if !validEmail(email) {
		return "", nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.audit(ctx, domain.ActionPasswordReset, email, cc, false, "unknown email", nil)
			return "", nil
		}
		return "", fmt.Errorf("user lookup: %w", err)
	}
	if !user.IsActive {
		s.audit(ctx, domain.ActionPasswordReset, email, cc, false, "account disabled", nil)
		return "", nil
	}

	claims := jwt.MapClaims{
		"sub":     strconv.FormatUint(uint64(user.ID), 10),
		"purpose": "password_reset",
		"exp":     time.Now().Add(s.cfg.ResetTokenTTL).Unix(),
		"iat":     time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.ResetTokenSecret))
	if err != nil {
		return "", err
	}

	s.audit(ctx, domain.ActionPasswordReset, email, cc, true, "token issued", nil)
	return token, nil
}

// ResetPassword verifies the token, applies the password policy, rehashes and
// invalidates every session the user holds.
func (s *AuthService) ResetPassword(ctx context.Context, token, password, confirm string, cc ClientContext) error {
	userID, err := s.parseResetToken(token)
	if err != nil {
		s.audit(ctx, domain.ActionPasswordReset, "", cc, false, "bad reset token", nil)
		return ErrInvalidResetToken
	}

	fieldErrs := make(map[string]string)
	if msg := passwordPolicyError(password); msg != "" {
		fieldErrs["password"] = msg
	}
	if password != confirm {
		fieldErrs["confirm_password"] = "Passwords do not match"
	}
	if len(fieldErrs) > 0 {
		return &ValidationError{Fields: fieldErrs}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("user lookup: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(hashed)); err != nil {
		return fmt.Errorf("password update: %w", err)
	}

	if err := s.sessions.DestroyAllForUser(ctx, user.ID); err != nil {
		log.Printf("ERROR [service.Auth] failed to invalidate sessions for user %d: %v", user.ID, err)
	}

	s.audit(ctx, domain.ActionPasswordReset, user.Email, cc, true, "password changed", nil)
	return nil
}

func (s *AuthService) parseResetToken(token string) (uint, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.ResetTokenSecret), nil
	})
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidResetToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidResetToken
	}
	if purpose, _ := claims["purpose"].(string); purpose != "password_reset" {
		return 0, ErrInvalidResetToken
	}
	sub, _ := claims["sub"].(string)
	id, err := strconv.ParseUint(sub, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidResetToken
	}
	return uint(id), nil
}
