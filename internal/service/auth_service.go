package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/kasia/glutenfree-community/internal/config"
	"github.com/kasia/glutenfree-community/internal/domain"
	"github.com/kasia/glutenfree-community/internal/ratelimit"
	"github.com/kasia/glutenfree-community/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	actionLogin    = "login"
	actionRegister = "register"
)

// RateLimitedError reports an active lockout for the caller's IP.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter)
}

// ValidationError carries field-keyed messages for registration failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

// ClientContext is the per-request client identity the auth gate needs for
// rate limiting, CSRF checks and audit logging.
type ClientContext struct {
	IP           string
	UserAgent    string
	CSRFToken    string
	SessionToken string
}

type LoginInput struct {
	Email    string
	Password string
}

type RegisterInput struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
	UserType        *domain.UserType
}

type AuthResult struct {
	User     *domain.User
	Session  *domain.Session
	Redirect string
}

// AuthService orchestrates credential verification, rate limiting, CSRF
// checks and session establishment. All store dependencies are injected.
type AuthService struct {
	users    repository.UserRepository
	events   repository.AuthEventRepository
	sessions *SessionManager
	limiter  ratelimit.Store
	cfg      *config.Config
}

func NewAuthService(repos *repository.Repositories, sessions *SessionManager, limiter ratelimit.Store, cfg *config.Config) *AuthService {
	return &AuthService{
		users:    repos.User,
		events:   repos.AuthEvent,
		sessions: sessions,
		limiter:  limiter,
		cfg:      cfg,
	}
}

// Login runs the fixed fail-fast chain: CSRF, rate limit, structural
// validation, lookup, password verify, session establishment. Unknown email,
// wrong password and disabled account all surface as the same generic error
// so responses cannot be used to enumerate accounts.
func (s *AuthService) Login(ctx context.Context, input LoginInput, cc ClientContext) (*AuthResult, error) {
	if cc.CSRFToken != "" {
		if err := s.sessions.VerifyCSRF(ctx, cc.SessionToken, cc.CSRFToken); err != nil {
			if errors.Is(err, domain.ErrInvalidCSRFToken) {
				s.audit(ctx, domain.ActionLogin, input.Email, cc, false, "csrf token mismatch", nil)
				return nil, domain.ErrInvalidCSRFToken
			}
			return nil, err
		}
	}

	retryAfter, err := s.limiter.Check(ctx, actionLogin, cc.IP)
	if err != nil {
		// Fail closed: an unreachable rate-limit store denies login.
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if retryAfter > 0 {
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	if err := validateLoginInput(input.Email, input.Password); err != nil {
		// Validation failures count against the lockout so probing with
		// malformed input cannot bypass it.
		s.recordFailure(ctx, actionLogin, cc.IP)
		s.audit(ctx, domain.ActionLogin, input.Email, cc, false, "malformed input", nil)
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.recordFailure(ctx, actionLogin, cc.IP)
			s.audit(ctx, domain.ActionLogin, input.Email, cc, false, "unknown email", nil)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("user lookup: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.recordFailure(ctx, actionLogin, cc.IP)
		s.audit(ctx, domain.ActionLogin, input.Email, cc, false, "wrong password", nil)
		return nil, domain.ErrInvalidCredentials
	}

	if !user.IsActive {
		s.recordFailure(ctx, actionLogin, cc.IP)
		s.audit(ctx, domain.ActionLogin, input.Email, cc, false, "account disabled", nil)
		return nil, domain.ErrAccountDisabled
	}

	if err := s.limiter.Clear(ctx, actionLogin, cc.IP); err != nil {
		log.Printf("ERROR [service.Auth] failed to clear rate limit for %s: %v", cc.IP, err)
	}

	now := time.Now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		// Stale last_login is acceptable; the login still succeeds.
		log.Printf("ERROR [service.Auth] failed to update last login for user %d: %v", user.ID, err)
	} else {
		user.LastLogin = &now
	}

	session, err := s.sessions.Authenticate(ctx, user, cc.SessionToken)
	if err != nil {
		return nil, fmt.Errorf("session create: %w", err)
	}

	s.audit(ctx, domain.ActionLogin, user.Email, cc, true, "", map[string]any{
		"sessionRotated": cc.SessionToken != "",
	})

	return &AuthResult{User: user, Session: session, Redirect: "/dashboard"}, nil
}

// Register validates field by field and returns a keyed error map, unlike
// login's deliberately generic error.
func (s *AuthService) Register(ctx context.Context, input RegisterInput, cc ClientContext) (*AuthResult, error) {
	if cc.CSRFToken != "" {
		if err := s.sessions.VerifyCSRF(ctx, cc.SessionToken, cc.CSRFToken); err != nil {
			if errors.Is(err, domain.ErrInvalidCSRFToken) {
				s.audit(ctx, domain.ActionRegister, input.Email, cc, false, "csrf token mismatch", nil)
				return nil, domain.ErrInvalidCSRFToken
			}
			return nil, err
		}
	}

	retryAfter, err := s.limiter.Check(ctx, actionRegister, cc.IP)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if retryAfter > 0 {
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	if fieldErrs := validateRegisterInput(input); len(fieldErrs) > 0 {
		s.recordFailure(ctx, actionRegister, cc.IP)
		s.audit(ctx, domain.ActionRegister, input.Email, cc, false, "validation failed", map[string]any{
			"fields": fieldKeys(fieldErrs),
		})
		return nil, &ValidationError{Fields: fieldErrs}
	}

	exists, err := s.users.EmailExists(ctx, input.Email)
	if err != nil {
		return nil, fmt.Errorf("email lookup: %w", err)
	}
	if exists {
		s.recordFailure(ctx, actionRegister, cc.IP)
		s.audit(ctx, domain.ActionRegister, input.Email, cc, false, "duplicate email", nil)
		return nil, domain.ErrEmailExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Email:        input.Email,
		PasswordHash: string(hashed),
		Name:         input.Name,
		Role:         domain.RoleUser,
		UserType:     input.UserType,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("user create: %w", err)
	}

	if err := s.limiter.Clear(ctx, actionRegister, cc.IP); err != nil {
		log.Printf("ERROR [service.Auth] failed to clear rate limit for %s: %v", cc.IP, err)
	}

	session, err := s.sessions.Authenticate(ctx, user, cc.SessionToken)
	if err != nil {
		return nil, fmt.Errorf("session create: %w", err)
	}

	s.audit(ctx, domain.ActionRegister, user.Email, cc, true, "", nil)

	return &AuthResult{User: user, Session: session, Redirect: "/login"}, nil
}

// Logout destroys the session. Logging out twice has the same observable
// effect as once.
func (s *AuthService) Logout(ctx context.Context, token string, cc ClientContext) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return err
	}
	s.audit(ctx, domain.ActionLogout, "", cc, true, "", nil)
	return nil
}

func (s *AuthService) Sessions() *SessionManager {
	return s.sessions
}

func (s *AuthService) recordFailure(ctx context.Context, action, ip string) {
	if err := s.limiter.RecordFailure(ctx, action, ip); err != nil {
		log.Printf("ERROR [service.Auth] failed to record %s attempt for %s: %v", action, ip, err)
	}
}

func (s *AuthService) audit(ctx context.Context, action domain.AuthAction, email string, cc ClientContext, success bool, reason string, details map[string]any) {
	event := &domain.AuthEvent{
		Action:    action,
		Email:     email,
		IP:        cc.IP,
		UserAgent: cc.UserAgent,
		Success:   success,
		Reason:    reason,
	}
	if len(details) > 0 {
		payload, err := json.Marshal(details)
		if err != nil {
			log.Printf("ERROR [service.Auth] failed to encode audit details: %v", err)
		} else {
			event.Details = datatypes.JSON(payload)
		}
	}
	if err := s.events.Create(ctx, event); err != nil {
		log.Printf("ERROR [service.Auth] failed to write audit event: %v", err)
	}
}

// fieldKeys lists the offending field names for the audit trail; the messages
// themselves stay out of the details payload.
func fieldKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
