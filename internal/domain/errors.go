package domain

import "errors"

// Auth errors
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCSRFToken   = errors.New("invalid request")
	ErrRateLimited        = errors.New("too many attempts")
	ErrUserNotFound       = errors.New("user not found")
)

// Session errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)
