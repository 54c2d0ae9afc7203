package service

import (
	"regexp"
	"unicode"

	"github.com/kasia/glutenfree-community/internal/domain"
)

const (
	maxEmailLength    = 255
	maxPasswordLength = 128
	minPasswordLength = 8
	minNameLength     = 2
	maxNameLength     = 100
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	namePattern  = regexp.MustCompile(`^[\p{L} '-]+$`)
)

func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	return emailPattern.MatchString(email)
}

// validateLoginInput checks structure only; it never touches the store.
func validateLoginInput(email, password string) error {
	if !validEmail(email) {
		return domain.ErrInvalidInput
	}
	if password == "" || len(password) > maxPasswordLength {
		return domain.ErrInvalidInput
	}
	return nil
}

// validateRegisterInput returns a field-keyed error map, empty when valid.
func validateRegisterInput(input RegisterInput) map[string]string {
	errs := make(map[string]string)

	switch {
	case input.Name == "":
		errs["name"] = "Name is required"
	case len([]rune(input.Name)) < minNameLength:
		errs["name"] = "Name must be at least 2 characters"
	case len([]rune(input.Name)) > maxNameLength:
		errs["name"] = "Name must be at most 100 characters"
	case !namePattern.MatchString(input.Name):
		errs["name"] = "Name may only contain letters, spaces, hyphens and apostrophes"
	}

	switch {
	case input.Email == "":
		errs["email"] = "Email is required"
	case !validEmail(input.Email):
		errs["email"] = "Invalid email format"
	}

	if msg := passwordPolicyError(input.Password); msg != "" {
		errs["password"] = msg
	}

	if input.Password != input.ConfirmPassword {
		errs["confirm_password"] = "Passwords do not match"
	}

	if input.UserType != nil && !domain.ValidUserType(*input.UserType) {
		errs["user_type"] = "Unknown user type"
	}

	return errs
}

func passwordPolicyError(password string) string {
	switch {
	case password == "":
		return "Password is required"
	case len(password) < minPasswordLength:
		return "Password must be at least 8 characters"
	case len(password) > maxPasswordLength:
		return "Password must be at most 128 characters"
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	switch {
	case !hasUpper:
		return "Password must contain at least one uppercase letter"
	case !hasLower:
		return "Password must contain at least one lowercase letter"
	case !hasDigit:
		return "Password must contain at least one number"
	}
	return ""
}
