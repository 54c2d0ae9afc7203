package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kasia/glutenfree-community/internal/domain"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserBuilder creates test users with a builder pattern
type UserBuilder struct {
	email    string
	name     string
	password string
	role     domain.Role
	active   bool
}

// NewUserBuilder creates a new UserBuilder with default values
func NewUserBuilder() *UserBuilder {
	return &UserBuilder{
		email:    fmt.Sprintf("user_%s@example.com", uuid.New().String()[:8]),
		name:     "Test User",
		password: "Testpassword1",
		role:     domain.RoleUser,
		active:   true,
	}
}

// WithEmail sets the email
func (b *UserBuilder) WithEmail(email string) *UserBuilder {
	b.email = email
	return b
}

// WithName sets the display name
func (b *UserBuilder) WithName(name string) *UserBuilder {
	b.name = name
	return b
}

// WithPassword sets the password
func (b *UserBuilder) WithPassword(password string) *UserBuilder {
	b.password = password
	return b
}

// WithRole sets the role
func (b *UserBuilder) WithRole(role domain.Role) *UserBuilder {
	b.role = role
	return b
}

// Inactive marks the account as disabled
func (b *UserBuilder) Inactive() *UserBuilder {
	b.active = false
	return b
}

// Build creates the user in the database and returns the user with the raw password
func (b *UserBuilder) Build(t *testing.T, db *gorm.DB) (*domain.User, string) {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(b.password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &domain.User{
		Email:        b.email,
		Name:         b.name,
		PasswordHash: string(hashedPassword),
		Role:         b.role,
		IsActive:     b.active,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	return user, b.password
}
