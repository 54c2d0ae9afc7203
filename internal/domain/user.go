package domain

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// UserType is the self-declared community profile kind picked at registration.
type UserType string

const (
	UserTypeCeliac       UserType = "Celiac"
	UserTypeNutritionist UserType = "Nutritionist"
	UserTypeFoodBlogger  UserType = "Food Blogger"
	UserTypeChef         UserType = "Chef"
)

func ValidUserType(t UserType) bool {
	switch t {
	case UserTypeCeliac, UserTypeNutritionist, UserTypeFoodBlogger, UserTypeChef:
		return true
	}
	return false
}

type User struct {
	ID           uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Email        string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string     `json:"-" gorm:"not null"`
	Name         string     `json:"name" gorm:"size:100;not null"`
	Role         Role       `json:"role" gorm:"size:20;not null;default:'user'"`
	Avatar       *string    `json:"avatar,omitempty"`
	Bio          *string    `json:"bio,omitempty"`
	UserType     *UserType  `json:"userType,omitempty" gorm:"size:30"`
	IsActive     bool       `json:"isActive" gorm:"not null;default:true"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}
