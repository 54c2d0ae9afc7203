package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AuthAction string

const (
	ActionLogin         AuthAction = "login"
	ActionRegister      AuthAction = "register"
	ActionLogout        AuthAction = "logout"
	ActionPasswordReset AuthAction = "password_reset"
)

// AuthEvent is an append-only audit record for the auth endpoints. Password
// values are never stored here.
type AuthEvent struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Action    AuthAction     `json:"action" gorm:"size:30;index;not null"`
	Email     string         `json:"email" gorm:"size:255;index"`
	IP        string         `json:"ip" gorm:"size:45"`
	UserAgent string         `json:"userAgent"`
	Success   bool           `json:"success" gorm:"not null"`
	Reason    string         `json:"reason"`
	Details   datatypes.JSON `json:"details,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"createdAt" gorm:"index"`
}
