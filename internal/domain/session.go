package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is the server-side record behind the session cookie. The token is
// opaque and regenerated on every successful login. User fields are a snapshot
// taken at login time and are not refreshed on later requests.
type Session struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Token        string    `json:"-" gorm:"uniqueIndex;size:64;not null"`
	UserID       uint      `json:"userId" gorm:"index;not null"`
	Email        string    `json:"email" gorm:"not null"`
	Name         string    `json:"name"`
	Role         Role      `json:"role" gorm:"size:20;not null"`
	CSRFToken    string    `json:"-" gorm:"size:64"`
	LoginTime    time.Time `json:"loginTime" gorm:"not null"`
	LastActivity time.Time `json:"lastActivity" gorm:"not null"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ExpiredAt reports whether the session is past its absolute lifetime or its
// idle window at the given instant. Absolute expiry wins over idle expiry so
// callers see a stable reason.
func (s *Session) ExpiredAt(now time.Time, idle, absolute time.Duration) (bool, string) {
	if now.Sub(s.LoginTime) > absolute {
		return true, "absolute lifetime exceeded"
	}
	if now.Sub(s.LastActivity) > idle {
		return true, "idle timeout exceeded"
	}
	return false, ""
}
