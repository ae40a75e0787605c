package domain

import "time"

// Session is one active login. The session id is the only value that
// ever leaves the server (inside an HttpOnly cookie); the refresh token
// is stored AEAD-encrypted and never serialized.
type Session struct {
	ID                    uint       `gorm:"primaryKey" json:"-"`
	SessionID             string     `gorm:"size:64;uniqueIndex;not null" json:"session_id"`
	UserID                string     `gorm:"size:64;index;not null" json:"user_id"`
	EncryptedRefreshToken string     `gorm:"size:2048;not null" json:"-"`
	Revoked               bool       `gorm:"index;not null;default:false" json:"revoked"`
	ExpiresAt             *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt             time.Time  `gorm:"index" json:"created_at"`
	LastUsedAt            time.Time  `json:"last_used_at"`
}

// Usable reports whether the session may still be refreshed. A past
// expires_at makes the session inert without a storage write; revoked
// is terminal.
func (s *Session) Usable(now time.Time) bool {
	if s.Revoked {
		return false
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return false
	}
	return true
}
