package models

import (
	"time"

	"github.com/google/uuid"
)

// Session rows live in the central store for every tenant. TenantID pins a
// session to the store it was issued on; a token presented on another
// tenant's host never authenticates.
type Session struct {
	Token     string
	TenantID  string
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
