package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is a server-side login session kept in Redis.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SessionInfo struct {
	ExpiresAt       time.Time `json:"expires_at"`
	TimeRemainingMs int64     `json:"time_remaining_ms"`
	IsActive        bool      `json:"is_active"`
}

type SessionRefresh struct {
	ExpiresAt       time.Time `json:"expires_at"`
	TimeRemainingMs int64     `json:"time_remaining_ms"`
}
