package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Laffyyy/collabo-tool-sub001/internal/presence"
)

// UserPresence is the read model returned to clients. Status is derived on
// read and never persisted.
type UserPresence struct {
	UserID         uuid.UUID       `json:"user_id"`
	Username       string          `json:"username,omitempty"`
	FullName       string          `json:"full_name,omitempty"`
	Status         presence.Status `json:"status"`
	StoredStatus   presence.Status `json:"stored_status"`
	LastActivityAt *time.Time      `json:"last_activity_at"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

// PresenceUpdate is published on the presence channel and forwarded to
// websocket clients.
type PresenceUpdate struct {
	UserID         uuid.UUID       `json:"user_id"`
	Status         presence.Status `json:"status"`
	LastActivityAt time.Time       `json:"last_activity_at"`
}

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
