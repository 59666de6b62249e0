package presence

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// ErrInvalidStatus is returned for a status outside the allowed set.
var ErrInvalidStatus = errors.New("status must be one of online, idle, away, offline")

// AllStatuses lists the allowed values in display order.
var AllStatuses = []Status{StatusOnline, StatusIdle, StatusAway, StatusOffline}

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusAway, StatusOffline:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus normalizes user input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ErrInvalidStatus
	}
	return s, nil
}

// Thresholds are the elapsed-activity boundaries, each exclusive:
// an elapsed time strictly greater than a boundary crosses it.
type Thresholds struct {
	Idle    time.Duration
	Away    time.Duration
	Offline time.Duration
}

var DefaultThresholds = Thresholds{
	Idle:    60 * time.Second,
	Away:    180 * time.Second,
	Offline: 300 * time.Second,
}

// Resolve derives the effective status. Elapsed time always wins over the
// stored flag once it passes the idle boundary.
func (t Thresholds) Resolve(stored Status, sinceActivity time.Duration) Status {
	if sinceActivity < 0 {
		sinceActivity = 0
	}

	switch {
	case sinceActivity > t.Offline:
		return StatusOffline
	case sinceActivity > t.Away:
		return StatusAway
	case sinceActivity > t.Idle:
		return StatusIdle
	case stored.Valid():
		return stored
	default:
		return StatusOffline
	}
}

// ResolveStatus applies DefaultThresholds.
func ResolveStatus(stored Status, sinceActivity time.Duration) Status {
	return DefaultThresholds.Resolve(stored, sinceActivity)
}

// Record is the durable part of a user's presence. The effective status is
// never stored; it is derived from these two fields on read.
type Record struct {
	UserID         uuid.UUID `json:"user_id"`
	StoredStatus   Status    `json:"stored_status"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Effective resolves a record at the given instant. A record with no activity
// on file is offline.
func (t Thresholds) Effective(rec Record, now time.Time) Status {
	if rec.LastActivityAt.IsZero() {
		return StatusOffline
	}
	return t.Resolve(rec.StoredStatus, now.Sub(rec.LastActivityAt))
}

func Effective(rec Record, now time.Time) Status {
	return DefaultThresholds.Effective(rec, now)
}
