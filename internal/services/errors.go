package services

import "fmt"

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

type RateLimitError struct{ Message string }

func (e *RateLimitError) Error() string { return e.Message }

// SessionExpiredError is returned when a request names a server session that
// no longer exists. Clients treat it as fatal and send the user to login.
type SessionExpiredError struct{ SessionID string }

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session %s has expired", e.SessionID)
}
