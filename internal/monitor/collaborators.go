package monitor

import (
	"context"
	"errors"
	"net/url"
	"time"
)

var (
	// ErrNetwork marks a transient failure. The next poll retries implicitly.
	ErrNetwork = errors.New("network error")
	// ErrAuth marks rejected credentials. Fatal: forces logout.
	ErrAuth = errors.New("authentication error")
	// ErrSessionExpired marks a session the server no longer knows. Fatal.
	ErrSessionExpired = errors.New("session expired")
	// ErrMalformedResponse marks session info that could not be read. Fatal.
	ErrMalformedResponse = errors.New("malformed session response")
	// ErrNotMonitoring is returned by operations that need a running monitor.
	ErrNotMonitoring = errors.New("monitor is not running")
)

func isFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrMalformedResponse)
}

// SessionInfo is the server's view of the current login session.
type SessionInfo struct {
	ExpiresAt     time.Time
	TimeRemaining time.Duration
	IsActive      bool
}

// RefreshResult is returned by an extend-session call.
type RefreshResult struct {
	ExpiresAt     time.Time
	TimeRemaining time.Duration
}

type SessionInfoProvider interface {
	GetSessionInfo(ctx context.Context) (SessionInfo, error)
	RefreshSession(ctx context.Context) (RefreshResult, error)
}

// Authenticator clears durable credential state.
type Authenticator interface {
	Logout(ctx context.Context) error
}

// Navigator performs the client-side redirect on terminal transitions.
type Navigator interface {
	Goto(path string, query url.Values)
}

type Activity string

const (
	ActivityPointer Activity = "pointer"
	ActivityKey     Activity = "key"
	ActivityScroll  Activity = "scroll"
	ActivityTouch   Activity = "touch"
	ActivityWheel   Activity = "wheel"
)

// ActivitySource delivers local input events. The returned function removes
// the subscription. Implementations must not invoke handlers while holding
// locks that unsubscribe also takes.
type ActivitySource interface {
	Subscribe(handler func(Activity)) (unsubscribe func())
}

// Reason is the machine-readable code carried on the login redirect.
type Reason string

const (
	ReasonExpired Reason = "expired"
	ReasonIdle    Reason = "idle"
)
