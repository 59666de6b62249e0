// Package monitor implements the client-side session and idle watchdog.
//
// Two tracks run side by side. The session track polls the server for the
// remaining session time, raises a warning near expiry and logs out when the
// session is gone. The idle track watches local input and logs out after a
// period without activity. Both tracks start and stop together and every
// callback is serialized on the monitor's mutex.
package monitor

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	SessionPollInterval time.Duration
	SessionWarning      time.Duration
	IdleCheckInterval   time.Duration
	IdleWarning         time.Duration
	IdleTimeout         time.Duration
	LoginPath           string
}

func DefaultConfig() Config {
	return Config{
		SessionPollInterval: 10 * time.Second,
		SessionWarning:      60 * time.Second,
		IdleCheckInterval:   time.Second,
		IdleWarning:         45 * time.Second,
		IdleTimeout:         60 * time.Second,
		LoginPath:           "/login",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SessionPollInterval <= 0 {
		c.SessionPollInterval = d.SessionPollInterval
	}
	if c.SessionWarning <= 0 {
		c.SessionWarning = d.SessionWarning
	}
	if c.IdleCheckInterval <= 0 {
		c.IdleCheckInterval = d.IdleCheckInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.IdleWarning <= 0 || c.IdleWarning > c.IdleTimeout {
		c.IdleWarning = d.IdleWarning
		if c.IdleWarning > c.IdleTimeout {
			c.IdleWarning = c.IdleTimeout
		}
	}
	if c.LoginPath == "" {
		c.LoginPath = d.LoginPath
	}
	return c
}

// State is a read-only snapshot of the monitor.
type State struct {
	Monitoring        bool
	WarningShown      bool
	RemainingTime     time.Duration
	ExpiresAt         time.Time
	IdleWarningShown  bool
	IdleRemainingTime time.Duration
}

type Option func(*Monitor)

func WithScheduler(s Scheduler) Option {
	return func(m *Monitor) { m.sched = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithStateListener registers fn to receive a snapshot after each change.
// fn runs outside the monitor lock and may call the getters.
func WithStateListener(fn func(State)) Option {
	return func(m *Monitor) { m.onChange = fn }
}

type Monitor struct {
	cfg      Config
	provider SessionInfoProvider
	auth     Authenticator
	nav      Navigator
	activity ActivitySource
	sched    Scheduler
	logger   zerolog.Logger
	onChange func(State)

	mu          sync.Mutex
	monitoring  bool
	generation  uint64
	ctx         context.Context
	cancel      context.CancelFunc
	tasks       []Task
	unsubscribe func()

	remaining           time.Duration
	expiresAt           time.Time
	warningShown        bool
	lastLocalActivityAt time.Time
	idleWarningShown    bool
}

// New builds a stopped monitor. activity may be nil, in which case the idle
// track never engages.
func New(cfg Config, provider SessionInfoProvider, auth Authenticator, nav Navigator, activity ActivitySource, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:      cfg.withDefaults(),
		provider: provider,
		auth:     auth,
		nav:      nav,
		activity: activity,
		sched:    NewRealScheduler(),
		logger:   zerolog.Nop(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartMonitoring starts both tracks. Calling it while already running tears
// the previous timers and listeners down first, so only one set is ever live.
func (m *Monitor) StartMonitoring(ctx context.Context) {
	m.mu.Lock()
	m.teardownLocked()

	m.generation++
	gen := m.generation
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.monitoring = true
	m.warningShown = false
	m.idleWarningShown = false
	m.remaining = 0
	m.expiresAt = time.Time{}
	m.lastLocalActivityAt = m.sched.Now()

	m.tasks = append(m.tasks, m.sched.Every(m.cfg.SessionPollInterval, func() { m.pollSession(gen) }))
	if m.activity != nil {
		m.unsubscribe = m.activity.Subscribe(func(a Activity) { m.recordActivity(gen, a) })
		m.tasks = append(m.tasks, m.sched.Every(m.cfg.IdleCheckInterval, func() { m.checkIdle(gen) }))
	} else {
		m.logger.Debug().Msg("no activity source, idle detection disabled")
	}

	state := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Debug().Uint64("generation", gen).Msg("monitoring started")
	m.notify(state)
	m.pollSession(gen)
}

// StopMonitoring cancels both timers and removes the activity listener. No
// transition or collaborator call happens after it returns.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	if !m.monitoring {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	state := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Debug().Msg("monitoring stopped")
	m.notify(state)
}

// ExtendSession asks the server for a fresh session lifetime and clears the
// expiry warning.
func (m *Monitor) ExtendSession(ctx context.Context) error {
	m.mu.Lock()
	if !m.monitoring {
		m.mu.Unlock()
		return ErrNotMonitoring
	}
	gen := m.generation
	m.mu.Unlock()

	res, err := m.provider.RefreshSession(ctx)

	m.mu.Lock()
	if !m.activeLocked(gen) {
		m.mu.Unlock()
		return ErrNotMonitoring
	}
	if err != nil {
		if isFatal(err) {
			finish := m.endLocked(ReasonExpired)
			m.mu.Unlock()
			finish()
			return err
		}
		m.mu.Unlock()
		m.logger.Warn().Err(err).Msg("extend session failed")
		return err
	}
	if res.TimeRemaining <= 0 {
		finish := m.endLocked(ReasonExpired)
		m.mu.Unlock()
		finish()
		return ErrSessionExpired
	}

	m.remaining = res.TimeRemaining
	m.expiresAt = res.ExpiresAt
	m.warningShown = false
	state := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Debug().Dur("remaining", res.TimeRemaining).Msg("session extended")
	m.notify(state)
	return nil
}

// DismissIdleWarning restarts the idle clock from now.
func (m *Monitor) DismissIdleWarning() {
	m.mu.Lock()
	if !m.monitoring {
		m.mu.Unlock()
		return
	}
	m.lastLocalActivityAt = m.sched.Now()
	m.idleWarningShown = false
	state := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(state)
}

// KeepActive dismisses the idle warning and extends the server session.
func (m *Monitor) KeepActive(ctx context.Context) error {
	m.DismissIdleWarning()
	return m.ExtendSession(ctx)
}

func (m *Monitor) IsMonitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monitoring
}

func (m *Monitor) IsWarningShown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warningShown
}

// RemainingTime is the session time reported by the last successful poll or
// extend call.
func (m *Monitor) RemainingTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining
}

func (m *Monitor) IsIdleWarningShown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idleWarningShown
}

// IdleRemainingTime is derived from the idle clock at call time.
func (m *Monitor) IdleRemainingTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idleRemainingLocked()
}

func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) pollSession(gen uint64) {
	m.mu.Lock()
	if !m.activeLocked(gen) {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.mu.Unlock()

	m.sched.Go(func() {
		info, err := m.provider.GetSessionInfo(ctx)
		m.applySessionInfo(gen, info, err)
	})
}

func (m *Monitor) applySessionInfo(gen uint64, info SessionInfo, err error) {
	m.mu.Lock()
	if !m.activeLocked(gen) {
		m.mu.Unlock()
		return
	}

	if err != nil && !isFatal(err) {
		m.mu.Unlock()
		m.logger.Warn().Err(err).Msg("session poll failed")
		return
	}

	if err != nil || !info.IsActive || info.TimeRemaining <= 0 {
		finish := m.endLocked(ReasonExpired)
		m.mu.Unlock()
		finish()
		return
	}

	m.remaining = info.TimeRemaining
	m.expiresAt = info.ExpiresAt
	if info.TimeRemaining <= m.cfg.SessionWarning {
		if !m.warningShown {
			m.warningShown = true
			m.logger.Info().Dur("remaining", info.TimeRemaining).Msg("session expiry warning")
		}
	} else {
		m.warningShown = false
	}
	state := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(state)
}

func (m *Monitor) recordActivity(gen uint64, _ Activity) {
	m.mu.Lock()
	if !m.activeLocked(gen) {
		m.mu.Unlock()
		return
	}
	m.lastLocalActivityAt = m.sched.Now()
	if !m.idleWarningShown {
		m.mu.Unlock()
		return
	}
	m.idleWarningShown = false
	state := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(state)
}

func (m *Monitor) checkIdle(gen uint64) {
	m.mu.Lock()
	if !m.activeLocked(gen) {
		m.mu.Unlock()
		return
	}

	elapsed := m.sched.Now().Sub(m.lastLocalActivityAt)
	if elapsed >= m.cfg.IdleTimeout {
		finish := m.endLocked(ReasonIdle)
		m.mu.Unlock()
		finish()
		return
	}

	if elapsed < m.cfg.IdleWarning || m.idleWarningShown {
		m.mu.Unlock()
		return
	}

	m.idleWarningShown = true
	state := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info().Dur("idle", elapsed).Msg("idle warning")
	m.notify(state)
}

func (m *Monitor) activeLocked(gen uint64) bool {
	return m.monitoring && m.generation == gen
}

func (m *Monitor) teardownLocked() {
	for _, t := range m.tasks {
		t.Stop()
	}
	m.tasks = nil
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.monitoring = false
}

// endLocked stops the monitor and returns the collaborator calls to run once
// the lock is released. Only the caller that flips monitoring off gets here,
// so logout and redirect happen exactly once per run.
func (m *Monitor) endLocked(reason Reason) func() {
	ctx := context.WithoutCancel(m.ctx)
	m.teardownLocked()
	state := m.snapshotLocked()

	return func() {
		m.logger.Info().Str("reason", string(reason)).Msg("session ended, logging out")
		m.notify(state)
		if err := m.auth.Logout(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("logout failed")
		}
		m.nav.Goto(m.cfg.LoginPath, url.Values{"reason": {string(reason)}})
	}
}

func (m *Monitor) idleRemainingLocked() time.Duration {
	if !m.monitoring || m.activity == nil {
		return 0
	}
	left := m.cfg.IdleTimeout - m.sched.Now().Sub(m.lastLocalActivityAt)
	if left < 0 {
		return 0
	}
	return left
}

func (m *Monitor) snapshotLocked() State {
	return State{
		Monitoring:        m.monitoring,
		WarningShown:      m.warningShown,
		RemainingTime:     m.remaining,
		ExpiresAt:         m.expiresAt,
		IdleWarningShown:  m.idleWarningShown,
		IdleRemainingTime: m.idleRemainingLocked(),
	}
}

func (m *Monitor) notify(s State) {
	if m.onChange != nil {
		m.onChange(s)
	}
}
