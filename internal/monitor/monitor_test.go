package monitor

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualScheduler runs callbacks synchronously against a simulated clock.
type manualScheduler struct {
	now   time.Time
	tasks []*manualTask
}

type manualTask struct {
	interval time.Duration
	next     time.Time
	fn       func()
	stopped  bool
}

func (t *manualTask) Stop() { t.stopped = true }

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
}

func (s *manualScheduler) Now() time.Time { return s.now }

func (s *manualScheduler) Every(interval time.Duration, fn func()) Task {
	t := &manualTask{interval: interval, next: s.now.Add(interval), fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

func (s *manualScheduler) Go(fn func()) { fn() }

// Advance moves the clock forward, firing due tasks in time order.
func (s *manualScheduler) Advance(d time.Duration) {
	target := s.now.Add(d)
	for {
		var due *manualTask
		for _, t := range s.tasks {
			if t.stopped || t.next.After(target) {
				continue
			}
			if due == nil || t.next.Before(due.next) {
				due = t
			}
		}
		if due == nil {
			break
		}
		s.now = due.next
		due.next = due.next.Add(due.interval)
		due.fn()
	}
	s.now = target
}

func (s *manualScheduler) active() int {
	n := 0
	for _, t := range s.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

type stubProvider struct {
	info       SessionInfo
	err        error
	refresh    RefreshResult
	refreshErr error
	calls      int
	onGet      func()
}

func (p *stubProvider) GetSessionInfo(ctx context.Context) (SessionInfo, error) {
	p.calls++
	if p.onGet != nil {
		p.onGet()
	}
	return p.info, p.err
}

func (p *stubProvider) RefreshSession(ctx context.Context) (RefreshResult, error) {
	return p.refresh, p.refreshErr
}

type stubAuth struct{ logouts int }

func (a *stubAuth) Logout(ctx context.Context) error {
	a.logouts++
	return nil
}

type redirect struct {
	path  string
	query url.Values
}

type stubNavigator struct{ redirects []redirect }

func (n *stubNavigator) Goto(path string, query url.Values) {
	n.redirects = append(n.redirects, redirect{path: path, query: query})
}

type fakeActivity struct {
	handlers map[int]func(Activity)
	next     int
}

func newFakeActivity() *fakeActivity {
	return &fakeActivity{handlers: make(map[int]func(Activity))}
}

func (f *fakeActivity) Subscribe(handler func(Activity)) func() {
	id := f.next
	f.next++
	f.handlers[id] = handler
	return func() { delete(f.handlers, id) }
}

func (f *fakeActivity) emit(a Activity) {
	for _, h := range f.handlers {
		h(a)
	}
}

type fixture struct {
	sched    *manualScheduler
	provider *stubProvider
	auth     *stubAuth
	nav      *stubNavigator
	activity *fakeActivity
	monitor  *Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sched: newManualScheduler(),
		provider: &stubProvider{
			info:    SessionInfo{IsActive: true, TimeRemaining: 30 * time.Minute},
			refresh: RefreshResult{TimeRemaining: 30 * time.Minute},
		},
		auth:     &stubAuth{},
		nav:      &stubNavigator{},
		activity: newFakeActivity(),
	}
	f.monitor = New(DefaultConfig(), f.provider, f.auth, f.nav, f.activity, WithScheduler(f.sched))
	t.Cleanup(f.monitor.StopMonitoring)
	return f
}

func TestMonitor_IdleTimeout(t *testing.T) {
	f := newFixture(t)
	f.monitor.StartMonitoring(context.Background())

	f.sched.Advance(44 * time.Second)
	assert.False(t, f.monitor.IsIdleWarningShown())

	f.sched.Advance(time.Second)
	assert.True(t, f.monitor.IsIdleWarningShown())
	assert.Equal(t, 15*time.Second, f.monitor.IdleRemainingTime())

	f.sched.Advance(14 * time.Second)
	assert.True(t, f.monitor.IsMonitoring())
	assert.Zero(t, f.auth.logouts)

	f.sched.Advance(time.Second)
	assert.False(t, f.monitor.IsMonitoring())
	assert.Equal(t, 1, f.auth.logouts)
	require.Len(t, f.nav.redirects, 1)
	assert.Equal(t, "/login", f.nav.redirects[0].path)
	assert.Equal(t, "idle", f.nav.redirects[0].query.Get("reason"))

	polls := f.provider.calls
	f.sched.Advance(5 * time.Minute)
	assert.Equal(t, 1, f.auth.logouts)
	assert.Len(t, f.nav.redirects, 1)
	assert.Equal(t, polls, f.provider.calls)
	assert.Zero(t, f.sched.active())
	assert.Empty(t, f.activity.handlers)
}

func TestMonitor_ActivityUnlatchesIdleWarning(t *testing.T) {
	f := newFixture(t)
	f.monitor.StartMonitoring(context.Background())

	f.sched.Advance(45 * time.Second)
	require.True(t, f.monitor.IsIdleWarningShown())

	f.sched.Advance(time.Second)
	f.activity.emit(ActivityKey)
	assert.False(t, f.monitor.IsIdleWarningShown())

	f.sched.Advance(4 * time.Second) // t=50s
	assert.True(t, f.monitor.IsMonitoring())
	assert.False(t, f.monitor.IsIdleWarningShown())

	f.sched.Advance(20 * time.Second) // t=70s, 24s since activity
	assert.True(t, f.monitor.IsMonitoring())
	assert.Zero(t, f.auth.logouts)

	f.sched.Advance(21 * time.Second) // 45s since activity
	assert.True(t, f.monitor.IsIdleWarningShown())
}

func TestMonitor_ActivityWithoutWarningKeepsClockFresh(t *testing.T) {
	f := newFixture(t)
	f.monitor.StartMonitoring(context.Background())

	for i := 0; i < 10; i++ {
		f.sched.Advance(30 * time.Second)
		f.activity.emit(ActivityPointer)
	}

	assert.True(t, f.monitor.IsMonitoring())
	assert.False(t, f.monitor.IsIdleWarningShown())
	assert.Zero(t, f.auth.logouts)
}

func TestMonitor_SessionExpiry(t *testing.T) {
	f := newFixture(t)
	f.provider.info = SessionInfo{IsActive: true, TimeRemaining: 0}

	f.monitor.StartMonitoring(context.Background())

	assert.False(t, f.monitor.IsMonitoring())
	assert.Equal(t, 1, f.auth.logouts)
	require.Len(t, f.nav.redirects, 1)
	assert.Equal(t, "/login", f.nav.redirects[0].path)
	assert.Equal(t, "expired", f.nav.redirects[0].query.Get("reason"))

	f.sched.Advance(time.Minute)
	assert.Equal(t, 1, f.provider.calls)
	assert.Equal(t, 1, f.auth.logouts)
	assert.Zero(t, f.sched.active())
}

func TestMonitor_SessionExpiryOnLaterPoll(t *testing.T) {
	f := newFixture(t)
	f.monitor.StartMonitoring(context.Background())
	f.activity.emit(ActivityKey)

	f.provider.info = SessionInfo{IsActive: true, TimeRemaining: -time.Second}
	f.sched.Advance(10 * time.Second)

	assert.False(t, f.monitor.IsMonitoring())
	assert.Equal(t, 1, f.auth.logouts)
	require.Len(t, f.nav.redirects, 1)
	assert.Equal(t, "expired", f.nav.redirects[0].query.Get("reason"))
}

func TestMonitor_WarningAndExtend(t *testing.T) {
	f := newFixture(t)
	f.provider.info = SessionInfo{IsActive: true, TimeRemaining: 50 * time.Second}

	f.monitor.StartMonitoring(context.Background())
	assert.True(t, f.monitor.IsWarningShown())
	assert.Equal(t, 50*time.Second, f.monitor.RemainingTime())

	f.provider.refresh = RefreshResult{TimeRemaining: 20 * time.Minute}
	require.NoError(t, f.monitor.ExtendSession(context.Background()))

	assert.False(t, f.monitor.IsWarningShown())
	assert.Equal(t, 20*time.Minute, f.monitor.RemainingTime())
	assert.True(t, f.monitor.IsMonitoring())
}

func TestMonitor_WarningLatchesUntilConditionResets(t *testing.T) {
	f := newFixture(t)
	f.provider.info = SessionInfo{IsActive: true, TimeRemaining: 55 * time.Second}

	var warnings int
	f.monitor = New(DefaultConfig(), f.provider, f.auth, f.nav, nil,
		WithScheduler(f.sched),
		WithStateListener(func(s State) {
			if s.WarningShown {
				warnings++
			}
		}))
	f.monitor.StartMonitoring(context.Background())
	require.True(t, f.monitor.IsWarningShown())

	f.provider.info.TimeRemaining = 45 * time.Second
	f.sched.Advance(10 * time.Second)
	assert.True(t, f.monitor.IsWarningShown())

	f.provider.info.TimeRemaining = 25 * time.Minute
	f.sched.Advance(10 * time.Second)
	assert.False(t, f.monitor.IsWarningShown())
	assert.Equal(t, 25*time.Minute, f.monitor.RemainingTime())
	assert.Equal(t, 2, warnings)
	f.monitor.StopMonitoring()
}

func TestMonitor_NetworkErrorsAreSoft(t *testing.T) {
	f := newFixture(t)
	f.provider.err = ErrNetwork

	f.monitor.StartMonitoring(context.Background())
	f.activity.emit(ActivityKey)
	f.sched.Advance(30 * time.Second)

	assert.True(t, f.monitor.IsMonitoring())
	assert.Zero(t, f.auth.logouts)
	assert.Equal(t, 4, f.provider.calls)
}

func TestMonitor_AuthErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	f.provider.err = ErrSessionExpired

	f.monitor.StartMonitoring(context.Background())

	assert.False(t, f.monitor.IsMonitoring())
	assert.Equal(t, 1, f.auth.logouts)
	assert.Equal(t, "expired", f.nav.redirects[0].query.Get("reason"))
}

func TestMonitor_MalformedSessionInfoIsFatal(t *testing.T) {
	f := newFixture(t)
	f.provider.err = fmt.Errorf("%w: unexpected EOF", ErrMalformedResponse)

	f.monitor.StartMonitoring(context.Background())

	assert.False(t, f.monitor.IsMonitoring())
	assert.Equal(t, 1, f.auth.logouts)
	assert.Equal(t, "expired", f.nav.redirects[0].query.Get("reason"))
}

func TestMonitor_InactiveSessionIsFatal(t *testing.T) {
	f := newFixture(t)
	f.provider.info = SessionInfo{IsActive: false, TimeRemaining: 10 * time.Minute}

	f.monitor.StartMonitoring(context.Background())

	assert.False(t, f.monitor.IsMonitoring())
	assert.Equal(t, 1, f.auth.logouts)
}

func TestMonitor_StartTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.monitor.StartMonitoring(context.Background())
	f.monitor.StartMonitoring(context.Background())

	assert.Equal(t, 2, f.sched.active())
	assert.Len(t, f.activity.handlers, 1)

	f.sched.Advance(2 * time.Minute)
	assert.Equal(t, 1, f.auth.logouts)
	assert.Len(t, f.nav.redirects, 1)
}

func TestMonitor_StopCancelsEverything(t *testing.T) {
	f := newFixture(t)
	f.monitor.StartMonitoring(context.Background())
	calls := f.provider.calls

	f.monitor.StopMonitoring()
	assert.Zero(t, f.sched.active())
	assert.Empty(t, f.activity.handlers)

	f.sched.Advance(10 * time.Minute)
	assert.Equal(t, calls, f.provider.calls)
	assert.Zero(t, f.auth.logouts)
	assert.Empty(t, f.nav.redirects)
	assert.ErrorIs(t, f.monitor.ExtendSession(context.Background()), ErrNotMonitoring)
}

func TestMonitor_ResultAfterStopIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.monitor.StartMonitoring(context.Background())

	f.provider.info = SessionInfo{IsActive: true, TimeRemaining: 0}
	f.provider.onGet = f.monitor.StopMonitoring
	f.sched.Advance(10 * time.Second)

	assert.False(t, f.monitor.IsMonitoring())
	assert.Zero(t, f.auth.logouts)
	assert.Empty(t, f.nav.redirects)
}

func TestMonitor_KeepActive(t *testing.T) {
	f := newFixture(t)
	f.provider.info = SessionInfo{IsActive: true, TimeRemaining: 40 * time.Second}
	f.monitor.StartMonitoring(context.Background())

	f.sched.Advance(45 * time.Second)
	require.True(t, f.monitor.IsIdleWarningShown())

	f.provider.info = SessionInfo{IsActive: true, TimeRemaining: 30 * time.Minute}
	require.NoError(t, f.monitor.KeepActive(context.Background()))

	assert.False(t, f.monitor.IsIdleWarningShown())
	assert.False(t, f.monitor.IsWarningShown())
	assert.Equal(t, 30*time.Minute, f.monitor.RemainingTime())
	assert.Equal(t, 60*time.Second, f.monitor.IdleRemainingTime())

	f.sched.Advance(59 * time.Second)
	assert.True(t, f.monitor.IsMonitoring())
}

func TestMonitor_DismissIdleWarning(t *testing.T) {
	f := newFixture(t)
	f.monitor.StartMonitoring(context.Background())

	f.sched.Advance(50 * time.Second)
	require.True(t, f.monitor.IsIdleWarningShown())

	f.monitor.DismissIdleWarning()
	assert.False(t, f.monitor.IsIdleWarningShown())

	f.sched.Advance(30 * time.Second)
	assert.True(t, f.monitor.IsMonitoring())
}

func TestMonitor_ExtendRejectedIsFatal(t *testing.T) {
	f := newFixture(t)
	f.monitor.StartMonitoring(context.Background())

	f.provider.refreshErr = ErrAuth
	err := f.monitor.ExtendSession(context.Background())

	assert.ErrorIs(t, err, ErrAuth)
	assert.False(t, f.monitor.IsMonitoring())
	assert.Equal(t, 1, f.auth.logouts)
	assert.Equal(t, "expired", f.nav.redirects[0].query.Get("reason"))
}

func TestMonitor_ExtendNetworkErrorKeepsRunning(t *testing.T) {
	f := newFixture(t)
	f.monitor.StartMonitoring(context.Background())

	f.provider.refreshErr = ErrNetwork
	assert.ErrorIs(t, f.monitor.ExtendSession(context.Background()), ErrNetwork)
	assert.True(t, f.monitor.IsMonitoring())
}

func TestMonitor_NoActivitySourceDisablesIdle(t *testing.T) {
	f := newFixture(t)
	f.monitor = New(DefaultConfig(), f.provider, f.auth, f.nav, nil, WithScheduler(f.sched))
	f.monitor.StartMonitoring(context.Background())

	assert.Equal(t, 1, f.sched.active())
	f.sched.Advance(10 * time.Minute)

	assert.True(t, f.monitor.IsMonitoring())
	assert.False(t, f.monitor.IsIdleWarningShown())
	assert.Zero(t, f.monitor.IdleRemainingTime())
	f.monitor.StopMonitoring()
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{IdleTimeout: 30 * time.Second}.withDefaults()

	assert.Equal(t, 30*time.Second, cfg.IdleWarning)
	assert.Equal(t, 10*time.Second, cfg.SessionPollInterval)
	assert.Equal(t, "/login", cfg.LoginPath)
}
