package commands

import (
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/Laffyyy/collabo-tool-sub001/internal/monitor"
)

// lineActivity turns terminal input into monitor activity events.
type lineActivity struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(monitor.Activity)
}

func newLineActivity() *lineActivity {
	return &lineActivity{handlers: make(map[int]func(monitor.Activity))}
}

func (a *lineActivity) Subscribe(handler func(monitor.Activity)) func() {
	a.mu.Lock()
	id := a.next
	a.next++
	a.handlers[id] = handler
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.handlers, id)
		a.mu.Unlock()
	}
}

func (a *lineActivity) emit(kind monitor.Activity) {
	a.mu.Lock()
	handlers := make([]func(monitor.Activity), 0, len(a.handlers))
	for _, h := range a.handlers {
		handlers = append(handlers, h)
	}
	a.mu.Unlock()

	for _, h := range handlers {
		h(kind)
	}
}

// exitNavigator prints the redirect target and signals the command to exit.
type exitNavigator struct {
	out  io.Writer
	once sync.Once
	done chan struct{}

	mu     sync.Mutex
	target string
}

func newExitNavigator(out io.Writer) *exitNavigator {
	return &exitNavigator{out: out, done: make(chan struct{})}
}

func (n *exitNavigator) Goto(path string, query url.Values) {
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	n.mu.Lock()
	n.target = target
	n.mu.Unlock()

	fmt.Fprintf(n.out, "redirect: %s\n", target)
	n.once.Do(func() { close(n.done) })
}

func (n *exitNavigator) Done() <-chan struct{} { return n.done }

func (n *exitNavigator) Target() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target
}

// statePrinter reports warning transitions, not every tick.
type statePrinter struct {
	out  io.Writer
	mu   sync.Mutex
	prev monitor.State
}

func (p *statePrinter) Print(s monitor.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case s.WarningShown && !p.prev.WarningShown:
		fmt.Fprintf(p.out, "session expires in %s, type \"extend\" to stay logged in\n", formatRemaining(s.RemainingTime))
	case !s.WarningShown && p.prev.WarningShown && s.Monitoring:
		fmt.Fprintf(p.out, "session extended, %s remaining\n", formatRemaining(s.RemainingTime))
	}

	switch {
	case s.IdleWarningShown && !p.prev.IdleWarningShown:
		fmt.Fprintf(p.out, "idle: logging out in %s, type \"keep\" to stay active\n", formatRemaining(s.IdleRemainingTime))
	case !s.IdleWarningShown && p.prev.IdleWarningShown && s.Monitoring:
		fmt.Fprintln(p.out, "idle warning dismissed")
	}

	if !s.Monitoring && p.prev.Monitoring {
		fmt.Fprintln(p.out, "monitoring stopped")
	}
	p.prev = s
}

// activityClock remembers the latest local activity so the heartbeat loop
// only reports a user who is actually there.
type activityClock struct {
	mu   sync.Mutex
	last time.Time
	sent time.Time
}

func (c *activityClock) touch(now time.Time) {
	c.mu.Lock()
	c.last = now
	c.mu.Unlock()
}

// due reports whether activity happened since the previous heartbeat and
// marks it as sent.
func (c *activityClock) due() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.last.After(c.sent) {
		return false
	}
	c.sent = c.last
	return true
}
