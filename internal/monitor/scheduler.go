package monitor

import (
	"sync"
	"time"
)

// Task is a handle to a repeating scheduled callback.
type Task interface {
	Stop()
}

// Scheduler owns the passage of time for the monitor. Tests swap in a manual
// implementation to drive the state machine deterministically.
type Scheduler interface {
	Now() time.Time
	// Every runs fn on each interval until the returned task is stopped.
	Every(interval time.Duration, fn func()) Task
	// Go runs fn without blocking the caller. Used for network calls so a
	// slow response never delays the next tick.
	Go(fn func())
}

type realScheduler struct{}

func NewRealScheduler() Scheduler { return realScheduler{} }

func (realScheduler) Now() time.Time { return time.Now() }

func (realScheduler) Every(interval time.Duration, fn func()) Task {
	t := &tickerTask{done: make(chan struct{})}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return t
}

func (realScheduler) Go(fn func()) { go fn() }

type tickerTask struct {
	once sync.Once
	done chan struct{}
}

// Stop does not wait for an in-progress callback; callbacks guard themselves.
func (t *tickerTask) Stop() {
	t.once.Do(func() { close(t.done) })
}
