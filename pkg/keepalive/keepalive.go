// Package keepalive tracks when the connector owes the server a keepalive
// frame.
package keepalive

import (
	"sync"
	"time"
)

// DefaultInterval is used until the server announces its own timeout.
const DefaultInterval = 30 * time.Second

// Timer is a keepalive deadline. It is safe for concurrent use.
type Timer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	nowFunc  func() time.Time
}

// New returns a Timer with the given interval (DefaultInterval when zero).
// The deadline starts counting at creation.
func New(interval time.Duration) *Timer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Timer{interval: interval, nowFunc: time.Now}
	t.last = t.nowFunc()
	return t
}

// SetNowFunc overrides the clock. Intended for testing.
func (t *Timer) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nowFunc = fn
	t.last = fn()
}

// Force applies a server-announced timeout. Keepalives are then due every
// timeout/2.
func (t *Timer) Force(timeout time.Duration) {
	if timeout <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.interval = timeout / 2
}

// Interval returns the current keepalive period.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.interval
}

// Due reports whether a full interval has passed since the last Reset.
func (t *Timer) Due() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.nowFunc().Sub(t.last) >= t.interval
}

// Remaining returns the time left before the next keepalive is due. It never
// returns a negative duration.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	left := t.interval - t.nowFunc().Sub(t.last)
	if left < 0 {
		return 0
	}
	return left
}

// Reset records that a keepalive was just sent. The interval is unchanged.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = t.nowFunc()
}
