package keepalive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTimer(interval time.Duration) (*Timer, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	t := New(interval)
	t.SetNowFunc(clock.Now)
	return t, clock
}

func TestNew_Default(t *testing.T) {
	assert.Equal(t, DefaultInterval, New(0).Interval())
}

func TestDue(t *testing.T) {
	timer, clock := newTestTimer(10 * time.Second)

	assert.False(t, timer.Due())
	assert.Equal(t, 10*time.Second, timer.Remaining())

	clock.Advance(9 * time.Second)
	assert.False(t, timer.Due())
	assert.Equal(t, time.Second, timer.Remaining())

	clock.Advance(time.Second)
	assert.True(t, timer.Due())
	assert.Equal(t, time.Duration(0), timer.Remaining())
}

func TestForce_HalvesTimeout(t *testing.T) {
	timer, clock := newTestTimer(0)

	timer.Force(60 * time.Second)
	assert.Equal(t, 30*time.Second, timer.Interval())

	clock.Advance(30 * time.Second)
	assert.True(t, timer.Due())

	timer.Force(0)
	assert.Equal(t, 30*time.Second, timer.Interval())
}

// Simulates frames arriving every second for a minute and counts how many
// keepalives a caller following Due/Reset would send.
func TestOneKeepalivePerInterval(t *testing.T) {
	timer, clock := newTestTimer(0)
	timer.Force(20 * time.Second) // interval 10s

	sent := 0
	for range 60 {
		clock.Advance(time.Second)
		if timer.Due() {
			sent++
			timer.Reset()
		}
	}

	assert.Equal(t, 6, sent)
}

func TestReset_KeepsInterval(t *testing.T) {
	timer, clock := newTestTimer(0)
	timer.Force(8 * time.Second)

	clock.Advance(5 * time.Second)
	timer.Reset()

	assert.Equal(t, 4*time.Second, timer.Interval())
	assert.Equal(t, 4*time.Second, timer.Remaining())
}
