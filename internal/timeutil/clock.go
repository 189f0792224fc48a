// Package timeutil abstracts wall time for the cycle loop so odometry, profile
// integration and link deadlines can be driven deterministically in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the body core depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
	// After delivers the clock time once d has elapsed.
	After(d time.Duration) <-chan time.Time
	// NewTicker delivers ticks every d until stopped.
	NewTicker(d time.Duration) Ticker
}

// Ticker is a stoppable periodic channel.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock with the time package.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewTicker returns a ticker backed by time.NewTicker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// MockClock only moves when Advance or Set is called. Pending After channels
// and tickers fire during Advance once their deadline is reached.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	waiters []*mockWaiter
}

type mockWaiter struct {
	ch       chan time.Time
	deadline time.Time
	period   time.Duration // zero for one-shot waiters
	stopped  bool
}

// NewMockClock creates a MockClock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the mocked time elapsed since t.
func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Set jumps the clock to t without firing waiters.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Sleep records d and advances the clock by it, so loops that pace
// themselves with Sleep still make progress under test.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	c.Advance(d)
}

// Sleeps returns the recorded Sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// After registers a one-shot waiter.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	return c.register(d, 0).ch
}

// NewTicker registers a periodic waiter.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	return &mockTicker{clock: c, w: c.register(d, d)}
}

func (c *MockClock) register(d, period time.Duration) *mockWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &mockWaiter{ch: make(chan time.Time, 1), deadline: c.now.Add(d), period: period}
	c.waiters = append(c.waiters, w)
	return w
}

// Advance moves the clock forward by d and fires every due waiter.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		if !c.now.Before(w.deadline) {
			select {
			case w.ch <- c.now:
			default:
			}
			if w.period == 0 {
				continue
			}
			w.deadline = c.now.Add(w.period)
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

type mockTicker struct {
	clock *MockClock
	w     *mockWaiter
}

func (t *mockTicker) C() <-chan time.Time { return t.w.ch }

func (t *mockTicker) Stop() {
	t.clock.mu.Lock()
	t.w.stopped = true
	t.clock.mu.Unlock()
}

// Stopwatch measures the elapsed time between successive Lap calls. The first
// Lap, and any lap that reads non-positive, returns the nominal period so the
// first cycle after a reset integrates with a sane dt.
type Stopwatch struct {
	clock   Clock
	nominal time.Duration
	last    time.Time
}

// NewStopwatch returns a Stopwatch reading clock; nominal is the expected
// cycle period.
func NewStopwatch(clock Clock, nominal time.Duration) *Stopwatch {
	if clock == nil {
		clock = RealClock{}
	}
	return &Stopwatch{clock: clock, nominal: nominal}
}

// Lap returns the time since the previous Lap in seconds.
func (s *Stopwatch) Lap() float64 {
	now := s.clock.Now()
	prev := s.last
	s.last = now
	if prev.IsZero() {
		return s.nominal.Seconds()
	}
	dt := now.Sub(prev)
	if dt <= 0 {
		return s.nominal.Seconds()
	}
	return dt.Seconds()
}

// Restart forgets the previous lap.
func (s *Stopwatch) Restart() { s.last = time.Time{} }

// Nominal returns the expected period in seconds.
func (s *Stopwatch) Nominal() float64 { return s.nominal.Seconds() }
