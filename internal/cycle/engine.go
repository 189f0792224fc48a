// Package cycle runs the two-goroutine update/issue loop that every body
// component is driven by. The primary goroutine writes actuator commands,
// then reads sensors and interprets them under the shared-state lock while
// the secondary goroutine runs a second interpretation stage in parallel.
// Clients see two calls per cycle: Update waits for the cycle to finish and
// Issue starts the next one. Bids posted between the two take effect in the
// next cycle.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/body.control/internal/config"
	"github.com/banshee-data/body.control/internal/monitoring"
	"github.com/banshee-data/body.control/internal/timeutil"
)

// Subsystem names the engine in health and counter reports.
const Subsystem = "cycle"

// ErrStopped is returned by Update and Issue once the engine has stopped.
var ErrStopped = errors.New("cycle engine stopped")

// Hooks are the stages of one cycle. Nil stages are skipped.
type Hooks struct {
	Issue      func() error // reflexes and actuator packets, before the lock
	Update     func() error // sensor reads, under the lock
	Interpret  func() error // primary half of perception, under the lock
	Interpret2 func() error // secondary half, concurrent with Interpret
	Join       func() error // runs after both halves, still under the lock

	// Fatal is called once when a stage panics.
	Fatal func(err error)
}

// Options tune an Engine. Zero values take the compiled defaults.
type Options struct {
	Timeout     time.Duration // bound on waiting for a cycle or its secondary half
	StopTimeout time.Duration
	Clock       timeutil.Clock
	Counters    *monitoring.Counters
	Health      *monitoring.Health
}

// OptionsFrom reads the cycle section of the body configuration.
func OptionsFrom(c *config.CycleConfig) Options {
	return Options{Timeout: c.GetUpdateTimeout(), StopTimeout: c.GetStopTimeout()}
}

// Engine coordinates the primary and secondary goroutines.
type Engine struct {
	hooks       Hooks
	timeout     time.Duration
	stopTimeout time.Duration
	clock       timeutil.Clock
	counters    *monitoring.Counters
	health      *monitoring.Health

	shared sync.RWMutex

	// gate orders client calls against the end-of-cycle transition.
	gate          sync.Mutex
	started       bool
	running       atomic.Bool
	askPrimary    *ManualEvent
	donePrimary   *AutoEvent
	askSecondary  *AutoEvent
	doneSecondary *AutoEvent
	primaryExit   chan struct{}
	secondaryExit chan struct{}

	// Owned by the primary goroutine.
	secBusy bool
	// Written by the secondary before doneSecondary is set.
	secErr error
	// secMu orders the secondary finishing against the primary giving up
	// on it. secHeld means a late secondary owns the shared write lock and
	// releases it when done.
	secMu   sync.Mutex
	secHeld bool

	mu         sync.Mutex
	fatal      error
	lastErr    error
	cycles     uint64
	missed     uint64
	missed2    uint64
	lastLength time.Duration
}

func New(hooks Hooks, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Counters == nil {
		opts.Counters = &monitoring.Counters{}
	}
	if opts.Health == nil {
		opts.Health = &monitoring.Health{}
	}
	return &Engine{
		hooks:         hooks,
		timeout:       opts.Timeout,
		stopTimeout:   opts.StopTimeout,
		clock:         opts.Clock,
		counters:      opts.Counters,
		health:        opts.Health,
		askPrimary:    NewManualEvent(),
		donePrimary:   NewAutoEvent(),
		askSecondary:  NewAutoEvent(),
		doneSecondary: NewAutoEvent(),
		primaryExit:   make(chan struct{}),
		secondaryExit: make(chan struct{}),
	}
}

// Start launches both goroutines and begins the first cycle. Cancelling ctx
// stops the engine at the next cycle boundary.
func (e *Engine) Start(ctx context.Context) error {
	e.gate.Lock()
	defer e.gate.Unlock()
	if e.started {
		return errors.New("cycle engine already started")
	}
	e.started = true
	e.running.Store(true)
	e.askPrimary.Set()
	go e.primary(ctx)
	go e.secondary()
	diagf("started, timeout %v", e.timeout)
	return nil
}

func (e *Engine) primary(ctx context.Context) {
	defer close(e.primaryExit)
	defer e.askSecondary.Set()
	for {
		select {
		case <-e.askPrimary.C():
		case <-ctx.Done():
			e.running.Store(false)
		}
		if !e.running.Load() {
			return
		}
		e.runCycle()
	}
}

func (e *Engine) secondary() {
	defer close(e.secondaryExit)
	for range e.askSecondary.C() {
		if !e.running.Load() {
			return
		}
		err := e.stage("interpret2", e.hooks.Interpret2)
		e.secMu.Lock()
		e.secErr = err
		e.doneSecondary.Set()
		if e.secHeld {
			e.secHeld = false
			if err != nil {
				e.counters.Count(Subsystem, err)
				opsf("late secondary stage: %v", err)
			}
			e.shared.Unlock()
		}
		e.secMu.Unlock()
	}
}

func (e *Engine) runCycle() {
	start := e.clock.Now()
	errs := []error{e.stage("issue", e.hooks.Issue)}

	e.shared.Lock()
	errs = append(errs, e.stage("update", e.hooks.Update))
	asked := e.startSecondary()
	errs = append(errs, e.stage("interpret", e.hooks.Interpret))
	switch e.waitSecondary(asked) {
	case secDone:
		errs = append(errs, e.secErr, e.stage("join", e.hooks.Join))
		e.shared.Unlock()
	case secLate:
		// The straggler unlocks; the join for this cycle is skipped.
	default:
		e.shared.Unlock()
	}

	err := errors.Join(errs...)
	if err != nil {
		e.counters.Count(Subsystem, err)
		tracef("cycle errors: %v", err)
	}
	e.mu.Lock()
	e.cycles++
	e.lastErr = err
	e.lastLength = e.clock.Since(start)
	e.mu.Unlock()

	e.gate.Lock()
	e.askPrimary.Reset()
	e.donePrimary.Set()
	e.gate.Unlock()
}

func (e *Engine) startSecondary() bool {
	if e.hooks.Interpret2 == nil && e.hooks.Join == nil {
		return false
	}
	if e.secBusy {
		select {
		case <-e.doneSecondary.C():
			e.secBusy = false
		default:
			return false
		}
	}
	e.secBusy = true
	e.askSecondary.Set()
	return true
}

type secState int

const (
	secSkipped secState = iota
	secDone
	secLate // still running; it holds the shared lock until it finishes
)

func (e *Engine) waitSecondary(asked bool) secState {
	if !asked {
		return secSkipped
	}
	select {
	case <-e.doneSecondary.C():
		e.secBusy = false
		return secDone
	case <-e.clock.After(e.timeout):
	}

	e.secMu.Lock()
	defer e.secMu.Unlock()
	select {
	case <-e.doneSecondary.C():
		e.secBusy = false
		return secDone
	default:
	}
	e.secHeld = true
	e.mu.Lock()
	e.missed2++
	e.mu.Unlock()
	e.counters.Add(Subsystem, "missed_secondary", 1)
	opsf("secondary stage still running after %v", e.timeout)
	return secLate
}

// stage runs fn, converting a panic into the fatal state.
func (e *Engine) stage(name string, fn func() error) (err error) {
	if fn == nil || e.Err() != nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = e.die(fmt.Errorf("%w: %s stage panicked: %v", monitoring.ErrFatal, name, r))
		}
	}()
	return fn()
}

func (e *Engine) die(err error) error {
	e.mu.Lock()
	first := e.fatal == nil
	if first {
		e.fatal = err
	}
	e.mu.Unlock()
	if !first {
		return err
	}
	e.health.Fail(Subsystem, err.Error())
	e.counters.Count(Subsystem, err)
	opsf("%v", err)
	if e.hooks.Fatal != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					opsf("fatal hook panicked: %v", r)
				}
			}()
			e.hooks.Fatal(err)
		}()
	}
	return err
}

// Update waits up to timeout (or the configured bound when timeout <= 0) for
// the running cycle to finish. It returns at once when no cycle is running.
func (e *Engine) Update(timeout time.Duration) error {
	if err := e.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = e.timeout
	}
	e.gate.Lock()
	if !e.started || !e.running.Load() {
		e.gate.Unlock()
		return ErrStopped
	}
	idle := !e.askPrimary.IsSet() && !e.donePrimary.IsSet()
	e.gate.Unlock()
	if idle {
		return nil
	}

	select {
	case <-e.donePrimary.C():
	case <-e.primaryExit:
		return ErrStopped
	case <-e.clock.After(timeout):
		e.mu.Lock()
		e.missed++
		n := e.cycles
		e.mu.Unlock()
		e.counters.Add(Subsystem, "missed_primary", 1)
		opsf("cycle %d not done after %v", n+1, timeout)
		return fmt.Errorf("cycle %d not done after %v: %w", n+1, timeout, monitoring.ErrTimeout)
	}
	return e.Err()
}

// Issue starts the next cycle. Calling it while a cycle runs is a no-op.
func (e *Engine) Issue() error {
	if err := e.Err(); err != nil {
		return err
	}
	e.gate.Lock()
	defer e.gate.Unlock()
	if !e.started || !e.running.Load() {
		return ErrStopped
	}
	if !e.askPrimary.IsSet() {
		// A result nobody waited for belongs to the finished cycle.
		e.donePrimary.Clear()
		e.askPrimary.Set()
	}
	return nil
}

// Accepting reports whether the engine is between cycles, the window in
// which bids are guaranteed to take effect.
func (e *Engine) Accepting() bool { return !e.askPrimary.IsSet() }

// Readable takes the shared-state read lock when no stage holds it, a late
// secondary stage included. A true result must be paired with ReadDone.
func (e *Engine) Readable() bool { return e.shared.TryRLock() }

func (e *Engine) ReadDone() { e.shared.RUnlock() }

// Read runs fn under the shared-state read lock, waiting for a running
// cycle to release it.
func (e *Engine) Read(fn func()) {
	e.shared.RLock()
	defer e.shared.RUnlock()
	fn()
}

// Stop asks both goroutines to exit and waits up to the stop timeout.
func (e *Engine) Stop() error {
	e.gate.Lock()
	started := e.started
	e.running.Store(false)
	e.askPrimary.Set()
	e.gate.Unlock()
	if !started {
		return nil
	}

	deadline := e.clock.After(e.stopTimeout)
	for _, exit := range []chan struct{}{e.primaryExit, e.secondaryExit} {
		select {
		case <-exit:
		case <-deadline:
			opsf("goroutines still running %v after stop", e.stopTimeout)
			return fmt.Errorf("stopping cycle engine: %w", monitoring.ErrTimeout)
		}
	}
	diagf("stopped after %d cycles", e.Cycles())
	return nil
}

// Err returns the fatal error, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}

// LastErr returns the joined stage errors of the most recent cycle.
func (e *Engine) LastErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) Cycles() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycles
}

// Status is the engine's introspection record.
type Status struct {
	Cycles          uint64  `json:"cycles"`
	Running         bool    `json:"running"`
	Accepting       bool    `json:"accepting"`
	MissedPrimary   uint64  `json:"missed_primary"`
	MissedSecondary uint64  `json:"missed_secondary"`
	LastCycleMS     float64 `json:"last_cycle_ms"`
	LastError       string  `json:"last_error,omitempty"`
	Fatal           string  `json:"fatal,omitempty"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Status{
		Cycles:          e.cycles,
		Running:         e.running.Load(),
		Accepting:       e.Accepting(),
		MissedPrimary:   e.missed,
		MissedSecondary: e.missed2,
		LastCycleMS:     float64(e.lastLength) / float64(time.Millisecond),
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	if e.fatal != nil {
		s.Fatal = e.fatal.Error()
	}
	return s
}
