package cycle

import (
	"context"
	"sync"
)

// ManualEvent stays set until Reset, waking every waiter.
type ManualEvent struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func NewManualEvent() *ManualEvent {
	return &ManualEvent{ch: make(chan struct{})}
}

func (e *ManualEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

func (e *ManualEvent) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

func (e *ManualEvent) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// C returns a channel that is closed while the event is set.
func (e *ManualEvent) C() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

func (e *ManualEvent) Wait(ctx context.Context) error {
	select {
	case <-e.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AutoEvent wakes a single waiter and resets itself. Setting an already set
// event is a no-op.
type AutoEvent struct {
	ch chan struct{}
}

func NewAutoEvent() *AutoEvent {
	return &AutoEvent{ch: make(chan struct{}, 1)}
}

func (e *AutoEvent) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// C returns the event channel; a receive consumes the event.
func (e *AutoEvent) C() <-chan struct{} { return e.ch }

// IsSet reports whether the event is pending without consuming it.
func (e *AutoEvent) IsSet() bool { return len(e.ch) > 0 }

// Clear drops a pending event.
func (e *AutoEvent) Clear() {
	select {
	case <-e.ch:
	default:
	}
}

func (e *AutoEvent) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
