// Package arbiter implements per-actuator highest-bid-wins command selection.
//
// Clients post bids while the cycle is accepting commands. The owning
// controller latches each lock once per cycle: the winning value is taken,
// cached for introspection, and the lock is cleared for the next cycle.
package arbiter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/body.control/internal/monitoring"
)

// Bid is a value posted with a priority.
type Bid[T any] struct {
	Value    T
	Priority int
}

// Lock arbitrates one actuator. Equal priorities keep the first bid.
type Lock[T any] struct {
	mu   sync.Mutex
	name string

	lock    int
	pending T

	last   Bid[T]
	lastOK bool

	wins      uint64
	preempted uint64
}

// NewLock returns an empty lock for the named actuator.
func NewLock[T any](name string) *Lock[T] {
	return &Lock[T]{name: name}
}

// Name identifies the actuator.
func (l *Lock[T]) Name() string { return l.name }

// TrySet latches v if priority beats the current lock.
func (l *Lock[T]) TrySet(v T, priority int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if priority <= 0 || priority <= l.lock {
		if priority > 0 {
			l.preempted++
		}
		return false
	}
	l.lock = priority
	l.pending = v
	return true
}

// Bid is TrySet with error results: ErrInvalidArgument for a non-positive
// priority and ErrPreempted when an earlier bid holds the lock.
func (l *Lock[T]) Bid(v T, priority int) error {
	if priority <= 0 {
		return fmt.Errorf("%s: priority %d: %w", l.name, priority, monitoring.ErrInvalidArgument)
	}
	if !l.TrySet(v, priority) {
		return fmt.Errorf("%s: priority %d: %w", l.name, priority, monitoring.ErrPreempted)
	}
	return nil
}

// Held returns the priority currently holding the lock, 0 if none.
func (l *Lock[T]) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lock
}

// Latch ends the cycle: it returns the winning bid, if any, caches it and
// clears the lock.
func (l *Lock[T]) Latch() (Bid[T], bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lock == 0 {
		l.lastOK = false
		return Bid[T]{}, false
	}
	b := Bid[T]{Value: l.pending, Priority: l.lock}
	var zero T
	l.lock, l.pending = 0, zero
	l.last, l.lastOK = b, true
	l.wins++
	return b, true
}

// Last is the winner of the previous cycle.
func (l *Lock[T]) Last() (Bid[T], bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.lastOK
}

// Clear drops any pending bid and the cached winner.
func (l *Lock[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	l.lock, l.pending = 0, zero
	l.last, l.lastOK = Bid[T]{}, false
}

// Status describes a lock for debug pages.
type Status struct {
	Name      string `json:"name"`
	Held      int    `json:"held"`
	Winner    string `json:"winner,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	Wins      uint64 `json:"wins"`
	Preempted uint64 `json:"preempted"`
}

// Status reports the lock state.
func (l *Lock[T]) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Status{Name: l.name, Held: l.lock, Wins: l.wins, Preempted: l.preempted}
	if l.lastOK {
		s.Winner = fmt.Sprintf("%v", l.last.Value)
		s.Priority = l.last.Priority
	}
	return s
}

// Entry is the type-erased view of a Lock held by a Board.
type Entry interface {
	Name() string
	Held() int
	Status() Status
	Clear()
}

// Board collects the locks of every actuator.
type Board struct {
	mu    sync.Mutex
	locks map[string]Entry
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{locks: make(map[string]Entry)}
}

// Add registers a lock; a later lock with the same name replaces it.
func (b *Board) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locks[e.Name()] = e
}

// Statuses returns every lock sorted by name.
func (b *Board) Statuses() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Status, 0, len(b.locks))
	for _, e := range b.locks {
		out = append(out, e.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Pending reports whether any lock holds a bid.
func (b *Board) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.locks {
		if e.Held() > 0 {
			return true
		}
	}
	return false
}

// Clear empties every lock.
func (b *Board) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.locks {
		e.Clear()
	}
}
