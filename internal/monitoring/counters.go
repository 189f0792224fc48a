package monitoring

import (
	"sort"
	"strings"
	"sync"
)

// Counters tallies recovered errors per subsystem and kind. The zero value is
// ready to use and safe for concurrent callers.
type Counters struct {
	mu     sync.Mutex
	counts map[string]uint64
}

// Count records err against subsystem. Nil errors are ignored.
func (c *Counters) Count(subsystem string, err error) {
	if err == nil {
		return
	}
	c.Add(subsystem, Kind(err), 1)
}

// Add bumps the subsystem/kind counter by n.
func (c *Counters) Add(subsystem, kind string, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]uint64)
	}
	c.counts[subsystem+"."+kind] += n
}

// Get returns the current count for subsystem/kind.
func (c *Counters) Get(subsystem, kind string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[subsystem+"."+kind]
}

// Total sums every counter for subsystem.
func (c *Counters) Total(subsystem string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n uint64
	prefix := subsystem + "."
	for k, v := range c.counts {
		if strings.HasPrefix(k, prefix) {
			n += v
		}
	}
	return n
}

// Snapshot returns a copy of all counters keyed "subsystem.kind".
func (c *Counters) Snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Health tracks which named subsystems are currently failing.
type Health struct {
	mu      sync.Mutex
	failing map[string]string
}

// Fail marks subsystem as failing with a short reason.
func (h *Health) Fail(subsystem, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failing == nil {
		h.failing = make(map[string]string)
	}
	h.failing[subsystem] = reason
}

// Clear marks subsystem healthy again.
func (h *Health) Clear(subsystem string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failing, subsystem)
}

// Set is Fail when failing is true, else Clear.
func (h *Health) Set(subsystem string, failing bool, reason string) {
	if failing {
		h.Fail(subsystem, reason)
		return
	}
	h.Clear(subsystem)
}

// Failing returns the sorted names of failing subsystems.
func (h *Health) Failing() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.failing))
	for name := range h.failing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reason returns why subsystem is failing, or "" when healthy.
func (h *Health) Reason(subsystem string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failing[subsystem]
}

// Problems renders the failing subsystems as "arm, wheels, lift stage", or
// the empty string when everything is healthy.
func (h *Health) Problems() string {
	return strings.Join(h.Failing(), ", ")
}
