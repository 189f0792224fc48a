package serialport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/body.control/internal/monitoring"
	"github.com/banshee-data/body.control/internal/timeutil"
)

// ErrShortWrite is returned when the device accepted fewer bytes than sent.
var ErrShortWrite = errors.New("short write to serial port")

// ErrNoLine is returned by SetRTS when the port has no modem control lines.
var ErrNoLine = errors.New("serial port has no RTS line")

// DefaultWait is the per-receive wait used when none is configured.
const DefaultWait = 20 * time.Millisecond

// Stats counts link traffic for the debug pages.
type Stats struct {
	BytesOut uint64 `json:"bytes_out"`
	BytesIn  uint64 `json:"bytes_in"`
	Timeouts uint64 `json:"timeouts"`
	Flushes  uint64 `json:"flushes"`
}

// Transport provides bounded send/receive over a Port. It is owned by one
// goroutine at a time (the cycle's primary); the mutex only guards Stats
// readers on the debug pages.
type Transport struct {
	mu    sync.Mutex
	port  Port
	clock timeutil.Clock
	wait  time.Duration
	stats Stats
}

// NewTransport wraps port. A non-positive wait selects DefaultWait.
func NewTransport(port Port, wait time.Duration, clock timeutil.Clock) *Transport {
	if wait <= 0 {
		wait = DefaultWait
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Transport{port: port, wait: wait, clock: clock}
}

// lineSetter is the modem-line control go.bug.st/serial.Port offers.
type lineSetter interface {
	SetRTS(rts bool) error
}

// SetRTS raises or drops the port's RTS line.
func (t *Transport) SetRTS(on bool) error {
	ls, ok := t.port.(lineSetter)
	if !ok {
		return ErrNoLine
	}
	if err := ls.SetRTS(on); err != nil {
		return fmt.Errorf("rts: %w", err)
	}
	return nil
}

// Wait returns the default receive wait.
func (t *Transport) Wait() time.Duration { return t.wait }

// Send writes all of b.
func (t *Transport) Send(b []byte) error {
	n, err := t.port.Write(b)
	t.mu.Lock()
	t.stats.BytesOut += uint64(n)
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if n != len(b) {
		return ErrShortWrite
	}
	return nil
}

// RecvExact reads exactly n bytes or fails with an error wrapping
// monitoring.ErrTimeout once timeout elapses. A non-positive timeout uses
// the transport wait.
func (t *Transport) RecvExact(n int, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = t.wait
	}
	buf := make([]byte, n)
	got := 0
	deadline := t.clock.Now().Add(timeout)
	for got < n {
		remaining := deadline.Sub(t.clock.Now())
		if remaining <= 0 {
			return buf[:got], t.timedOut(got, n)
		}
		if err := t.port.SetReadTimeout(remaining); err != nil {
			return buf[:got], fmt.Errorf("set read timeout: %w", err)
		}
		k, err := t.port.Read(buf[got:])
		got += k
		t.mu.Lock()
		t.stats.BytesIn += uint64(k)
		t.mu.Unlock()
		if err != nil {
			return buf[:got], fmt.Errorf("recv: %w", err)
		}
		if k == 0 {
			// The port waited out the read timeout with nothing arriving.
			return buf[:got], t.timedOut(got, n)
		}
	}
	return buf, nil
}

func (t *Transport) timedOut(got, want int) error {
	t.mu.Lock()
	t.stats.Timeouts++
	t.mu.Unlock()
	return fmt.Errorf("recv %d of %d bytes: %w", got, want, monitoring.ErrTimeout)
}

// RecvAny returns whatever arrives within one wait, possibly nothing.
func (t *Transport) RecvAny() ([]byte, error) {
	if err := t.port.SetReadTimeout(t.wait); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	buf := make([]byte, 256)
	k, err := t.port.Read(buf)
	t.mu.Lock()
	t.stats.BytesIn += uint64(k)
	t.mu.Unlock()
	if err != nil {
		return buf[:k], fmt.Errorf("recv: %w", err)
	}
	return buf[:k], nil
}

// Flush discards any unread input.
func (t *Transport) Flush() error {
	t.mu.Lock()
	t.stats.Flushes++
	t.mu.Unlock()
	return t.port.ResetInputBuffer()
}

// Close releases the device.
func (t *Transport) Close() error { return t.port.Close() }

// Stats returns a copy of the traffic counters.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
