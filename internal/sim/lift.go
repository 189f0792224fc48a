package sim

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Lift servo wire bytes.
const (
	liftTarget   = 0xC0
	liftPosition = 0xA1
	liftDisable  = 0xFF
	liftRawMax   = 4095
)

// LiftServo simulates an analog feedback servo that slews toward its
// target at a fixed raw rate while enabled.
type LiftServo struct {
	mu sync.Mutex

	out     bytes.Buffer
	pos     float64
	target  float64
	rate    float64
	enabled bool
	silent  bool
	closed  bool
	cmds    uint64
}

// NewLiftServo starts at raw position start and slews rate raw units per
// second.
func NewLiftServo(start, rate float64) *LiftServo {
	return &LiftServo{pos: start, target: start, rate: rate}
}

func (l *LiftServo) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errClosed
	}
	for i := 0; i < len(p); i++ {
		switch b := p[i]; {
		case b == liftDisable:
			l.enabled = false
			l.cmds++
		case b == liftPosition:
			l.cmds++
			if !l.silent {
				raw := uint16(math.Round(l.pos))
				l.out.Write(binary.LittleEndian.AppendUint16(nil, raw))
			}
		case b&0xE0 == liftTarget && i+1 < len(p):
			l.target = float64(uint16(b&0x1F) | uint16(p[i+1]&0x7F)<<5)
			l.enabled = true
			l.cmds++
			i++
		}
	}
	return len(p), nil
}

func (l *LiftServo) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errClosed
	}
	if l.out.Len() == 0 {
		return 0, nil
	}
	return l.out.Read(p)
}

func (l *LiftServo) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *LiftServo) SetReadTimeout(time.Duration) error { return nil }

func (l *LiftServo) ResetInputBuffer() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Reset()
	return nil
}

// Step slews the position for dt seconds.
func (l *LiftServo) Step(dt float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return
	}
	d := l.target - l.pos
	lim := l.rate * dt
	switch {
	case d > lim:
		d = lim
	case d < -lim:
		d = -lim
	}
	l.pos = math.Max(0, math.Min(liftRawMax, l.pos+d))
}

// Position returns the raw position.
func (l *LiftServo) Position() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos
}

// Target returns the last raw target.
func (l *LiftServo) Target() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target
}

// Enabled reports whether the servo is driving.
func (l *LiftServo) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Push moves the stage by hand.
func (l *LiftServo) Push(raw float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pos = math.Max(0, math.Min(liftRawMax, l.pos+raw))
}

// SetSilent stops position replies while on.
func (l *LiftServo) SetSilent(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.silent = on
}
