package lift

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Servo command bytes.
const (
	cmdTarget   = 0xC0
	cmdPosition = 0xA1
	cmdDisable  = 0xFF
)

// RawMax is the top of the servo's raw range. The target frame carries five
// low bits in the command byte and seven high bits after it.
const RawMax = 1<<12 - 1

// Transport is the byte link to the servo; serialport.Transport implements
// it.
type Transport interface {
	Send(b []byte) error
	RecvExact(n int, timeout time.Duration) ([]byte, error)
	Flush() error
}

func lo5(x uint16) byte { return byte(x & 0x1F) }

func hi7(x uint16) byte { return byte((x >> 5) & 0x7F) }

// TargetFrame encodes a raw target.
func TargetFrame(raw uint16) []byte {
	if raw > RawMax {
		raw = RawMax
	}
	return []byte{cmdTarget | lo5(raw), hi7(raw)}
}

// Servo speaks the lift servo protocol.
type Servo struct {
	tr      Transport
	timeout time.Duration
}

// NewServo wraps tr.
func NewServo(tr Transport, timeout time.Duration) *Servo {
	if timeout <= 0 {
		timeout = 30 * time.Millisecond
	}
	return &Servo{tr: tr, timeout: timeout}
}

// Position reads the raw feedback position.
func (s *Servo) Position() (uint16, error) {
	if err := s.tr.Send([]byte{cmdPosition}); err != nil {
		return 0, err
	}
	b, err := s.tr.RecvExact(2, s.timeout)
	if err != nil {
		return 0, fmt.Errorf("position: %w", err)
	}
	return binary.LittleEndian.Uint16(b), nil
}

// SetTarget drives toward raw and enables the servo.
func (s *Servo) SetTarget(raw uint16) error {
	return s.tr.Send(TargetFrame(raw))
}

// Disable releases the servo.
func (s *Servo) Disable() error {
	return s.tr.Send([]byte{cmdDisable})
}

// Flush discards unread input.
func (s *Servo) Flush() error { return s.tr.Flush() }
