package motorlink

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Command bytes.
const (
	CmdReadRightEncoder byte = 0x10
	CmdReadLeftEncoder  byte = 0x11
	CmdResetEncoders    byte = 0x14
	CmdReadVersion      byte = 0x15
	CmdReadBattery      byte = 0x18
	CmdSetM1PID         byte = 0x1C
	CmdSetM2PID         byte = 0x1D
	CmdDutyDual         byte = 0x20
	CmdVelocityDual     byte = 0x22
	CmdSetBatteryWindow byte = 0x39
)

// PID holds velocity loop gains and the top speed in pulses per second.
type PID struct {
	P, I, D float64
	QPPS    uint32
}

// ReadEncoders returns the raw left and right counts.
func (c *Codec) ReadEncoders() (left, right uint32, err error) {
	l, err := c.Query(CmdReadLeftEncoder, 4)
	if err != nil {
		return 0, 0, fmt.Errorf("left encoder: %w", err)
	}
	r, err := c.Query(CmdReadRightEncoder, 4)
	if err != nil {
		return 0, 0, fmt.Errorf("right encoder: %w", err)
	}
	return binary.BigEndian.Uint32(l), binary.BigEndian.Uint32(r), nil
}

// ResetEncoders zeroes both counters.
func (c *Codec) ResetEncoders() error {
	return c.Write(CmdResetEncoders, nil)
}

// ReadBattery returns the main battery voltage.
func (c *Codec) ReadBattery() (float64, error) {
	b, err := c.Query(CmdReadBattery, 2)
	if err != nil {
		return 0, fmt.Errorf("battery: %w", err)
	}
	return float64(binary.BigEndian.Uint16(b)) / 10, nil
}

// DriveVelocity commands signed speeds in pulses per second for both motors.
func (c *Codec) DriveVelocity(m1, m2 int32) error {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:], uint32(m1))
	binary.BigEndian.PutUint32(payload[4:], uint32(m2))
	return c.Write(CmdVelocityDual, payload)
}

// SetLight switches the attention light, which is wired to the RTS line of
// the controller's serial adapter.
func (c *Codec) SetLight(on bool) error {
	ls, ok := c.tr.(interface{ SetRTS(bool) error })
	if !ok {
		return fmt.Errorf("attention light: transport has no RTS line")
	}
	return ls.SetRTS(on)
}

// Disable drops both motors to zero duty, releasing the velocity loop.
func (c *Codec) Disable() error {
	return c.Write(CmdDutyDual, make([]byte, 4))
}

// PIDScale is the fixed-point scale the dialect expects for loop gains.
func (c *Codec) PIDScale() float64 {
	if c.dialect == DialectModern {
		return 1 << 18
	}
	return 1 << 12
}

// SetVelocityPID loads loop gains into motor 1 or 2. The payload order is
// D, P, I, QPPS.
func (c *Codec) SetVelocityPID(motor int, pid PID) error {
	cmd := CmdSetM1PID
	switch motor {
	case 1:
	case 2:
		cmd = CmdSetM2PID
	default:
		return fmt.Errorf("motor %d: must be 1 or 2", motor)
	}
	scale := c.PIDScale()
	payload := make([]byte, 16)
	binary.BigEndian.PutUint32(payload[0:], fixed(pid.D, scale))
	binary.BigEndian.PutUint32(payload[4:], fixed(pid.P, scale))
	binary.BigEndian.PutUint32(payload[8:], fixed(pid.I, scale))
	binary.BigEndian.PutUint32(payload[12:], pid.QPPS)
	return c.Write(cmd, payload)
}

func fixed(v, scale float64) uint32 {
	x := math.Round(v * scale)
	if x < 0 {
		return 0
	}
	if x > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(x)
}

// SetBatteryWindow sets the main battery cutoffs. Classic boards have no
// such command and the call is a no-op.
func (c *Codec) SetBatteryWindow(minV, maxV float64) error {
	if c.dialect != DialectModern {
		return nil
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:], uint16(math.Round(minV*10)))
	binary.BigEndian.PutUint16(payload[2:], uint16(math.Round(maxV*10)))
	return c.Write(CmdSetBatteryWindow, payload)
}
