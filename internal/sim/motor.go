// Package sim provides simulated hardware that speaks the real wire
// protocols: a dual motor controller in either dialect, a lift servo and a
// depth camera over a world of boxes. Dev mode and the controller tests run
// against it.
package sim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/banshee-data/body.control/internal/motorlink"
)

var errClosed = errors.New("sim: port closed")

var modelPattern = regexp.MustCompile(`(\d+)x(\d+)`)

// MotorController simulates a dual-channel velocity controller. Commanded
// speeds are reached instantly; wheel counts integrate in Step.
type MotorController struct {
	mu sync.Mutex

	addr    byte
	version string
	dialect motorlink.Dialect
	crossed bool

	out bytes.Buffer

	wheel   [2]float64 // left, right counts
	speed   [2]int32   // left, right pulses per second
	limp    bool
	light   bool
	battery float64
	pid     [2][]byte
	window  []byte

	silent  bool
	corrupt int
	closed  bool

	packets  uint64
	rejected uint64
}

// NewMotorController returns a controller reporting version. A leading 'U'
// selects the modern dialect; boards other than 2x15 and 2x30 have their
// channels crossed.
func NewMotorController(version string) *MotorController {
	m := &MotorController{
		addr:    motorlink.DefaultAddress,
		version: version,
		dialect: motorlink.DialectClassic,
		crossed: true,
		battery: 12.4,
		limp:    true,
	}
	if len(version) > 0 && version[0] == 'U' {
		m.dialect = motorlink.DialectModern
	}
	if g := modelPattern.FindStringSubmatch(version); g != nil && (g[2] == "15" || g[2] == "30") {
		m.crossed = false
	}
	return m
}

// channel maps motor 1 or 2 to the physical wheel index (0 left, 1 right).
func (m *MotorController) channel(motor int) int {
	w := motor - 1
	if m.crossed {
		w = 1 - w
	}
	return w
}

// Write parses one packet per call and queues the reply.
func (m *MotorController) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errClosed
	}
	if len(p) < 2 || p[0] != m.addr {
		return len(p), nil
	}
	m.packets++
	cmd := p[1]
	if len(p) == 2 {
		m.query(cmd)
		return len(p), nil
	}

	checkLen := 1
	if m.dialect == motorlink.DialectModern {
		checkLen = 2
	}
	if len(p) < 2+checkLen {
		m.rejected++
		return len(p), nil
	}
	frame := p[:len(p)-checkLen]
	if !bytes.Equal(motorlink.Seal(m.dialect, append([]byte(nil), frame...)), p) {
		m.rejected++
		return len(p), nil
	}
	m.command(cmd, frame[2:])
	if m.dialect == motorlink.DialectModern && !m.silent {
		ack := byte(0xFF)
		if m.corrupt > 0 {
			m.corrupt--
			ack = 0
		}
		m.out.WriteByte(ack)
	}
	return len(p), nil
}

func (m *MotorController) query(cmd byte) {
	var payload []byte
	switch cmd {
	case motorlink.CmdReadVersion:
		payload = append([]byte(m.version), 0)
	case motorlink.CmdReadLeftEncoder:
		payload = binary.BigEndian.AppendUint32(nil, m.count(0))
	case motorlink.CmdReadRightEncoder:
		payload = binary.BigEndian.AppendUint32(nil, m.count(1))
	case motorlink.CmdReadBattery:
		payload = binary.BigEndian.AppendUint16(nil, uint16(math.Round(m.battery*10)))
	default:
		return
	}
	if m.silent {
		return
	}
	reply := motorlink.Seal(m.dialect, append([]byte{m.addr, cmd}, payload...))[2:]
	if m.corrupt > 0 {
		m.corrupt--
		reply[0] ^= 0x01
	}
	m.out.Write(reply)
}

func (m *MotorController) command(cmd byte, payload []byte) {
	switch cmd {
	case motorlink.CmdResetEncoders:
		m.wheel = [2]float64{}
	case motorlink.CmdVelocityDual:
		if len(payload) < 8 {
			return
		}
		m.speed[m.channel(1)] = int32(binary.BigEndian.Uint32(payload[0:]))
		m.speed[m.channel(2)] = int32(binary.BigEndian.Uint32(payload[4:]))
		m.limp = false
	case motorlink.CmdDutyDual:
		m.speed = [2]int32{}
		m.limp = true
	case motorlink.CmdSetM1PID:
		m.pid[0] = append([]byte(nil), payload...)
	case motorlink.CmdSetM2PID:
		m.pid[1] = append([]byte(nil), payload...)
	case motorlink.CmdSetBatteryWindow:
		m.window = append([]byte(nil), payload...)
	}
}

// count is the raw encoder register for wheel w. A crossed board reports
// the other wheel on each channel, as it drives it.
func (m *MotorController) count(w int) uint32 {
	if m.crossed {
		w = 1 - w
	}
	return uint32(int64(math.Round(m.wheel[w])))
}

// Read drains queued replies; nothing queued reads as a timeout.
func (m *MotorController) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errClosed
	}
	if m.out.Len() == 0 {
		return 0, nil
	}
	return m.out.Read(p)
}

func (m *MotorController) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MotorController) SetReadTimeout(time.Duration) error { return nil }

// SetRTS drives the attention light on the adapter's RTS line.
func (m *MotorController) SetRTS(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.light = on
	return nil
}

// Light reports the attention light.
func (m *MotorController) Light() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.light
}

func (m *MotorController) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out.Reset()
	return nil
}

// Step advances the wheels by dt seconds at the commanded speeds.
func (m *MotorController) Step(dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limp {
		return
	}
	for w := range m.wheel {
		m.wheel[w] += float64(m.speed[w]) * dt
	}
}

// Slip moves the wheels without any command, as when the robot is pushed.
func (m *MotorController) Slip(left, right int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wheel[0] += float64(left)
	m.wheel[1] += float64(right)
}

// Wheels returns the physical left and right counts.
func (m *MotorController) Wheels() (left, right float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wheel[0], m.wheel[1]
}

// Speeds returns the physical left and right commanded pulses per second.
func (m *MotorController) Speeds() (left, right int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed[0], m.speed[1]
}

// Limp reports whether the drive is disabled.
func (m *MotorController) Limp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limp
}

// PID returns the last gain payload for motor 1 or 2.
func (m *MotorController) PID(motor int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.pid[motor-1]...)
}

// BatteryWindow returns the last battery window payload.
func (m *MotorController) BatteryWindow() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.window...)
}

// SetBattery sets the reported voltage.
func (m *MotorController) SetBattery(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.battery = v
}

// SetSilent stops all replies while on.
func (m *MotorController) SetSilent(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent = on
}

// CorruptNext damages the next n replies.
func (m *MotorController) CorruptNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupt = n
}

// Counters returns the packets seen and those rejected for a bad check.
func (m *MotorController) Counters() (packets, rejected uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.packets, m.rejected
}
