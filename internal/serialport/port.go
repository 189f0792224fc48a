// Package serialport is the byte transport underneath the motor and lift
// controllers: a go.bug.st/serial port wrapped with bounded receives.
package serialport

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/body.control/internal/monitoring"
)

// Port is the minimal device handle a Transport needs. go.bug.st/serial.Port
// satisfies it; TestablePort and the simulated devices do too.
type Port interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds the next Read. A Read that times out returns 0, nil.
	SetReadTimeout(timeout time.Duration) error
	// ResetInputBuffer discards unread input.
	ResetInputBuffer() error
}

// Opener opens a Port; tests and dev mode substitute simulated devices.
type Opener func(path string, opts PortOptions) (Port, error)

// sysfsSerialRoot is where usb-serial drivers expose their latency timers.
var sysfsSerialRoot = "/sys/bus/usb-serial/devices"

// Open opens a real serial device.
func Open(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	if opts.LowLatency {
		if err := setLatencyTimer(path, time.Millisecond); err != nil {
			monitoring.Logf("serialport: %s: low latency unavailable: %v", path, err)
		}
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// setLatencyTimer writes the FTDI-style latency_timer for a ttyUSB device.
// Native ports have no timer and are left alone.
func setLatencyTimer(path string, d time.Duration) error {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "ttyUSB") {
		return nil
	}
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	timer := filepath.Join(sysfsSerialRoot, name, "latency_timer")
	return os.WriteFile(timer, []byte(fmt.Sprintf("%d\n", ms)), 0o644)
}
