package body

import (
	"context"
	"fmt"
	"io"

	"github.com/banshee-data/body.control/internal/base"
	"github.com/banshee-data/body.control/internal/config"
	"github.com/banshee-data/body.control/internal/depth"
	"github.com/banshee-data/body.control/internal/lift"
	"github.com/banshee-data/body.control/internal/monitoring"
	"github.com/banshee-data/body.control/internal/motorlink"
	"github.com/banshee-data/body.control/internal/serialport"
	"github.com/banshee-data/body.control/internal/sim"
	"github.com/banshee-data/body.control/internal/timeutil"
)

// FrameSource delivers depth frames. Next blocks until a new frame is
// available, which paces the cycle.
type FrameSource interface {
	Next(ctx context.Context) (*depth.Image, error)
}

// Devices are the hardware connections of a body. A nil Frames runs the
// body blind, paced by the cycle period instead.
type Devices struct {
	Base   base.Dialer
	Lift   lift.Dialer
	Frames FrameSource
	Links  []*serialport.Link
}

// SerialDevices opens the motor and lift controllers on the configured
// serial ports. A nil open selects serialport.Open.
func SerialDevices(c *config.SerialConfig, open serialport.Opener, clock timeutil.Clock) Devices {
	if open == nil {
		open = serialport.Open
	}
	wheels, stage := serialport.NewLink(base.Subsystem), serialport.NewLink("lift")
	dial := func(link *serialport.Link, path string, baud int) (*serialport.Transport, error) {
		port, err := open(path, serialport.PortOptions{BaudRate: baud, LowLatency: c.GetLowLatency()})
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", link.Name(), monitoring.ErrLinkDown, err)
		}
		tr := serialport.NewTransport(port, c.GetWait(), clock)
		link.Set(tr)
		diagf("opened %s on %s at %d baud", link.Name(), path, baud)
		return tr, nil
	}
	return Devices{
		Base: func() (*motorlink.Codec, io.Closer, error) {
			tr, err := dial(wheels, c.GetMotorPort(), c.GetMotorBaud())
			if err != nil {
				return nil, nil, err
			}
			return motorlink.New(tr, motorlink.DefaultAddress), tr, nil
		},
		Lift: func() (lift.Transport, io.Closer, error) {
			tr, err := dial(stage, c.GetLiftPort(), c.GetLiftBaud())
			if err != nil {
				return nil, nil, err
			}
			return tr, tr, nil
		},
		Links: []*serialport.Link{wheels, stage},
	}
}

// keepOpen leaves simulated devices running across reconnects.
type keepOpen struct{}

func (keepOpen) Close() error { return nil }

// SimDevices connects to a simulated rig. The rig's camera paces the body;
// frames may be replaced, as by a sim.Lockstep in tests.
func SimDevices(rig *sim.Rig, frames FrameSource, clock timeutil.Clock) Devices {
	if frames == nil {
		frames = rig
	}
	wheels, stage := serialport.NewLink(base.Subsystem), serialport.NewLink("lift")
	return Devices{
		Base: func() (*motorlink.Codec, io.Closer, error) {
			tr := serialport.NewTransport(rig.Motor, serialport.DefaultWait, clock)
			wheels.Set(tr)
			return motorlink.New(tr, motorlink.DefaultAddress), keepOpen{}, nil
		},
		Lift: func() (lift.Transport, io.Closer, error) {
			tr := serialport.NewTransport(rig.Lift, serialport.DefaultWait, clock)
			stage.Set(tr)
			return tr, keepOpen{}, nil
		},
		Frames: frames,
		Links:  []*serialport.Link{wheels, stage},
	}
}
