package sim

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/body.control/internal/depth"
	"github.com/banshee-data/body.control/internal/motorlink"
	"github.com/banshee-data/body.control/internal/odometry"
	"github.com/banshee-data/body.control/internal/serialport"
	"github.com/banshee-data/body.control/internal/timeutil"
)

func newCodec(t *testing.T, port serialport.Port) *motorlink.Codec {
	t.Helper()
	tr := serialport.NewTransport(port, 5*time.Millisecond, timeutil.NewMockClock(time.Unix(0, 0)))
	return motorlink.New(tr, motorlink.DefaultAddress)
}

func TestMotorController_SpeaksBothDialects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		version  string
		dialect  motorlink.Dialect
		polarity int
	}{
		{"USB Roboclaw 2x15a v4.1.34\n", motorlink.DialectModern, 1},
		{"RoboClaw 2x30 v1.2", motorlink.DialectClassic, 1},
		{"RoboClaw 2x5 v1.0", motorlink.DialectClassic, -1},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			t.Parallel()
			mc := NewMotorController(tt.version)
			c := newCodec(t, mc)

			v, err := c.Version()
			require.NoError(t, err)
			assert.Equal(t, tt.version, v)
			assert.Equal(t, tt.dialect, c.Dialect())
			assert.Equal(t, tt.polarity, c.Polarity())

			require.NoError(t, c.ResetEncoders())
			require.NoError(t, c.DriveVelocity(100, 300))
			assert.False(t, mc.Limp())
			mc.Step(0.5)

			l, r, err := c.ReadEncoders()
			require.NoError(t, err)
			// A crossed board both drives and reports the other wheel, so
			// motor 1 still reads back on the left channel.
			assert.Equal(t, uint32(50), l)
			assert.Equal(t, uint32(150), r)

			bat, err := c.ReadBattery()
			require.NoError(t, err)
			assert.InDelta(t, 12.4, bat, 1e-9)

			require.NoError(t, c.Disable())
			assert.True(t, mc.Limp())
			_, rejected := mc.Counters()
			assert.Zero(t, rejected)
		})
	}
}

func TestMotorController_CrossedBoardDrivesOtherWheel(t *testing.T) {
	t.Parallel()
	mc := NewMotorController("RoboClaw 2x5 v1.0")
	c := newCodec(t, mc)
	_, err := c.Version()
	require.NoError(t, err)

	require.NoError(t, c.DriveVelocity(100, 0))
	l, r := mc.Speeds()
	assert.Equal(t, int32(0), l)
	assert.Equal(t, int32(100), r)
}

func TestMotorController_FaultInjection(t *testing.T) {
	t.Parallel()
	mc := NewMotorController("RoboClaw 2x15 v1.0")
	c := newCodec(t, mc)
	_, err := c.Version()
	require.NoError(t, err)

	mc.CorruptNext(1)
	_, err = c.ReadBattery()
	require.Error(t, err)
	assert.Equal(t, 1, c.Failures())
	_, err = c.ReadBattery()
	require.NoError(t, err)
	assert.Zero(t, c.Failures())

	mc.SetSilent(true)
	for i := 0; i < motorlink.LinkDownThreshold; i++ {
		_, err = c.ReadBattery()
		require.Error(t, err)
	}
	assert.True(t, c.LinkDown())
	mc.SetSilent(false)
	_, err = c.ReadBattery()
	require.NoError(t, err)
	assert.False(t, c.LinkDown())
}

func TestMotorController_RejectsBadCheck(t *testing.T) {
	t.Parallel()
	mc := NewMotorController("USB Roboclaw 2x15a v4")
	_, err := mc.Write([]byte{motorlink.DefaultAddress, motorlink.CmdResetEncoders, 0, 0})
	require.NoError(t, err)
	packets, rejected := mc.Counters()
	assert.Equal(t, uint64(1), packets)
	assert.Equal(t, uint64(1), rejected)

	require.NoError(t, mc.Close())
	_, err = mc.Write([]byte{0x80, 0x15})
	assert.Error(t, err)
}

func TestMotorController_StoresPIDAndWindow(t *testing.T) {
	t.Parallel()
	mc := NewMotorController("USB Roboclaw 2x15a v4")
	c := newCodec(t, mc)
	_, err := c.Version()
	require.NoError(t, err)

	require.NoError(t, c.SetVelocityPID(2, motorlink.PID{P: 1, QPPS: 4000}))
	require.NoError(t, c.SetBatteryWindow(10.5, 13))
	_, err = c.ReadBattery() // collects the acks
	require.NoError(t, err)

	pid := mc.PID(2)
	require.Len(t, pid, 16)
	assert.Equal(t, uint32(1<<18), binary.BigEndian.Uint32(pid[4:]))
	assert.Equal(t, uint32(4000), binary.BigEndian.Uint32(pid[12:]))
	assert.Equal(t, []byte{0, 105, 0, 130}, mc.BatteryWindow())
}

func TestLiftServo(t *testing.T) {
	t.Parallel()
	l := NewLiftServo(1000, 2000)
	readPos := func() uint16 {
		_, err := l.Write([]byte{liftPosition})
		require.NoError(t, err)
		buf := make([]byte, 2)
		n, err := l.Read(buf)
		require.NoError(t, err)
		require.Equal(t, 2, n)
		return binary.LittleEndian.Uint16(buf)
	}
	assert.Equal(t, uint16(1000), readPos())

	target := uint16(3000)
	_, err := l.Write([]byte{liftTarget | byte(target&0x1F), byte(target>>5) & 0x7F})
	require.NoError(t, err)
	assert.True(t, l.Enabled())
	assert.InDelta(t, 3000, l.Target(), 1e-9)

	l.Step(0.25)
	assert.Equal(t, uint16(1500), readPos())
	l.Step(5)
	assert.Equal(t, uint16(3000), readPos())

	_, err = l.Write([]byte{liftDisable})
	require.NoError(t, err)
	assert.False(t, l.Enabled())
	l.Push(-200)
	l.Step(1)
	assert.Equal(t, uint16(2800), readPos())

	l.SetSilent(true)
	_, err = l.Write([]byte{liftPosition})
	require.NoError(t, err)
	n, err := l.Read(make([]byte, 2))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testCamera() depth.Camera {
	return depth.Camera{
		Focal:    131.25,
		Scaling:  0.03937,
		HFOV:     58,
		MaxRange: 120,
		Mount:    r3.Vector{Y: 2, Z: 36},
		Tilt:     -35,
	}
}

func TestDepthCamera_FloorMatchesProjection(t *testing.T) {
	t.Parallel()
	cam := DepthCamera{Camera: testCamera(), W: 160, H: 120}
	img := cam.Render(World{}, depth.Placement{})
	require.Greater(t, img.Valid(), img.W*img.H/2)

	// Every return reprojects onto the floor.
	for _, px := range [][2]int{{80, 60}, {10, 100}, {150, 70}} {
		raw := img.At(px[0], px[1])
		require.NotZero(t, raw)
		p := cam.Camera.Point(px[0], px[1], cam.W, cam.H, float64(raw)*cam.Camera.Scaling)
		assert.InDelta(t, 0, p.Z, 0.1, "pixel %v", px)
	}
}

func TestDepthCamera_BoxIsNearerThanFloor(t *testing.T) {
	t.Parallel()
	cam := DepthCamera{Camera: testCamera(), W: 160, H: 120}
	at := depth.Placement{X: 5, Y: 5, Heading: 90}
	floor := cam.Render(World{}, at)

	// Heading 90 looks along world +y; the centre ray meets the floor about
	// 51 inches ahead.
	w := World{Boxes: []Box{{X0: -5, X1: 15, Y0: 45, Y1: 60, Top: 10}}}
	boxed := cam.Render(w, at)
	assert.Less(t, boxed.At(80, 60), floor.At(80, 60))
	assert.Equal(t, floor.At(80, 119), boxed.At(80, 119))
}

func TestRoom(t *testing.T) {
	t.Parallel()
	w := Room(100)
	require.Len(t, w.Boxes, 4)
	o := r3.Vector{Z: 10}
	for _, d := range []r3.Vector{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}} {
		assert.InDelta(t, 50, w.hit(o, d), 1e-9)
	}
	assert.True(t, math.IsInf(World{}.hit(o, r3.Vector{X: 1}), 1))
}

func TestRig_FollowsWheels(t *testing.T) {
	t.Parallel()
	geom := odometry.Geometry{WheelDiameter: 4, WheelSeparation: 12, PulsesPerRev: 1000, MaxRPM: 200}
	rig := NewRig(RigConfig{
		Version:  "USB Roboclaw 2x15a v4",
		Geometry: geom,
		Camera:   testCamera(),
		World:    Room(200),
		Clock:    timeutil.NewMockClock(time.Unix(0, 0)),
	})
	c := newCodec(t, rig.Motor)
	_, err := c.Version()
	require.NoError(t, err)

	pps := int32(math.Round(8 / geom.InchesPerPulse()))
	require.NoError(t, c.DriveVelocity(pps, pps))
	for i := 0; i < 30; i++ {
		rig.Step(1.0 / 30)
	}
	p := rig.Pose()
	assert.InDelta(t, 8, p.X, 0.05)
	assert.InDelta(t, 0, p.Y, 1e-6)
	assert.InDelta(t, 0, p.Heading, 1e-6)
	assert.Greater(t, rig.Frame().Valid(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rig.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rig.Frames())
}

func TestLockstep_AdvancesClockPerFrame(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	rig := NewRig(RigConfig{
		Geometry:  odometry.Geometry{WheelDiameter: 4, WheelSeparation: 12, PulsesPerRev: 1000, MaxRPM: 200},
		Camera:    testCamera(),
		Period:    50 * time.Millisecond,
		LiftStart: 0,
		LiftSpan:  20,
		World:     Room(200),
		Clock:     clock,
	})
	ls := Lockstep{Rig: rig, Clock: clock}

	low, err := ls.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Unix(0, 0).Add(50*time.Millisecond), clock.Now())
	assert.Equal(t, uint64(1), rig.Frames())

	// The camera rides the lift: raising it lengthens the floor returns.
	rig.Lift.Push(liftRawMax)
	high := rig.Frame()
	assert.Greater(t, high.At(80, 119), low.At(80, 119))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ls.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1), rig.Frames())
}
