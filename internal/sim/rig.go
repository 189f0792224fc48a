package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/body.control/internal/depth"
	"github.com/banshee-data/body.control/internal/odometry"
	"github.com/banshee-data/body.control/internal/timeutil"
)

// Rig is a whole simulated robot: motor controller, lift servo and depth
// camera in a World. The camera paces the rig the way a real sensor paces
// the cycle: each Next waits one frame period, advances the devices and
// renders.
type Rig struct {
	Motor  *MotorController
	Lift   *LiftServo
	Camera DepthCamera
	World  World

	clock    timeutil.Clock
	period   time.Duration
	liftSpan float64

	mu     sync.Mutex
	track  *odometry.Tracker
	countL int64
	countR int64
	frames uint64
}

// RigConfig selects the simulated hardware.
type RigConfig struct {
	Version   string // motor controller version string
	Geometry  odometry.Geometry
	Camera    depth.Camera
	W, H      int
	Period    time.Duration
	LiftStart float64 // raw
	LiftRate  float64 // raw units per second
	LiftSpan  float64 // inches the camera rises over the full raw range
	World     World
	Clock     timeutil.Clock
}

// NewRig builds a rig; the robot starts at the world origin facing +x.
func NewRig(cfg RigConfig) *Rig {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Second / 30
	}
	if cfg.W <= 0 || cfg.H <= 0 {
		cfg.W, cfg.H = 160, 120
	}
	return &Rig{
		Motor:    NewMotorController(cfg.Version),
		Lift:     NewLiftServo(cfg.LiftStart, cfg.LiftRate),
		Camera:   DepthCamera{Camera: cfg.Camera, W: cfg.W, H: cfg.H},
		World:    cfg.World,
		clock:    cfg.Clock,
		period:   cfg.Period,
		liftSpan: cfg.LiftSpan,
		track:    odometry.NewTracker(cfg.Geometry),
	}
}

// Step advances every device by dt seconds and moves the true pose.
func (r *Rig) Step(dt float64) {
	r.Motor.Step(dt)
	r.Lift.Step(dt)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.follow(dt)
}

func (r *Rig) follow(dt float64) {
	l, rt := r.Motor.Wheels()
	nl, nr := int64(math.Round(l)), int64(math.Round(rt))
	r.track.Slip(int(nl-r.countL), int(nr-r.countR), dt)
	r.countL, r.countR = nl, nr
}

// Pose is the robot's true placement in the world.
func (r *Rig) Pose() depth.Placement {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.follow(0)
	p := r.track.Pose()
	return depth.Placement{X: p.X, Y: p.Y, Heading: p.Heading}
}

// Frame renders the current view without advancing time. The camera
// rides on the lift stage.
func (r *Rig) Frame() *depth.Image {
	cam := r.Camera
	cam.Camera.Mount.Z += r.Lift.Position() / liftRawMax * r.liftSpan
	return cam.Render(r.World, r.Pose())
}

// Next waits one frame period, steps the rig and returns the new frame.
func (r *Rig) Next(ctx context.Context) (*depth.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.clock.After(r.period):
	}
	return r.advance(), nil
}

func (r *Rig) advance() *depth.Image {
	r.Step(r.period.Seconds())
	r.mu.Lock()
	r.frames++
	r.mu.Unlock()
	return r.Frame()
}

// Lockstep is a frame source that advances a mock clock by one period per
// frame instead of waiting, so a whole body runs deterministically.
type Lockstep struct {
	Rig   *Rig
	Clock *timeutil.MockClock
}

func (l Lockstep) Next(ctx context.Context) (*depth.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.Clock.Advance(l.Rig.period)
	return l.Rig.advance(), nil
}

// Frames counts frames delivered by Next.
func (r *Rig) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}
