// Package base drives the differential wheel base: it reads the encoders
// into odometry, arbitrates move and turn bids, runs one motion profile per
// axis and writes wheel velocities to the motor controller.
package base

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/banshee-data/body.control/internal/arbiter"
	"github.com/banshee-data/body.control/internal/monitoring"
	"github.com/banshee-data/body.control/internal/motorlink"
	"github.com/banshee-data/body.control/internal/odometry"
	"github.com/banshee-data/body.control/internal/profile"
	"github.com/banshee-data/body.control/internal/timeutil"
)

// Subsystem is the name the base reports problems and counts errors under.
const Subsystem = "wheels"

// Dialer connects to the motor controller. The returned closer releases the
// underlying port.
type Dialer func() (*motorlink.Codec, io.Closer, error)

// Options are the collaborators of a Controller. Nil fields get private
// instances.
type Options struct {
	Board    *arbiter.Board
	Counters *monitoring.Counters
	Health   *monitoring.Health
	Clock    timeutil.Clock
}

// Controller is the wheel base. Update and Issue are called by the cycle's
// primary goroutine; bids and readers may come from any goroutine.
type Controller struct {
	cfg  Config
	dial Dialer

	counters *monitoring.Counters
	health   *monitoring.Health

	moveLock *arbiter.Lock[profile.Command]
	turnLock *arbiter.Lock[profile.Command]
	ledLock  *arbiter.Lock[bool]

	mu     sync.Mutex
	link   *motorlink.Codec
	closer io.Closer
	watch  *timeutil.Stopwatch
	odo    *odometry.Tracker
	move   *profile.Axis
	turn   *profile.Axis
	dt     float64
	cycles int

	stiff      bool
	limpReq    bool
	led        bool
	ledOut     bool
	ledSent    bool
	cmdL, cmdR int32
	volts      float64
	vmax       float64
	vmaxDirty  bool
}

// New returns an unconnected controller; call Reset to open the link.
func New(cfg Config, dial Dialer, opts Options) *Controller {
	if opts.Board == nil {
		opts.Board = arbiter.NewBoard()
	}
	if opts.Counters == nil {
		opts.Counters = &monitoring.Counters{}
	}
	if opts.Health == nil {
		opts.Health = &monitoring.Health{}
	}
	c := &Controller{
		cfg:      cfg,
		dial:     dial,
		counters: opts.Counters,
		health:   opts.Health,
		moveLock: arbiter.NewLock[profile.Command]("move"),
		turnLock: arbiter.NewLock[profile.Command]("turn"),
		ledLock:  arbiter.NewLock[bool]("attn"),
		watch:    timeutil.NewStopwatch(opts.Clock, cfg.Period),
		odo:      odometry.NewTracker(cfg.Geometry),
		move:     profile.NewAxis(cfg.Move),
		turn:     profile.NewAxis(cfg.Turn),
		vmax:     cfg.Vmax,
	}
	c.odo.SetNominalPeriod(cfg.Period.Seconds())
	opts.Board.Add(c.moveLock)
	opts.Board.Add(c.turnLock)
	opts.Board.Add(c.ledLock)
	return c
}

// Reset (re)opens the controller link, loads the loop gains, zeroes the
// encoders and odometry and leaves the base limp.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.odo.Reset()
	c.watch.Restart()
	c.move.Reset()
	c.turn.Reset()
	c.moveLock.Clear()
	c.turnLock.Clear()
	c.ledLock.Clear()
	c.stiff, c.limpReq, c.led = false, false, false
	c.cmdL, c.cmdR = 0, 0
	c.cycles = 0
	c.dt = c.cfg.Period.Seconds()

	if err := c.connect(); err != nil {
		return err
	}
	if err := c.link.ResetEncoders(); err != nil {
		return c.problem(fmt.Errorf("reset encoders: %w", err))
	}
	if err := c.link.Disable(); err != nil {
		return c.problem(fmt.Errorf("disable: %w", err))
	}
	if err := c.readEncoders(c.watch.Lap()); err != nil {
		return err
	}
	c.readBattery()
	c.health.Clear(Subsystem)
	return nil
}

// connect replaces the link and configures the controller.
func (c *Controller) connect() error {
	c.disconnect()
	link, closer, err := c.dial()
	if err != nil {
		return c.problem(fmt.Errorf("open motor controller: %w: %w", monitoring.ErrLinkDown, err))
	}
	c.link, c.closer = link, closer
	c.ledSent = false
	version, err := link.Version()
	if err != nil {
		return c.problem(fmt.Errorf("version: %w: %w", monitoring.ErrLinkDown, err))
	}
	pid := c.cfg.Loop
	pid.QPPS = c.cfg.QPPS()
	for _, m := range []int{1, 2} {
		if err := link.SetVelocityPID(m, pid); err != nil {
			return c.problem(fmt.Errorf("loop gains: %w", err))
		}
	}
	if err := link.SetBatteryWindow(c.cfg.Empty, math.Max(c.vmax, c.cfg.Empty)+1); err != nil {
		return c.problem(fmt.Errorf("battery window: %w", err))
	}
	diagf("motor controller %q: %s, polarity %+d, qpps %d", version, link.Dialect(), link.Polarity(), pid.QPPS)
	return nil
}

func (c *Controller) disconnect() {
	if c.closer != nil {
		_ = c.closer.Close()
	}
	c.link, c.closer = nil, nil
}

// Close releases the link after disabling the motors.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link != nil {
		_ = c.link.Disable()
	}
	c.disconnect()
	return nil
}

func (c *Controller) problem(err error) error {
	c.counters.Count(Subsystem, err)
	if errors.Is(err, monitoring.ErrLinkDown) || c.link == nil || c.link.LinkDown() {
		c.health.Fail(Subsystem, err.Error())
	}
	return err
}

// usable reports whether the link can carry packets.
func (c *Controller) usable() bool {
	return c.link != nil && c.link.Dialect() != motorlink.DialectUnknown && !c.link.LinkDown()
}

// Update reads the encoders and advances odometry. A down link gets one
// reopen attempt per call; on failure the pose keeps its last value.
func (c *Controller) Update() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dt = c.watch.Lap()
	c.cycles++

	if !c.usable() {
		if err := c.connect(); err != nil {
			return err
		}
		c.odo.Reprime()
		opsf("motor controller link restored")
	}
	if err := c.readEncoders(c.dt); err != nil {
		return err
	}
	if c.cycles%BatteryEvery == 0 {
		c.readBattery()
	}
	c.health.Clear(Subsystem)
	return nil
}

func (c *Controller) readEncoders(dt float64) error {
	l, r, err := c.link.ReadEncoders()
	if err != nil {
		return c.problem(err)
	}
	if c.link.Polarity() < 0 {
		l, r = r, l
	}
	if !c.odo.Update(l, r, dt) {
		c.counters.Add(Subsystem, "glitch", 1)
		tracef("rejected encoder reading %d %d after %.3fs", l, r, dt)
	}
	return nil
}

func (c *Controller) readBattery() {
	v, err := c.link.ReadBattery()
	if err != nil {
		c.counters.Count(Subsystem, err)
		return
	}
	c.volts = v
	if v > c.vmax {
		c.vmax, c.vmaxDirty = v, true
		diagf("new full-charge voltage %.1f", v)
	}
}

// Issue latches this cycle's bids, switches the attention light when its
// winner changes and, when stiff, writes wheel speeds.
func (c *Controller) Issue() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var limpErr error
	if c.limpReq {
		c.limpReq, c.stiff = false, false
		c.move.Reset()
		c.turn.Reset()
		c.cmdL, c.cmdR = 0, 0
		if c.usable() {
			limpErr = c.link.Disable()
		}
	}

	pose := c.odo.Pose()
	if b, ok := c.moveLock.Latch(); ok {
		c.move.Apply(b.Value, pose.Trav, FarMove)
		c.stiff = true
	} else if c.move.Cruising() {
		// A velocity command lasts one cycle; unrenewed, it coasts down.
		c.move.SoftStop(pose.Trav)
	}
	if b, ok := c.turnLock.Latch(); ok {
		c.turn.Apply(b.Value, pose.Windup, FarTurn)
		c.stiff = true
	} else if c.turn.Cruising() {
		c.turn.SoftStop(pose.Windup)
	}
	if b, ok := c.ledLock.Latch(); ok {
		c.led = b.Value
	}

	if c.usable() && (!c.ledSent || c.ledOut != c.led) {
		if err := c.link.SetLight(c.led); err != nil {
			diagf("%v", err)
		}
		c.ledOut, c.ledSent = c.led, true
	}

	if limpErr != nil {
		return c.problem(fmt.Errorf("limp: %w", limpErr))
	}
	if !c.stiff || !c.usable() {
		return nil
	}

	ips := c.move.Drive(pose.Trav, c.dt)
	dps := c.turn.Drive(pose.Windup, c.dt)
	left, right := Wheels(ips, dps, c.cfg.Geometry.WheelSeparation)
	c.cmdL, c.cmdR = c.pps(left), c.pps(right)
	m1, m2 := c.cmdL, c.cmdR
	if c.link.Polarity() < 0 {
		m1, m2 = m2, m1
	}
	if err := c.link.DriveVelocity(m1, m2); err != nil {
		return c.problem(err)
	}
	tracef("ips %.2f dps %.2f -> pps %d %d", ips, dps, c.cmdL, c.cmdR)
	return nil
}

// Wheels converts body speeds into left and right wheel speeds for a base
// with wheels ws inches apart. Positive dps turns left.
func Wheels(ips, dps, ws float64) (left, right float64) {
	k := dps * math.Pi * ws / 360
	return ips - k, ips + k
}

func (c *Controller) pps(ips float64) int32 {
	g := c.cfg.Geometry
	p := ips / g.InchesPerPulse()
	lim := float64(c.cfg.QPPS())
	p = math.Max(-lim, math.Min(lim, p))
	return int32(math.Round(p))
}

// Limp disables the drive on the next issue so the robot can be pushed.
// It is not arbitrated.
func (c *Controller) Limp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limpReq = true
}

// Pose returns the odometry pose.
func (c *Controller) Pose() odometry.Pose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.odo.Pose()
}

// Step returns the motion integrated on the last update.
func (c *Controller) Step() odometry.Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.odo.Last()
}

// BatteryPercent maps the last voltage between the empty voltage and the
// full-charge voltage seen so far.
func (c *Controller) BatteryPercent() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	span := c.vmax - c.cfg.Empty
	if span <= 0 || c.volts == 0 {
		return 0
	}
	return math.Max(0, math.Min(100, 100*(c.volts-c.cfg.Empty)/span))
}

// Vmax returns the full-charge voltage and whether it rose since the last
// call, so the caller can persist it.
func (c *Controller) Vmax() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dirty := c.vmaxDirty
	c.vmaxDirty = false
	return c.vmax, dirty
}

// SetVmax seeds the full-charge voltage from a stored calibration.
func (c *Controller) SetVmax(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v > c.vmax {
		c.vmax = v
	}
}

// Stuck returns the seconds without progress on each axis.
func (c *Controller) Stuck() (move, turn float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.move.Stuck(), c.turn.Stuck()
}

// Starts returns where the current move and turn goals were first pursued
// from.
func (c *Controller) Starts() (trav, windup float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.move.Start(), c.turn.Start()
}

// Goals returns the active move and turn goals; while frozen they are the
// latched hold pose.
func (c *Controller) Goals() (trav, windup float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.move.Goal(), c.turn.Goal()
}

// Status summarises the base for debug pages and telemetry.
type Status struct {
	Pose       odometry.Pose `json:"pose"`
	MoveIPS    float64       `json:"move_ips"`
	TurnDPS    float64       `json:"turn_dps"`
	Parked     int           `json:"parked"`
	Stiff      bool          `json:"stiff"`
	Frozen     bool          `json:"frozen"`
	LED        bool          `json:"led"`
	MoveGoal   float64       `json:"move_goal"`
	TurnGoal   float64       `json:"turn_goal"`
	MoveStuck  float64       `json:"move_stuck"`
	TurnStuck  float64       `json:"turn_stuck"`
	LeftPPS    int32         `json:"left_pps"`
	RightPPS   int32         `json:"right_pps"`
	Volts      float64       `json:"volts"`
	Vmax       float64       `json:"vmax"`
	Dialect    string        `json:"dialect"`
	Version    string        `json:"version,omitempty"`
	Polarity   int           `json:"polarity"`
	LinkDown   bool          `json:"link_down"`
	LinkErrors uint64        `json:"link_errors"`
	Aliases    int           `json:"aliases"`
	Glitches   int           `json:"glitches"`
}

// Status returns a snapshot of the base.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Pose:      c.odo.Pose(),
		MoveIPS:   c.odo.MoveIPS(),
		TurnDPS:   c.odo.TurnDPS(),
		Parked:    c.odo.Parked(),
		Stiff:     c.stiff,
		Frozen:    c.move.Frozen() && c.turn.Frozen(),
		LED:       c.led,
		MoveGoal:  c.move.Goal(),
		TurnGoal:  c.turn.Goal(),
		MoveStuck: c.move.Stuck(),
		TurnStuck: c.turn.Stuck(),
		LeftPPS:   c.cmdL,
		RightPPS:  c.cmdR,
		Volts:     c.volts,
		Vmax:      c.vmax,
		Dialect:   motorlink.DialectUnknown.String(),
		LinkDown:  !c.usable(),
		Aliases:   c.odo.Aliases(),
		Glitches:  c.odo.Glitches(),
	}
	if c.link != nil {
		s.Dialect = c.link.Dialect().String()
		s.Version = c.link.VersionString()
		s.Polarity = c.link.Polarity()
		s.LinkErrors = c.link.Errors()
	}
	return s
}
