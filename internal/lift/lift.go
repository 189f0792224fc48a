// Package lift controls the vertical stage: an analog feedback servo whose
// raw range maps linearly onto calibrated bottom and top heights. It mirrors
// the wheel base with one profiled, arbitrated axis.
package lift

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/body.control/internal/arbiter"
	"github.com/banshee-data/body.control/internal/config"
	"github.com/banshee-data/body.control/internal/monitoring"
	"github.com/banshee-data/body.control/internal/profile"
	"github.com/banshee-data/body.control/internal/timeutil"
)

// Subsystem is the name the lift reports problems and counts errors under.
const Subsystem = "lift stage"

// LinkDownThreshold is the number of consecutive failed position reads
// after which the servo link is reopened.
const LinkDownThreshold = 3

// Config is the lift calibration.
type Config struct {
	Bot, Top float64 // heights at raw 0 and RawMax
	Default  float64 // parked height after reset
	Limits   profile.Limits
	Period   time.Duration
	Timeout  time.Duration // position reply wait
}

// ConfigFrom extracts the lift calibration from a body config.
func ConfigFrom(c *config.BodyConfig) Config {
	l := c.Lift
	return Config{
		Bot:     l.GetBotIn(),
		Top:     l.GetTopIn(),
		Default: l.GetDefaultHeightIn(),
		Limits: profile.Limits{
			Std:   l.GetStdIPS(),
			Accel: l.GetStdAccel(),
			Decel: l.GetStdAccel(),
			Done:  l.GetDoneTolIn(),
		},
		Period:  c.Cycle.GetPeriod(),
		Timeout: c.Serial.GetWait(),
	}
}

// Height converts a raw reading to inches.
func (c Config) Height(raw uint16) float64 {
	return c.Bot + (c.Top-c.Bot)*float64(raw)/RawMax
}

// Raw converts inches to the nearest raw target, clamped to the range.
func (c Config) Raw(h float64) uint16 {
	span := c.Top - c.Bot
	if span <= 0 {
		return 0
	}
	r := math.Round((h - c.Bot) / span * RawMax)
	return uint16(math.Max(0, math.Min(RawMax, r)))
}

// Dialer connects to the servo controller.
type Dialer func() (Transport, io.Closer, error)

// Options are the collaborators of a Controller. Nil fields get private
// instances.
type Options struct {
	Board    *arbiter.Board
	Counters *monitoring.Counters
	Health   *monitoring.Health
	Clock    timeutil.Clock
}

// Controller is the lift stage. Update and Issue belong to the cycle's
// primary goroutine.
type Controller struct {
	cfg  Config
	dial Dialer

	counters *monitoring.Counters
	health   *monitoring.Health
	lock     *arbiter.Lock[profile.Command]

	mu       sync.Mutex
	servo    *Servo
	closer   io.Closer
	watch    *timeutil.Stopwatch
	axis     *profile.Axis
	height   float64
	known    bool
	failures int
	dt       float64
	stiff    bool
	limpReq  bool
	target   uint16
}

// New returns an unconnected lift; call Reset to open the link.
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
		lock:     arbiter.NewLock[profile.Command]("lift"),
		watch:    timeutil.NewStopwatch(opts.Clock, cfg.Period),
		axis:     profile.NewAxis(cfg.Limits),
	}
	opts.Board.Add(c.lock)
	return c
}

// Reset reopens the servo link, reads the stage and parks it at the default
// height.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.axis.Reset()
	c.lock.Clear()
	c.watch.Restart()
	c.dt = c.cfg.Period.Seconds()
	c.stiff, c.limpReq, c.known = false, false, false

	if err := c.connect(); err != nil {
		return err
	}
	if err := c.read(); err != nil {
		return err
	}
	if c.cfg.Default >= c.cfg.Bot && c.cfg.Default <= c.cfg.Top {
		c.axis.SetGoal(c.cfg.Default, 1)
		c.stiff = true
	}
	c.health.Clear(Subsystem)
	return nil
}

func (c *Controller) connect() error {
	if c.closer != nil {
		_ = c.closer.Close()
	}
	c.servo, c.closer = nil, nil
	tr, closer, err := c.dial()
	if err != nil {
		return c.problem(fmt.Errorf("open lift servo: %w: %w", monitoring.ErrLinkDown, err))
	}
	c.servo, c.closer = NewServo(tr, c.cfg.Timeout), closer
	c.failures = 0
	_ = c.servo.Flush()
	return nil
}

func (c *Controller) read() error {
	raw, err := c.servo.Position()
	if err != nil {
		c.failures++
		if c.failures >= LinkDownThreshold {
			err = fmt.Errorf("%w: %w", monitoring.ErrLinkDown, err)
		}
		return c.problem(err)
	}
	c.failures = 0
	c.height, c.known = c.cfg.Height(raw), true
	return nil
}

func (c *Controller) problem(err error) error {
	c.counters.Count(Subsystem, err)
	if c.servo == nil || c.failures >= LinkDownThreshold {
		c.health.Fail(Subsystem, err.Error())
		opsf("%v", err)
	}
	return err
}

func (c *Controller) usable() bool {
	return c.servo != nil && c.failures < LinkDownThreshold
}

// Close disables the servo and releases the link.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.servo != nil {
		_ = c.servo.Disable()
	}
	if c.closer != nil {
		_ = c.closer.Close()
	}
	c.servo, c.closer = nil, nil
	return nil
}

// Update reads the stage height. A down link gets one reopen per call.
func (c *Controller) Update() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dt = c.watch.Lap()
	if !c.usable() {
		if err := c.connect(); err != nil {
			return err
		}
		diagf("lift servo link reopened")
	}
	if err := c.read(); err != nil {
		return err
	}
	c.health.Clear(Subsystem)
	return nil
}

// Issue latches this cycle's bid and, when stiff, sends the next target.
func (c *Controller) Issue() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var limpErr error
	if c.limpReq {
		c.limpReq, c.stiff = false, false
		c.axis.Reset()
		if c.usable() {
			limpErr = c.servo.Disable()
		}
	}
	if b, ok := c.lock.Latch(); ok {
		c.axis.Apply(b.Value, c.height, c.cfg.Top-c.cfg.Bot)
		c.stiff = true
	}
	if limpErr != nil {
		return c.problem(fmt.Errorf("limp: %w", limpErr))
	}
	if !c.stiff || !c.known || !c.usable() {
		return nil
	}
	sp := c.axis.Step(c.height, c.dt)
	sp = math.Max(c.cfg.Bot, math.Min(c.cfg.Top, sp))
	c.target = c.cfg.Raw(sp)
	if err := c.servo.SetTarget(c.target); err != nil {
		return c.problem(err)
	}
	tracef("height %.2f -> %.2f (raw %d)", c.height, sp, c.target)
	return nil
}

func (c *Controller) inRange(h float64) error {
	if math.IsNaN(h) || h < c.cfg.Bot || h > c.cfg.Top {
		return fmt.Errorf("lift height %.2f outside [%.2f, %.2f]: %w", h, c.cfg.Bot, c.cfg.Top, monitoring.ErrInvalidArgument)
	}
	return nil
}

// Target bids for the stage to reach height inches at rate.
func (c *Controller) Target(height, rate float64, bid int) error {
	if err := c.inRange(height); err != nil {
		return err
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("lift rate %v: %w", rate, monitoring.ErrInvalidArgument)
	}
	return c.lock.Bid(profile.Command{Mode: profile.ModeGoal, Goal: height, Rate: rate}, bid)
}

// Velocity bids a signed speed in inches per second toward the end of
// travel. Zero is a soft stop.
func (c *Controller) Velocity(ips float64, bid int) error {
	if math.IsNaN(ips) || math.IsInf(ips, 0) {
		return fmt.Errorf("lift speed %v: %w", ips, monitoring.ErrInvalidArgument)
	}
	if ips == 0 {
		return c.Stop(bid)
	}
	goal := c.cfg.Top
	if ips < 0 {
		goal = c.cfg.Bot
	}
	std := c.cfg.Limits.Std
	if std <= 0 {
		return fmt.Errorf("lift has no standard speed: %w", monitoring.ErrInvalidArgument)
	}
	return c.lock.Bid(profile.Command{Mode: profile.ModeGoal, Goal: goal, Rate: math.Abs(ips) / std}, bid)
}

// Stop bids a soft stop.
func (c *Controller) Stop(bid int) error {
	return c.lock.Bid(profile.Command{Mode: profile.ModeSoftStop}, bid)
}

// Freeze bids to hold the current height.
func (c *Controller) Freeze(bid int) error {
	return c.lock.Bid(profile.Command{Mode: profile.ModeFreeze}, bid)
}

// Limp releases the servo on the next issue. It is not arbitrated.
func (c *Controller) Limp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limpReq = true
}

// Height returns the last measured height.
func (c *Controller) Height() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Status summarises the lift for debug pages and telemetry.
type Status struct {
	Height   float64 `json:"height"`
	Goal     float64 `json:"goal"`
	Target   uint16  `json:"target_raw"`
	Stiff    bool    `json:"stiff"`
	Frozen   bool    `json:"frozen"`
	Stuck    float64 `json:"stuck"`
	LinkDown bool    `json:"link_down"`
}

// Status returns a snapshot of the lift.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Height:   c.height,
		Goal:     c.axis.Goal(),
		Target:   c.target,
		Stiff:    c.stiff,
		Frozen:   c.axis.Frozen(),
		Stuck:    c.axis.Stuck(),
		LinkDown: !c.usable(),
	}
}
