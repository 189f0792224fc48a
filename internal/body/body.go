// Package body is the in-process interface to the robot body. It owns the
// wheel base, the lift stage, depth perception, the local occupancy map and
// path evaluation, and drives them all from one cycle engine.
//
// A client loop looks like
//
//	for {
//		if _, err := b.UpdateBody(body.UpdateRequest{Images: true}); err != nil { ... }
//		// read sensors, post bids
//		if err := b.IssueBody(); err != nil { ... }
//	}
//
// Bids posted between UpdateBody and IssueBody take effect in the next cycle.
package body

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/body.control/internal/arbiter"
	"github.com/banshee-data/body.control/internal/base"
	"github.com/banshee-data/body.control/internal/cycle"
	"github.com/banshee-data/body.control/internal/depth"
	"github.com/banshee-data/body.control/internal/lift"
	"github.com/banshee-data/body.control/internal/monitoring"
	"github.com/banshee-data/body.control/internal/nav"
	"github.com/banshee-data/body.control/internal/occmap"
	"github.com/banshee-data/body.control/internal/odometry"
	"github.com/banshee-data/body.control/internal/telemetry"
	"github.com/banshee-data/body.control/internal/timeutil"
)

// Camera is the subsystem name used for depth frame problems.
const Camera = "depth camera"

// CalVmax names the stored full-charge battery voltage.
const CalVmax = "vmax_observed"

// badFrameLimit is the run of failed frames after which the camera is
// reported as a problem.
const badFrameLimit = 5

// Reflex priorities.
const (
	attnBid  = 1
	guardBid = 90
)

var errNotReset = fmt.Errorf("body not reset: %w", cycle.ErrStopped)

// Recorder receives telemetry from the cycle. Calls come from the cycle
// goroutines and must not block.
type Recorder interface {
	RecordCycle(s telemetry.CycleSample)
	SaveCalibration(name string, value float64)
	Calibration(name string) (float64, bool)
}

// Options are the collaborators of a Body. Nil fields get defaults.
type Options struct {
	Clock    timeutil.Clock
	Recorder Recorder
	Counters *monitoring.Counters
	Health   *monitoring.Health
}

// UpdateRequest carries the client's per-cycle inputs. They apply to the
// cycle started by the following IssueBody.
type UpdateRequest struct {
	Voice  bool // the client is speaking; the attention light follows it
	Images bool // fold depth frames into the map
}

// UpdateResult describes the cycle that just finished.
type UpdateResult struct {
	Cycle     uint64
	BadFrames uint64
}

// Body wires every component to the cycle engine.
type Body struct {
	cfg      Config
	dev      Devices
	clock    timeutil.Clock
	rec      Recorder
	counters *monitoring.Counters
	health   *monitoring.Health
	board    *arbiter.Board
	base     *base.Controller
	lift     *lift.Controller

	// Perception state. Written only by the cycle goroutines under the
	// engine's shared lock.
	mp       *occmap.Map
	eval     *nav.Evaluator
	frame    *depth.Image
	scan     *depth.Scan
	stats    depth.Stats
	mapped   bool
	lastPose odometry.Pose
	cycles   uint64

	// Frame acquisition. Owned by the primary goroutine, outside the lock.
	next     *depth.Image
	lastTick time.Time
	badRun   int

	voice     atomic.Bool
	images    atomic.Bool
	frames    atomic.Uint64
	badFrames atomic.Uint64

	mu     sync.Mutex
	engine *cycle.Engine
	cancel context.CancelFunc
	fatal  error
}

// New assembles a body; call ResetBody to connect and start cycling.
func New(cfg Config, dev Devices, opts Options) *Body {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Counters == nil {
		opts.Counters = &monitoring.Counters{}
	}
	if opts.Health == nil {
		opts.Health = &monitoring.Health{}
	}
	board := arbiter.NewBoard()
	return &Body{
		cfg:      cfg,
		dev:      dev,
		clock:    opts.Clock,
		rec:      opts.Recorder,
		counters: opts.Counters,
		health:   opts.Health,
		board:    board,
		base: base.New(cfg.Base, dev.Base, base.Options{
			Board: board, Counters: opts.Counters, Health: opts.Health, Clock: opts.Clock,
		}),
		lift: lift.New(cfg.Lift, dev.Lift, lift.Options{
			Board: board, Counters: opts.Counters, Health: opts.Health, Clock: opts.Clock,
		}),
		mp:   occmap.New(cfg.Map),
		eval: nav.New(cfg.Nav),
	}
}

// ResetBody stops any running cycle, reconnects the hardware, clears the
// map and starts cycling. A wheel base that cannot be reset is fatal until
// the next successful ResetBody; a missing lift is retried every cycle.
func (b *Body) ResetBody(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	b.fatal = nil
	b.health.Clear(cycle.Subsystem)

	if b.rec != nil {
		if v, ok := b.rec.Calibration(CalVmax); ok {
			b.base.SetVmax(v)
		}
	}
	if err := b.base.Reset(); err != nil {
		b.fatal = fmt.Errorf("%w: wheel base reset: %w", monitoring.ErrFatal, err)
		opsf("%v", b.fatal)
		return b.fatal
	}
	if err := b.lift.Reset(); err != nil {
		opsf("lift reset: %v", err)
	}

	b.board.Clear()
	b.mp.Clear()
	b.lastPose = b.base.Pose()
	b.mp.SetHeading(b.lastPose.Heading)
	b.eval = nav.New(b.cfg.Nav)
	b.frame, b.next, b.scan, b.stats, b.mapped = nil, nil, nil, depth.Stats{}, false
	b.lastTick, b.badRun, b.cycles = time.Time{}, 0, 0
	b.voice.Store(false)
	b.images.Store(true)
	b.badFrames.Store(0)

	opts := b.cfg.Cycle
	opts.Clock, opts.Counters, opts.Health = b.clock, b.counters, b.health
	run, cancel := context.WithCancel(ctx)
	eng := cycle.New(b.hooks(run), opts)
	if err := eng.Start(run); err != nil {
		cancel()
		return err
	}
	b.engine, b.cancel = eng, cancel
	st := b.base.Status()
	diagf("reset: %s controller %q polarity %d, lift at %.2f in", st.Dialect, st.Version, st.Polarity, b.lift.Height())
	return nil
}

func (b *Body) stopLocked() {
	if b.engine == nil {
		return
	}
	if err := b.engine.Stop(); err != nil {
		opsf("stopping cycle: %v", err)
	}
	b.cancel()
	b.engine, b.cancel = nil, nil
}

func (b *Body) hooks(ctx context.Context) cycle.Hooks {
	return cycle.Hooks{
		Issue: func() error {
			b.reflexes()
			err := errors.Join(b.base.Issue(), b.lift.Issue())
			return errors.Join(err, b.grab(ctx))
		},
		Update: func() error {
			b.frame, b.next = b.next, nil
			err := errors.Join(b.base.Update(), b.lift.Update())
			b.follow()
			b.cycles++
			return err
		},
		Interpret:  b.record,
		Interpret2: b.project,
		Join:       b.join,
		Fatal:      b.limpAll,
	}
}

// grab waits for the next depth frame, or for the cycle period when the
// body has no camera. It runs before the shared lock is taken, so clients
// can read while the camera is slow.
func (b *Body) grab(ctx context.Context) error {
	b.next = nil
	if b.dev.Frames == nil {
		b.pace()
		return nil
	}
	img, err := b.dev.Frames.Next(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil && img == nil {
		err = errors.New("empty frame")
	}
	if err != nil {
		b.badFrames.Add(1)
		b.counters.Add(Camera, "bad_frame", 1)
		if b.badRun++; b.badRun >= badFrameLimit {
			b.health.Fail(Camera, err.Error())
		}
		return fmt.Errorf("depth frame: %w", err)
	}
	b.badRun = 0
	b.health.Clear(Camera)
	b.frames.Add(1)
	if b.images.Load() {
		b.next = img
	}
	return nil
}

func (b *Body) pace() {
	now := b.clock.Now()
	if !b.lastTick.IsZero() {
		if d := b.cfg.Base.Period - now.Sub(b.lastTick); d > 0 {
			b.clock.Sleep(d)
		}
	}
	b.lastTick = b.clock.Now()
}

// follow moves the map by the odometry change since the last cycle and
// ages it by one cycle.
func (b *Body) follow() {
	p := b.base.Pose()
	dx, dy := p.X-b.lastPose.X, p.Y-b.lastPose.Y
	prev := depth.Placement{Heading: b.lastPose.Heading}
	lx, ly := prev.ToBody(dx, dy)
	b.mp.Shift(occmap.Motion{
		DX: dx, DY: dy,
		LocalX: lx, LocalY: ly,
		DTheta:  p.Windup - b.lastPose.Windup,
		Heading: p.Heading,
	})
	b.mp.Decay()
	b.lastPose = p
}

// record runs beside projection: telemetry and battery calibration only.
func (b *Body) record() error {
	if b.rec == nil {
		return nil
	}
	if v, dirty := b.base.Vmax(); dirty {
		b.rec.SaveCalibration(CalVmax, v)
	}
	p := b.lastPose
	b.rec.RecordCycle(telemetry.CycleSample{
		Cycle:   b.cycles,
		At:      b.clock.Now(),
		Trav:    p.Trav,
		Windup:  p.Windup,
		X:       p.X,
		Y:       p.Y,
		Heading: p.Heading,
		Lift:    b.lift.Height(),
		Battery: b.base.BatteryPercent(),
		Errors:  b.counters.Total(base.Subsystem) + b.counters.Total(lift.Subsystem),
	})
	return nil
}

// project turns the frame into a scan with the camera raised by the lift.
func (b *Body) project() error {
	b.scan = nil
	if b.frame == nil {
		return nil
	}
	p := b.cfg.Depth
	p.Camera.Mount.Z += b.lift.Height() - b.cfg.Lift.Bot
	b.scan = depth.NewProjector(p).Project(b.frame, b.mp.Grid(), b.mp.Placement())
	return nil
}

func (b *Body) join() error {
	var err error
	if b.scan != nil {
		if err = b.mp.Mix(b.scan); err == nil {
			b.stats = b.scan.Stats
			b.mapped = true
		}
	}
	b.eval.ComputePaths(b.mp)
	return err
}

// reflexes post the body's own low-level bids before the actuators latch.
func (b *Body) reflexes() {
	_ = b.base.AttnLED(b.voice.Load(), attnBid)
	if b.blocked() {
		if err := b.base.MoveFreeze(guardBid); err == nil {
			diagf("forward guard: %.1f in clear ahead", b.eval.Fan().Forward(0))
		}
	}
}

// blocked reports whether the base is driving forward into less than half
// the hem of clearance.
func (b *Body) blocked() bool {
	if !b.mapped {
		return false
	}
	f := b.eval.Fan()
	if f.Forward(0) >= b.cfg.Nav.Hem/2 {
		return false
	}
	goal, _ := b.base.Goals()
	return goal-b.base.Pose().Trav > b.cfg.Base.Move.Done
}

func (b *Body) limpAll(err error) {
	b.base.Limp()
	b.lift.Limp()
	if e := errors.Join(b.base.Issue(), b.lift.Issue()); e != nil {
		opsf("limp after %v: %v", err, e)
		return
	}
	opsf("limp after %v", err)
}

func (b *Body) running() (*cycle.Engine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fatal != nil {
		return nil, b.fatal
	}
	if b.engine == nil {
		return nil, errNotReset
	}
	return b.engine, nil
}

// UpdateBody waits for the running cycle to finish. The request applies to
// the next cycle.
func (b *Body) UpdateBody(req UpdateRequest) (UpdateResult, error) {
	eng, err := b.running()
	if err != nil {
		return UpdateResult{}, err
	}
	err = eng.Update(0)
	b.voice.Store(req.Voice)
	b.images.Store(req.Images)
	return UpdateResult{Cycle: eng.Cycles(), BadFrames: b.badFrames.Load()}, err
}

// IssueBody starts the next cycle.
func (b *Body) IssueBody() error {
	eng, err := b.running()
	if err != nil {
		return err
	}
	return eng.Issue()
}

// Accepting reports whether bids posted now are guaranteed to take effect
// in the next cycle.
func (b *Body) Accepting() bool {
	eng, err := b.running()
	return err == nil && eng.Accepting()
}

// Readable takes the perception read lock when no cycle stage holds it; a
// true result must be paired with ReadDone.
func (b *Body) Readable() bool {
	eng, err := b.running()
	return err == nil && eng.Readable()
}

func (b *Body) ReadDone() {
	b.mu.Lock()
	eng := b.engine
	b.mu.Unlock()
	if eng != nil {
		eng.ReadDone()
	}
}

// read runs fn under the perception read lock.
func (b *Body) read(fn func()) {
	b.mu.Lock()
	eng := b.engine
	b.mu.Unlock()
	if eng == nil {
		fn()
		return
	}
	eng.Read(fn)
}

// Close stops cycling, releases the actuators and closes the device links.
func (b *Body) Close() error {
	b.mu.Lock()
	b.stopLocked()
	b.mu.Unlock()
	return errors.Join(b.base.Close(), b.lift.Close())
}

// Problems lists the failing subsystems, e.g. "depth camera, wheels", or ""
// when everything is healthy.
func (b *Body) Problems() string { return b.health.Problems() }

// Counters returns every recovered error count keyed "subsystem.kind".
func (b *Body) Counters() map[string]uint64 { return b.counters.Snapshot() }

// Health exposes the problems registry.
func (b *Body) Health() *monitoring.Health { return b.health }
