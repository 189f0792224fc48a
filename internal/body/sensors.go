package body

import (
	"github.com/golang/geo/r2"

	"github.com/banshee-data/body.control/internal/arbiter"
	"github.com/banshee-data/body.control/internal/base"
	"github.com/banshee-data/body.control/internal/cycle"
	"github.com/banshee-data/body.control/internal/depth"
	"github.com/banshee-data/body.control/internal/lift"
	"github.com/banshee-data/body.control/internal/nav"
	"github.com/banshee-data/body.control/internal/odometry"
	"github.com/banshee-data/body.control/internal/serialport"
)

// Pose is the odometry estimate after the last cycle.
func (b *Body) Pose() odometry.Pose { return b.base.Pose() }

// Trav is the signed path length in inches.
func (b *Body) Trav() float64 { return b.base.Pose().Trav }

// Heading is the wrapped heading in degrees.
func (b *Body) Heading() float64 { return b.base.Pose().Heading }

// Windup is the unwrapped heading that TurnTarget aims at.
func (b *Body) Windup() float64 { return b.base.Pose().Windup }

func (b *Body) LiftHeight() float64 { return b.lift.Height() }

func (b *Body) BatteryPercent() float64 { return b.base.BatteryPercent() }

// MapView is a copy of the occupancy rasters and the robot's place on them.
type MapView struct {
	Grid  depth.Grid
	Label []uint8
	Conf  []uint8
	At    depth.Placement
	Trail []r2.Point
}

// Map copies the occupancy rasters, waiting for any running cycle stage
// to release them.
func (b *Body) Map() MapView {
	var v MapView
	b.read(func() {
		v = MapView{
			Grid:  b.mp.Grid(),
			Label: append([]uint8(nil), b.mp.Label...),
			Conf:  append([]uint8(nil), b.mp.Conf...),
			At:    b.mp.Placement(),
			Trail: b.mp.Trail(),
		}
	})
	return v
}

// SnapshotMap serialises the map for storage.
func (b *Body) SnapshotMap() ([]byte, error) {
	var (
		blob []byte
		err  error
	)
	b.read(func() { blob, err = b.mp.Snapshot() })
	return blob, err
}

// Fan returns the clearances computed in the last cycle.
func (b *Body) Fan() nav.Fan {
	var f nav.Fan
	b.read(func() { f = b.eval.Fan() })
	return f
}

// Tight reports whether the robot is hemmed in straight ahead.
func (b *Body) Tight() bool {
	var t bool
	b.read(func() { t = b.eval.Tight() })
	return t
}

// Range is the span of headings the robot can turn through in place.
func (b *Body) Range() (rt0, lf1 float64, ok bool) {
	b.read(func() { rt0, lf1, ok = b.eval.Range() })
	return
}

func (b *Body) Doormat() float64 {
	var d float64
	b.read(func() { d = b.eval.Doormat() })
	return d
}

// Wander suggests a travel and heading change toward open floor.
func (b *Body) Wander() (trav, head float64) {
	b.read(func() { trav, head = b.eval.Wander() })
	return
}

// Swerve suggests a travel and heading change toward a target dist inches
// away at angle degrees off the current heading, stopping stop inches short.
func (b *Body) Swerve(dist, angle, stop float64) (trav, head float64) {
	b.read(func() { trav, head = b.eval.Swerve(dist, angle, stop) })
	return
}

// Steer converts a point in the odometry frame into a distance and heading
// change from the current pose.
func (b *Body) Steer(x, y float64) (dist, angle float64) {
	p := b.base.Pose()
	return nav.Steer(depth.Placement{X: p.X, Y: p.Y, Heading: p.Heading}, x, y)
}

// DepthStats describes the last frame folded into the map.
func (b *Body) DepthStats() depth.Stats {
	var s depth.Stats
	b.read(func() { s = b.stats })
	return s
}

// Links are the serial connections, for admin pages.
func (b *Body) Links() []*serialport.Link { return b.dev.Links }

// Status aggregates every component for debug pages.
type Status struct {
	Base      base.Status       `json:"base"`
	Lift      lift.Status       `json:"lift"`
	Cycle     cycle.Status      `json:"cycle"`
	Locks     []arbiter.Status  `json:"locks"`
	Depth     depth.Stats       `json:"depth"`
	Frames    uint64            `json:"frames"`
	BadFrames uint64            `json:"bad_frames"`
	Tight     bool              `json:"tight"`
	Problems  string            `json:"problems,omitempty"`
	Counters  map[string]uint64 `json:"counters"`
	Fatal     string            `json:"fatal,omitempty"`
}

// Status never blocks on a running cycle; perception fields are left zero
// when a stage holds the map.
func (b *Body) Status() Status {
	s := Status{
		Base:      b.base.Status(),
		Lift:      b.lift.Status(),
		Locks:     b.board.Statuses(),
		Frames:    b.frames.Load(),
		BadFrames: b.badFrames.Load(),
		Problems:  b.health.Problems(),
		Counters:  b.counters.Snapshot(),
	}
	b.mu.Lock()
	eng, fatal := b.engine, b.fatal
	b.mu.Unlock()
	if fatal != nil {
		s.Fatal = fatal.Error()
	}
	if eng == nil {
		return s
	}
	s.Cycle = eng.Status()
	if eng.Readable() {
		s.Depth, s.Tight = b.stats, b.eval.Tight()
		eng.ReadDone()
	}
	return s
}
