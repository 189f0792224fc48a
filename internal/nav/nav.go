package nav

import (
	"math"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/body.control/internal/depth"
	"github.com/banshee-data/body.control/internal/occmap"
)

// Params are the robot geometry and steering tunables.
type Params struct {
	Steps     int
	Side      float64
	Fwd       float64
	Back      float64
	Pad       float64
	Edge      float64 // longest clearance worth scanning
	Veer      float64 // degrees a swerve may deviate from the target bearing
	LeadIn    float64 // extra reach past a swerve target
	Free      float64 // > 0 treats every orientation as reachable
	MatW      float64
	MatH      float64
	MatValid  float64 // seconds a doormat cell stays fresh
	Glide     float64 // clearance worth driving into
	OrientMax float64 // larger heading changes turn in place first
	Hem       float64 // forward clearance below which the robot is tight
}

// Evaluator recomputes the fan each cycle and answers steering queries
// from the latest result.
type Evaluator struct {
	p   Params
	fan Fan

	lo, hi int
	mat    float64
}

// New returns an evaluator with every orientation blocked until the first
// ComputePaths.
func New(p Params) *Evaluator {
	if p.Steps <= 0 {
		p.Steps = DefaultSteps
	}
	return &Evaluator{p: p, fan: NewFan(p.Steps)}
}

// Params returns the configuration.
func (e *Evaluator) Params() Params { return e.p }

// Fan returns a copy of the latest fan.
func (e *Evaluator) Fan() Fan {
	return Fan{N: e.fan.N, Clear: append([]float64(nil), e.fan.Clear...)}
}

// SetFan replaces the fan, as when replaying a recorded one, and
// recomputes the reachable range.
func (e *Evaluator) SetFan(f Fan) {
	e.fan = Fan{N: f.N, Clear: append([]float64(nil), f.Clear...)}
	e.reach()
}

// ComputePaths clears the robot footprint on m, then scans every fan
// direction, the reachable range and the doormat.
func (e *Evaluator) ComputePaths(m *occmap.Map) {
	m.ResetFootprint()
	f := e.fan
	for i := range f.Clear {
		f.Clear[i] = e.scan(m, i)
	}
	e.reach()
	e.mat = e.doormat(m)
}

// scan measures entry i of the fan on m.
func (e *Evaluator) scan(m *occmap.Map, i int) float64 {
	g := m.Grid()
	at := m.Placement()
	at.Heading += e.fan.Angle(i)

	front, rear := e.p.Fwd+e.p.Pad, e.p.Back+e.p.Pad
	if _, fwd := e.fan.isForward(i); !fwd {
		front, rear = rear, front
	}
	half := e.p.Side + e.p.Pad
	step := g.IPP

	sin, cos := math.Sincos(at.Heading * math.Pi / 180)
	label := func(bx, by float64) (uint8, bool) {
		ci, cj, ok := g.Cell(at.X+bx*sin+by*cos, at.Y-bx*cos+by*sin)
		if !ok {
			return occmap.Unknown, false
		}
		return m.Label[g.Index(ci, cj)], true
	}

	// The body itself may sit on unseen cells but not on obstacles.
	for by := -rear; by <= front; by += step {
		for bx := -half; bx <= half; bx += step {
			if l, _ := label(bx, by); l == occmap.Fixed || l == occmap.Temp {
				return -1
			}
		}
	}

	limit := front + e.p.Edge
	for by := front; by <= limit; by += step {
		for bx := -half; bx <= half; bx += step {
			if l, ok := label(bx, by); !ok || l != occmap.Floor {
				return math.Max(0, by-front-step/2)
			}
		}
	}
	return e.p.Edge
}

// reach finds the contiguous forward orientations around straight ahead.
func (e *Evaluator) reach() {
	lo, hi := e.fan.Orientations()
	if e.p.Free > 0 {
		e.lo, e.hi = lo, hi
		return
	}
	e.lo, e.hi = 1, 0
	if e.fan.Forward(0) < 0 {
		return
	}
	e.lo, e.hi = 0, 0
	for k := 1; k <= hi && e.fan.Forward(k) >= 0; k++ {
		e.hi = k
	}
	for k := -1; k >= lo && e.fan.Forward(k) >= 0; k-- {
		e.lo = k
	}
}

// Range returns the reachable orientations as heading deviations:
// rt0 ≤ 0 ≤ lf1. ok is false when the robot cannot hold its current
// orientation.
func (e *Evaluator) Range() (rt0, lf1 float64, ok bool) {
	if e.lo > e.hi {
		return 0, 0, false
	}
	return float64(e.lo) * e.fan.Step(), float64(e.hi) * e.fan.Step(), true
}

// Tight reports whether the three forward-most clearances are all below
// the hem.
func (e *Evaluator) Tight() bool {
	return e.fan.Forward(-1) < e.p.Hem && e.fan.Forward(0) < e.p.Hem && e.fan.Forward(1) < e.p.Hem
}

// Doormat is the fraction of fresh cells just ahead of the robot from the
// latest ComputePaths.
func (e *Evaluator) Doormat() float64 { return e.mat }

func (e *Evaluator) doormat(m *occmap.Map) float64 {
	mp := m.Params()
	fresh := occmap.CMax - int(math.Round(e.p.MatValid*mp.Rate/float64(m.CWait())))

	g := m.Grid()
	at := m.Placement()
	y0 := e.p.Fwd + e.p.Pad
	total, ok := 0, 0
	for by := y0 + g.IPP/2; by < y0+e.p.MatH; by += g.IPP {
		for bx := -e.p.MatW/2 + g.IPP/2; bx < e.p.MatW/2; bx += g.IPP {
			total++
			i, j, in := g.Cell(at.ToRaster(bx, by))
			if in && int(m.Conf[g.Index(i, j)]) > fresh {
				ok++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(ok) / float64(total)
}

// Wander picks the orientation closest to straight ahead with at least
// glide clearance. Ties go to the longer clearance, then to the left.
// Large heading changes return trav 0 so the robot turns in place.
func (e *Evaluator) Wander() (trav, head float64) {
	best, found := 0, false
	for k := e.lo; k <= e.hi; k++ {
		c := e.fan.Forward(k)
		if c < e.p.Glide {
			continue
		}
		if !found || better(k, c, best, e.fan.Forward(best)) {
			best, found = k, true
		}
	}
	if !found {
		return 0, e.widest()
	}
	head = float64(best) * e.fan.Step()
	if math.Abs(head) > e.p.OrientMax {
		return 0, head
	}
	return e.fan.Forward(best), head
}

func better(k int, c float64, best int, bc float64) bool {
	ak, ab := abs(k), abs(best)
	switch {
	case ak != ab:
		return ak < ab
	case c != bc:
		return c > bc
	}
	return k > best
}

func abs(k int) int {
	if k < 0 {
		return -k
	}
	return k
}

// widest is the heading of the largest clearance anywhere in the fan.
func (e *Evaluator) widest() float64 {
	bi := 0
	for i, c := range e.fan.Clear {
		if c > e.fan.Clear[bi] {
			bi = i
		}
	}
	return e.fan.Angle(bi)
}

// Swerve steers toward a target dist inches away at heading deviation
// angle, stopping stop inches short. Each reachable orientation is tried
// with its beam capped just past the stopping point, and the one whose end
// lands nearest the target wins. The robot aims straight at the target when
// that path is clear far enough or when the best detour is shorter than
// glide.
func (e *Evaluator) Swerve(dist, angle, stop float64) (trav, head float64) {
	want := dist - stop
	if want <= 0 || math.Abs(angle) > 90 {
		return 0, angle
	}
	direct := e.fan.Forward(e.fan.Nearest(angle))
	if direct >= want {
		return want, angle
	}

	target := polar(dist, angle)
	reach := want + e.p.LeadIn
	best, bestLen, bestErr := 0, -1.0, math.Inf(1)
	for pass := 0; pass < 2 && bestLen < 0; pass++ {
		for k := e.lo; k <= e.hi; k++ {
			c := e.fan.Forward(k)
			theta := float64(k) * e.fan.Step()
			if c < 0 || (pass == 0 && math.Abs(theta-angle) > e.p.Veer) {
				continue
			}
			l := math.Min(c, reach)
			if d := polar(l, theta).Sub(target).Norm(); d < bestErr {
				best, bestLen, bestErr = k, l, d
			}
		}
	}
	if bestLen < e.p.Glide {
		return math.Max(0, math.Min(direct, want)), angle
	}
	return bestLen, float64(best) * e.fan.Step()
}

func polar(r, deg float64) r2.Point {
	s, c := math.Sincos(deg * math.Pi / 180)
	return r2.Point{X: r * c, Y: r * s}
}

// Steer converts a raster offset into distance and heading deviation for a
// robot placed at at.
func Steer(at depth.Placement, x, y float64) (dist, angle float64) {
	bx, by := at.ToBody(x, y)
	return math.Hypot(bx, by), math.Atan2(-bx, by) * 180 / math.Pi
}
