// Package profile generates trapezoidal velocity setpoints for one degree of
// freedom, scalar or vector valued.
package profile

import (
	"math"

	"github.com/golang/geo/r3"
)

// DefaultLead is the servo look-ahead factor applied to each setpoint.
const DefaultLead = 3.0

// Limits are the standard dynamics of one DOF at rate 1.
type Limits struct {
	Std   float64 // cruise speed, units/s
	Accel float64 // units/s²
	Decel float64 // units/s²
	Done  float64 // progress and arrival tolerance; negative marks a cyclic DOF
	RMax  float64 // largest |rate| accepted, default 2
	Lead  float64 // default DefaultLead
	DMax  float64 // optional cap on deceleration per second when the target jumps, 0 = off
	Skid  float64 // distance the mechanism coasts after the servo stops
}

// Cyclic reports whether distances wrap mod 360.
func (l Limits) Cyclic() bool { return l.Done < 0 }

func (l Limits) done() float64 { return math.Abs(l.Done) }

func (l Limits) lead() float64 {
	if l.Lead <= 0 {
		return DefaultLead
	}
	return l.Lead
}

func (l Limits) rmax() float64 {
	if l.RMax <= 0 {
		return 2
	}
	return l.RMax
}

// Profile is the state of one DOF. The zero value is not usable; call New.
type Profile struct {
	lim Limits

	goal  r3.Vector
	rate  float64
	vel   r3.Vector
	armed bool

	start     r3.Vector
	needStart bool
	best      float64
	moved     float64
	stuck     float64

	frozen   bool
	iced     bool
	icedGoal r3.Vector
}

// New returns an idle profile that freezes on its first step.
func New(lim Limits) *Profile {
	return &Profile{lim: lim, frozen: true, best: math.Inf(1), needStart: true}
}

// Limits returns the configured dynamics.
func (p *Profile) Limits() Limits { return p.lim }

// Goal is the active target; while frozen it is the latched hold pose.
func (p *Profile) Goal() r3.Vector {
	if p.frozen && p.iced {
		return p.icedGoal
	}
	return p.goal
}

// Rate is the requested rate; 0 while frozen.
func (p *Profile) Rate() float64 {
	if p.frozen {
		return 0
	}
	return p.rate
}

// Velocity is the current profiled velocity.
func (p *Profile) Velocity() r3.Vector { return p.vel }

// Speed is |Velocity()|.
func (p *Profile) Speed() float64 { return p.vel.Norm() }

// Stuck is the time in seconds without progress toward the current goal.
func (p *Profile) Stuck() float64 { return p.stuck }

// Start is where the current goal was first pursued from.
func (p *Profile) Start() r3.Vector { return p.start }

// Frozen reports whether the profile holds a latched pose.
func (p *Profile) Frozen() bool { return p.frozen }

// SetGoal aims at goal with the given rate. A rate of 0 freezes. Repeating
// the same goal keeps progress tracking; a new goal restarts it.
func (p *Profile) SetGoal(goal r3.Vector, rate float64) {
	if rate == 0 {
		p.Freeze()
		return
	}
	rate = math.Max(-p.lim.rmax(), math.Min(p.lim.rmax(), rate))
	if p.frozen {
		p.frozen = false
		p.restart()
		if p.iced {
			p.start, p.needStart = p.icedGoal, false
		}
		p.iced = false
	} else if !p.armed || goal != p.goal {
		p.restart()
	}
	p.goal, p.rate, p.armed = goal, rate, true
}

// Freeze holds the pose seen on the next step until a new goal arrives.
func (p *Profile) Freeze() {
	if !p.frozen {
		p.frozen = true
		p.iced = false
	}
}

// Reset drops all state and freezes again.
func (p *Profile) Reset() {
	*p = *New(p.lim)
}

func (p *Profile) restart() {
	p.best = math.Inf(1)
	p.moved = 0
	p.stuck = 0
	p.needStart = true
}

func (p *Profile) delta(from, to r3.Vector) r3.Vector {
	d := to.Sub(from)
	if p.lim.Cyclic() {
		d.X = wrap180(d.X)
	}
	return d
}

// Step advances the profile by dt seconds from the measured position pos
// and returns the next setpoint.
func (p *Profile) Step(pos r3.Vector, dt float64) r3.Vector {
	if p.frozen {
		return p.hold(pos, dt)
	}
	if p.needStart {
		p.start, p.needStart = pos, false
	}

	delta := p.delta(pos, p.goal)
	d := delta.Norm()
	var dir r3.Vector
	if d > 0 {
		dir = delta.Mul(1 / d)
	}

	a, dec := p.lim.Accel, p.lim.Decel
	if p.rate > 0 {
		a *= p.rate * p.rate
		dec *= p.rate * p.rate
	}

	vmax := math.Abs(p.rate) * p.lim.Std
	vstop := math.Sqrt(2 * dec * d)
	lim := math.Min(vmax, vstop)

	v := p.vel.Dot(dir)
	switch {
	case d == 0:
		v = 0
	case v < 0:
		v = math.Min(0, v+dec*dt)
	case v < lim:
		v = math.Min(lim, v+a*dt)
	case p.lim.DMax > 0:
		v = math.Max(lim, v-p.lim.DMax*dt)
	default:
		v = lim
	}
	p.vel = dir.Mul(v)
	p.track(d, math.Abs(v)*dt, dt)

	step := math.Min(v*dt*p.lim.lead(), d)
	return pos.Add(dir.Mul(step))
}

// hold latches the first frozen position and servos back toward it at no
// more than the standard speed.
func (p *Profile) hold(pos r3.Vector, dt float64) r3.Vector {
	if !p.iced {
		p.iced, p.icedGoal = true, pos
	}
	p.vel = r3.Vector{}
	p.stuck = 0
	delta := p.delta(pos, p.icedGoal)
	if lim := p.lim.Std * dt * p.lim.lead(); lim > 0 && delta.Norm() > lim {
		delta = delta.Normalize().Mul(lim)
	}
	return pos.Add(delta)
}

func (p *Profile) track(d, moved, dt float64) {
	done := p.lim.done()
	switch {
	case math.IsInf(p.best, 1) || d <= p.best-done:
		p.best, p.moved, p.stuck = d, 0, 0
	case d <= done:
		p.stuck = 0
	default:
		p.moved += moved
		if p.moved >= 2*done {
			p.stuck += dt
		}
	}
}

// SoftStop retargets the profile so it coasts to a halt at its current
// deceleration and returns the new goal.
func (p *Profile) SoftStop(pos r3.Vector) r3.Vector {
	v := p.vel.Norm()
	rate := p.rate
	if p.frozen || rate == 0 {
		rate = 1
	}
	dec := p.lim.Decel
	if rate > 0 {
		dec *= rate * rate
	}
	goal := pos
	if v > 0 && dec > 0 {
		dist := math.Max(0, v*v/(2*dec)-p.lim.Skid)
		goal = pos.Add(p.vel.Mul(dist / v))
	}
	vel := p.vel
	p.SetGoal(goal, rate)
	p.vel = vel
	return goal
}

// Arrived reports whether pos is within tolerance of the goal.
func (p *Profile) Arrived(pos r3.Vector) bool {
	return p.delta(pos, p.Goal()).Norm() <= p.lim.done()
}

func wrap180(a float64) float64 {
	a = math.Mod(a, 360)
	if a > 180 {
		a -= 360
	} else if a <= -180 {
		a += 360
	}
	return a
}
