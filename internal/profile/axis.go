package profile

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Mode says how a Command drives an axis.
type Mode int

const (
	ModeGoal     Mode = iota // absolute goal at a rate
	ModeVelocity             // signed speed toward a far goal
	ModeSoftStop             // coast to a halt at the current deceleration
	ModeFreeze               // hold the position seen on the next step
)

// Command is one cycle's instruction for an axis.
type Command struct {
	Mode Mode
	Goal float64 // absolute goal, or signed speed in ModeVelocity
	Rate float64
}

func (c Command) String() string {
	switch c.Mode {
	case ModeVelocity:
		return fmt.Sprintf("vel %.2f", c.Goal)
	case ModeSoftStop:
		return "stop"
	case ModeFreeze:
		return "freeze"
	}
	return fmt.Sprintf("goal %.2f @%.2f", c.Goal, c.Rate)
}

// Axis is a scalar Profile.
type Axis struct {
	p   *Profile
	vel float64 // speed of the active velocity command, 0 if none
}

// NewAxis returns a scalar profile. Limits.Done < 0 makes it cyclic.
func NewAxis(lim Limits) *Axis { return &Axis{p: New(lim)} }

func vec(x float64) r3.Vector { return r3.Vector{X: x} }

func (a *Axis) SetGoal(goal, rate float64) {
	a.vel = 0
	a.p.SetGoal(vec(goal), rate)
}

func (a *Axis) Freeze() {
	a.vel = 0
	a.p.Freeze()
}

func (a *Axis) Reset() {
	a.vel = 0
	a.p.Reset()
}

func (a *Axis) SoftStop(pos float64) float64 {
	a.vel = 0
	return a.p.SoftStop(vec(pos)).X
}

func (a *Axis) Step(pos, dt float64) float64 { return a.p.Step(vec(pos), dt).X }
func (a *Axis) Arrived(pos float64) bool      { return a.p.Arrived(vec(pos)) }
func (a *Axis) Goal() float64                 { return a.p.Goal().X }
func (a *Axis) Start() float64                { return a.p.Start().X }
func (a *Axis) Rate() float64                 { return a.p.Rate() }
func (a *Axis) Velocity() float64             { return a.p.Velocity().X }
func (a *Axis) Stuck() float64                { return a.p.Stuck() }
func (a *Axis) Frozen() bool                  { return a.p.Frozen() }
func (a *Axis) Limits() Limits                { return a.p.Limits() }

// Cruising reports whether a velocity command is steering the axis.
func (a *Axis) Cruising() bool { return a.vel != 0 }

// Apply carries out cmd from position pos. A velocity command aims far
// units ahead at |speed|/Std and keeps that goal while the same speed is
// repeated.
func (a *Axis) Apply(cmd Command, pos, far float64) {
	switch cmd.Mode {
	case ModeGoal:
		a.SetGoal(cmd.Goal, cmd.Rate)
	case ModeVelocity:
		if cmd.Goal == 0 {
			a.SoftStop(pos)
			return
		}
		if cmd.Goal == a.vel && !a.p.Frozen() {
			return
		}
		std := a.p.Limits().Std
		if std <= 0 {
			return
		}
		a.SetGoal(pos+math.Copysign(far, cmd.Goal), math.Abs(cmd.Goal)/std)
		a.vel = cmd.Goal
	case ModeSoftStop:
		a.SoftStop(pos)
	case ModeFreeze:
		a.Freeze()
	}
}

// Drive steps the profile from pos and returns the speed that closes the
// gap to the setpoint over the servo look-ahead; zero once arrived.
func (a *Axis) Drive(pos, dt float64) float64 {
	sp := a.Step(pos, dt)
	if a.Arrived(pos) || dt <= 0 {
		return 0
	}
	return (sp - pos) / (a.p.Limits().lead() * dt)
}
