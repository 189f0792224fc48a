// Package odometry integrates wheel encoder counts into a planar pose.
package odometry

import (
	"math"
)

// Geometry is the wheel calibration.
type Geometry struct {
	WheelDiameter   float64 // inches
	WheelSeparation float64 // inches
	PulsesPerRev    float64
	MaxRPM          float64
}

// MaxWheelIPS is the fastest a wheel surface can move.
func (g Geometry) MaxWheelIPS() float64 {
	return g.MaxRPM * math.Pi * g.WheelDiameter / 60
}

// InchesPerPulse converts counts to wheel travel.
func (g Geometry) InchesPerPulse() float64 {
	return math.Pi * g.WheelDiameter / g.PulsesPerRev
}

// Pose is the integrated position. Heading is reported in (-180, 180] and
// always equals Windup mod 360.
type Pose struct {
	X, Y    float64 // inches, map-local frame
	Heading float64 // degrees
	Trav    float64 // signed path length, inches
	Windup  float64 // unwrapped heading, degrees
}

// Step is the motion of one accepted update.
type Step struct {
	DM     float64 // arc length, inches
	DR     float64 // rotation, degrees
	LocalX float64 // sideways offset in the previous robot frame, inches right
	LocalY float64 // forward offset in the previous robot frame, inches
	DX, DY float64 // global increments
	DT     float64 // seconds
}

// Decode8 returns the signed count change between two raw readings using an
// 8-bit window: any change in [-128, 127] is recovered exactly.
func Decode8(now, prev uint32) int {
	return int(int8(uint8(now - prev)))
}

// Decode32 returns the signed count change using the full counter width.
func Decode32(now, prev uint32) int {
	return int(int32(now - prev))
}

// NormDeg wraps an angle into (-180, 180].
func NormDeg(a float64) float64 {
	a = math.Mod(a, 360)
	if a > 180 {
		a -= 360
	} else if a <= -180 {
		a += 360
	}
	return a
}

// Tracker turns successive encoder readings into a pose and speed estimate.
// It is owned by the cycle's primary goroutine.
type Tracker struct {
	geom    Geometry
	alpha   float64
	nominal float64

	pose    Pose
	primed  bool
	lastL   uint32
	lastR   uint32
	last    Step
	moveIPS float64
	turnDPS float64
	parked  int

	aliases  int
	glitches int
}

// NewTracker returns a tracker with the given geometry.
func NewTracker(g Geometry) *Tracker {
	return &Tracker{geom: g, alpha: 0.5}
}

// SetNominalPeriod floors the elapsed time used by the glitch check, so a
// late reading after a short lap is not rejected.
func (t *Tracker) SetNominalPeriod(sec float64) { t.nominal = sec }

// Geometry returns the calibration in use.
func (t *Tracker) Geometry() Geometry { return t.geom }

// Reset zeroes the pose and forgets the previous reading.
func (t *Tracker) Reset() {
	*t = Tracker{geom: t.geom, alpha: t.alpha, nominal: t.nominal}
}

// Reprime forgets the previous reading but keeps the pose, so the next
// Update after a reconnect only primes.
func (t *Tracker) Reprime() { t.primed = false }

// Pose returns the integrated pose.
func (t *Tracker) Pose() Pose { return t.pose }

// Last returns the motion accepted on the most recent update.
func (t *Tracker) Last() Step { return t.last }

// MoveIPS and TurnDPS are the smoothed speeds.
func (t *Tracker) MoveIPS() float64 { return t.moveIPS }
func (t *Tracker) TurnDPS() float64 { return t.turnDPS }

// Parked counts consecutive updates with negligible motion.
func (t *Tracker) Parked() int { return t.parked }

// Aliases counts updates where the 8-bit window disagreed with the full
// counter difference; Glitches counts rejected implausible readings.
func (t *Tracker) Aliases() int  { return t.aliases }
func (t *Tracker) Glitches() int { return t.glitches }

// Update integrates raw counts read dt seconds after the previous reading.
// The first call only primes the tracker. It returns false when the reading
// was rejected because it implies wheel travel beyond MaxWheelIPS.
func (t *Tracker) Update(left, right uint32, dt float64) bool {
	if !t.primed {
		t.lastL, t.lastR, t.primed = left, right, true
		t.last = Step{DT: dt}
		return true
	}

	dl, dr := Decode8(left, t.lastL), Decode8(right, t.lastR)
	if fl, fr := Decode32(left, t.lastL), Decode32(right, t.lastR); fl != dl || fr != dr {
		t.aliases++
		dl, dr = fl, fr
	}

	ipp := t.geom.InchesPerPulse()
	dm := ipp * float64(dl+dr) / 2
	if limit := t.geom.MaxWheelIPS() * math.Max(dt, t.nominal); limit > 0 && (math.Abs(ipp*float64(dl)) > limit || math.Abs(ipp*float64(dr)) > limit) {
		t.glitches++
		t.lastL, t.lastR = left, right
		t.last = Step{DT: dt}
		return false
	}
	t.lastL, t.lastR = left, right
	t.apply(dl, dr, dm, dt)
	return true
}

// Slip integrates count deltas directly, as when a simulated wheel slips.
func (t *Tracker) Slip(dl, dr int, dt float64) {
	ipp := t.geom.InchesPerPulse()
	t.apply(dl, dr, ipp*float64(dl+dr)/2, dt)
}

func (t *Tracker) apply(dl, dr int, dm, dt float64) {
	deg := 180 / math.Pi
	rot := deg * t.geom.InchesPerPulse() * float64(dr-dl) / t.geom.WheelSeparation

	half := (rot / 2) / deg
	head := t.pose.Heading / deg
	s := Step{
		DM:     dm,
		DR:     rot,
		LocalX: dm * math.Sin(half),
		LocalY: dm * math.Cos(half),
		DX:     dm * math.Cos(head+half),
		DY:     dm * math.Sin(head+half),
		DT:     dt,
	}
	t.last = s

	t.pose.X += s.DX
	t.pose.Y += s.DY
	t.pose.Trav += dm
	t.pose.Windup += rot
	t.pose.Heading = NormDeg(t.pose.Windup)

	if dt > 0 {
		im, it := dm/dt, rot/dt
		t.moveIPS = t.alpha*im + (1-t.alpha)*t.moveIPS
		t.turnDPS = t.alpha*it + (1-t.alpha)*t.turnDPS
		if math.Abs(im) < 1 && math.Abs(it) < 2 {
			t.parked++
		} else {
			t.parked = 0
		}
	}
}
