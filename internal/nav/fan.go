// Package nav evaluates the occupancy map around the robot: clearance along
// a fan of headings, and the steering policies built on it.
package nav

import "math"

// DefaultSteps is the number of orientations spanning ±90°.
const DefaultSteps = 12

// Fan holds travel clearances in 2N directions. Entry i is the distance the
// robot can travel along heading deviation i·180/N. Entries for the N
// forward orientations (−90° up to but excluding +90°) are driven forwards,
// the others are the same orientations driven in reverse. A negative entry
// means the robot cannot occupy that orientation.
type Fan struct {
	N     int
	Clear []float64
}

// NewFan returns a fan of 2n entries, all blocked.
func NewFan(n int) Fan {
	f := Fan{N: n, Clear: make([]float64, 2*n)}
	for i := range f.Clear {
		f.Clear[i] = -1
	}
	return f
}

// Step is the angular spacing in degrees.
func (f Fan) Step() float64 { return 180 / float64(f.N) }

func (f Fan) index(k int) int {
	n := 2 * f.N
	return ((k % n) + n) % n
}

// Angle is the heading deviation of entry i, in (−180, 180].
func (f Fan) Angle(i int) float64 {
	a := float64(f.index(i)) * f.Step()
	if a > 180 {
		a -= 360
	}
	return a
}

// Forward is the clearance driving forwards at orientation k.
func (f Fan) Forward(k int) float64 { return f.Clear[f.index(k)] }

// Reverse is the clearance backing up at orientation k.
func (f Fan) Reverse(k int) float64 { return f.Clear[f.index(k+f.N)] }

// SetForward and SetReverse fill the entries for orientation k.
func (f Fan) SetForward(k int, c float64) { f.Clear[f.index(k)] = c }
func (f Fan) SetReverse(k int, c float64) { f.Clear[f.index(k+f.N)] = c }

// Orientations returns the forward orientation range, −N/2 … N/2−1.
func (f Fan) Orientations() (lo, hi int) { return -f.N / 2, f.N/2 - 1 }

// isForward reports whether entry i is a forward orientation and returns
// that orientation.
func (f Fan) isForward(i int) (int, bool) {
	i = f.index(i)
	lo, hi := f.Orientations()
	switch {
	case i <= hi:
		return i, true
	case i-2*f.N >= lo:
		return i - 2*f.N, true
	}
	return i - f.N, false
}

// Nearest returns the orientation whose angle is closest to deg, limited to
// the forward range.
func (f Fan) Nearest(deg float64) int {
	lo, hi := f.Orientations()
	k := int(math.Round(deg / f.Step()))
	return max(lo, min(hi, k))
}
