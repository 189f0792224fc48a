package occmap

import (
	"math"

	"github.com/golang/geo/r2"
)

// Trail returns the remembered path in the current body frame (x right,
// y forward), oldest first.
func (m *Map) Trail() []r2.Point {
	return append([]r2.Point(nil), m.trail...)
}

func rotate(p r2.Point, deg float64) r2.Point {
	s, c := math.Sincos(deg * math.Pi / 180)
	return r2.Point{X: p.X*c - p.Y*s, Y: p.X*s + p.Y*c}
}

// moveTrail re-expresses the trail in the body frame after mo and records
// the previous origin once the robot has moved at least a pixel from the
// last recorded point.
func (m *Map) moveTrail(mo Motion) {
	d := r2.Point{X: mo.LocalX, Y: mo.LocalY}
	for k, p := range m.trail {
		m.trail[k] = rotate(p.Sub(d), -mo.DTheta)
	}
	prev := rotate(r2.Point{}.Sub(d), -mo.DTheta)
	if n := len(m.trail); n > 0 && m.trail[n-1].Sub(prev).Norm() < m.p.IPP {
		return
	}
	if d.Norm() == 0 && len(m.trail) > 0 {
		return
	}
	m.trail = append(m.trail, prev)
	if over := len(m.trail) - m.p.TrailMax; over > 0 {
		m.trail = append(m.trail[:0], m.trail[over:]...)
	}
}
