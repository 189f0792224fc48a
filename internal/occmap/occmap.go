// Package occmap maintains the local occupancy map around the robot: two
// parallel rasters of labels and confidences that fade over time, follow
// the robot by integer shifts and absorb each depth scan.
package occmap

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/body.control/internal/depth"
)

// Cell labels.
const (
	Unknown uint8 = 0
	Floor   uint8 = 50
	Miss    uint8 = 128
	Temp    uint8 = 200
	Fixed   uint8 = 255
)

// CMax is the confidence of a fresh observation.
const CMax = 250

// DefaultTrailMax bounds the remembered path.
const DefaultTrailMax = 300

// footprintWiggle is the extra orientation, in degrees, at which the robot
// footprint is cleared on either side of the current heading.
const footprintWiggle = 5.0

// Params sizes the map and sets its fade rates.
type Params struct {
	IPP       float64 // inches per pixel
	Edge      float64 // half-width of the raster, inches
	Rate      float64 // cycles per second
	Fade      float64 // seconds for a fresh cell to fade to unknown
	TempDecay float64 // seconds for a temporary obstacle to fade
	Side      float64 // robot half-width
	Fwd       float64 // robot front extent
	Back      float64 // robot rear extent
	Pad       float64 // clearance margin
	TrailMax  int
}

// Motion is the ego-motion of one cycle.
type Motion struct {
	DX, DY         float64 // raster-frame translation, inches
	LocalX, LocalY float64 // the same translation in the previous body frame
	DTheta         float64 // rotation, degrees counter-clockwise
	Heading        float64 // heading after the motion
}

// Map is the pair of rasters plus the robot's continuous position on them.
// It is owned by the cycle's perception goroutine.
type Map struct {
	p    Params
	grid depth.Grid

	Label []uint8
	Conf  []uint8

	rx, ry  float64
	heading float64

	cwait int
	ctmp  uint8
	tick  int

	trail   []r2.Point
	scratch []uint8
	shifts  int
}

// New allocates a cleared map with the robot at its centre.
func New(p Params) *Map {
	if p.TrailMax <= 0 {
		p.TrailMax = DefaultTrailMax
	}
	n := 2 * int(math.Ceil(p.Edge/p.IPP))
	m := &Map{
		p:       p,
		grid:    depth.Grid{W: n, H: n, IPP: p.IPP},
		Label:   make([]uint8, n*n),
		Conf:    make([]uint8, n*n),
		scratch: make([]uint8, n*n),
	}
	m.cwait = max(1, int(math.Round(p.Fade*p.Rate/CMax)))
	if p.Fade > 0 {
		m.ctmp = uint8(min(CMax, max(1, math.Round(CMax*p.TempDecay/p.Fade))))
	} else {
		m.ctmp = CMax
	}
	m.rx, m.ry = m.Center()
	return m
}

// Params returns the configuration.
func (m *Map) Params() Params { return m.p }

// Grid describes the raster geometry.
func (m *Map) Grid() depth.Grid { return m.grid }

// CWait is the number of cycles between confidence decrements.
func (m *Map) CWait() int { return m.cwait }

// CTmp is the confidence given to temporary obstacles.
func (m *Map) CTmp() uint8 { return m.ctmp }

// Center is the raster point the robot is kept near.
func (m *Map) Center() (x, y float64) {
	return float64(m.grid.W) * m.p.IPP / 2, float64(m.grid.H) * m.p.IPP / 2
}

// Residual is the robot's offset from Center; both parts stay below one
// pixel.
func (m *Map) Residual() (dx, dy float64) {
	cx, cy := m.Center()
	return m.rx - cx, m.ry - cy
}

// Placement locates the robot on the raster for projection.
func (m *Map) Placement() depth.Placement {
	return depth.Placement{X: m.rx, Y: m.ry, Heading: m.heading}
}

// Heading is the robot heading the map was last told about.
func (m *Map) Heading() float64 { return m.heading }

// SetHeading updates the heading without moving the robot.
func (m *Map) SetHeading(h float64) { m.heading = h }

// Shifts counts integer raster shifts since creation.
func (m *Map) Shifts() int { return m.shifts }

// Clear forgets everything and recentres the robot.
func (m *Map) Clear() {
	clear(m.Label)
	clear(m.Conf)
	m.trail = m.trail[:0]
	m.tick = 0
	m.rx, m.ry = m.Center()
}

// Decay advances the fade clock by one cycle. Every CWait cycles each
// confidence drops by one; cells reaching zero become unknown.
func (m *Map) Decay() {
	m.tick++
	if m.tick%m.cwait != 0 {
		return
	}
	for k, c := range m.Conf {
		switch {
		case c > 1:
			m.Conf[k] = c - 1
		case c == 1:
			m.Conf[k] = 0
			m.Label[k] = Unknown
		}
	}
}

// Shift moves the robot by mo. The trail is carried into the new body
// frame, then both rasters shift by whole pixels so the robot stays
// within a pixel of the centre. It returns the pixel shift applied.
func (m *Map) Shift(mo Motion) (di, dj int) {
	m.moveTrail(mo)
	m.heading = mo.Heading

	m.rx += mo.DX
	m.ry += mo.DY
	dx, dy := m.Residual()
	di = int(math.Round(dx / m.p.IPP))
	dj = int(math.Round(dy / m.p.IPP))
	if di == 0 && dj == 0 {
		return 0, 0
	}
	shiftRaster(m.Label, m.scratch, m.grid.W, m.grid.H, di, dj)
	shiftRaster(m.Conf, m.scratch, m.grid.W, m.grid.H, di, dj)
	m.rx -= float64(di) * m.p.IPP
	m.ry -= float64(dj) * m.p.IPP
	m.shifts++
	return di, dj
}

// shiftRaster moves content so that new(i, j) = old(i+di, j+dj), filling
// uncovered cells with zero.
func shiftRaster(buf, scratch []uint8, w, h, di, dj int) {
	clear(scratch)
	for j := 0; j < h; j++ {
		sj := j + dj
		if sj < 0 || sj >= h {
			continue
		}
		i0, i1 := max(0, -di), min(w, w-di)
		if i0 >= i1 {
			continue
		}
		copy(scratch[j*w+i0:j*w+i1], buf[sj*w+i0+di:sj*w+i1+di])
	}
	copy(buf, scratch)
}

// Mix folds a scan into the map. Floor always wins; obstacles seen on
// floor become temporary and fade faster; nothing seen over unknown
// territory is remembered as a miss.
func (m *Map) Mix(s *depth.Scan) error {
	if s.Grid.W != m.grid.W || s.Grid.H != m.grid.H {
		return fmt.Errorf("scan %dx%d does not match map %dx%d", s.Grid.W, s.Grid.H, m.grid.W, m.grid.H)
	}
	for k, nl := range s.Label {
		ol := m.Label[k]
		switch nl {
		case depth.LabelFloor:
			m.Label[k], m.Conf[k] = Floor, CMax
		case depth.LabelObstacle:
			switch ol {
			case Temp, Floor:
				m.Label[k], m.Conf[k] = Temp, m.ctmp
			default:
				m.Label[k], m.Conf[k] = Fixed, CMax
			}
		case depth.LabelMiss:
			switch ol {
			case Unknown, Miss:
				m.Label[k], m.Conf[k] = Miss, CMax
			}
		}
	}
	return nil
}

// ResetFootprint marks the padded robot body as fresh floor at the current
// heading and slightly to either side of it.
func (m *Map) ResetFootprint() {
	side := m.p.Side + m.p.Pad
	fwd := m.p.Fwd + m.p.Pad
	back := m.p.Back + m.p.Pad
	reach := math.Hypot(side, math.Max(fwd, back)) + m.p.IPP

	g := m.grid
	i0, j0, _ := g.Cell(m.rx-reach, m.ry-reach)
	i1, j1, _ := g.Cell(m.rx+reach, m.ry+reach)
	i0, j0 = max(i0, 0), max(j0, 0)
	i1, j1 = min(i1, g.W-1), min(j1, g.H-1)

	for _, dh := range []float64{0, -footprintWiggle, footprintWiggle} {
		at := depth.Placement{X: m.rx, Y: m.ry, Heading: m.heading + dh}
		for j := j0; j <= j1; j++ {
			for i := i0; i <= i1; i++ {
				bx, by := at.ToBody(g.Center(i, j))
				if bx >= -side && bx <= side && by >= -back && by <= fwd {
					k := g.Index(i, j)
					m.Label[k], m.Conf[k] = Floor, CMax
				}
			}
		}
	}
}

// InFootprint reports whether a raster cell lies under the padded body at
// the current heading.
func (m *Map) InFootprint(i, j int) bool {
	at := m.Placement()
	bx, by := at.ToBody(m.grid.Center(i, j))
	return bx >= -(m.p.Side+m.p.Pad) && bx <= m.p.Side+m.p.Pad &&
		by >= -(m.p.Back+m.p.Pad) && by <= m.p.Fwd+m.p.Pad
}

// cellAt finds the cell at raster offset (dx, dy) from the robot.
func (m *Map) cellAt(dx, dy float64) (int, bool) {
	i, j, ok := m.grid.Cell(m.rx+dx, m.ry+dy)
	if !ok {
		return 0, false
	}
	return m.grid.Index(i, j), true
}

// At returns the cell at raster offset (dx, dy) inches from the robot.
func (m *Map) At(dx, dy float64) (label, conf uint8, ok bool) {
	k, ok := m.cellAt(dx, dy)
	if !ok {
		return Unknown, 0, false
	}
	return m.Label[k], m.Conf[k], true
}

// Set writes the cell at raster offset (dx, dy) from the robot. A zero
// confidence forces the label to unknown.
func (m *Map) Set(dx, dy float64, label, conf uint8) bool {
	k, ok := m.cellAt(dx, dy)
	if !ok {
		return false
	}
	if conf == 0 {
		label = Unknown
	}
	m.Label[k], m.Conf[k] = label, min(conf, CMax)
	return true
}

// Check verifies the raster invariants.
func (m *Map) Check() error {
	for k, c := range m.Conf {
		if c > CMax {
			return fmt.Errorf("cell %d: conf %d above %d", k, c, CMax)
		}
		if c == 0 && m.Label[k] != Unknown {
			return fmt.Errorf("cell %d: label %d with zero conf", k, m.Label[k])
		}
	}
	return nil
}

// Counts tallies cells by label.
func (m *Map) Counts() map[uint8]int {
	out := make(map[uint8]int, 5)
	for _, l := range m.Label {
		out[l]++
	}
	return out
}
