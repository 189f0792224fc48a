package depth

import (
	"math"

	"github.com/golang/geo/r3"
)

// Scan labels. They share values with the occupancy map labels.
const (
	LabelNone     uint8 = 0
	LabelFloor    uint8 = 50
	LabelMiss     uint8 = 128
	LabelObstacle uint8 = 255
)

// Params configures a Projector.
type Params struct {
	Camera   Camera
	ZHi      float64 // returns higher than this pass over the robot
	ZLo      float64 // heights are clipped to this floor
	Bump     float64 // largest floor deviation still driveable
	DropPels int
	HolePels int
}

// Stats counts what happened to the pixels of one frame.
type Stats struct {
	Pixels       int `json:"pixels"`
	Returns      int `json:"returns"`
	AboveCeiling int `json:"above_ceiling"`
	BelowFloor   int `json:"below_floor"`
	OffMap       int `json:"off_map"`
	FitSamples   int `json:"fit_samples"`
	Dropped      int `json:"dropped"`
	Filled       int `json:"filled"`
}

// Scan is one frame projected onto the map grid.
type Scan struct {
	Grid   Grid
	Label  []uint8
	Height []float64 // NaN where nothing returned
	Plane  Plane
	Stats  Stats
}

// Projector turns depth frames into labelled scans. It keeps no state
// between frames.
type Projector struct {
	p Params
}

// NewProjector returns a projector for the given calibration.
func NewProjector(p Params) *Projector {
	return &Projector{p: p}
}

// Params returns the calibration in use.
func (pr *Projector) Params() Params { return pr.p }

// Project labels every grid cell from img taken with the robot at at.
// Cells the camera could see but that got no return are LabelMiss; cells
// outside the view or hidden behind an obstacle are LabelNone.
func (pr *Projector) Project(img *Image, g Grid, at Placement) *Scan {
	s := &Scan{
		Grid:   g,
		Label:  make([]uint8, g.Len()),
		Height: make([]float64, g.Len()),
	}
	for k := range s.Height {
		s.Height[k] = math.NaN()
	}
	cam := pr.p.Camera
	for v := 0; v < img.H; v++ {
		for u := 0; u < img.W; u++ {
			raw := img.At(u, v)
			if raw == 0 {
				continue
			}
			s.Stats.Pixels++
			z := float64(raw) * cam.Scaling
			if cam.MaxRange > 0 && z > cam.MaxRange {
				continue
			}
			p := cam.Point(u, v, img.W, img.H, z)
			if p.Z > pr.p.ZHi {
				s.Stats.AboveCeiling++
				continue
			}
			h := p.Z
			if h < pr.p.ZLo {
				s.Stats.BelowFloor++
				h = pr.p.ZLo
			}
			x, y := at.ToRaster(p.X, p.Y)
			i, j, ok := g.Cell(x, y)
			if !ok {
				s.Stats.OffMap++
				continue
			}
			k := g.Index(i, j)
			if math.IsNaN(s.Height[k]) {
				s.Stats.Returns++
				s.Height[k] = h
			} else {
				s.Height[k] = math.Max(s.Height[k], h)
			}
		}
	}

	pr.sweep(s, img, at)
	pr.classify(s)
	s.Stats.Dropped, s.Stats.Filled = Cleanup(s.Label, g, pr.p.DropPels, pr.p.HolePels)
	return s
}

// sweep visits every floor cell inside the camera's view and looks up the
// pixel it projects to. Cells the splat pass missed take that pixel's
// height when its return lands on the cell; a nearer return means the cell
// is occluded and stays unlabelled, while no return or a farther one marks
// the cell as seen with nothing there.
func (pr *Projector) sweep(s *Scan, img *Image, at Placement) {
	g := s.Grid
	cam := pr.p.Camera
	reach := cam.MaxRange + math.Hypot(cam.Mount.X, cam.Mount.Y)
	i0, j0, _ := g.Cell(at.X-reach, at.Y-reach)
	i1, j1, _ := g.Cell(at.X+reach, at.Y+reach)
	i0, j0 = max(i0, 0), max(j0, 0)
	i1, j1 = min(i1, g.W-1), min(j1, g.H-1)
	for j := j0; j <= j1; j++ {
		for i := i0; i <= i1; i++ {
			x, y := g.Center(i, j)
			bx, by := at.ToBody(x, y)
			u, v, zc, ok := cam.Pixel(r3.Vector{X: bx, Y: by}, img.W, img.H)
			if !ok {
				continue
			}
			k := g.Index(i, j)
			if !math.IsNaN(s.Height[k]) {
				continue
			}
			raw := img.At(u, v)
			if raw == 0 {
				s.Label[k] = LabelMiss
				continue
			}
			z := float64(raw) * cam.Scaling
			tol := 2*g.IPP + 0.02*zc
			switch {
			case z < zc-tol:
				// occluded
			case z > zc+tol:
				s.Label[k] = LabelMiss
			default:
				h := math.Max(cam.Point(u, v, img.W, img.H, z).Z, pr.p.ZLo)
				s.Height[k] = h
				s.Stats.Returns++
			}
		}
	}
}

// classify fits the floor and labels every cell with a return.
func (pr *Projector) classify(s *Scan) {
	g := s.Grid
	var xs, ys, zs []float64
	for k, h := range s.Height {
		if math.IsNaN(h) {
			continue
		}
		x, y := g.Center(k%g.W, k/g.W)
		xs, ys, zs = append(xs, x), append(ys, y), append(zs, h)
	}
	s.Plane, s.Stats.FitSamples = FitFloor(xs, ys, zs, 4*pr.p.Bump)

	for k, h := range s.Height {
		if math.IsNaN(h) {
			continue
		}
		x, y := g.Center(k%g.W, k/g.W)
		if math.Abs(h-s.Plane.Z(x, y)) <= pr.p.Bump {
			s.Label[k] = LabelFloor
		} else {
			s.Label[k] = LabelObstacle
		}
	}
}
