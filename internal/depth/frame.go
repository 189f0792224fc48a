package depth

import (
	"math"

	"github.com/golang/geo/r3"
)

// Grid describes a raster of square cells. Cell (i, j) covers raster
// coordinates [i·IPP, (i+1)·IPP) × [j·IPP, (j+1)·IPP) in inches.
type Grid struct {
	W, H int
	IPP  float64
}

// Len is the number of cells.
func (g Grid) Len() int { return g.W * g.H }

// Cell returns the cell holding raster point (x, y).
func (g Grid) Cell(x, y float64) (i, j int, ok bool) {
	i = int(math.Floor(x / g.IPP))
	j = int(math.Floor(y / g.IPP))
	return i, j, i >= 0 && j >= 0 && i < g.W && j < g.H
}

// Center returns the raster coordinates of the middle of cell (i, j).
func (g Grid) Center(i, j int) (x, y float64) {
	return (float64(i) + 0.5) * g.IPP, (float64(j) + 0.5) * g.IPP
}

// Index is the offset of cell (i, j) in a row-major raster.
func (g Grid) Index(i, j int) int { return j*g.W + i }

// Placement locates the robot body in the raster: the body origin sits at
// raster point (X, Y) and the body's forward axis points along Heading
// degrees, measured counter-clockwise from raster +x.
type Placement struct {
	X, Y    float64
	Heading float64
}

func (p Placement) sincos() (s, c float64) {
	return math.Sincos(p.Heading * math.Pi / 180)
}

// ToRaster maps a body-frame point (x right, y forward) to raster inches.
func (p Placement) ToRaster(bx, by float64) (x, y float64) {
	s, c := p.sincos()
	return p.X + bx*s + by*c, p.Y - bx*c + by*s
}

// ToBody maps raster inches to the body frame.
func (p Placement) ToBody(x, y float64) (bx, by float64) {
	s, c := p.sincos()
	dx, dy := x-p.X, y-p.Y
	return dx*s - dy*c, dx*c + dy*s
}

// Camera is the depth sensor model: a pinhole with its optical centre at
// the image centre, mounted on the body with a downward tilt.
type Camera struct {
	Focal    float64 // pixels
	Scaling  float64 // inches per raw unit
	HFOV     float64 // degrees
	MaxRange float64 // inches along the optical axis
	Mount    r3.Vector
	Tilt     float64 // degrees, negative looks down
}

// basis returns the camera right, down and forward axes in the body frame
// (x right, y forward, z up).
func (c Camera) basis() (right, down, fwd r3.Vector) {
	s, co := math.Sincos(c.Tilt * math.Pi / 180)
	right = r3.Vector{X: 1}
	fwd = r3.Vector{Y: co, Z: s}
	down = r3.Vector{Y: s, Z: -co}
	return right, down, fwd
}

// Ray returns the body-frame direction through the centre of pixel (u, v)
// of a w×h image, scaled so its optical-axis component is 1.
func (c Camera) Ray(u, v, w, h int) r3.Vector {
	right, down, fwd := c.basis()
	x := (float64(u) + 0.5 - float64(w)/2) / c.Focal
	y := (float64(v) + 0.5 - float64(h)/2) / c.Focal
	return right.Mul(x).Add(down.Mul(y)).Add(fwd)
}

// Point reconstructs the body-frame point seen at pixel (u, v) with optical
// depth z inches.
func (c Camera) Point(u, v, w, h int, z float64) r3.Vector {
	return c.Mount.Add(c.Ray(u, v, w, h).Mul(z))
}

// Pixel projects a body-frame point into a w×h image. It reports false for
// points behind the camera, outside the image or beyond MaxRange.
func (c Camera) Pixel(p r3.Vector, w, h int) (u, v int, z float64, ok bool) {
	right, down, fwd := c.basis()
	d := p.Sub(c.Mount)
	z = d.Dot(fwd)
	if z <= 0 || (c.MaxRange > 0 && z > c.MaxRange) {
		return 0, 0, z, false
	}
	fu := c.Focal*d.Dot(right)/z + float64(w)/2
	fv := c.Focal*d.Dot(down)/z + float64(h)/2
	if half := c.HFOV / 2; half > 0 {
		if bearing := math.Atan2(d.Dot(right), z) * 180 / math.Pi; math.Abs(bearing) > half {
			return 0, 0, z, false
		}
	}
	if fu < 0 || fv < 0 || fu >= float64(w) || fv >= float64(h) {
		return 0, 0, z, false
	}
	return int(fu), int(fv), z, true
}
