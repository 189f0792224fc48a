package sim

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/body.control/internal/depth"
)

// Box is an axis-aligned obstacle standing on the floor, in world inches.
type Box struct {
	X0, Y0, X1, Y1 float64
	Top            float64
}

// World is a flat floor at z = 0 with boxes on it.
type World struct {
	Boxes []Box
}

// Room returns a square room of the given inner size centred on the
// origin, with walls of height 30.
func Room(size float64) World {
	h, t := size/2, 4.0
	return World{Boxes: []Box{
		{X0: -h - t, Y0: -h - t, X1: h + t, Y1: -h, Top: 30},
		{X0: -h - t, Y0: h, X1: h + t, Y1: h + t, Top: 30},
		{X0: -h - t, Y0: -h, X1: -h, Y1: h, Top: 30},
		{X0: h, Y0: -h, X1: h + t, Y1: h, Top: 30},
	}}
}

// hit returns the ray parameter of the first intersection of o + t·d with
// the floor or a box, or +Inf.
func (w World) hit(o, d r3.Vector) float64 {
	best := math.Inf(1)
	if d.Z < 0 {
		best = -o.Z / d.Z
	}
	for _, b := range w.Boxes {
		if t, ok := slab(o, d, b); ok && t < best {
			best = t
		}
	}
	return best
}

// slab intersects a ray with a box using the slab method.
func slab(o, d r3.Vector, b Box) (float64, bool) {
	lo := r3.Vector{X: b.X0, Y: b.Y0, Z: 0}
	hi := r3.Vector{X: b.X1, Y: b.Y1, Z: b.Top}
	tmin, tmax := 0.0, math.Inf(1)
	for _, ax := range [3][4]float64{
		{o.X, d.X, lo.X, hi.X},
		{o.Y, d.Y, lo.Y, hi.Y},
		{o.Z, d.Z, lo.Z, hi.Z},
	} {
		org, dir, a, c := ax[0], ax[1], ax[2], ax[3]
		if dir == 0 {
			if org < a || org > c {
				return 0, false
			}
			continue
		}
		t0, t1 := (a-org)/dir, (c-org)/dir
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tmin = math.Max(tmin, t0)
		tmax = math.Min(tmax, t1)
		if tmin > tmax {
			return 0, false
		}
	}
	return tmin, true
}

// DepthCamera renders frames of a World from a robot pose.
type DepthCamera struct {
	Camera depth.Camera
	W, H   int
}

// Render ray-casts one frame with the robot body at world pose at.
func (c DepthCamera) Render(w World, at depth.Placement) *depth.Image {
	img := depth.NewImage(c.W, c.H)
	ox, oy := at.ToRaster(c.Camera.Mount.X, c.Camera.Mount.Y)
	origin := r3.Vector{X: ox, Y: oy, Z: c.Camera.Mount.Z}
	heading := depth.Placement{Heading: at.Heading}
	for v := 0; v < c.H; v++ {
		for u := 0; u < c.W; u++ {
			ray := c.Camera.Ray(u, v, c.W, c.H)
			dx, dy := heading.ToRaster(ray.X, ray.Y)
			t := w.hit(origin, r3.Vector{X: dx, Y: dy, Z: ray.Z})
			if math.IsInf(t, 1) || (c.Camera.MaxRange > 0 && t > c.Camera.MaxRange) {
				continue
			}
			raw := math.Round(t / c.Camera.Scaling)
			if raw > math.MaxUint16 {
				continue
			}
			img.Set(u, v, uint16(raw))
		}
	}
	return img
}
