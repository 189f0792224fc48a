package depth

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Plane is z = A·x + B·y + C in raster inches. The zero Plane is the
// assumed floor z = 0.
type Plane struct {
	A, B, C float64
	OK      bool
}

// Z evaluates the plane at (x, y).
func (p Plane) Z(x, y float64) float64 { return p.A*x + p.B*y + p.C }

// minSigma keeps the band from collapsing onto a perfectly flat synthetic
// floor.
const minSigma = 0.05

// FitFloor fits a plane to samples near the assumed floor. Samples whose
// height lies within band of zero are kept, narrowed to mean ± 2σ, then
// solved by least squares. It reports the plane and how many samples it used.
func FitFloor(xs, ys, zs []float64, band float64) (Plane, int) {
	var cx, cy, cz []float64
	for k, z := range zs {
		if math.Abs(z) <= band {
			cx = append(cx, xs[k])
			cy = append(cy, ys[k])
			cz = append(cz, z)
		}
	}
	if len(cz) < 3 {
		return Plane{}, len(cz)
	}

	mean, sd := stat.MeanStdDev(cz, nil)
	sd = math.Max(sd, minSigma)
	var fx, fy, fz []float64
	for k, z := range cz {
		if math.Abs(z-mean) <= 2*sd {
			fx = append(fx, cx[k])
			fy = append(fy, cy[k])
			fz = append(fz, z)
		}
	}
	n := len(fz)
	if n < 3 {
		return Plane{}, n
	}

	a := mat.NewDense(n, 3, nil)
	for k := 0; k < n; k++ {
		a.Set(k, 0, fx[k])
		a.Set(k, 1, fy[k])
		a.Set(k, 2, 1)
	}
	var sol mat.VecDense
	if err := sol.SolveVec(a, mat.NewVecDense(n, fz)); err != nil {
		// Degenerate layouts (all samples on a line) fall back to a level
		// plane at the band mean.
		return Plane{C: stat.Mean(fz, nil), OK: true}, n
	}
	return Plane{A: sol.AtVec(0), B: sol.AtVec(1), C: sol.AtVec(2), OK: true}, n
}
