package monitor

import (
	"fmt"
	"image/color"
	"math"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/body.control/internal/nav"
)

// fanPoint places a clearance in the body frame, x right and y forward.
func fanPoint(deg, dist float64) plotter.XY {
	s, c := math.Sincos(deg * math.Pi / 180)
	return plotter.XY{X: -dist * s, Y: dist * c}
}

// FanPlot draws every fan entry as a ray from the robot, with the robot
// outline for scale. Blocked orientations are marked at the origin.
func FanPlot(f nav.Fan, geom Footprint) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Clearance fan (%d orientations)", f.N)
	p.X.Label.Text = "right (in)"
	p.Y.Label.Text = "forward (in)"

	ends := make(plotter.XYs, 0, len(f.Clear)+1)
	var blocked plotter.XYs
	for i, c := range f.Clear {
		if c < 0 {
			blocked = append(blocked, fanPoint(f.Angle(i), 0))
			continue
		}
		ends = append(ends, fanPoint(f.Angle(i), c))
	}
	if len(ends) > 0 {
		ends = append(ends, ends[0])
		line, err := plotter.NewLine(ends)
		if err != nil {
			return nil, err
		}
		line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add("clear", line)

		pts, err := plotter.NewScatter(ends[:len(ends)-1])
		if err != nil {
			return nil, err
		}
		pts.GlyphStyle.Color = line.Color
		p.Add(pts)
	}
	if len(blocked) > 0 {
		sc, err := plotter.NewScatter(blocked)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add("blocked", sc)
	}

	outline, err := plotter.NewLine(plotter.XYs{
		{X: -geom.Side, Y: -geom.Back}, {X: geom.Side, Y: -geom.Back},
		{X: geom.Side, Y: geom.Fwd}, {X: -geom.Side, Y: geom.Fwd},
		{X: -geom.Side, Y: -geom.Back},
	})
	if err != nil {
		return nil, err
	}
	outline.Color = color.Gray{Y: 96}
	p.Add(outline)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func (s *Server) handleFanPNG(w http.ResponseWriter, r *http.Request) {
	p, err := FanPlot(s.src.Fan(), s.geom)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = wt.WriteTo(w)
}
