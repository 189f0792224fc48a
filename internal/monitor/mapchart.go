package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/body.control/internal/body"
	"github.com/banshee-data/body.control/internal/occmap"
)

// mapSeries buckets the known cells of v by label, in body-frame inches,
// keeping every stride-th cell of each bucket.
func mapSeries(v body.MapView, stride int) map[uint8][]opts.ScatterData {
	if stride < 1 {
		stride = 1
	}
	out := make(map[uint8][]opts.ScatterData)
	seen := make(map[uint8]int)
	for j := 0; j < v.Grid.H; j++ {
		for i := 0; i < v.Grid.W; i++ {
			k := v.Grid.Index(i, j)
			l := v.Label[k]
			if l == occmap.Unknown || v.Conf[k] == 0 {
				continue
			}
			if seen[l]++; seen[l]%stride != 0 {
				continue
			}
			bx, by := v.At.ToBody(v.Grid.Center(i, j))
			out[l] = append(out[l], opts.ScatterData{Value: []interface{}{bx, by, int(v.Conf[k])}})
		}
	}
	return out
}

// MapChart renders the occupancy map as an HTML scatter chart.
func MapChart(v body.MapView, stride int) (*charts.Scatter, int) {
	series := mapSeries(v, stride)
	half := math.Max(float64(v.Grid.W), float64(v.Grid.H)) * v.Grid.IPP / 2

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Occupancy map", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Occupancy map", Subtitle: fmt.Sprintf("%dx%d @ %g in/px, stride %d", v.Grid.W, v.Grid.H, v.Grid.IPP, stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -half, Max: half, Name: "right (in)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -half, Max: half, Name: "forward (in)", NameLocation: "middle", NameGap: 30}),
	)

	total := 0
	for _, s := range []struct {
		label uint8
		name  string
		color string
	}{
		{occmap.Floor, "floor", "#35b779"},
		{occmap.Miss, "missing", "#3e4989"},
		{occmap.Temp, "temporary", "#fde725"},
		{occmap.Fixed, "obstacle", "#d62728"},
	} {
		data := series[s.label]
		total += len(data)
		scatter.AddSeries(s.name, data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: s.color}))
	}

	trail := make([]opts.ScatterData, 0, len(v.Trail)+1)
	for _, p := range v.Trail {
		trail = append(trail, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
	}
	trail = append(trail, opts.ScatterData{Value: []interface{}{0.0, 0.0}})
	scatter.AddSeries("trail", trail,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ffffff"}))
	return scatter, total
}

func (s *Server) handleMapChart(w http.ResponseWriter, r *http.Request) {
	stride := 1
	if v := r.URL.Query().Get("stride"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 64 {
			stride = n
		}
	}
	scatter, _ := MapChart(s.src.Map(), stride)

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
