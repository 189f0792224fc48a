package monitor

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/body.control/internal/body"
	"github.com/banshee-data/body.control/internal/depth"
	"github.com/banshee-data/body.control/internal/nav"
	"github.com/banshee-data/body.control/internal/occmap"
	"github.com/banshee-data/body.control/internal/serialport"
)

type fakeSource struct {
	problems string
	fan      nav.Fan
	view     body.MapView
	links    []*serialport.Link
}

func (f *fakeSource) Status() body.Status {
	return body.Status{Frames: 42, Problems: f.problems}
}
func (f *fakeSource) Problems() string             { return f.problems }
func (f *fakeSource) Fan() nav.Fan                 { return f.fan }
func (f *fakeSource) Map() body.MapView            { return f.view }
func (f *fakeSource) SnapshotMap() ([]byte, error) { return []byte{1, 2, 3}, nil }
func (f *fakeSource) Links() []*serialport.Link    { return f.links }

type fakeStore struct {
	reasons []string
	err     error
}

func (s *fakeStore) SaveMapSnapshot(_ context.Context, reason string, blob []byte) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.reasons = append(s.reasons, reason)
	return int64(len(s.reasons)), nil
}

// testView is a 10×10 map at 1 in/px with the robot in the middle, floor
// everywhere and one obstacle cell 3 in ahead.
func testView() body.MapView {
	g := depth.Grid{W: 10, H: 10, IPP: 1}
	v := body.MapView{
		Grid:  g,
		Label: make([]uint8, g.Len()),
		Conf:  make([]uint8, g.Len()),
		At:    depth.Placement{X: 5, Y: 5},
		Trail: []r2.Point{{X: 0, Y: -2}},
	}
	for k := range v.Label {
		v.Label[k], v.Conf[k] = occmap.Floor, occmap.CMax
	}
	// heading 0 looks along raster +x, so 3 in ahead is raster (8.5, 5.5)
	k := g.Index(8, 5)
	v.Label[k] = occmap.Fixed
	return v
}

func testFan() nav.Fan {
	f := nav.NewFan(4)
	f.SetForward(0, 30)
	f.SetForward(1, 20)
	f.SetForward(-1, 10)
	return f
}

func serve(t *testing.T, mux *http.ServeMux, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func newTestMux(src Source, store SnapshotStore) *http.ServeMux {
	mux := http.NewServeMux()
	NewServer(src, store, Footprint{Side: 7, Fwd: 8, Back: 8}).AttachAdminRoutes(mux)
	return mux
}

func TestStatusAndProblems(t *testing.T) {
	t.Parallel()
	src := &fakeSource{fan: testFan(), view: testView()}
	mux := newTestMux(src, nil)

	rec := serve(t, mux, http.MethodGet, "/debug/body")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"frames":42`)

	rec = serve(t, mux, http.MethodGet, "/debug/problems")
	assert.Equal(t, "ok\n", rec.Body.String())

	src.problems = "depth camera, wheels"
	rec = serve(t, mux, http.MethodGet, "/debug/problems")
	assert.Equal(t, "depth camera, wheels\n", rec.Body.String())
}

func TestFanPNG(t *testing.T) {
	t.Parallel()
	mux := newTestMux(&fakeSource{fan: testFan(), view: testView()}, nil)
	rec := serve(t, mux, http.MethodGet, "/debug/fan.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	_, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	assert.NoError(t, err)
}

func TestFanPoint(t *testing.T) {
	t.Parallel()
	ahead := fanPoint(0, 10)
	assert.InDelta(t, 0, ahead.X, 1e-9)
	assert.InDelta(t, 10, ahead.Y, 1e-9)
	left := fanPoint(90, 10)
	assert.InDelta(t, -10, left.X, 1e-9)
	assert.InDelta(t, 0, left.Y, 1e-9)
}

func TestMapSeries(t *testing.T) {
	t.Parallel()
	v := testView()
	series := mapSeries(v, 1)
	assert.Len(t, series[occmap.Floor], 99)
	require.Len(t, series[occmap.Fixed], 1)
	pt := series[occmap.Fixed][0].Value.([]interface{})
	assert.InDelta(t, -0.5, pt[0], 1e-9, "half a cell left of the robot")
	assert.InDelta(t, 3.5, pt[1], 1e-9)

	assert.Len(t, mapSeries(v, 10)[occmap.Floor], 9)
}

func TestMapChart(t *testing.T) {
	t.Parallel()
	mux := newTestMux(&fakeSource{fan: testFan(), view: testView()}, nil)
	rec := serve(t, mux, http.MethodGet, "/debug/map?stride=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Occupancy map")
	assert.Contains(t, rec.Body.String(), "stride 2")
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	mux := newTestMux(&fakeSource{fan: testFan(), view: testView()}, store)

	rec := serve(t, mux, http.MethodGet, "/debug/map-snapshot")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(t, mux, http.MethodPost, "/debug/map-snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"snapshot_id":1`)
	assert.Equal(t, []string{"manual"}, store.reasons)

	store.err = errors.New("disk full")
	rec = serve(t, mux, http.MethodPost, "/debug/map-snapshot")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
