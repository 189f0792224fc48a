package nav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/body.control/internal/depth"
	"github.com/banshee-data/body.control/internal/occmap"
)

func testParams() Params {
	return Params{
		Steps: 12, Side: 7, Fwd: 8, Back: 8, Pad: 1, Edge: 72,
		Veer: 45, LeadIn: 6, MatW: 14, MatH: 12, MatValid: 3,
		Glide: 12, OrientMax: 60, Hem: 6,
	}
}

func testMap() *occmap.Map {
	m := occmap.New(occmap.Params{
		IPP: 0.5, Edge: 72, Rate: 30, Fade: 30, TempDecay: 5,
		Side: 7, Fwd: 8, Back: 8, Pad: 1,
	})
	for k := range m.Label {
		m.Label[k], m.Conf[k] = occmap.Floor, occmap.CMax
	}
	return m
}

// fanWith builds a fan whose forward entries are given by orientation.
func fanWith(fwd map[int]float64) Fan {
	f := NewFan(12)
	lo, hi := f.Orientations()
	for k := lo; k <= hi; k++ {
		f.SetForward(k, 0)
		f.SetReverse(k, 0)
	}
	for k, c := range fwd {
		f.SetForward(k, c)
	}
	return f
}

func TestFan_Layout(t *testing.T) {
	t.Parallel()
	f := NewFan(12)
	assert.Equal(t, 15.0, f.Step())
	assert.Equal(t, 0.0, f.Angle(0))
	assert.Equal(t, 90.0, f.Angle(6))
	assert.Equal(t, 180.0, f.Angle(12))
	assert.Equal(t, -90.0, f.Angle(18))
	assert.Equal(t, -15.0, f.Angle(23))

	f.SetForward(-1, 3)
	f.SetReverse(0, 9)
	assert.Equal(t, 3.0, f.Clear[23])
	assert.Equal(t, 9.0, f.Clear[12])

	k, fwd := f.isForward(18)
	assert.True(t, fwd)
	assert.Equal(t, -6, k)
	k, fwd = f.isForward(6)
	assert.False(t, fwd)
	assert.Equal(t, -6, k)

	assert.Equal(t, 5, f.Nearest(170))
	assert.Equal(t, -2, f.Nearest(-31))
}

func TestTight(t *testing.T) {
	t.Parallel()
	e := New(testParams())
	e.SetFan(fanWith(map[int]float64{-1: 3, 0: 4, 1: 5, 2: 40}))
	assert.True(t, e.Tight())

	e.SetFan(fanWith(map[int]float64{-1: 3, 0: 6, 1: 5}))
	assert.False(t, e.Tight())
}

func TestRange(t *testing.T) {
	t.Parallel()
	f := fanWith(map[int]float64{2: -1, -4: -1})
	e := New(testParams())
	e.SetFan(f)
	rt0, lf1, ok := e.Range()
	require.True(t, ok)
	assert.Equal(t, -45.0, rt0)
	assert.Equal(t, 15.0, lf1)

	f.SetForward(0, -1)
	e.SetFan(f)
	_, _, ok = e.Range()
	assert.False(t, ok)

	p := testParams()
	p.Free = 1
	e = New(p)
	e.SetFan(f)
	rt0, lf1, ok = e.Range()
	require.True(t, ok)
	assert.Equal(t, -90.0, rt0)
	assert.Equal(t, 75.0, lf1)
}

func TestWander(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		fwd  map[int]float64
		trav float64
		head float64
	}{
		{"straight", map[int]float64{0: 30, 1: 50}, 30, 0},
		{"tie goes left", map[int]float64{0: 5, 1: 20, -1: 20}, 20, 15},
		{"tie goes longer", map[int]float64{0: 5, 1: 20, -1: 25}, 25, -15},
		{"sharp turn first", map[int]float64{0: 1, 1: 1, 2: 1, 3: 1, 4: 1, 5: 40}, 0, 75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := New(testParams())
			e.SetFan(fanWith(tt.fwd))
			trav, head := e.Wander()
			assert.Equal(t, tt.trav, trav)
			assert.Equal(t, tt.head, head)
		})
	}
}

func TestWander_NothingGlides(t *testing.T) {
	t.Parallel()
	f := fanWith(map[int]float64{0: 2})
	f.SetReverse(0, 30)
	e := New(testParams())
	e.SetFan(f)
	trav, head := e.Wander()
	assert.Zero(t, trav)
	assert.Equal(t, 180.0, head)
}

func TestSwerve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		fwd             map[int]float64
		dist, ang, stop float64
		trav, head      float64
	}{
		{"direct path clear", map[int]float64{0: 50}, 40, 0, 10, 30, 0},
		{"already there", map[int]float64{0: 50}, 5, 0, 10, 0, 0},
		{"detour left", map[int]float64{0: 5, 1: 40, -1: 20}, 40, 0, 10, 36, 15},
		{"detours too short", map[int]float64{0: 5, 1: 8, -1: 8}, 40, 0, 10, 5, 0},
		{"target behind", map[int]float64{0: 50}, 40, 135, 10, 0, 135},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := New(testParams())
			e.SetFan(fanWith(tt.fwd))
			trav, head := e.Swerve(tt.dist, tt.ang, tt.stop)
			assert.InDelta(t, tt.trav, trav, 1e-9)
			assert.InDelta(t, tt.head, head, 1e-9)
		})
	}
}

func TestComputePaths_Wall(t *testing.T) {
	t.Parallel()
	m := testMap()
	for dy := -20.0; dy <= 20; dy += 0.5 {
		m.Set(30, dy, occmap.Fixed, occmap.CMax)
	}
	// Obstacles under the robot are cleared by the footprint reset.
	m.Set(2, 2, occmap.Fixed, occmap.CMax)

	e := New(testParams())
	e.ComputePaths(m)
	f := e.Fan()
	assert.InDelta(t, 30-9, f.Forward(0), 1)
	assert.Greater(t, f.Reverse(0), 50.0)
	assert.Less(t, f.Reverse(0), 72.0)
	assert.Greater(t, f.Forward(-6), 50.0, "clear to the right")

	l, _, _ := m.At(2, 2)
	assert.Equal(t, occmap.Floor, l)
	g := m.Grid()
	for j := 0; j < g.H; j++ {
		for i := 0; i < g.W; i++ {
			if m.InFootprint(i, j) {
				require.Equal(t, occmap.Floor, m.Label[g.Index(i, j)])
			}
		}
	}
	assert.False(t, e.Tight())
}

func TestComputePaths_BlockBesideTheRobot(t *testing.T) {
	t.Parallel()
	m := testMap()
	for dx := -3.0; dx <= -1; dx += 0.5 {
		for dy := 8.5; dy <= 10.5; dy += 0.5 {
			m.Set(dx, dy, occmap.Fixed, occmap.CMax)
		}
	}
	e := New(testParams())
	e.ComputePaths(m)
	f := e.Fan()
	assert.GreaterOrEqual(t, f.Forward(0), 0.0)
	assert.Less(t, f.Forward(5), 0.0)

	// Turning left runs the front into the block; turning right swings
	// the tail into it.
	rt0, lf1, ok := e.Range()
	require.True(t, ok)
	assert.Equal(t, 0.0, rt0)
	assert.Equal(t, 15.0, lf1)
}

func TestDoormat(t *testing.T) {
	t.Parallel()
	m := testMap()
	e := New(testParams())
	e.ComputePaths(m)
	assert.Equal(t, 1.0, e.Doormat())

	for k := range m.Conf {
		m.Conf[k] = 100
	}
	e.ComputePaths(m)
	assert.Less(t, e.Doormat(), 0.1, "only the footprint wiggle is fresh")
}

func TestSteer(t *testing.T) {
	t.Parallel()
	at := depth.Placement{X: 10, Y: 10, Heading: 90}
	dist, ang := Steer(at, 10, 30)
	assert.InDelta(t, 20, dist, 1e-9)
	assert.InDelta(t, 0, ang, 1e-9)

	dist, ang = Steer(at, 0, 10)
	assert.InDelta(t, 10, dist, 1e-9)
	assert.InDelta(t, 90, ang, 1e-9, "raster -x is on the left when facing +y")
}
