package occmap

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/body.control/internal/depth"
)

func testParams() Params {
	return Params{
		IPP: 0.5, Edge: 72, Rate: 30, Fade: 30, TempDecay: 5,
		Side: 7, Fwd: 8, Back: 8, Pad: 1,
	}
}

func TestNew_Derived(t *testing.T) {
	t.Parallel()
	m := New(testParams())
	assert.Equal(t, 288, m.Grid().W)
	assert.Equal(t, 4, m.CWait())
	assert.Equal(t, uint8(42), m.CTmp())
	dx, dy := m.Residual()
	assert.Zero(t, dx)
	assert.Zero(t, dy)
	require.NoError(t, m.Check())
}

func TestShift_EgoMotion(t *testing.T) {
	t.Parallel()
	m := New(testParams())
	require.True(t, m.Set(24, 0, Fixed, CMax))

	di, dj := m.Shift(Motion{DX: 6, LocalY: 6})
	assert.Equal(t, 12, di)
	assert.Equal(t, 0, dj)

	l, c, ok := m.At(18, 0)
	require.True(t, ok)
	assert.Equal(t, Fixed, l)
	assert.Equal(t, uint8(CMax), c)

	l, _, _ = m.At(24, 0)
	assert.Equal(t, Unknown, l)
	assert.Equal(t, 1, m.Counts()[Fixed])
}

func TestShift_ResidualStaysBelowOnePixel(t *testing.T) {
	t.Parallel()
	m := New(testParams())
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		m.Shift(Motion{DX: rng.Float64()*4 - 2, DY: rng.Float64()*4 - 2})
		rx, ry := m.Residual()
		require.Less(t, math.Abs(rx), m.Params().IPP)
		require.Less(t, math.Abs(ry), m.Params().IPP)
	}
	assert.Greater(t, m.Shifts(), 0)
}

func TestShift_DropsCellsLeavingTheRaster(t *testing.T) {
	t.Parallel()
	m := New(testParams())
	m.Set(-70, 0, Fixed, CMax)
	m.Shift(Motion{DX: 10})
	assert.Zero(t, m.Counts()[Fixed])
	require.NoError(t, m.Check())
}

func TestDecay(t *testing.T) {
	t.Parallel()
	m := New(testParams())
	m.Set(5, 5, Fixed, 2)
	m.Set(6, 6, Floor, CMax)

	for i := 0; i < m.CWait()-1; i++ {
		m.Decay()
	}
	_, c, _ := m.At(5, 5)
	assert.Equal(t, uint8(2), c, "no decrement before cwait cycles")

	m.Decay()
	_, c, _ = m.At(5, 5)
	assert.Equal(t, uint8(1), c)

	for i := 0; i < m.CWait(); i++ {
		m.Decay()
	}
	l, c, _ := m.At(5, 5)
	assert.Equal(t, Unknown, l)
	assert.Zero(t, c)
	_, c, _ = m.At(6, 6)
	assert.Equal(t, uint8(CMax-2), c)
	require.NoError(t, m.Check())
}

func TestMix_Precedence(t *testing.T) {
	t.Parallel()
	olds := []uint8{Fixed, Temp, Miss, Floor, Unknown}
	tests := []struct {
		name string
		scan uint8
		want []uint8
	}{
		{"obstacle", depth.LabelObstacle, []uint8{Fixed, Temp, Fixed, Temp, Fixed}},
		{"miss", depth.LabelMiss, []uint8{Fixed, Temp, Miss, Floor, Miss}},
		{"floor", depth.LabelFloor, []uint8{Floor, Floor, Floor, Floor, Floor}},
		{"none", depth.LabelNone, []uint8{Fixed, Temp, Miss, Floor, Unknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := New(testParams())
			s := &depth.Scan{Grid: m.Grid(), Label: make([]uint8, m.Grid().Len())}
			for k, ol := range olds {
				conf := uint8(100)
				if ol == Unknown {
					conf = 0
				}
				m.Set(float64(k), 0, ol, conf)
				kk, _ := m.cellAt(float64(k), 0)
				s.Label[kk] = tt.scan
			}
			require.NoError(t, m.Mix(s))

			got := make([]uint8, len(olds))
			for k := range olds {
				got[k], _, _ = m.At(float64(k), 0)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("labels (-want +got):\n%s", diff)
			}
			require.NoError(t, m.Check())
		})
	}
}

func TestMix_TempConfidence(t *testing.T) {
	t.Parallel()
	m := New(testParams())
	m.Set(3, 3, Floor, CMax)
	m.Set(4, 4, Unknown, 0)
	s := &depth.Scan{Grid: m.Grid(), Label: make([]uint8, m.Grid().Len())}
	k1, _ := m.cellAt(3, 3)
	k2, _ := m.cellAt(4, 4)
	s.Label[k1], s.Label[k2] = depth.LabelObstacle, depth.LabelObstacle
	require.NoError(t, m.Mix(s))

	l, c, _ := m.At(3, 3)
	assert.Equal(t, Temp, l)
	assert.Equal(t, m.CTmp(), c)
	l, c, _ = m.At(4, 4)
	assert.Equal(t, Fixed, l)
	assert.Equal(t, uint8(CMax), c)
}

func TestMix_SizeMismatch(t *testing.T) {
	t.Parallel()
	m := New(testParams())
	err := m.Mix(&depth.Scan{Grid: depth.Grid{W: 3, H: 3, IPP: 0.5}, Label: make([]uint8, 9)})
	assert.Error(t, err)
}

func TestResetFootprint(t *testing.T) {
	t.Parallel()
	for _, heading := range []float64{0, 37, -120} {
		m := New(testParams())
		for k := range m.Label {
			m.Label[k], m.Conf[k] = Fixed, 10
		}
		m.SetHeading(heading)
		m.ResetFootprint()

		g := m.Grid()
		covered := 0
		for j := 0; j < g.H; j++ {
			for i := 0; i < g.W; i++ {
				if m.InFootprint(i, j) {
					covered++
					k := g.Index(i, j)
					require.Equal(t, Floor, m.Label[k], "heading %v cell %d,%d", heading, i, j)
					require.Equal(t, uint8(CMax), m.Conf[k])
				}
			}
		}
		// 16 x 18 inches at 4 cells per square inch.
		assert.InDelta(t, 16*18*4, covered, 80, "heading %v", heading)
		assert.Greater(t, m.Counts()[Floor], covered, "wiggle clears extra cells")
	}
}

func TestTrail(t *testing.T) {
	t.Parallel()
	m := New(testParams())
	m.Shift(Motion{DX: 1, LocalY: 1})
	m.Shift(Motion{DX: 1, LocalY: 1})
	tr := m.Trail()
	require.Len(t, tr, 2)
	assert.InDelta(t, -2, tr[0].Y, 1e-9)
	assert.InDelta(t, -1, tr[1].Y, 1e-9)

	// Turning left by 90 swings the path behind round to the left side.
	m.Shift(Motion{DTheta: 90, Heading: 90})
	tr = m.Trail()
	require.Len(t, tr, 2)
	assert.InDelta(t, -2, tr[0].X, 1e-9)
	assert.InDelta(t, 0, tr[0].Y, 1e-9)

	p := testParams()
	p.TrailMax = 5
	m = New(p)
	for i := 0; i < 20; i++ {
		m.Shift(Motion{DY: 1, LocalY: 1})
	}
	assert.Len(t, m.Trail(), 5)
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()
	m := New(testParams())
	m.Set(10, -3, Fixed, 99)
	m.Shift(Motion{DX: 0.2, LocalY: 0.2, Heading: 12})
	blob, err := m.Snapshot()
	require.NoError(t, err)

	n := New(testParams())
	require.NoError(t, n.Restore(blob))
	assert.Equal(t, m.Label, n.Label)
	assert.Equal(t, m.Conf, n.Conf)
	assert.Equal(t, m.Placement(), n.Placement())
	assert.Equal(t, m.Trail(), n.Trail())

	p := testParams()
	p.Edge = 36
	assert.Error(t, New(p).Restore(blob))
	assert.Error(t, n.Restore(nil))
	assert.Error(t, n.Restore([]byte("not gzip")))
}
