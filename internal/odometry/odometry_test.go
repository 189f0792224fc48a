package odometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGeometry() Geometry {
	return Geometry{WheelDiameter: 5, WheelSeparation: 13, PulsesPerRev: 125, MaxRPM: 150}
}

func TestDecode8_WrapIdentity(t *testing.T) {
	t.Parallel()
	for _, raw := range []uint32{0, 1, 127, 128, 255, 256, 1000, 0xFFFFFF80, 0xFFFFFFFF} {
		for d := -128; d <= 127; d++ {
			now := uint32(int64(raw) + int64(d))
			require.Equal(t, d, Decode8(now, raw), "raw=%d d=%d", raw, d)
			require.Equal(t, d, Decode8(now%256, raw%256), "raw=%d d=%d mod 256", raw, d)
		}
	}
}

func TestNormDeg(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want float64 }{
		{0, 0}, {180, 180}, {-180, 180}, {181, -179}, {540, 180}, {-190, 170}, {720, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormDeg(tt.in), 1e-9, "in=%v", tt.in)
	}
}

func TestTracker_StraightLine(t *testing.T) {
	t.Parallel()
	tr := NewTracker(testGeometry())
	require.True(t, tr.Update(1000, 1000, 0))

	var l, r uint32 = 1000, 1000
	for i := 0; i < 30; i++ {
		l += 2
		r += 2
		require.True(t, tr.Update(l, r, 1.0/30))
	}
	ipp := tr.Geometry().InchesPerPulse()
	p := tr.Pose()
	assert.InDelta(t, 60*ipp, p.Trav, 1e-9)
	assert.InDelta(t, 60*ipp, p.X, 1e-9)
	assert.InDelta(t, 0, p.Y, 1e-9)
	assert.InDelta(t, 0, p.Windup, 1e-9)
	assert.InDelta(t, 2*ipp*30, tr.MoveIPS(), 1e-6)
	assert.Equal(t, 0, tr.Parked())
}

func TestTracker_SpinInPlace(t *testing.T) {
	t.Parallel()
	g := testGeometry()
	tr := NewTracker(g)
	tr.Update(0, 0, 0)

	var l, r uint32
	for i := 0; i < 400; i++ {
		l -= 3
		r += 3
		require.True(t, tr.Update(l, r, 1.0/30))
		p := tr.Pose()
		assert.InDelta(t, NormDeg(p.Windup), p.Heading, 1e-9)
		assert.Greater(t, p.Heading, -180.0)
		assert.LessOrEqual(t, p.Heading, 180.0)
	}
	p := tr.Pose()
	assert.InDelta(t, 0, p.Trav, 1e-9)
	want := 180 / math.Pi * g.InchesPerPulse() * 6 * 400 / g.WheelSeparation
	assert.InDelta(t, want, p.Windup, 1e-6)
	assert.Greater(t, p.Windup, 360.0)
}

func TestTracker_LocalAndGlobalIncrements(t *testing.T) {
	t.Parallel()
	tr := NewTracker(testGeometry())
	tr.Update(0, 0, 0)
	tr.Update(0, 20, 0.1)

	s := tr.Last()
	assert.Greater(t, s.DR, 0.0)
	half := s.DR / 2 * math.Pi / 180
	assert.InDelta(t, s.DM*math.Sin(half), s.LocalX, 1e-12)
	assert.InDelta(t, s.DM*math.Cos(half), s.LocalY, 1e-12)
	assert.InDelta(t, s.DM*math.Cos(half), s.DX, 1e-12)
	assert.InDelta(t, s.DM*math.Sin(half), s.DY, 1e-12)
}

func TestTracker_AliasUsesFullCounter(t *testing.T) {
	t.Parallel()
	g := testGeometry()
	g.MaxRPM = 10000
	tr := NewTracker(g)
	tr.Update(0, 0, 0)

	require.True(t, tr.Update(200, 200, 1))
	assert.Equal(t, 1, tr.Aliases())
	assert.InDelta(t, 200*g.InchesPerPulse(), tr.Pose().Trav, 1e-9)
}

func TestTracker_GlitchRejected(t *testing.T) {
	t.Parallel()
	g := testGeometry()
	tr := NewTracker(g)
	tr.SetNominalPeriod(1.0 / 30)
	tr.Update(0, 0, 0)

	// 100 counts in a 30 Hz period is ~12.6 in, far beyond max wheel speed.
	assert.False(t, tr.Update(100, 100, 1.0/30))
	assert.Equal(t, 1, tr.Glitches())
	assert.Zero(t, tr.Pose().Trav)

	// The rejected reading becomes the new reference.
	assert.True(t, tr.Update(102, 102, 1.0/30))
	assert.InDelta(t, 2*g.InchesPerPulse(), tr.Pose().Trav, 1e-9)
}

func TestTracker_TravBoundedByWheelSpeed(t *testing.T) {
	t.Parallel()
	g := testGeometry()
	tr := NewTracker(g)
	tr.SetNominalPeriod(1.0 / 30)
	tr.Update(0, 0, 0)

	var l, r uint32
	dt := 1.0 / 30
	for i, d := range []int{1, 5, 10, 40, -3, 9, 120, 2} {
		before := tr.Pose().Trav
		l += uint32(int32(d))
		r += uint32(int32(d))
		if tr.Update(l, r, dt) {
			assert.LessOrEqual(t, math.Abs(tr.Pose().Trav-before), g.MaxWheelIPS()*dt+1e-9, "step %d", i)
		}
	}
}

func TestTracker_ParkedAndReset(t *testing.T) {
	t.Parallel()
	tr := NewTracker(testGeometry())
	tr.Update(5, 5, 0)
	for i := 0; i < 4; i++ {
		tr.Update(5, 5, 1.0/30)
	}
	assert.Equal(t, 4, tr.Parked())

	tr.Slip(2, -2, 1.0/30)
	assert.Equal(t, 0, tr.Parked())
	assert.InDelta(t, 0, tr.Pose().Trav, 1e-12)
	assert.Less(t, tr.Pose().Windup, 0.0)

	tr.Reset()
	assert.Equal(t, Pose{}, tr.Pose())
	assert.Equal(t, 0, tr.Parked())
}

func TestTracker_ReprimeKeepsPose(t *testing.T) {
	t.Parallel()
	tr := NewTracker(testGeometry())
	tr.Update(0, 0, 0)
	tr.Update(10, 10, 1.0/30)
	before := tr.Pose()
	require.Greater(t, before.Trav, 0.0)

	// A reconnected controller may report unrelated counts.
	tr.Reprime()
	tr.Update(90000, 5, 1.0/30)
	assert.Equal(t, before, tr.Pose())
	tr.Update(90010, 15, 1.0/30)
	assert.InDelta(t, 2*before.Trav, tr.Pose().Trav, 1e-9)
}
