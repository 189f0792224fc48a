package main

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/body.control/internal/body"
	"github.com/banshee-data/body.control/internal/config"
	"github.com/banshee-data/body.control/internal/sim"
	"github.com/banshee-data/body.control/internal/telemetry"
	"github.com/banshee-data/body.control/internal/timeutil"
)

// TestFlagDefaults verifies the flags a deployment relies on.
func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, config.DefaultConfigPath, *configPath)
	assert.Equal(t, ":8080", *listen)
	assert.False(t, *devMode, "hardware by default")
	assert.False(t, *wander, "no driving unless asked")
}

func TestDevRigScalesFocal(t *testing.T) {
	t.Parallel()
	cfg := body.ConfigFrom(config.EmptyBodyConfig())
	want := cfg.Depth.Camera.Focal / 4
	got, rig := devRig(cfg, sim.Room(100), timeutil.NewMockClock(time.Unix(0, 0)))
	assert.InDelta(t, want, got.Depth.Camera.Focal, 1e-9)
	assert.InDelta(t, want, rig.Camera.Camera.Focal, 1e-9)
	assert.Equal(t, devWidth, rig.Camera.W)
}

func TestWanderInRoom(t *testing.T) {
	t.Parallel()
	const size = 144.0
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	cfg, rig := devRig(body.ConfigFrom(config.EmptyBodyConfig()), sim.Room(size), clock)
	b := body.New(cfg, body.SimDevices(rig, sim.Lockstep{Rig: rig, Clock: clock}, clock), body.Options{Clock: clock})
	require.NoError(t, b.ResetBody(context.Background()))
	defer b.Close()

	for i := 0; i < 600; i++ {
		_, err := b.UpdateBody(body.UpdateRequest{Images: true})
		require.NoError(t, err)
		wanderStep(b)
		require.NoError(t, b.IssueBody())
	}

	pose := rig.Pose()
	assert.Greater(t, b.Trav(), 12.0, "should have travelled")
	assert.Less(t, math.Abs(pose.X), size/2, "stays inside the walls")
	assert.Less(t, math.Abs(pose.Y), size/2)
	assert.Empty(t, b.Problems())
}

func TestRunClientStopsOnCancel(t *testing.T) {
	t.Parallel()
	b := body.New(body.ConfigFrom(config.EmptyBodyConfig()), body.Devices{}, body.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		runClient(ctx, b, true)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runClient did not return")
	}
}

func TestSaveShutdownSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := telemetry.Open(ctx, t.TempDir()+"/body.db", "test")
	require.NoError(t, err)
	defer store.Close()

	b := body.New(body.ConfigFrom(config.EmptyBodyConfig()), body.Devices{}, body.Options{})
	require.NoError(t, saveShutdownSnapshot(store, b))

	id, blob, err := store.LatestMapSnapshot(ctx)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.NotEmpty(t, blob)
}
