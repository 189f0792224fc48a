package cycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/body.control/internal/monitoring"
)

type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) hook(name string) func() error {
	return func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.steps = append(r.steps, name)
		return nil
	}
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.steps
	r.steps = nil
	return out
}

func startEngine(t *testing.T, hooks Hooks, opts Options) *Engine {
	t.Helper()
	e := New(hooks, opts)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func TestManualEvent(t *testing.T) {
	t.Parallel()
	e := NewManualEvent()
	assert.False(t, e.IsSet())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Wait(ctx), context.DeadlineExceeded)

	e.Set()
	e.Set()
	assert.True(t, e.IsSet())
	require.NoError(t, e.Wait(context.Background()))
	require.NoError(t, e.Wait(context.Background()), "stays set for every waiter")

	e.Reset()
	assert.False(t, e.IsSet())
	select {
	case <-e.C():
		t.Fatal("reset event still signalled")
	default:
	}
}

func TestAutoEvent(t *testing.T) {
	t.Parallel()
	e := NewAutoEvent()
	e.Set()
	e.Set()
	assert.True(t, e.IsSet())
	require.NoError(t, e.Wait(context.Background()))
	assert.False(t, e.IsSet(), "a wait consumes the event")

	e.Set()
	e.Clear()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, e.Wait(ctx))
}

func TestEngine_StageOrder(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	e := startEngine(t, Hooks{
		Issue:      rec.hook("issue"),
		Update:     rec.hook("update"),
		Interpret:  rec.hook("interpret"),
		Interpret2: rec.hook("interpret2"),
		Join:       rec.hook("join"),
	}, Options{})

	for i := 1; i <= 3; i++ {
		require.NoError(t, e.Update(0))
		steps := rec.take()
		require.Len(t, steps, 5, "cycle %d", i)
		assert.Equal(t, []string{"issue", "update"}, steps[:2])
		assert.ElementsMatch(t, []string{"interpret", "interpret2"}, steps[2:4])
		assert.Equal(t, "join", steps[4])
		assert.Equal(t, uint64(i), e.Cycles())
		assert.True(t, e.Accepting())
		require.NoError(t, e.Issue())
	}
}

func TestEngine_UpdateWithoutIssueReturnsAtOnce(t *testing.T) {
	t.Parallel()
	e := startEngine(t, Hooks{}, Options{Timeout: time.Minute})
	require.NoError(t, e.Update(0))
	start := time.Now()
	require.NoError(t, e.Update(0))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(1), e.Cycles())
}

func TestEngine_InterpretHalvesRunConcurrently(t *testing.T) {
	t.Parallel()
	met := make(chan struct{})
	var together bool
	e := startEngine(t, Hooks{
		Interpret: func() error {
			select {
			case <-met:
				together = true
			case <-time.After(time.Second):
			}
			return nil
		},
		Interpret2: func() error {
			close(met)
			return nil
		},
	}, Options{})
	require.NoError(t, e.Update(0))
	assert.True(t, together)
}

func TestEngine_AcceptingAndReadable(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var hold bool
	e := startEngine(t, Hooks{
		Update: func() error {
			if hold {
				entered <- struct{}{}
				<-release
			}
			return nil
		},
	}, Options{})
	require.NoError(t, e.Update(0))
	assert.True(t, e.Accepting())
	require.True(t, e.Readable())
	e.ReadDone()

	hold = true
	require.NoError(t, e.Issue())
	assert.False(t, e.Accepting())
	<-entered
	assert.False(t, e.Readable(), "the update stage holds the shared lock")
	close(release)

	require.NoError(t, e.Update(0))
	assert.True(t, e.Accepting())
	assert.True(t, e.Readable())
	e.ReadDone()
}

func TestEngine_UpdateTimeoutIsNotFatal(t *testing.T) {
	t.Parallel()
	counters := &monitoring.Counters{}
	release := make(chan struct{})
	var slow bool
	e := startEngine(t, Hooks{
		Update: func() error {
			if slow {
				<-release
			}
			return nil
		},
	}, Options{Counters: counters})
	require.NoError(t, e.Update(0))

	slow = true
	require.NoError(t, e.Issue())
	err := e.Update(20 * time.Millisecond)
	assert.ErrorIs(t, err, monitoring.ErrTimeout)
	assert.Equal(t, uint64(1), counters.Get(Subsystem, "missed_primary"))

	close(release)
	require.NoError(t, e.Update(0))
	assert.NoError(t, e.Err())
	assert.Equal(t, uint64(1), e.Status().MissedPrimary)
}

func TestEngine_StageErrorsAreRecorded(t *testing.T) {
	t.Parallel()
	counters := &monitoring.Counters{}
	e := startEngine(t, Hooks{
		Update:     func() error { return monitoring.ErrLinkDown },
		Interpret2: func() error { return errors.New("bad frame") },
	}, Options{Counters: counters})

	require.NoError(t, e.Update(0), "stage errors do not fail the cycle")
	assert.ErrorIs(t, e.LastErr(), monitoring.ErrLinkDown)
	assert.Contains(t, e.Status().LastError, "bad frame")
	assert.Equal(t, uint64(1), counters.Get(Subsystem, "link_down"))
}

func TestEngine_PanicIsFatal(t *testing.T) {
	t.Parallel()
	health := &monitoring.Health{}
	var fatals []error
	var boom bool
	rec := &recorder{}
	e := startEngine(t, Hooks{
		Issue: rec.hook("issue"),
		Update: func() error {
			if boom {
				panic("encoder exploded")
			}
			return nil
		},
		Interpret: rec.hook("interpret"),
		Fatal:     func(err error) { fatals = append(fatals, err) },
	}, Options{Health: health})
	require.NoError(t, e.Update(0))
	rec.take()

	boom = true
	require.NoError(t, e.Issue())
	err := e.Update(0)
	require.ErrorIs(t, err, monitoring.ErrFatal)
	assert.Contains(t, err.Error(), "encoder exploded")
	assert.Equal(t, []string{"issue"}, rec.take(), "later stages are skipped")
	require.Len(t, fatals, 1)
	assert.Equal(t, []string{Subsystem}, health.Failing())

	assert.ErrorIs(t, e.Issue(), monitoring.ErrFatal)
	assert.ErrorIs(t, e.Update(0), monitoring.ErrFatal)
	assert.NotEmpty(t, e.Status().Fatal)
}

func TestEngine_Stop(t *testing.T) {
	t.Parallel()
	e := New(Hooks{}, Options{})
	require.NoError(t, e.Stop(), "stopping an idle engine is fine")

	e = New(Hooks{}, Options{})
	require.NoError(t, e.Start(context.Background()))
	assert.Error(t, e.Start(context.Background()))
	require.NoError(t, e.Update(0))
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	assert.ErrorIs(t, e.Issue(), ErrStopped)
	assert.ErrorIs(t, e.Update(0), ErrStopped)
	assert.False(t, e.Status().Running)
}

func TestEngine_ContextCancelStops(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	e := New(Hooks{}, Options{})
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Update(0))
	cancel()

	select {
	case <-e.primaryExit:
	case <-time.After(time.Second):
		t.Fatal("primary did not exit")
	}
	assert.ErrorIs(t, e.Issue(), ErrStopped)
	require.NoError(t, e.Stop())
}

func TestEngine_StopTimesOutOnStuckSecondary(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	defer close(block)
	e := New(Hooks{Interpret2: func() error { <-block; return nil }},
		Options{Timeout: 10 * time.Millisecond, StopTimeout: 20 * time.Millisecond})
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Update(0))
	assert.Equal(t, uint64(1), e.Status().MissedSecondary)
	assert.ErrorIs(t, e.Stop(), monitoring.ErrTimeout)
}

func TestEngine_LateSecondaryKeepsSharedStateLocked(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var slow atomic.Bool
	var joins atomic.Int32
	slow.Store(true)
	e := startEngine(t, Hooks{
		Interpret2: func() error {
			if slow.Load() {
				<-release
			}
			return nil
		},
		Join: func() error {
			joins.Add(1)
			return nil
		},
	}, Options{Timeout: 20 * time.Millisecond})

	require.NoError(t, e.Update(time.Second))
	assert.Equal(t, uint64(1), e.Status().MissedSecondary)
	assert.Zero(t, joins.Load(), "no join without the secondary half")
	assert.False(t, e.Readable(), "the late secondary still owns the shared state")

	// The next cycle cannot take the lock until the straggler is done.
	require.NoError(t, e.Issue())
	assert.ErrorIs(t, e.Update(30*time.Millisecond), monitoring.ErrTimeout)

	slow.Store(false)
	close(release)
	require.NoError(t, e.Update(time.Second))
	assert.Equal(t, int32(1), joins.Load())
	require.True(t, e.Readable())
	e.ReadDone()
	assert.NoError(t, e.Err())
}
