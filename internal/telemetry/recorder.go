package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/body.control/internal/monitoring"
	"github.com/banshee-data/body.control/internal/timeutil"
)

// Subsystem names the recorder in counters.
const Subsystem = "telemetry"

// RecorderOptions tune a Recorder. Zero values take the defaults.
type RecorderOptions struct {
	Buffer   int           // samples queued before new ones are dropped
	Batch    int           // samples per transaction
	Interval time.Duration // longest a queued sample waits
	Clock    timeutil.Clock
	Counters *monitoring.Counters
}

// Recorder moves cycle samples and calibration updates off the cycle
// goroutines into the Store. Calls never block: when the queue is full
// the sample is dropped and counted.
type Recorder struct {
	store    *Store
	ch       chan CycleSample
	batch    int
	interval time.Duration
	clock    timeutil.Clock
	counters *monitoring.Counters
	dropped  atomic.Uint64
	written  atomic.Uint64

	mu    sync.Mutex
	cal   map[string]float64
	dirty map[string]bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewRecorder loads the stored calibration values and returns a recorder
// ready to Start.
func NewRecorder(ctx context.Context, store *Store, opts RecorderOptions) (*Recorder, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Batch <= 0 {
		opts.Batch = 64
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Counters == nil {
		opts.Counters = &monitoring.Counters{}
	}
	cal, err := store.Calibrations(ctx)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		store:    store,
		ch:       make(chan CycleSample, opts.Buffer),
		batch:    opts.Batch,
		interval: opts.Interval,
		clock:    opts.Clock,
		counters: opts.Counters,
		cal:      cal,
		dirty:    make(map[string]bool),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// RecordCycle queues a sample.
func (r *Recorder) RecordCycle(s CycleSample) {
	select {
	case r.ch <- s:
	default:
		r.dropped.Add(1)
		r.counters.Add(Subsystem, "dropped", 1)
	}
}

// SaveCalibration updates the value at once and writes it at the next
// flush.
func (r *Recorder) SaveCalibration(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.cal[name]; ok && old == value {
		return
	}
	r.cal[name] = value
	r.dirty[name] = true
}

func (r *Recorder) Calibration(name string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cal[name]
	return v, ok
}

// Dropped counts samples lost to a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written counts samples committed to the store.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Start runs the writer goroutine.
func (r *Recorder) Start() {
	go r.run()
}

// Stop flushes everything queued and waits for the writer to exit.
func (r *Recorder) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	pending := make([]CycleSample, 0, r.batch)
	for {
		select {
		case s := <-r.ch:
			pending = append(pending, s)
			if len(pending) >= r.batch {
				pending = r.flush(pending)
			}
		case <-ticker.C():
			pending = r.flush(pending)
		case <-r.stop:
			for {
				select {
				case s := <-r.ch:
					pending = append(pending, s)
				default:
					r.flush(pending)
					return
				}
			}
		}
	}
}

func (r *Recorder) flush(pending []CycleSample) []CycleSample {
	ctx := context.Background()
	if err := r.store.InsertCycles(ctx, pending); err != nil {
		r.counters.Count(Subsystem, err)
		monitoring.Logf("telemetry: dropping %d samples: %v", len(pending), err)
	} else {
		r.written.Add(uint64(len(pending)))
	}

	r.mu.Lock()
	updates := make(map[string]float64, len(r.dirty))
	for name := range r.dirty {
		updates[name] = r.cal[name]
	}
	clear(r.dirty)
	r.mu.Unlock()
	for name, v := range updates {
		if err := r.store.SaveCalibration(ctx, name, v); err != nil {
			r.counters.Count(Subsystem, err)
			monitoring.Logf("telemetry: saving calibration %s: %v", name, err)
		}
	}
	return pending[:0]
}
