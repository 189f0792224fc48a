package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/body.control/internal/base"
	"github.com/banshee-data/body.control/internal/body"
	"github.com/banshee-data/body.control/internal/config"
	"github.com/banshee-data/body.control/internal/cycle"
	"github.com/banshee-data/body.control/internal/lift"
	"github.com/banshee-data/body.control/internal/monitor"
	"github.com/banshee-data/body.control/internal/monitoring"
	"github.com/banshee-data/body.control/internal/motorlink"
	"github.com/banshee-data/body.control/internal/sim"
	"github.com/banshee-data/body.control/internal/telemetry"
	"github.com/banshee-data/body.control/internal/timeutil"
	"github.com/banshee-data/body.control/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the body calibration JSON")
	dbFile     = flag.String("db", "body_telemetry.db", "Path to the SQLite telemetry database")
	listen     = flag.String("listen", ":8080", "HTTP debug listen address")
	devMode    = flag.Bool("dev", false, "Run against a simulated rig instead of serial hardware")
	roomSize   = flag.Float64("room", 144, "Inner size in inches of the simulated room (dev mode)")
	wander     = flag.Bool("wander", false, "Drive around using the wander policy")
	verbose    = flag.Bool("v", false, "Log per-reset diagnostics")
	trace      = flag.Bool("trace", false, "Log per-cycle packet traces")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

// wanderBid is the client's priority; reflexes outrank it.
const wanderBid = 10

// devWidth is the simulated camera resolution; the configured focal length
// is for a 640 pixel wide sensor.
const (
	devWidth, devHeight = 160, 120
	sensorWidth         = 640
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	setLogWriters(os.Stderr, *verbose, *trace)

	bc, err := config.LoadBodyConfigOrDefault(*configPath)
	if bc == nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err != nil {
		log.Printf("%v", err)
	}
	cfg := body.ConfigFrom(bc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := telemetry.Open(ctx, *dbFile, version.Version)
	if err != nil {
		log.Fatalf("failed to open telemetry database: %v", err)
	}
	defer store.Close()

	counters := &monitoring.Counters{}
	rec, err := telemetry.NewRecorder(ctx, store, telemetry.RecorderOptions{Counters: counters})
	if err != nil {
		log.Fatalf("failed to load calibration: %v", err)
	}
	rec.Start()
	defer rec.Stop()

	var dev body.Devices
	if *devMode {
		var rig *sim.Rig
		cfg, rig = devRig(cfg, sim.Room(*roomSize), timeutil.RealClock{})
		dev = body.SimDevices(rig, nil, timeutil.RealClock{})
		log.Printf("dev mode: simulated rig in a %g in room", *roomSize)
	} else {
		dev = body.SerialDevices(bc.Serial, nil, timeutil.RealClock{})
	}

	b := body.New(cfg, dev, body.Options{Recorder: rec, Counters: counters})
	if err := b.ResetBody(ctx); err != nil {
		// The client loop keeps retrying; the debug pages show why.
		log.Printf("reset failed: %v", err)
	} else {
		log.Printf("body reset, session %s", store.Session())
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runClient(ctx, b, *wander)
		log.Print("client routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		monitor.NewServer(b, store, monitor.Footprint{
			Side: cfg.Map.Side, Fwd: cfg.Map.Fwd, Back: cfg.Map.Back,
		}).AttachAdminRoutes(mux)
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("telemetry admin routes unavailable: %v", err)
		}
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			http.Redirect(w, r, "/debug/", http.StatusFound)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	if err := b.Close(); err != nil {
		log.Printf("closing body: %v", err)
	}
	if err := saveShutdownSnapshot(store, b); err != nil {
		log.Printf("map snapshot: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// setLogWriters routes every package's ops stream to w and enables the
// diagnostic and trace streams on request.
func setLogWriters(w io.Writer, diag, trace bool) {
	var dw, tw io.Writer
	if diag {
		dw = w
	}
	if trace {
		tw = w
	}
	body.SetLogWriters(w, dw, tw)
	base.SetLogWriters(w, dw, tw)
	lift.SetLogWriters(w, dw, tw)
	cycle.SetLogWriters(w, dw, tw)
	motorlink.SetLogWriters(w, dw, tw)
	monitoring.SetLogger(log.Printf)
}

// devRig builds a simulated rig matching cfg. The simulated camera renders
// at a reduced resolution, so the focal length is scaled to keep the same
// field of view.
func devRig(cfg body.Config, world sim.World, clock timeutil.Clock) (body.Config, *sim.Rig) {
	cfg.Depth.Camera.Focal *= float64(devWidth) / sensorWidth
	rig := sim.NewRig(sim.RigConfig{
		Version:   "USB Roboclaw 2x15a v4.1.34",
		Geometry:  cfg.Base.Geometry,
		Camera:    cfg.Depth.Camera,
		W:         devWidth,
		H:         devHeight,
		Period:    cfg.Base.Period,
		LiftStart: float64(cfg.Lift.Raw(cfg.Lift.Default)),
		LiftRate:  4000,
		LiftSpan:  cfg.Lift.Top - cfg.Lift.Bot,
		World:     world,
		Clock:     clock,
	})
	return cfg, rig
}

// runClient is the body's only client: it closes every cycle and, when
// asked, drives with the wander policy. A fatal body is reset at most once
// a second.
func runClient(ctx context.Context, b *body.Body, wander bool) {
	var lastReset time.Time
	for ctx.Err() == nil {
		_, err := b.UpdateBody(body.UpdateRequest{Images: true})
		if err == nil {
			if wander {
				wanderStep(b)
			}
			err = b.IssueBody()
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, monitoring.ErrFatal) && !errors.Is(err, cycle.ErrStopped) {
			log.Printf("cycle: %v", err)
			continue
		}
		if wait := time.Second - time.Since(lastReset); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		lastReset = time.Now()
		if err := b.ResetBody(ctx); err != nil {
			log.Printf("reset failed: %v (problems: %s)", err, b.Problems())
		}
	}
}

// wanderStep bids for the move the wander policy suggests from the current
// pose. Losing to a reflex is expected.
func wanderStep(b *body.Body) {
	trav, head := b.Wander()
	err := b.DriveTarget(b.Trav()+trav, b.Windup()+head, 1, 1, wanderBid)
	if err != nil && !errors.Is(err, monitoring.ErrPreempted) {
		log.Printf("wander: %v", err)
	}
}

func saveShutdownSnapshot(store *telemetry.Store, b *body.Body) error {
	blob, err := b.SnapshotMap()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := store.SaveMapSnapshot(ctx, "shutdown", blob)
	if err != nil {
		return err
	}
	log.Printf("saved map snapshot %d (%d bytes)", id, len(blob))
	return nil
}
