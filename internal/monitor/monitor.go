// Package monitor serves the body's debug pages on the tsweb debug mux:
// status JSON, the problems line, a plot of the clearance fan and a chart
// of the occupancy map.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/body.control/internal/body"
	"github.com/banshee-data/body.control/internal/monitoring"
	"github.com/banshee-data/body.control/internal/nav"
	"github.com/banshee-data/body.control/internal/serialport"
)

// Source is the part of a body the pages read.
type Source interface {
	Status() body.Status
	Problems() string
	Fan() nav.Fan
	Map() body.MapView
	SnapshotMap() ([]byte, error)
	Links() []*serialport.Link
}

// SnapshotStore keeps map snapshots.
type SnapshotStore interface {
	SaveMapSnapshot(ctx context.Context, reason string, blob []byte) (int64, error)
}

// Server holds the page handlers.
type Server struct {
	src   Source
	store SnapshotStore
	geom  Footprint
}

// Footprint is the robot outline drawn on the plots, in inches from the
// body origin.
type Footprint struct {
	Side, Fwd, Back float64
}

// NewServer returns pages for src. store may be nil, which disables the
// snapshot action.
func NewServer(src Source, store SnapshotStore, geom Footprint) *Server {
	return &Server{src: src, store: store, geom: geom}
}

// AttachAdminRoutes registers the pages and every serial link's counters.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("body", "Body status (JSON)", s.handleStatus)
	debug.HandleFunc("problems", "Failing subsystems", s.handleProblems)
	debug.HandleFunc("fan.png", "Clearance fan plot", s.handleFanPNG)
	debug.HandleFunc("map", "Occupancy map chart", s.handleMapChart)
	if s.store != nil {
		debug.HandleFunc("map-snapshot", "Save a map snapshot (POST)", s.handleSnapshot)
	}
	for _, l := range s.src.Links() {
		l.AttachAdminRoutes(mux)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("monitor: encoding response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Status())
}

func (s *Server) handleProblems(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	p := s.src.Problems()
	if p == "" {
		p = "ok"
	}
	fmt.Fprintln(w, p)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST to save a snapshot")
		return
	}
	blob, err := s.src.SnapshotMap()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	id, err := s.store.SaveMapSnapshot(r.Context(), "manual", blob)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshot_id": id, "bytes": len(blob)})
}
