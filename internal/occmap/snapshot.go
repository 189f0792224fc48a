package occmap

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"

	"github.com/golang/geo/r2"
)

type snapshot struct {
	W, H    int
	IPP     float64
	Label   []uint8
	Conf    []uint8
	RX, RY  float64
	Heading float64
	Tick    int
	Trail   []r2.Point
}

// Snapshot serialises the map with gob and gzip.
func (m *Map) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	err := enc.Encode(snapshot{
		W: m.grid.W, H: m.grid.H, IPP: m.p.IPP,
		Label: m.Label, Conf: m.Conf,
		RX: m.rx, RY: m.ry, Heading: m.heading,
		Tick: m.tick, Trail: m.trail,
	})
	if err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore loads a blob written by Snapshot into a map of the same size.
func (m *Map) Restore(blob []byte) error {
	if len(blob) == 0 {
		return fmt.Errorf("empty map blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var s snapshot
	if err := gob.NewDecoder(gz).Decode(&s); err != nil {
		return fmt.Errorf("failed to decode map: %w", err)
	}
	if s.W != m.grid.W || s.H != m.grid.H || s.IPP != m.p.IPP {
		return fmt.Errorf("snapshot %dx%d@%g does not match map %dx%d@%g", s.W, s.H, s.IPP, m.grid.W, m.grid.H, m.p.IPP)
	}
	if len(s.Label) != len(m.Label) || len(s.Conf) != len(m.Conf) {
		return fmt.Errorf("snapshot rasters truncated")
	}
	copy(m.Label, s.Label)
	copy(m.Conf, s.Conf)
	m.rx, m.ry, m.heading, m.tick = s.RX, s.RY, s.Heading, s.Tick
	m.trail = append(m.trail[:0], s.Trail...)
	return nil
}
