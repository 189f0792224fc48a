package serialport

import "sync"

// Link follows the transport most recently opened for one device, so debug
// pages keep working across reconnects.
type Link struct {
	name string

	mu    sync.Mutex
	tr    *Transport
	opens uint64
}

func NewLink(name string) *Link { return &Link{name: name} }

func (l *Link) Name() string { return l.name }

// Set records a freshly opened transport.
func (l *Link) Set(tr *Transport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tr = tr
	l.opens++
}

// LinkStats is the debug view of a Link.
type LinkStats struct {
	Name  string `json:"name"`
	Opens uint64 `json:"opens"`
	Open  bool   `json:"open"`
	Stats
}

func (l *Link) Stats() LinkStats {
	l.mu.Lock()
	tr, opens := l.tr, l.opens
	l.mu.Unlock()
	s := LinkStats{Name: l.name, Opens: opens, Open: tr != nil}
	if tr != nil {
		s.Stats = tr.Stats()
	}
	return s
}
