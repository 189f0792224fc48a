// Package depth projects depth camera frames into an overhead grid aligned
// with the occupancy map.
package depth

// Image is a depth frame in raw sensor units (millimetres); 0 means no return.
type Image struct {
	W, H int
	Pix  []uint16
}

// NewImage allocates a w×h frame.
func NewImage(w, h int) *Image {
	return &Image{W: w, H: h, Pix: make([]uint16, w*h)}
}

// At returns the raw depth at pixel (u, v).
func (m *Image) At(u, v int) uint16 { return m.Pix[v*m.W+u] }

// Set stores a raw depth at pixel (u, v).
func (m *Image) Set(u, v int, d uint16) { m.Pix[v*m.W+u] = d }

// Valid counts pixels with a return.
func (m *Image) Valid() int {
	n := 0
	for _, d := range m.Pix {
		if d != 0 {
			n++
		}
	}
	return n
}
