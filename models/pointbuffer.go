package models

// PointBuffer is a flat ordered sequence of x, y, z triples. It is the
// ephemeral payload of a (tile, level) fetch, merged into a drawable then
// discarded as a standalone structure.
type PointBuffer []float64

// NewPointBuffer returns a buffer with capacity for n points.
func NewPointBuffer(n int) PointBuffer {
	return make(PointBuffer, 0, n*3)
}

// Len returns the number of points in the buffer.
func (b PointBuffer) Len() int {
	return len(b) / 3
}

// At returns the i-th point.
func (b PointBuffer) At(i int) (x, y, z float64) {
	return b[i*3], b[i*3+1], b[i*3+2]
}

// Append adds a point to the buffer.
func (b PointBuffer) Append(x, y, z float64) PointBuffer {
	return append(b, x, y, z)
}

// AppendBuffer concatenates another buffer.
func (b PointBuffer) AppendBuffer(o PointBuffer) PointBuffer {
	return append(b, o...)
}

// Clone returns an independent copy of the buffer.
func (b PointBuffer) Clone() PointBuffer {
	c := make(PointBuffer, len(b))
	copy(c, b)
	return c
}
