package render

import (
	"sync"

	"github.com/geovista/pointstream/models"
)

// Drawable is a materialized point-cloud geometry. The rendering engine does
// not collect GPU-resident buffers, so a drawable must be explicitly
// disposed when it is replaced; dropping the reference leaks its memory.
type Drawable interface {
	Points() models.PointBuffer
	Dispose()
}

// Style is the size and color scheme applied to materialized geometry.
type Style struct {
	PointSize float64
	Color     uint32
}

// DrawableFactory materializes a point buffer into a drawable.
type DrawableFactory func(models.PointBuffer, Style) Drawable

// Geometry is the default drawable. Dispose releases the backing storage and
// is safe to call more than once.
type Geometry struct {
	mutex    sync.Mutex
	points   models.PointBuffer
	style    Style
	disposed bool
}

func NewGeometry(points models.PointBuffer, style Style) *Geometry {
	return &Geometry{
		points: points,
		style:  style,
	}
}

func (g *Geometry) Points() models.PointBuffer {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.points
}

func (g *Geometry) Style() Style {
	return g.style
}

func (g *Geometry) Dispose() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.points = nil
	g.disposed = true
}

func (g *Geometry) Disposed() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.disposed
}

func newGeometryDrawable(points models.PointBuffer, style Style) Drawable {
	return NewGeometry(points, style)
}
