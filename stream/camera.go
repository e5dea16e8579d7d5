package stream

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/geovista/pointstream/models"
)

// Camera is the viewer pose a streaming tick resolves against. Heading is in
// radians, 0 pointing along +Y, increasing clockwise. FOV is the horizontal
// field of view in radians. Far bounds the view distance.
type Camera struct {
	Position orb.Point
	Altitude float64
	Heading  float64
	FOV      float64
	Far      float64
}

// HorizontalDistance returns the Euclidean distance between the camera and a
// tile center in the horizontal plane. Camera altitude never triggers detail
// loss, matching terrain streaming conventions.
func (c Camera) HorizontalDistance(t models.Tile) float64 {
	return math.Hypot(t.Center[0]-c.Position[0], t.Center[1]-c.Position[1])
}

// Frustum is the horizontal projection of the camera's visible volume, a
// convex polygon used to cull off-screen tiles. The vertical extent is
// treated as unbounded.
type Frustum struct {
	hull []orb.Point
}

// MaxFOV bounds the horizontal field of view. At or past pi the view
// triangle degenerates: the side vectors point backwards and the half-angle
// cosine goes non-positive.
const MaxFOV = 3.0

// Frustum projects the camera's view triangle onto the horizontal plane.
func (c Camera) Frustum() Frustum {
	fov := c.FOV
	if fov > MaxFOV {
		fov = MaxFOV
	}
	half := fov / 2

	// Far corners sit at the view distance along the frustum sides so the
	// far edge covers the full view depth along the heading.
	reach := c.Far / math.Cos(half)

	left := headingVector(c.Heading - half)
	right := headingVector(c.Heading + half)

	return Frustum{hull: []orb.Point{
		c.Position,
		{c.Position[0] + left[0]*reach, c.Position[1] + left[1]*reach},
		{c.Position[0] + right[0]*reach, c.Position[1] + right[1]*reach},
	}}
}

func headingVector(heading float64) orb.Point {
	return orb.Point{math.Sin(heading), math.Cos(heading)}
}

// Intersects reports whether the given bounds, inflated by margin, overlap
// the frustum's horizontal projection. Separating axis test between the hull
// and the axis-aligned box.
func (f Frustum) Intersects(b orb.Bound, margin float64) bool {
	if len(f.hull) == 0 {
		return false
	}

	box := []orb.Point{
		{b.Min[0] - margin, b.Min[1] - margin},
		{b.Max[0] + margin, b.Min[1] - margin},
		{b.Max[0] + margin, b.Max[1] + margin},
		{b.Min[0] - margin, b.Max[1] + margin},
	}

	axes := []orb.Point{{1, 0}, {0, 1}}
	for i := range f.hull {
		p, q := f.hull[i], f.hull[(i+1)%len(f.hull)]
		axes = append(axes, orb.Point{p[1] - q[1], q[0] - p[0]})
	}

	for _, axis := range axes {
		hullMin, hullMax := project(f.hull, axis)
		boxMin, boxMax := project(box, axis)
		if hullMax < boxMin || boxMax < hullMin {
			return false
		}
	}
	return true
}

func project(points []orb.Point, axis orb.Point) (min, max float64) {
	min = math.Inf(1)
	max = math.Inf(-1)
	for _, p := range points {
		d := p[0]*axis[0] + p[1]*axis[1]
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}
