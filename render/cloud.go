package render

import (
	"sync"

	"github.com/geovista/pointstream/models"
)

// CloudRenderer aggregates the tile buffers merged by a streaming controller
// into one drawable per dataset session. Each update installs a fresh
// drawable and disposes the previous one to keep the resident geometry
// bounded.
type CloudRenderer struct {
	// Called after a buffer is merged, with the merged delta. Used to push
	// incremental updates to viewers.
	OnMerge func(key models.TileKey, points models.PointBuffer)

	// Called after a segment is evicted.
	OnEvict func(key models.TileKey)

	factory DrawableFactory
	style   Style

	mutex    sync.Mutex
	segments map[models.TileKey]models.PointBuffer
	order    []models.TileKey
	current  Drawable
}

type CloudOption func(*CloudRenderer)

func WithFactory(factory DrawableFactory) CloudOption {
	return func(r *CloudRenderer) {
		r.factory = factory
	}
}

func WithStyle(style Style) CloudOption {
	return func(r *CloudRenderer) {
		r.style = style
	}
}

func NewCloudRenderer(opts ...CloudOption) *CloudRenderer {
	r := &CloudRenderer{
		factory:  newGeometryDrawable,
		style:    Style{PointSize: 1, Color: 0xffffff},
		segments: make(map[models.TileKey]models.PointBuffer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Merge adds the points of a resolved (tile, level) pair and rebuilds the
// drawable. Implements the streaming controller target.
func (r *CloudRenderer) Merge(key models.TileKey, points models.PointBuffer) {
	r.mutex.Lock()

	if _, ok := r.segments[key]; !ok {
		r.order = append(r.order, key)
	}
	r.segments[key] = points
	r.render()

	onMerge := r.OnMerge
	r.mutex.Unlock()

	if onMerge != nil {
		onMerge(key, points)
	}
}

// Evict drops the segment of an evicted key and rebuilds the drawable.
func (r *CloudRenderer) Evict(key models.TileKey) {
	r.mutex.Lock()

	if _, ok := r.segments[key]; ok {
		delete(r.segments, key)
		for i, k := range r.order {
			if k == key {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.render()
	}

	onEvict := r.OnEvict
	r.mutex.Unlock()

	if onEvict != nil {
		onEvict(key)
	}
}

// render installs a drawable over the current segments, disposing the one it
// replaces. Called under lock.
func (r *CloudRenderer) render() {
	size := 0
	for _, seg := range r.segments {
		size += len(seg)
	}

	flat := make(models.PointBuffer, 0, size)
	for _, key := range r.order {
		flat = flat.AppendBuffer(r.segments[key])
	}

	previous := r.current
	r.current = r.factory(flat, r.style)
	if previous != nil {
		previous.Dispose()
	}
}

// Current returns the installed drawable, nil before the first merge.
func (r *CloudRenderer) Current() Drawable {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.current
}

// SegmentCount returns the number of resident segments.
func (r *CloudRenderer) SegmentCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.segments)
}

// Close disposes the installed drawable and drops all segments.
func (r *CloudRenderer) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.current != nil {
		r.current.Dispose()
		r.current = nil
	}
	r.segments = make(map[models.TileKey]models.PointBuffer)
	r.order = nil
}
