package stream

import (
	"github.com/geovista/pointstream/models"
)

// VisibleTiles returns the subset of tiles whose bounds intersect the
// frustum's horizontal projection, inflated by margin. Stable filter: input
// order is preserved.
func VisibleTiles(tiles []models.Tile, f Frustum, margin float64) []models.Tile {
	visible := make([]models.Tile, 0, len(tiles))
	for _, t := range tiles {
		if f.Intersects(t.Bounds, margin) {
			visible = append(visible, t)
		}
	}
	return visible
}
