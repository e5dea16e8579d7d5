package models

import (
	"github.com/paulmach/orb"
)

// Tile is a fixed spatial partition of a dataset. Tiles are immutable once
// fetched from the upstream index and live as long as the dataset session.
type Tile struct {
	ID     uint32
	Bounds orb.Bound
	Center orb.Point
}

// LOD levels range from full detail to the coarsest tier.
const (
	LODFull     = 0
	LODCoarsest = 4
)

// TileKey identifies a fetched (tile, level) combination. It is the membership
// token used to avoid redundant fetches.
type TileKey struct {
	Tile uint32
	LOD  int
}

// NewTile returns a tile with its center derived from the given bounds.
func NewTile(id uint32, minX, minY, maxX, maxY float64) Tile {
	return Tile{
		ID:     id,
		Bounds: orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}},
		Center: orb.Point{(minX + maxX) / 2, (minY + maxY) / 2},
	}
}
