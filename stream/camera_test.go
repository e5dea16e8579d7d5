package stream

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/geovista/pointstream/models"
)

func TestHorizontalDistance(t *testing.T) {
	cam := Camera{Position: orb.Point{0, 0}, Altitude: 200}
	tile := models.NewTile(0, 20, 30, 40, 50)

	// altitude does not contribute
	require.InDelta(t, 50, cam.HorizontalDistance(tile), 1e-9)
}

func TestFrustumIntersects(t *testing.T) {
	cam := Camera{
		Position: orb.Point{0, 0},
		Heading:  0,
		FOV:      math.Pi / 2,
		Far:      100,
	}
	f := cam.Frustum()

	t.Run("tile containing the camera", func(t *testing.T) {
		b := orb.Bound{Min: orb.Point{-10, -10}, Max: orb.Point{10, 10}}
		require.True(t, f.Intersects(b, 0))
	})

	t.Run("tile ahead of the camera", func(t *testing.T) {
		b := orb.Bound{Min: orb.Point{-5, 50}, Max: orb.Point{5, 60}}
		require.True(t, f.Intersects(b, 0))
	})

	t.Run("tile behind the camera", func(t *testing.T) {
		b := orb.Bound{Min: orb.Point{-5, -60}, Max: orb.Point{5, -50}}
		require.False(t, f.Intersects(b, 0))
	})

	t.Run("tile beyond the view distance", func(t *testing.T) {
		b := orb.Bound{Min: orb.Point{-5, 500}, Max: orb.Point{5, 510}}
		require.False(t, f.Intersects(b, 0))
	})

	t.Run("tile outside the view cone", func(t *testing.T) {
		b := orb.Bound{Min: orb.Point{-60, 1}, Max: orb.Point{-55, 5}}
		require.False(t, f.Intersects(b, 0))
	})

	t.Run("margin pulls a near miss in", func(t *testing.T) {
		b := orb.Bound{Min: orb.Point{-5, 101}, Max: orb.Point{5, 110}}
		require.False(t, f.Intersects(b, 0))
		require.True(t, f.Intersects(b, 5))
	})

	t.Run("empty frustum", func(t *testing.T) {
		var empty Frustum
		b := orb.Bound{Min: orb.Point{-10, -10}, Max: orb.Point{10, 10}}
		require.False(t, empty.Intersects(b, 0))
	})
}

func TestFrustumWideFOV(t *testing.T) {
	// A field of view at pi would degenerate the view triangle. It is
	// clamped, the frustum keeps pointing along the heading.
	cam := Camera{
		Position: orb.Point{0, 0},
		Heading:  0,
		FOV:      math.Pi,
		Far:      100,
	}
	f := cam.Frustum()

	t.Run("tile ahead of the camera", func(t *testing.T) {
		b := orb.Bound{Min: orb.Point{-5, 50}, Max: orb.Point{5, 60}}
		require.True(t, f.Intersects(b, 0))
	})

	t.Run("tile behind the camera", func(t *testing.T) {
		b := orb.Bound{Min: orb.Point{-5, -60}, Max: orb.Point{5, -50}}
		require.False(t, f.Intersects(b, 0))
	})
}

func TestVisibleTiles(t *testing.T) {
	cam := Camera{
		Position: orb.Point{0, 0},
		Heading:  0,
		FOV:      math.Pi / 2,
		Far:      200,
	}
	f := cam.Frustum()

	ahead := models.NewTile(0, -10, 40, 10, 60)
	behind := models.NewTile(1, -10, -60, 10, -40)
	aheadFar := models.NewTile(2, -10, 140, 10, 160)

	visible := VisibleTiles([]models.Tile{ahead, behind, aheadFar}, f, 0)
	require.Len(t, visible, 2)

	// stable filter, input order preserved
	require.Equal(t, uint32(0), visible[0].ID)
	require.Equal(t, uint32(2), visible[1].ID)

	t.Run("non intersecting tiles are absent", func(t *testing.T) {
		for _, v := range visible {
			require.NotEqual(t, behind.ID, v.ID)
		}
	})
}
