package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geovista/pointstream/models"
)

func openTestCache(t *testing.T, maxRows int) *TileCache {
	t.Helper()

	c, err := Open(filepath.Join(t.TempDir(), "tiles.db"), maxRows)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTileCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t, 0)

	key := models.TileKey{Tile: 3, LOD: 1}
	points := models.PointBuffer{1, 2, 3, 4.5, -5, 6}

	_, ok, err := c.Get(ctx, "ds-1", key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Put(ctx, "ds-1", key, points))

	got, ok, err := c.Get(ctx, "ds-1", key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, points, got)

	// same tile under another dataset is a distinct row
	_, ok, err = c.Get(ctx, "ds-2", key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTileCacheOverwrite(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t, 0)

	key := models.TileKey{Tile: 0, LOD: 0}
	require.NoError(t, c.Put(ctx, "ds-1", key, models.PointBuffer{1, 2, 3}))
	require.NoError(t, c.Put(ctx, "ds-1", key, models.PointBuffer{7, 8, 9}))

	got, ok, err := c.Get(ctx, "ds-1", key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.PointBuffer{7, 8, 9}, got)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestTileCacheEviction(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t, 2)

	keyA := models.TileKey{Tile: 0, LOD: 0}
	keyB := models.TileKey{Tile: 1, LOD: 0}
	keyC := models.TileKey{Tile: 2, LOD: 0}

	require.NoError(t, c.Put(ctx, "ds-1", keyA, models.PointBuffer{1, 1, 1}))
	time.Sleep(time.Millisecond * 2)
	require.NoError(t, c.Put(ctx, "ds-1", keyB, models.PointBuffer{2, 2, 2}))
	time.Sleep(time.Millisecond * 2)

	// touch A so B is the least recently used
	_, _, err := c.Get(ctx, "ds-1", keyA)
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 2)

	require.NoError(t, c.Put(ctx, "ds-1", keyC, models.PointBuffer{3, 3, 3}))

	n, err := c.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, ok, err := c.Get(ctx, "ds-1", keyB)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c.Get(ctx, "ds-1", keyA)
	require.NoError(t, err)
	require.True(t, ok)
}

type countingFetcher struct {
	mutex  sync.Mutex
	calls  int
	points models.PointBuffer
}

func (f *countingFetcher) FetchTile(ctx context.Context, datasetID string, tileID uint32, lod int) (models.PointBuffer, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.calls++
	return f.points, nil
}

func TestFetcherWithCache(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t, 0)

	upstream := &countingFetcher{points: models.PointBuffer{1, 2, 3}}
	f := FetcherWithCache(upstream, c)

	got, err := f.FetchTile(ctx, "ds-1", 0, 0)
	require.NoError(t, err)
	require.Equal(t, upstream.points, got)
	require.Equal(t, 1, upstream.calls)

	got, err = f.FetchTile(ctx, "ds-1", 0, 0)
	require.NoError(t, err)
	require.Equal(t, upstream.points, got)

	// second fetch is served from the cache
	require.Equal(t, 1, upstream.calls)
}

func TestPointCodec(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		points := models.PointBuffer{1, 2, 3, -4, 5.5, 6}
		got, err := decodePoints(encodePoints(points))
		require.NoError(t, err)
		require.Equal(t, points, got)
	})

	t.Run("empty buffer", func(t *testing.T) {
		got, err := decodePoints(encodePoints(nil))
		require.NoError(t, err)
		require.Equal(t, 0, got.Len())
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := decodePoints([]byte{1, 2})
		require.Error(t, err)

		b := encodePoints(models.PointBuffer{1, 2, 3})
		_, err = decodePoints(b[:len(b)-1])
		require.Error(t, err)
	})
}
