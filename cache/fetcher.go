package cache

import (
	"context"

	"github.com/aukilabs/go-tooling/pkg/logs"

	"github.com/geovista/pointstream/models"
	"github.com/geovista/pointstream/stream"
)

// FetcherWithCache decorates a tile fetcher with the persistent cache:
// cache hits skip the network, network results populate the cache. Cache
// errors degrade to the plain fetcher, they never fail a fetch.
func FetcherWithCache(f stream.TileFetcher, c *TileCache) stream.TileFetcher {
	return &cachedFetcher{
		fetcher: f,
		cache:   c,
	}
}

type cachedFetcher struct {
	fetcher stream.TileFetcher
	cache   *TileCache
}

func (f *cachedFetcher) FetchTile(ctx context.Context, datasetID string, tileID uint32, lod int) (models.PointBuffer, error) {
	key := models.TileKey{Tile: tileID, LOD: lod}

	points, ok, err := f.cache.Get(ctx, datasetID, key)
	if err != nil {
		logs.WithTag("dataset", datasetID).
			WithTag("tile", tileID).
			WithTag("lod", lod).
			Debug(err)
	}
	if ok {
		instrumentCacheHit(datasetID)
		return points, nil
	}
	instrumentCacheMiss(datasetID)

	points, err = f.fetcher.FetchTile(ctx, datasetID, tileID, lod)
	if err != nil {
		return nil, err
	}

	if err := f.cache.Put(ctx, datasetID, key, points); err != nil {
		logs.WithTag("dataset", datasetID).
			WithTag("tile", tileID).
			WithTag("lod", lod).
			Debug(err)
	}
	return points, nil
}
