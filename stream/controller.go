package stream

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"

	"github.com/geovista/pointstream/featureflag"
	"github.com/geovista/pointstream/models"
)

// State is the streaming controller lifecycle state.
type State int

const (
	// No tile index. Ticks are no-ops.
	StateIdle State = iota

	// The tile index is loaded, no fetch is in flight.
	StateIndexed

	// Visible tiles are being resolved.
	StateStreaming
)

// IndexLoader loads the tile index of a dataset.
type IndexLoader interface {
	TilesIndex(ctx context.Context, datasetID string) ([]models.Tile, error)
}

// TileFetcher fetches the point buffer of a (tile, level) pair.
type TileFetcher interface {
	FetchTile(ctx context.Context, datasetID string, tileID uint32, lod int) (models.PointBuffer, error)
}

// Target receives resolved point buffers. Merge and Evict are called under
// the controller lock, in completion order.
type Target interface {
	Merge(key models.TileKey, points models.PointBuffer)
	Evict(key models.TileKey)
}

// Controller resolves visible tiles against their selected detail level and
// keeps the target eventually consistent with camera movement. It holds the
// per-dataset streaming state: created when a dataset is selected, closed
// when the dataset changes or the viewer leaves.
type Controller struct {
	// The dataset this controller streams.
	Dataset string

	// Loads the tile index, once.
	Index IndexLoader

	// Fetches missing (tile, level) pairs.
	Fetcher TileFetcher

	// Receives merged point buffers.
	Target Target

	// The streaming constants. Zero value falls back to DefaultTuning.
	Tuning Tuning

	FeatureFlags featureflag.FeatureFlag

	initOnce sync.Once
	lod      LODSelector

	mutex      sync.Mutex
	state      State
	tiles      []models.Tile
	loaded     map[models.TileKey]*list.Element
	lru        *list.List
	inflight   map[models.TileKey]struct{}
	cooldowns  map[models.TileKey]*cooldown
	lastTick   time.Time
	generation uint64
	closed     bool
}

type cooldown struct {
	failures int
	until    time.Time
}

func (c *Controller) init() {
	c.initOnce.Do(func() {
		if c.Tuning.MinTickInterval == 0 && c.Tuning.LODBreakpoints == nil {
			c.Tuning = DefaultTuning()
		}

		lod, err := NewLODSelector(c.Tuning.LODBreakpoints...)
		if err != nil {
			lod = DefaultLODSelector()
		}
		c.lod = lod

		c.loaded = make(map[models.TileKey]*list.Element)
		c.lru = list.New()
		c.inflight = make(map[models.TileKey]struct{})
		c.cooldowns = make(map[models.TileKey]*cooldown)
	})
}

// LoadIndex fetches the dataset's tile index and moves the controller from
// Idle to Indexed. An empty index is not an error: there is nothing to
// stream. Calling it again once indexed is a no-op.
func (c *Controller) LoadIndex(ctx context.Context) error {
	c.init()

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return errors.New("controller is closed").
			WithType(models.ErrTypeStaleResponse).
			WithTag("dataset", c.Dataset)
	}
	if c.state != StateIdle {
		c.mutex.Unlock()
		return nil
	}
	c.mutex.Unlock()

	tiles, err := c.Index.TilesIndex(ctx, c.Dataset)
	if err != nil {
		return errors.New("loading tile index failed").
			WithType(models.ErrTypeIndexFetch).
			WithTag("dataset", c.Dataset).
			Wrap(err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed || c.state != StateIdle {
		return nil
	}
	c.tiles = tiles
	c.state = StateIndexed

	logs.WithTag("dataset", c.Dataset).
		WithTag("tile_count", len(tiles)).
		Info("tile index loaded")
	return nil
}

// Tick resolves the camera pose against the tile index: visible tiles times
// their selected detail level, minus what is already loaded or in flight.
// Missing pairs are fetched concurrently; completions merge into the target
// whenever they land. Ticks within the minimum interval of the last resolved
// tick are no-ops.
func (c *Controller) Tick(ctx context.Context, cam Camera) {
	c.init()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed || c.state == StateIdle {
		return
	}
	now := time.Now()
	if now.Sub(c.lastTick) < c.Tuning.MinTickInterval {
		return
	}
	c.lastTick = now

	start := time.Now()
	defer instrumentTick(c.Dataset, start)

	visible := VisibleTiles(c.tiles, cam.Frustum(), c.Tuning.TileMargin)

	for _, tile := range visible {
		key := models.TileKey{
			Tile: tile.ID,
			LOD:  c.lod.Select(cam.HorizontalDistance(tile)),
		}

		if el, ok := c.loaded[key]; ok {
			// Still required, so keep it at the warm end of the LRU.
			c.lru.MoveToBack(el)
			continue
		}
		if _, ok := c.inflight[key]; ok {
			continue
		}
		if c.coolingDown(key) {
			continue
		}

		c.inflight[key] = struct{}{}
		c.state = StateStreaming

		go c.fetch(ctx, c.generation, key)
	}
}

func (c *Controller) coolingDown(key models.TileKey) bool {
	if c.FeatureFlags.IsSet(featureflag.FlagDisableFetchBackoff) {
		return false
	}

	cd, ok := c.cooldowns[key]
	return ok && time.Now().Before(cd.until)
}

func (c *Controller) fetch(ctx context.Context, generation uint64, key models.TileKey) {
	start := time.Now()
	points, err := c.Fetcher.FetchTile(ctx, c.Dataset, key.Tile, key.LOD)
	c.complete(generation, key, points, err, start)
}

func (c *Controller) complete(generation uint64, key models.TileKey, points models.PointBuffer, err error, start time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.inflight, key)
	if len(c.inflight) == 0 && c.state == StateStreaming {
		c.state = StateIndexed
	}

	if c.closed || generation != c.generation {
		instrumentStaleDrop(c.Dataset)
		logs.WithTag("dataset", c.Dataset).
			WithTag("tile", key.Tile).
			WithTag("lod", key.LOD).
			Debug("stale fetch completion dropped")
		return
	}

	if err != nil {
		// The key stays unloaded, a later tick retries it once the
		// cooldown elapses.
		instrumentTileFetchError(c.Dataset, err)
		c.recordFailure(key)
		logs.WithTag("dataset", c.Dataset).
			WithTag("tile", key.Tile).
			WithTag("lod", key.LOD).
			Debug(errors.New("tile fetch failed").
				WithType(models.ErrTypeTileFetch).
				Wrap(err))
		return
	}

	delete(c.cooldowns, key)
	c.loaded[key] = c.lru.PushBack(key)
	c.Target.Merge(key, points)

	instrumentTileFetch(c.Dataset, start)
	c.evictOverCap()
	instrumentLoadedKeys(c.Dataset, len(c.loaded))
}

func (c *Controller) recordFailure(key models.TileKey) {
	cd, ok := c.cooldowns[key]
	if !ok {
		cd = &cooldown{}
		c.cooldowns[key] = cd
	}

	wait := c.Tuning.FetchCooldown << cd.failures
	if wait > c.Tuning.MaxFetchCooldown || wait <= 0 {
		wait = c.Tuning.MaxFetchCooldown
	}
	cd.failures++
	cd.until = time.Now().Add(wait)
}

func (c *Controller) evictOverCap() {
	if c.Tuning.MaxLoadedKeys == 0 {
		return
	}
	if c.FeatureFlags.IsSet(featureflag.FlagDisableEviction) {
		return
	}

	for len(c.loaded) > c.Tuning.MaxLoadedKeys {
		oldest := c.lru.Front()
		if oldest == nil {
			return
		}
		key := c.lru.Remove(oldest).(models.TileKey)
		delete(c.loaded, key)
		c.Target.Evict(key)
		instrumentEviction(c.Dataset)
	}
}

// Close supersedes the controller. In-flight completions observing an older
// generation are discarded instead of merged.
func (c *Controller) Close() {
	c.init()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.closed = true
	c.generation++
	c.state = StateIdle
	c.tiles = nil
	c.loaded = make(map[models.TileKey]*list.Element)
	c.lru = list.New()
	c.cooldowns = make(map[models.TileKey]*cooldown)
	instrumentLoadedKeys(c.Dataset, 0)
}

// TileCount returns the size of the loaded tile index.
func (c *Controller) TileCount() int {
	c.init()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.tiles)
}

// State returns the controller lifecycle state.
func (c *Controller) State() State {
	c.init()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.state
}

// IsLoaded reports whether the given key is resident.
func (c *Controller) IsLoaded(key models.TileKey) bool {
	c.init()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, ok := c.loaded[key]
	return ok
}

// LoadedCount returns the number of resident keys.
func (c *Controller) LoadedCount() int {
	c.init()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.loaded)
}

// InflightCount returns the number of fetches not yet completed.
func (c *Controller) InflightCount() int {
	c.init()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.inflight)
}
