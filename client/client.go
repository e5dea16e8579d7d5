package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"github.com/segmentio/encoding/json"

	"github.com/geovista/pointstream/models"
)

// Client talks to the upstream LIDAR analysis API. The streaming endpoints
// (tiles-index, tile-stream, octree-level) are typed, the analysis surface is
// passed through as opaque JSON.
type Client struct {
	endpoint    string
	userAgent   string
	httpClient  *http.Client
	encoder     func(any) ([]byte, error)
	decoder     func([]byte, any) error
	compression bool

	indexMutex sync.Mutex
	indexes    map[string]*indexEntry
}

// The tile index is fetched at most once per dataset. The per-entry mutex
// guarantees a single outstanding index fetch; only successful results are
// cached.
type indexEntry struct {
	mutex  sync.Mutex
	tiles  []models.Tile
	loaded bool
}

type Option func(*Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Transport: transport}
	}
}

func WithEncoder(encoder func(any) ([]byte, error)) Option {
	return func(c *Client) {
		c.encoder = encoder
	}
}

func WithDecoder(decoder func([]byte, any) error) Option {
	return func(c *Client) {
		c.decoder = decoder
	}
}

// WithoutCompression disables gzip transfer of point payloads.
func WithoutCompression() Option {
	return func(c *Client) {
		c.compression = false
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:  http.DefaultClient,
		encoder:     json.Marshal,
		decoder:     json.Unmarshal,
		compression: true,
		indexes:     make(map[string]*indexEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type wireTile struct {
	ID     uint32    `json:"id"`
	Bounds []float64 `json:"bounds"`
	Center []float64 `json:"center"`
}

type wireIndex struct {
	Tiles []wireTile `json:"tiles"`
}

type wirePoints struct {
	Points [][]float64 `json:"points"`
}

// TilesIndex returns the tile index of a dataset. The index is fetched once
// and cached for the lifetime of the client; an empty index means there is
// nothing to stream, not an error.
func (c *Client) TilesIndex(ctx context.Context, datasetID string) ([]models.Tile, error) {
	c.indexMutex.Lock()
	entry, ok := c.indexes[datasetID]
	if !ok {
		entry = &indexEntry{}
		c.indexes[datasetID] = entry
	}
	c.indexMutex.Unlock()

	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	if entry.loaded {
		return entry.tiles, nil
	}

	q := url.Values{}
	q.Set("dataset", datasetID)

	var index wireIndex
	if err := c.get(ctx, "tiles-index", q, &index); err != nil {
		return nil, errors.New("fetching tile index failed").
			WithType(models.ErrTypeIndexFetch).
			WithTag("dataset", datasetID).
			Wrap(err)
	}

	tiles := make([]models.Tile, 0, len(index.Tiles))
	for _, wt := range index.Tiles {
		if len(wt.Bounds) != 4 {
			return nil, errors.New("malformed tile bounds").
				WithType(models.ErrTypeIndexFetch).
				WithTag("dataset", datasetID).
				WithTag("tile", wt.ID)
		}

		tile := models.NewTile(wt.ID, wt.Bounds[0], wt.Bounds[1], wt.Bounds[2], wt.Bounds[3])
		if len(wt.Center) == 2 {
			tile.Center = orb.Point{wt.Center[0], wt.Center[1]}
		}
		tiles = append(tiles, tile)
	}

	entry.tiles = tiles
	entry.loaded = true
	return tiles, nil
}

// FetchTile returns the point buffer of a (tile, level) pair.
func (c *Client) FetchTile(ctx context.Context, datasetID string, tileID uint32, lod int) (models.PointBuffer, error) {
	q := url.Values{}
	q.Set("dataset", datasetID)
	q.Set("tile", strconv.FormatUint(uint64(tileID), 10))
	q.Set("lod", strconv.Itoa(lod))

	var points wirePoints
	if err := c.get(ctx, "tile-stream", q, &points); err != nil {
		return nil, errors.New("fetching tile failed").
			WithType(models.ErrTypeTileFetch).
			WithTag("dataset", datasetID).
			WithTag("tile", tileID).
			WithTag("lod", lod).
			Wrap(err)
	}

	return flattenPoints(points.Points), nil
}

// OctreeLevel returns a whole octree level, the non-tiled streaming path.
func (c *Client) OctreeLevel(ctx context.Context, datasetID string, level int) (models.PointBuffer, error) {
	q := url.Values{}
	q.Set("dataset", datasetID)
	q.Set("level", strconv.Itoa(level))

	var points wirePoints
	if err := c.get(ctx, "octree-level", q, &points); err != nil {
		return nil, errors.New("fetching octree level failed").
			WithType(models.ErrTypeTileFetch).
			WithTag("dataset", datasetID).
			WithTag("level", level).
			Wrap(err)
	}

	return flattenPoints(points.Points), nil
}

func flattenPoints(points [][]float64) models.PointBuffer {
	buf := models.NewPointBuffer(len(points))
	for _, p := range points {
		if len(p) < 3 {
			continue
		}
		buf = buf.Append(p[0], p[1], p[2])
	}
	return buf
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path, query), nil)
	if err != nil {
		return errors.New("creating request failed").Wrap(err)
	}

	b, err := c.do(req)
	if err != nil {
		return err
	}

	if err := c.decoder(b, out); err != nil {
		return errors.New("decoding response failed").Wrap(err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.compression {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.New("sending request failed").Wrap(err)
	}
	defer res.Body.Close()

	body := res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(res.Body)
		if err != nil {
			return nil, errors.New("opening gzip body failed").Wrap(err)
		}
		defer gz.Close()
		body = gz
	}

	b, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.New("reading response body failed").Wrap(err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, errors.New("request failed").
			WithTag("status_code", res.StatusCode).
			WithTag("body", string(b))
	}
	return b, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := fmt.Sprintf("%s/%s", c.endpoint, path)
	if len(query) != 0 {
		u += "?" + query.Encode()
	}
	return u
}
