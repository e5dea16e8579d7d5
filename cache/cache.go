package cache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/klauspost/compress/zstd"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/geovista/pointstream/models"
)

// TileCache persists fetched point buffers across sessions so a reopened
// dataset does not refetch tiles the server already delivered. Payloads are
// zstd-compressed. Rows past the cap are evicted least recently used.
type TileCache struct {
	db      *sql.DB
	maxRows int
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

// Open opens or creates a tile cache at the given path. maxRows caps the
// number of cached (dataset, tile, lod) rows, 0 keeps the cache unbounded.
func Open(path string, maxRows int) (*TileCache, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode=WAL&_pragma=busy_timeout=5000")
	if err != nil {
		return nil, errors.New("opening tile cache failed").
			WithTag("path", path).
			Wrap(err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS tiles (
		dataset TEXT NOT NULL,
		tile INTEGER NOT NULL,
		lod INTEGER NOT NULL,
		points BLOB NOT NULL,
		last_access INTEGER NOT NULL,
		PRIMARY KEY (dataset, tile, lod)
	)`)
	if err != nil {
		db.Close()
		return nil, errors.New("creating tile cache schema failed").Wrap(err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, errors.New("creating zstd encoder failed").Wrap(err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, errors.New("creating zstd decoder failed").Wrap(err)
	}

	return &TileCache{
		db:      db,
		maxRows: maxRows,
		enc:     enc,
		dec:     dec,
	}, nil
}

func (c *TileCache) Close() error {
	c.enc.Close()
	c.dec.Close()
	return c.db.Close()
}

// Get returns the cached buffer for the key and refreshes its access time.
func (c *TileCache) Get(ctx context.Context, datasetID string, key models.TileKey) (models.PointBuffer, bool, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT points FROM tiles WHERE dataset = ? AND tile = ? AND lod = ?`,
		datasetID, key.Tile, key.LOD,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.New("reading tile cache failed").Wrap(err)
	}

	_, err = c.db.ExecContext(ctx,
		`UPDATE tiles SET last_access = unixepoch('subsec') * 1000 WHERE dataset = ? AND tile = ? AND lod = ?`,
		datasetID, key.Tile, key.LOD,
	)
	if err != nil {
		return nil, false, errors.New("touching tile cache row failed").Wrap(err)
	}

	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, false, errors.New("decompressing cached tile failed").Wrap(err)
	}

	points, err := decodePoints(raw)
	if err != nil {
		return nil, false, err
	}
	return points, true, nil
}

// Put stores the buffer for the key and evicts the least recently used rows
// past the cap.
func (c *TileCache) Put(ctx context.Context, datasetID string, key models.TileKey, points models.PointBuffer) error {
	blob := c.enc.EncodeAll(encodePoints(points), nil)

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO tiles (dataset, tile, lod, points, last_access)
		 VALUES (?, ?, ?, ?, unixepoch('subsec') * 1000)
		 ON CONFLICT (dataset, tile, lod)
		 DO UPDATE SET points = excluded.points, last_access = excluded.last_access`,
		datasetID, key.Tile, key.LOD, blob,
	)
	if err != nil {
		return errors.New("writing tile cache failed").Wrap(err)
	}

	return c.evict(ctx)
}

func (c *TileCache) evict(ctx context.Context) error {
	if c.maxRows == 0 {
		return nil
	}

	_, err := c.db.ExecContext(ctx,
		`DELETE FROM tiles WHERE rowid IN (
			SELECT rowid FROM tiles ORDER BY last_access DESC LIMIT -1 OFFSET ?
		)`, c.maxRows)
	if err != nil {
		return errors.New("evicting tile cache rows failed").Wrap(err)
	}
	return nil
}

// Len returns the number of cached rows.
func (c *TileCache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tiles`).Scan(&n); err != nil {
		return 0, errors.New("counting tile cache rows failed").Wrap(err)
	}
	return n, nil
}

func encodePoints(points models.PointBuffer) []byte {
	b := make([]byte, 4, 4+len(points)*8)
	binary.LittleEndian.PutUint32(b, uint32(points.Len()))
	for _, v := range points {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}
	return b
}

func decodePoints(b []byte) (models.PointBuffer, error) {
	if len(b) < 4 {
		return nil, errors.New("cached tile payload is truncated")
	}

	n := int(binary.LittleEndian.Uint32(b))
	b = b[4:]
	if len(b) != n*3*8 {
		return nil, errors.New("cached tile payload size mismatch").
			WithTag("points", n).
			WithTag("bytes", len(b))
	}

	points := models.NewPointBuffer(n)
	for i := 0; i < n*3; i++ {
		points = append(points, math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:])))
	}
	return points, nil
}
