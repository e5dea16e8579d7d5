package smoketest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"

	"github.com/geovista/pointstream/models"
)

func TestRun(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		upstream := &fakeUpstream{
			tiles:  []models.Tile{models.NewTile(7, 0, 0, 10, 10)},
			points: models.PointBuffer{1, 2, 3, 4, 5, 6},
		}

		res := Run(context.Background(), Options{
			Endpoint: "http://upstream",
			Index:    upstream,
			Fetcher:  upstream,
		}, "ds-1")

		require.Equal(t, StatusSuccess, res.Status)
		require.Equal(t, "ds-1", res.Dataset)
		require.Equal(t, 1, res.TileCount)
		require.Equal(t, 2, res.PointCount)
		require.Equal(t, uint32(7), upstream.fetchedTile)
		require.Equal(t, 0, upstream.fetchedLOD)
	})

	t.Run("empty index", func(t *testing.T) {
		upstream := &fakeUpstream{}

		res := Run(context.Background(), Options{
			Endpoint: "http://upstream",
			Index:    upstream,
			Fetcher:  upstream,
		}, "ds-1")

		require.Equal(t, StatusSuccess, res.Status)
		require.Zero(t, res.TileCount)
		require.Zero(t, res.PointCount)
	})

	t.Run("index failure", func(t *testing.T) {
		upstream := &fakeUpstream{indexErr: errors.New("upstream down")}

		res := Run(context.Background(), Options{
			Endpoint: "http://upstream",
			Index:    upstream,
			Fetcher:  upstream,
		}, "ds-1")

		require.Equal(t, StatusFailure, res.Status)
		require.NotEmpty(t, res.Error)
	})

	t.Run("tile failure", func(t *testing.T) {
		upstream := &fakeUpstream{
			tiles:    []models.Tile{models.NewTile(7, 0, 0, 10, 10)},
			fetchErr: errors.New("tile gone"),
		}

		res := Run(context.Background(), Options{
			Endpoint: "http://upstream",
			Index:    upstream,
			Fetcher:  upstream,
		}, "ds-1")

		require.Equal(t, StatusFailure, res.Status)
		require.Equal(t, 1, res.TileCount)
	})
}

func TestHandleSmokeTest(t *testing.T) {
	upstream := &fakeUpstream{
		tiles:  []models.Tile{models.NewTile(7, 0, 0, 10, 10)},
		points: models.PointBuffer{1, 2, 3},
	}
	handler := HandleSmokeTest(Options{
		Endpoint: "http://upstream",
		Dataset:  "ds-default",
		Index:    upstream,
		Fetcher:  upstream,
	})

	t.Run("default dataset", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/smoke-test", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var res Results
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		require.Equal(t, "ds-default", res.Dataset)
		require.Equal(t, StatusSuccess, res.Status)
	})

	t.Run("dataset override", func(t *testing.T) {
		body, err := json.Marshal(Request{Dataset: "ds-other", TimeoutMs: 500})
		require.NoError(t, err)

		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/smoke-test", bytes.NewReader(body)))
		require.Equal(t, http.StatusOK, w.Code)

		var res Results
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		require.Equal(t, "ds-other", res.Dataset)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/smoke-test", bytes.NewReader([]byte("{"))))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

type fakeUpstream struct {
	tiles    []models.Tile
	points   models.PointBuffer
	indexErr error
	fetchErr error

	fetchedTile uint32
	fetchedLOD  int
}

func (f *fakeUpstream) TilesIndex(ctx context.Context, datasetID string) ([]models.Tile, error) {
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	return f.tiles, nil
}

func (f *fakeUpstream) FetchTile(ctx context.Context, datasetID string, tileID uint32, lod int) (models.PointBuffer, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.fetchedTile = tileID
	f.fetchedLOD = lod
	return f.points, nil
}
