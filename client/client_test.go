package client

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/geovista/pointstream/models"
)

func TestTilesIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("index is decoded", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/tiles-index", r.URL.Path)
			require.Equal(t, "ds-1", r.URL.Query().Get("dataset"))
			w.Write([]byte(`{"tiles":[{"id":0,"bounds":[0,0,100,100],"center":[50,50]},{"id":1,"bounds":[100,0,200,100]}]}`))
		}))
		defer srv.Close()

		c := NewClient(WithEndpoint(srv.URL))
		tiles, err := c.TilesIndex(ctx, "ds-1")
		require.NoError(t, err)
		require.Len(t, tiles, 2)
		require.Equal(t, orb.Point{50, 50}, tiles[0].Center)

		// center derived from bounds when absent
		require.Equal(t, orb.Point{150, 50}, tiles[1].Center)
	})

	t.Run("index is fetched once per dataset", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Write([]byte(`{"tiles":[]}`))
		}))
		defer srv.Close()

		c := NewClient(WithEndpoint(srv.URL))

		tiles, err := c.TilesIndex(ctx, "ds-1")
		require.NoError(t, err)
		require.Empty(t, tiles)

		_, err = c.TilesIndex(ctx, "ds-1")
		require.NoError(t, err)
		require.Equal(t, int32(1), atomic.LoadInt32(&calls))

		_, err = c.TilesIndex(ctx, "ds-2")
		require.NoError(t, err)
		require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("index failure is typed and not cached", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"tiles":[]}`))
		}))
		defer srv.Close()

		c := NewClient(WithEndpoint(srv.URL))

		_, err := c.TilesIndex(ctx, "ds-1")
		require.Error(t, err)
		require.True(t, errors.IsType(err, models.ErrTypeIndexFetch))

		_, err = c.TilesIndex(ctx, "ds-1")
		require.NoError(t, err)
	})

	t.Run("malformed bounds are rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"tiles":[{"id":0,"bounds":[0,0,100]}]}`))
		}))
		defer srv.Close()

		c := NewClient(WithEndpoint(srv.URL))
		_, err := c.TilesIndex(ctx, "ds-1")
		require.Error(t, err)
		require.True(t, errors.IsType(err, models.ErrTypeIndexFetch))
	})
}

func TestFetchTile(t *testing.T) {
	ctx := context.Background()

	t.Run("points are flattened", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/tile-stream", r.URL.Path)
			require.Equal(t, "7", r.URL.Query().Get("tile"))
			require.Equal(t, "2", r.URL.Query().Get("lod"))
			w.Write([]byte(`{"points":[[1,2,3],[4,5,6],[7]]}`))
		}))
		defer srv.Close()

		c := NewClient(WithEndpoint(srv.URL))
		buf, err := c.FetchTile(ctx, "ds-1", 7, 2)
		require.NoError(t, err)

		// malformed triple is skipped
		require.Equal(t, 2, buf.Len())
		require.Equal(t, models.PointBuffer{1, 2, 3, 4, 5, 6}, buf)
	})

	t.Run("fetch failure is typed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewClient(WithEndpoint(srv.URL))
		_, err := c.FetchTile(ctx, "ds-1", 0, 0)
		require.Error(t, err)
		require.True(t, errors.IsType(err, models.ErrTypeTileFetch))
	})

	t.Run("gzip body is decoded", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")

			var body bytes.Buffer
			gz := gzip.NewWriter(&body)
			gz.Write([]byte(`{"points":[[1,2,3]]}`))
			gz.Close()

			w.Header().Set("Content-Encoding", "gzip")
			w.Write(body.Bytes())
		}))
		defer srv.Close()

		c := NewClient(WithEndpoint(srv.URL))
		buf, err := c.FetchTile(ctx, "ds-1", 0, 0)
		require.NoError(t, err)
		require.Equal(t, 1, buf.Len())
	})
}

func TestOctreeLevel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/octree-level", r.URL.Path)
		require.Equal(t, "3", r.URL.Query().Get("level"))
		w.Write([]byte(`{"points":[[1,2,3],[4,5,6]]}`))
	}))
	defer srv.Close()

	c := NewClient(WithEndpoint(srv.URL))
	buf, err := c.OctreeLevel(context.Background(), "ds-1", 3)
	require.NoError(t, err)
	require.Equal(t, 2, buf.Len())
}

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/viewshed", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"cells":42}`))
	}))
	defer srv.Close()

	c := NewClient(WithEndpoint(srv.URL))
	res, err := c.Analyze(context.Background(), "ds-1", OpViewshed, []byte(`{"observer":[0,0,10]}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"cells":42}`, string(res))
}

func TestUpload(t *testing.T) {
	t.Run("dataset id is returned", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/upload", r.URL.Path)
			require.NoError(t, r.ParseMultipartForm(1<<20))

			f, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer f.Close()
			require.Equal(t, "scan.las", header.Filename)

			w.Write([]byte(`{"dataset_id":"ds-9"}`))
		}))
		defer srv.Close()

		c := NewClient(WithEndpoint(srv.URL))
		id, err := c.Upload(context.Background(), "scan.las", strings.NewReader("LASF"))
		require.NoError(t, err)
		require.Equal(t, "ds-9", id)
	})

	t.Run("missing dataset id is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		c := NewClient(WithEndpoint(srv.URL))
		_, err := c.Upload(context.Background(), "scan.las", strings.NewReader("LASF"))
		require.Error(t, err)
	})
}
