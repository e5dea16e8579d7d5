package smoketest

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"

	"github.com/geovista/pointstream/stream"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"

	defaultTimeout = time.Second * 10
)

// Options configures the upstream smoke test.
type Options struct {
	// The upstream endpoint, reported in results.
	Endpoint string

	// The dataset probed by default.
	Dataset string

	Index   stream.IndexLoader
	Fetcher stream.TileFetcher
}

// Request overrides the probed dataset and timeout per run.
type Request struct {
	Dataset   string `json:"dataset"`
	TimeoutMs int    `json:"timeout_ms"`
}

// Results is the outcome of one smoke test run.
type Results struct {
	Endpoint string `json:"endpoint"`
	Dataset  string `json:"dataset"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`

	TileCount  int `json:"tile_count"`
	PointCount int `json:"point_count"`

	IndexLatencyMilliSec float64 `json:"index_latency_ms"`
	TileLatencyMilliSec  float64 `json:"tile_latency_ms"`
}

// Run probes the upstream: it fetches the dataset's tile index and, when the
// index is not empty, the full-detail buffer of its first tile.
func Run(ctx context.Context, opts Options, dataset string) Results {
	res := Results{
		Endpoint: opts.Endpoint,
		Dataset:  dataset,
		Status:   StatusSuccess,
	}

	start := time.Now()
	tiles, err := opts.Index.TilesIndex(ctx, dataset)
	res.IndexLatencyMilliSec = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		res.Status = StatusFailure
		res.Error = err.Error()
		return res
	}
	res.TileCount = len(tiles)

	if len(tiles) == 0 {
		return res
	}

	start = time.Now()
	points, err := opts.Fetcher.FetchTile(ctx, dataset, tiles[0].ID, 0)
	res.TileLatencyMilliSec = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		res.Status = StatusFailure
		res.Error = err.Error()
		return res
	}
	res.PointCount = points.Len()

	return res
}

// HandleSmokeTest runs the smoke test on demand and writes the results.
func HandleSmokeTest(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		dataset := req.Dataset
		if dataset == "" {
			dataset = opts.Dataset
		}

		timeout := defaultTimeout
		if req.TimeoutMs > 0 {
			timeout = time.Duration(req.TimeoutMs) * time.Millisecond
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		res := Run(ctx, opts, dataset)
		if res.Status != StatusSuccess {
			logs.WithTag("endpoint", opts.Endpoint).
				WithTag("dataset", dataset).
				Warn(errors.New("smoke test failed").
					WithTag("smoke_test_error", res.Error))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(res)
	}
}
