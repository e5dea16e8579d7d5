package stream

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	datasetLabel = "dataset"
	errTypeLabel = "error_type"
)

var (
	tileFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_fetches",
		Help: "The number of tile fetches issued upstream.",
	}, []string{
		datasetLabel,
	})

	tileFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_fetch_errors",
		Help: "The errors that occured while fetching a tile.",
	}, []string{
		datasetLabel,
		errTypeLabel,
	})

	tileFetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "tile_fetch_latency",
		Help: "The time to fetch a tile level.",
	}, []string{
		datasetLabel,
	})

	staleResponsesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stale_responses_dropped",
		Help: "The number of fetch completions dropped because their dataset session was superseded.",
	}, []string{
		datasetLabel,
	})

	loadedTileKeys = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loaded_tile_keys",
		Help: "The number of resident (tile, level) keys.",
	}, []string{
		datasetLabel,
	})

	evictedTileKeys = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evicted_tile_keys",
		Help: "The number of (tile, level) keys evicted to bound memory.",
	}, []string{
		datasetLabel,
	})

	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "tick_duration",
		Help: "The time to resolve a streaming tick.",
	}, []string{
		datasetLabel,
	})
)

func instrumentTileFetch(dataset string, start time.Time) {
	tileFetches.
		With(prometheus.Labels{datasetLabel: dataset}).
		Inc()
	tileFetchLatency.
		With(prometheus.Labels{datasetLabel: dataset}).
		Observe(time.Since(start).Seconds())
}

func instrumentTileFetchError(dataset string, err error) {
	tileFetchErrors.
		With(prometheus.Labels{
			datasetLabel: dataset,
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}

func instrumentStaleDrop(dataset string) {
	staleResponsesDropped.
		With(prometheus.Labels{datasetLabel: dataset}).
		Inc()
}

func instrumentLoadedKeys(dataset string, n int) {
	loadedTileKeys.
		With(prometheus.Labels{datasetLabel: dataset}).
		Set(float64(n))
}

func instrumentEviction(dataset string) {
	evictedTileKeys.
		With(prometheus.Labels{datasetLabel: dataset}).
		Inc()
}

func instrumentTick(dataset string, start time.Time) {
	tickDuration.
		With(prometheus.Labels{datasetLabel: dataset}).
		Observe(time.Since(start).Seconds())
}
