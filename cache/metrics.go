package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	datasetLabel = "dataset"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_cache_hits",
		Help: "The number of tile fetches served from the persistent cache.",
	}, []string{datasetLabel})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_cache_misses",
		Help: "The number of tile fetches that went upstream.",
	}, []string{datasetLabel})
)

func instrumentCacheHit(dataset string) {
	cacheHits.
		With(prometheus.Labels{datasetLabel: dataset}).
		Inc()
}

func instrumentCacheMiss(dataset string) {
	cacheMisses.
		With(prometheus.Labels{datasetLabel: dataset}).
		Inc()
}
