package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	datasetLabel = "dataset"
)

var (
	sessionCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "session_count",
		Help: "The number of active dataset sessions.",
	}, []string{datasetLabel})

	sessionCountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_count_total",
		Help: "The total number of dataset sessions.",
	}, []string{datasetLabel})
)

func instrumentIncreaseSessionGauge(dataset string) {
	sessionCount.
		With(prometheus.Labels{datasetLabel: dataset}).
		Inc()
}

func instrumentDecreaseSessionGauge(dataset string) {
	sessionCount.
		With(prometheus.Labels{datasetLabel: dataset}).
		Dec()
}

func instrumentCountSession(dataset string) {
	sessionCountTotal.
		With(prometheus.Labels{datasetLabel: dataset}).
		Inc()
}
