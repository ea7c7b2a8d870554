package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// KeysAdded tracks keys seen for the first time, by backend
	KeysAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_dedup_new_total",
			Help: "Total number of rows kept by the dedup key set",
		},
		[]string{"backend"}, // "memory", "redis", "sqlite"
	)

	// Duplicates tracks rows dropped as duplicates, by backend
	Duplicates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_dedup_duplicates_total",
			Help: "Total number of duplicate rows dropped",
		},
		[]string{"backend"},
	)

	// Errors tracks key set operation errors
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_dedup_errors_total",
			Help: "Total number of dedup key set errors",
		},
		[]string{"backend", "operation"}, // "add", "len", "close"
	)
)

func observeAdd(backend string, added bool) {
	if added {
		KeysAdded.WithLabelValues(backend).Inc()
		return
	}
	Duplicates.WithLabelValues(backend).Inc()
}
