package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "niimbot",
			Subsystem: "protocol",
			Name:      "frames_total",
			Help:      "Frames extracted from the transport stream, by response code.",
		},
		[]string{"code"},
	)
	packetsUndecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "niimbot",
			Subsystem: "protocol",
			Name:      "undecoded_packets_total",
			Help:      "Valid frames no decoder accepted.",
		},
		[]string{"code"},
	)
	resyncBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "niimbot",
			Subsystem: "protocol",
			Name:      "resync_dropped_bytes_total",
			Help:      "Bytes discarded while resynchronizing on a start marker.",
		},
	)
	correlations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "niimbot",
			Subsystem: "correlator",
			Name:      "exchanges_total",
			Help:      "Correlated command exchanges by event key and result.",
		},
		[]string{"key", "result"},
	)
	correlationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "niimbot",
			Subsystem: "correlator",
			Name:      "exchange_duration_seconds",
			Help:      "Time from send to outcome of a correlated exchange.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"key"},
	)
	jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "niimbot",
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Print jobs by final state and result.",
		},
		[]string{"state", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesDecoded, packetsUndecoded, resyncBytes,
			correlations, correlationDuration, jobs)
	})
}

func RecordFrame(code string) {
	RegisterMetrics()
	framesDecoded.WithLabelValues(code).Inc()
}

func RecordUndecoded(code string) {
	RegisterMetrics()
	packetsUndecoded.WithLabelValues(code).Inc()
}

func RecordResync(n uint64) {
	if n == 0 {
		return
	}
	RegisterMetrics()
	resyncBytes.Add(float64(n))
}

func RecordCorrelation(key, result string, duration time.Duration) {
	RegisterMetrics()
	correlations.WithLabelValues(key, result).Inc()
	correlationDuration.WithLabelValues(key).Observe(duration.Seconds())
}

func RecordJob(state, result string) {
	RegisterMetrics()
	jobs.WithLabelValues(state, result).Inc()
}
