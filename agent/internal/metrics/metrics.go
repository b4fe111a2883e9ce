// Package metrics exposes the sentinel's own Prometheus collectors. A batch
// run has no scrape endpoint, so the registry is written to a node-exporter
// textfile after every round.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sentinel"

var (
	roundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of completed sampling rounds.",
		},
	)

	fetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Snapshot fetches that failed, partitioned by service.",
		},
		[]string{"service"},
	)

	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals emitted, partitioned by service, kind and severity.",
		},
		[]string{"service", "kind", "severity"},
	)

	suppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_suppressed_total",
			Help:      "Signals raised by a detector but held back by the cooldown gate.",
		},
		[]string{"service", "kind"},
	)

	roundDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Wall time spent sampling every service once.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	baselinePoints = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baseline_points",
			Help:      "Points currently held in a service's rolling history.",
		},
		[]string{"service", "signal"},
	)
)

// Registry is the registry the sentinel collectors are registered with by
// default; the sampler writes it out with WriteTextfile.
var Registry = prometheus.NewRegistry()

func init() {
	if err := Register(Registry); err != nil {
		panic(fmt.Sprintf("metrics: register default collectors: %v", err))
	}
}

// Register attaches the sentinel collectors to reg.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		roundsTotal,
		fetchFailuresTotal,
		signalsTotal,
		suppressedTotal,
		roundDurationSeconds,
		baselinePoints,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRound records a completed round and its duration.
func ObserveRound(duration time.Duration) {
	roundsTotal.Inc()
	if duration < 0 {
		duration = 0
	}
	roundDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetchFailure counts a failed fetch for service.
func ObserveFetchFailure(service string) {
	fetchFailuresTotal.WithLabelValues(service).Inc()
}

// ObserveSignal counts an emitted signal.
func ObserveSignal(service, kind, severity string) {
	signalsTotal.WithLabelValues(service, kind, severity).Inc()
}

// ObserveSuppressed counts a signal held back by cooldown.
func ObserveSuppressed(service, kind string) {
	suppressedTotal.WithLabelValues(service, kind).Inc()
}

// ObserveBaseline records the current history lengths of service.
func ObserveBaseline(service string, latencyPoints, errorPoints int) {
	baselinePoints.WithLabelValues(service, "latency").Set(float64(latencyPoints))
	baselinePoints.WithLabelValues(service, "error_delta").Set(float64(errorPoints))
}

// WriteTextfile writes every metric of Registry to path in the text
// exposition format. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("metrics: write textfile: %w", err)
	}
	return nil
}
