// Package metrics records store, loader and cache activity in a Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "cvstore"

// Outcomes of a store attempt.
const (
	OutcomeCommitted = "committed"
	OutcomeUnchanged = "unchanged"
	OutcomeConflict  = "conflict"
	OutcomeTransient = "transient"
	OutcomeFailed    = "failed"
)

// Sources of a loaded dataset.
const (
	SourceRemote = "remote"
	SourceMirror = "mirror"
	SourceCache  = "cache"
)

type Metrics struct {
	Registry *prometheus.Registry

	attempts      *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
	shardFailures *prometheus.CounterVec
	loads         *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

// New creates the collectors and registers them in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "attempts_total",
			Help:      "Read-modify-write attempts by collection and outcome.",
		}, []string{"collection", "outcome"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "write_duration_seconds",
			Help:      "Duration of whole store operations including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"collection", "op"}),
		shardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "shard_failures_total",
			Help:      "Shards skipped while loading a collection, by failure kind.",
		}, []string{"collection", "kind"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "loads_total",
			Help:      "Datasets served, by source.",
		}, []string{"collection", "source"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
	}

	m.Registry.MustRegister(m.attempts, m.writeDuration, m.shardFailures, m.loads, m.cacheLookups)
	return m
}

func (m *Metrics) Attempt(collection, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(collection, outcome).Inc()
}

func (m *Metrics) ObserveWrite(collection, op string, seconds float64) {
	if m == nil {
		return
	}
	m.writeDuration.WithLabelValues(collection, op).Observe(seconds)
}

func (m *Metrics) ShardFailure(collection, kind string) {
	if m == nil {
		return
	}
	m.shardFailures.WithLabelValues(collection, kind).Inc()
}

func (m *Metrics) Load(collection, source string) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(collection, source).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Dump writes every gathered family in the Prometheus text format.
func (m *Metrics) Dump(w io.Writer) error {
	if m == nil {
		return nil
	}

	families, err := m.Registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return fmt.Errorf("writing metric %s: %w", family.GetName(), err)
		}
	}
	return nil
}
