package store

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the optional instrumentation set for one store instance.
// Attach it with WithMetrics; the store refreshes the gauges after every
// mutation while it holds its lock.
type Metrics struct {
	LiveObjects    prometheus.Gauge
	LiveBytes      prometheus.Gauge
	DeletedObjects prometheus.Gauge
	DeletedBytes   prometheus.Gauge
	Compactions    prometheus.Counter
	ReclaimedBytes prometheus.Counter
}

// NewMetrics builds the metric set and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LiveObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "packfs",
			Name:      "live_objects",
			Help:      "Number of live objects in the archive.",
		}),
		LiveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "packfs",
			Name:      "live_bytes",
			Help:      "Total payload bytes of live objects.",
		}),
		DeletedObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "packfs",
			Name:      "deleted_objects",
			Help:      "Number of tombstoned records awaiting compaction.",
		}),
		DeletedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "packfs",
			Name:      "deleted_bytes",
			Help:      "Payload bytes held by tombstoned records.",
		}),
		Compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "packfs",
			Name:      "compactions_total",
			Help:      "Number of compactions run.",
		}),
		ReclaimedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "packfs",
			Name:      "reclaimed_bytes_total",
			Help:      "Payload bytes reclaimed by compactions.",
		}),
	}
	reg.MustRegister(m.LiveObjects, m.LiveBytes, m.DeletedObjects, m.DeletedBytes, m.Compactions, m.ReclaimedBytes)
	return m
}

// observeMetrics refreshes the gauges from the index and counters.
// Caller holds the lock in either mode.
func (s *Store) observeMetrics() {
	if s.metrics == nil {
		return
	}
	s.metrics.LiveObjects.Set(float64(s.idx.Len()))
	s.metrics.LiveBytes.Set(float64(s.idx.LiveBytes()))
	s.metrics.DeletedObjects.Set(float64(s.deletedCount))
	s.metrics.DeletedBytes.Set(float64(s.deletedSize))
}
