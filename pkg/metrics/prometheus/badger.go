package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/agentfs/pkg/metrics"
)

func init() {
	metrics.RegisterBadgerMetricsConstructor(func() metrics.BadgerMetrics {
		return NewBadgerMetrics()
	})
}

// badgerMetrics is the Prometheus implementation of metrics.BadgerMetrics.
type badgerMetrics struct {
	cacheHitRatio *prometheus.GaugeVec
	cacheMisses   *prometheus.GaugeVec
	cacheHits     *prometheus.GaugeVec
}

// NewBadgerMetrics creates a new Prometheus-backed BadgerDB metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewBadgerMetrics() metrics.BadgerMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return once(reg, "badger", func() any {
		f := promauto.With(reg)
		return &badgerMetrics{
			cacheHitRatio: f.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "agentfs_badger_cache_hit_ratio",
					Help: "BadgerDB cache hit ratio (0.0 to 1.0) by cache type",
				},
				[]string{"cache_type"}, // "block", "index"
			),
			cacheMisses: f.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "agentfs_badger_cache_misses",
					Help: "Cumulative BadgerDB cache misses by cache type",
				},
				[]string{"cache_type"},
			),
			cacheHits: f.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "agentfs_badger_cache_hits",
					Help: "Cumulative BadgerDB cache hits by cache type",
				},
				[]string{"cache_type"},
			),
		}
	}).(*badgerMetrics)
}

func (m *badgerMetrics) RecordCache(cacheType string, hits, misses uint64, ratio float64) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cacheType).Set(float64(hits))
	m.cacheMisses.WithLabelValues(cacheType).Set(float64(misses))
	m.cacheHitRatio.WithLabelValues(cacheType).Set(ratio)
}
