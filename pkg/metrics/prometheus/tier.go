package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/agentfs/pkg/metrics"
)

func init() {
	metrics.RegisterTierMetricsConstructor(func() metrics.TierMetrics {
		return NewTierMetrics()
	})
}

// tierMetrics is the Prometheus implementation of metrics.TierMetrics.
type tierMetrics struct {
	transfers     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	logicalBytes  *prometheus.CounterVec
	storedBytes   prometheus.Counter
	residentBytes prometheus.Gauge
	spilledBytes  prometheus.Gauge
}

// NewTierMetrics creates a new Prometheus-backed TierMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewTierMetrics() metrics.TierMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return once(reg, "tier", func() any {
		f := promauto.With(reg)
		return &tierMetrics{
			transfers: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentfs_tier_transfers_total",
					Help: "Streams moved between tiers by direction and status",
				},
				[]string{"direction", "status"}, // direction: "spill", "load"
			),
			duration: f.NewHistogramVec(
				prometheus.HistogramOpts{
					Name: "agentfs_tier_transfer_duration_milliseconds",
					Help: "Duration of tier transfers in milliseconds",
					Buckets: []float64{
						0.1,
						1,
						5,
						10,
						50,
						100, // typical S3 round trip
						500,
						1000,
						5000,
					},
				},
				[]string{"direction"},
			),
			logicalBytes: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentfs_tier_logical_bytes_total",
					Help: "Uncompressed bytes moved between tiers",
				},
				[]string{"direction"},
			),
			storedBytes: f.NewCounter(prometheus.CounterOpts{
				Name: "agentfs_tier_stored_bytes_total",
				Help: "Encoded bytes written to the spill store",
			}),
			residentBytes: f.NewGauge(prometheus.GaugeOpts{
				Name: "agentfs_tier_resident_bytes",
				Help: "Bytes held in the memory tier",
			}),
			spilledBytes: f.NewGauge(prometheus.GaugeOpts{
				Name: "agentfs_tier_spilled_bytes",
				Help: "Logical bytes held in the spill store",
			}),
		}
	}).(*tierMetrics)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *tierMetrics) ObserveSpill(logical, stored int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues("spill", status(err)).Inc()
	m.duration.WithLabelValues("spill").Observe(float64(duration) / float64(time.Millisecond))
	if err == nil {
		m.logicalBytes.WithLabelValues("spill").Add(float64(logical))
		m.storedBytes.Add(float64(stored))
	}
}

func (m *tierMetrics) ObserveLoad(logical int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues("load", status(err)).Inc()
	m.duration.WithLabelValues("load").Observe(float64(duration) / float64(time.Millisecond))
	if err == nil {
		m.logicalBytes.WithLabelValues("load").Add(float64(logical))
	}
}

func (m *tierMetrics) SetTierBytes(resident, spilled int64) {
	if m == nil {
		return
	}
	m.residentBytes.Set(float64(resident))
	m.spilledBytes.Set(float64(spilled))
}
