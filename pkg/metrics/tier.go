package metrics

import "time"

// TierMetrics records hot/cold movement in the tiered storage backend.
type TierMetrics interface {
	// ObserveSpill records one stream written to the spill store.
	// stored is the encoded size after compression.
	ObserveSpill(logical, stored int64, duration time.Duration, err error)

	// ObserveLoad records one stream faulted back into memory.
	ObserveLoad(logical int64, duration time.Duration, err error)

	// SetTierBytes reports the current resident and spilled byte totals.
	SetTierBytes(resident, spilled int64)
}

// NewTierMetrics returns a Prometheus-backed TierMetrics, or nil when
// metrics are not enabled.
func NewTierMetrics() TierMetrics {
	if !IsEnabled() || newPrometheusTierMetrics == nil {
		return nil
	}
	return newPrometheusTierMetrics()
}

var newPrometheusTierMetrics func() TierMetrics

// RegisterTierMetricsConstructor registers the Prometheus implementation.
func RegisterTierMetricsConstructor(constructor func() TierMetrics) {
	newPrometheusTierMetrics = constructor
}
