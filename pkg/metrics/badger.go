package metrics

// BadgerMetrics records BadgerDB cache statistics for the badger storage
// backend. Badger reports cumulative totals, so implementations set rather
// than add.
type BadgerMetrics interface {
	// RecordCache reports one cache ("block" or "index").
	RecordCache(cacheType string, hits, misses uint64, ratio float64)
}

// NewBadgerMetrics returns a Prometheus-backed BadgerMetrics, or nil when
// metrics are not enabled.
func NewBadgerMetrics() BadgerMetrics {
	if !IsEnabled() || newPrometheusBadgerMetrics == nil {
		return nil
	}
	return newPrometheusBadgerMetrics()
}

var newPrometheusBadgerMetrics func() BadgerMetrics

// RegisterBadgerMetricsConstructor registers the Prometheus implementation.
func RegisterBadgerMetricsConstructor(constructor func() BadgerMetrics) {
	newPrometheusBadgerMetrics = constructor
}
