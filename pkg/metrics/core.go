package metrics

import "time"

// CoreMetrics records filesystem engine activity.
//
// Example usage:
//
//	metrics.InitRegistry()
//	core, err := vfs.New(vfs.Options{Metrics: metrics.NewCoreMetrics(), ...})
//
//	// Without metrics (zero overhead)
//	core, err := vfs.New(vfs.Options{Metrics: nil, ...})
type CoreMetrics interface {
	// ObserveOperation records one completed operation ("open", "write",
	// "rename", ...) with its duration and error (nil on success).
	ObserveOperation(op string, duration time.Duration, err error)

	// RecordClone counts a copy-on-write stream clone.
	RecordClone()

	// RecordEvent counts an emitted event by kind.
	RecordEvent(kind string)

	SetBranches(n int)
	SetSnapshots(n int)
	SetOpenHandles(n int)
}

// NewCoreMetrics returns a Prometheus-backed CoreMetrics, or nil when
// metrics are not enabled (InitRegistry not called) or the prometheus
// implementation is not linked in.
func NewCoreMetrics() CoreMetrics {
	if !IsEnabled() || newPrometheusCoreMetrics == nil {
		return nil
	}
	return newPrometheusCoreMetrics()
}

// newPrometheusCoreMetrics is set by pkg/metrics/prometheus so this package
// does not import its implementation.
var newPrometheusCoreMetrics func() CoreMetrics

// RegisterCoreMetricsConstructor registers the Prometheus implementation.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterCoreMetricsConstructor(constructor func() CoreMetrics) {
	newPrometheusCoreMetrics = constructor
}
