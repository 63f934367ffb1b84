// Package prometheus implements the metric interfaces of pkg/metrics with
// client_golang collectors registered on metrics.GetRegistry().
package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type instanceKey struct {
	reg  *prometheus.Registry
	name string
}

var (
	instancesMu sync.Mutex
	instances   = make(map[instanceKey]any)
)

// once builds each metric family at most once per registry, since
// registering the same collector twice panics.
func once(reg *prometheus.Registry, name string, build func() any) any {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	k := instanceKey{reg: reg, name: name}
	if m, ok := instances[k]; ok {
		return m
	}
	m := build()
	instances[k] = m
	return m
}
