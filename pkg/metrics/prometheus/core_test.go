package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/pkg/metrics"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
)

func withRegistry(t *testing.T) {
	t.Helper()
	metrics.ResetRegistry()
	metrics.InitRegistry()
	t.Cleanup(metrics.ResetRegistry)
}

func TestNewCoreMetrics_DisabledReturnsNil(t *testing.T) {
	metrics.ResetRegistry()
	assert.Nil(t, NewCoreMetrics())
	assert.Nil(t, metrics.NewCoreMetrics())
	assert.Nil(t, metrics.NewTierMetrics())
	assert.Nil(t, metrics.NewBadgerMetrics())
}

func TestCoreMetrics(t *testing.T) {
	withRegistry(t)

	m := metrics.NewCoreMetrics()
	require.NotNil(t, m)
	cm := m.(*coreMetrics)

	m.ObserveOperation("write", time.Millisecond, nil)
	m.ObserveOperation("write", time.Millisecond, fserrors.NewNoSpaceError("/f", errors.New("full")))
	m.RecordClone()
	m.RecordClone()
	m.RecordEvent("created")
	m.SetBranches(3)
	m.SetOpenHandles(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(cm.operations.WithLabelValues("write", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.operations.WithLabelValues("write", "NoSpace")))
	assert.Equal(t, 2.0, testutil.ToFloat64(cm.clones))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.events.WithLabelValues("created")))
	assert.Equal(t, 3.0, testutil.ToFloat64(cm.branches))
	assert.Equal(t, 7.0, testutil.ToFloat64(cm.openHandles))

	// A second constructor call on the same registry reuses the collectors.
	assert.Same(t, cm, NewCoreMetrics().(*coreMetrics))
}

func TestTierMetrics(t *testing.T) {
	withRegistry(t)

	m := NewTierMetrics()
	require.NotNil(t, m)
	tm := m.(*tierMetrics)

	m.ObserveSpill(1000, 200, time.Millisecond, nil)
	m.ObserveSpill(1000, 0, time.Millisecond, errors.New("s3 down"))
	m.ObserveLoad(1000, time.Millisecond, nil)
	m.SetTierBytes(10, 20)

	assert.Equal(t, 1.0, testutil.ToFloat64(tm.transfers.WithLabelValues("spill", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tm.transfers.WithLabelValues("spill", "error")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(tm.logicalBytes.WithLabelValues("spill")))
	assert.Equal(t, 200.0, testutil.ToFloat64(tm.storedBytes))
	assert.Equal(t, 20.0, testutil.ToFloat64(tm.spilledBytes))
}

func TestBadgerMetrics(t *testing.T) {
	withRegistry(t)

	m := NewBadgerMetrics()
	require.NotNil(t, m)
	m.RecordCache("block", 9, 1, 0.9)

	bm := m.(*badgerMetrics)
	assert.Equal(t, 9.0, testutil.ToFloat64(bm.cacheHits.WithLabelValues("block")))
	assert.Equal(t, 0.9, testutil.ToFloat64(bm.cacheHitRatio.WithLabelValues("block")))
}

func TestNilReceivers(t *testing.T) {
	var cm *coreMetrics
	var tm *tierMetrics
	var bm *badgerMetrics
	assert.NotPanics(t, func() {
		cm.ObserveOperation("x", 0, nil)
		cm.RecordClone()
		tm.ObserveLoad(1, 0, nil)
		bm.RecordCache("index", 0, 0, 0)
	})
}
