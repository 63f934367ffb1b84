package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
)

func TestDisabled(t *testing.T) {
	d := NewDispatcher(false)

	_, err := d.Subscribe(func(Event) {})
	assert.Equal(t, fserrors.ErrEventsDisabled, fserrors.CodeOf(err))
	assert.Equal(t, fserrors.ErrEventsDisabled, fserrors.CodeOf(d.Unsubscribe(1)))

	// Emit on a disabled dispatcher is silent.
	d.Emit(Event{Kind: Created, Path: "/x"})
	assert.Equal(t, 0, d.Len())
	assert.False(t, d.Enabled())
}

func TestSubscribeEmitUnsubscribe(t *testing.T) {
	d := NewDispatcher(true)

	var got []Event
	id, err := d.Subscribe(func(ev Event) { got = append(got, ev) })
	require.NoError(t, err)

	d.Emit(Event{Kind: Created, Path: "/a", Branch: "main"})
	d.Emit(Event{Kind: Renamed, From: "/a", To: "/b", Branch: "main"})
	require.Len(t, got, 2)
	assert.Equal(t, Created, got[0].Kind)
	assert.Equal(t, "/b", got[1].To)

	require.NoError(t, d.Unsubscribe(id))
	d.Emit(Event{Kind: Removed, Path: "/b"})
	assert.Len(t, got, 2)

	err = d.Unsubscribe(id)
	assert.Equal(t, fserrors.ErrNotFound, fserrors.CodeOf(err))
}

func TestSubscribe_NilSink(t *testing.T) {
	d := NewDispatcher(true)
	_, err := d.Subscribe(nil)
	assert.Equal(t, fserrors.ErrInvalidArgument, fserrors.CodeOf(err))
}

func TestEmit_SinkUnsubscribesItself(t *testing.T) {
	d := NewDispatcher(true)

	var selfID SubscriptionID
	calls, otherCalls := 0, 0
	var err error
	selfID, err = d.Subscribe(func(Event) {
		calls++
		_ = d.Unsubscribe(selfID)
	})
	require.NoError(t, err)
	_, err = d.Subscribe(func(Event) { otherCalls++ })
	require.NoError(t, err)

	d.Emit(Event{Kind: Modified, Path: "/f"})
	d.Emit(Event{Kind: Modified, Path: "/f"})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, otherCalls)
}

func TestEmit_PanickingSinkIsIsolated(t *testing.T) {
	d := NewDispatcher(true)
	_, err := d.Subscribe(func(Event) { panic("boom") })
	require.NoError(t, err)

	delivered := false
	_, err = d.Subscribe(func(Event) { delivered = true })
	require.NoError(t, err)

	assert.NotPanics(t, func() { d.Emit(Event{Kind: Created, Path: "/x"}) })
	assert.True(t, delivered)
}

func TestEmit_Concurrent(t *testing.T) {
	d := NewDispatcher(true)
	var mu sync.Mutex
	count := 0
	_, err := d.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Emit(Event{Kind: Modified})
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, count)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "snapshot_created", SnapshotCreated.String())
	assert.Equal(t, "unknown(0)", Kind(0).String())
}
