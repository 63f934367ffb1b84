// Package events fans committed mutations out to in-process sinks.
package events

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/marmos91/agentfs/internal/logger"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
)

// Kind identifies what happened.
type Kind uint8

const (
	Created Kind = iota + 1
	Removed
	Modified
	Renamed
	BranchCreated
	SnapshotCreated
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	case Renamed:
		return "renamed"
	case BranchCreated:
		return "branch_created"
	case SnapshotCreated:
		return "snapshot_created"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Event describes one committed change. Path is set for Created, Removed and
// Modified; From and To for Renamed; ID and Name for BranchCreated and
// SnapshotCreated. Branch is the branch the change committed on.
type Event struct {
	Kind   Kind
	Path   string
	From   string
	To     string
	ID     string
	Name   string
	Branch string
}

// Sink receives events synchronously on the goroutine that committed the
// change. Sinks must return quickly and hand work off elsewhere.
type Sink func(Event)

// SubscriptionID identifies a registered sink.
type SubscriptionID uint64

// Dispatcher delivers events to subscribed sinks. A disabled Dispatcher
// drops every event and refuses subscriptions.
type Dispatcher struct {
	enabled bool

	mu     sync.RWMutex
	sinks  map[SubscriptionID]Sink
	nextID SubscriptionID
}

// NewDispatcher creates a dispatcher. With enabled false, Emit is a no-op
// and Subscribe/Unsubscribe fail with EventsDisabled.
func NewDispatcher(enabled bool) *Dispatcher {
	return &Dispatcher{
		enabled: enabled,
		sinks:   make(map[SubscriptionID]Sink),
	}
}

// Enabled reports whether events are tracked.
func (d *Dispatcher) Enabled() bool { return d.enabled }

// Subscribe registers sink.
func (d *Dispatcher) Subscribe(sink Sink) (SubscriptionID, error) {
	if !d.enabled {
		return 0, fserrors.NewEventsDisabledError()
	}
	if sink == nil {
		return 0, fserrors.NewInvalidArgumentError("", "nil event sink")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.sinks[d.nextID] = sink
	return d.nextID, nil
}

// Unsubscribe removes a sink. Unknown ids yield NotFound.
func (d *Dispatcher) Unsubscribe(id SubscriptionID) error {
	if !d.enabled {
		return fserrors.NewEventsDisabledError()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sinks[id]; !ok {
		return fserrors.NewNotFoundError(fmt.Sprintf("subscription %d", id), "subscription")
	}
	delete(d.sinks, id)
	return nil
}

// Len returns the number of subscribed sinks.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sinks)
}

// Emit delivers ev to every sink subscribed when Emit was called. Sinks
// run outside the lock, so they may subscribe or unsubscribe themselves.
func (d *Dispatcher) Emit(ev Event) {
	if !d.enabled {
		return
	}
	d.mu.RLock()
	ids := slices.Sorted(maps.Keys(d.sinks))
	sinks := make([]Sink, len(ids))
	for i, id := range ids {
		sinks[i] = d.sinks[id]
	}
	d.mu.RUnlock()

	for i, sink := range sinks {
		deliver(ids[i], sink, ev)
	}
}

func deliver(id SubscriptionID, sink Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event sink panicked",
				logger.KeySubscription, uint64(id),
				logger.KeyEventKind, ev.Kind.String(),
				"panic", fmt.Sprint(r))
		}
	}()
	sink(ev)
}
