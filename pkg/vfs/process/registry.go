// Package process maps calling process ids to their credentials and bound
// branch.
//
// Bindings are immutable values. Every change publishes a new Binding, so an
// operation that resolved a Binding keeps a consistent view even if the
// process exits or rebinds while the operation runs. Generations are
// stamped from a registry-wide counter: a pid that is unregistered and then
// reused gets a fresh generation.
package process

import (
	"sync"

	"github.com/marmos91/agentfs/pkg/identity"
)

// Binding is the registry's view of one process.
type Binding struct {
	PID         uint32
	Generation  uint64
	Credentials identity.Credentials
	Branch      string
}

// Registry holds the bindings of one core instance.
type Registry struct {
	mu       sync.RWMutex
	bindings map[uint32]*Binding
	lastGen  uint64

	defaults      identity.Credentials
	defaultBranch string
}

// NewRegistry creates a registry that auto-registers unknown pids with
// defaults, bound to defaultBranch.
func NewRegistry(defaults identity.Credentials, defaultBranch string) *Registry {
	return &Registry{
		bindings:      make(map[uint32]*Binding),
		defaults:      defaults,
		defaultBranch: defaultBranch,
	}
}

// DefaultBranch returns the branch new processes bind to.
func (r *Registry) DefaultBranch() string {
	return r.defaultBranch
}

// nextGen must be called with mu held.
func (r *Registry) nextGen() uint64 {
	r.lastGen++
	return r.lastGen
}

// RegisterWithGroups records creds for pid. Registering the same
// credentials again keeps the current binding; different credentials
// publish a new generation but keep the bound branch.
func (r *Registry) RegisterWithGroups(pid uint32, creds identity.Credentials) Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	branch := r.defaultBranch
	if cur, ok := r.bindings[pid]; ok {
		if cur.Credentials.Equal(creds) {
			return *cur
		}
		branch = cur.Branch
	}
	b := &Binding{PID: pid, Generation: r.nextGen(), Credentials: creds, Branch: branch}
	r.bindings[pid] = b
	return *b
}

// Bind moves pid to branch, registering it with the default credentials
// if needed. Operations already holding the previous Binding are not
// affected.
func (r *Registry) Bind(pid uint32, branch string) Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.bindings[pid]
	if !ok {
		cur = &Binding{PID: pid, Generation: r.nextGen(), Credentials: r.defaults}
	}
	next := *cur
	next.Branch = branch
	r.bindings[pid] = &next
	return next
}

// Lookup returns pid's binding without registering it.
func (r *Registry) Lookup(pid uint32) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[pid]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

// Resolve returns pid's binding, auto-registering unknown pids with the
// default credentials on the default branch.
func (r *Registry) Resolve(pid uint32) Binding {
	if b, ok := r.Lookup(pid); ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bindings[pid]; ok {
		return *b
	}
	b := &Binding{PID: pid, Generation: r.nextGen(), Credentials: r.defaults, Branch: r.defaultBranch}
	r.bindings[pid] = b
	return *b
}

// Unregister forgets pid. It reports whether pid was registered.
func (r *Registry) Unregister(pid uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bindings[pid]
	delete(r.bindings, pid)
	return ok
}

// CountBoundTo returns the number of processes bound to branch.
func (r *Registry) CountBoundTo(branch string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, b := range r.bindings {
		if b.Branch == branch {
			n++
		}
	}
	return n
}

// Rebind moves every process bound to from onto to and returns how many
// moved.
func (r *Registry) Rebind(from, to string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for pid, b := range r.bindings {
		if b.Branch != from {
			continue
		}
		next := *b
		next.Branch = to
		r.bindings[pid] = &next
		n++
	}
	return n
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
