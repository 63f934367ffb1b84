package process

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/pkg/identity"
)

var nobody = identity.New(65534, 65534, nil)

func TestResolve_AutoRegisters(t *testing.T) {
	r := NewRegistry(nobody, "main")

	b := r.Resolve(42)
	assert.Equal(t, uint32(42), b.PID)
	assert.Equal(t, "main", b.Branch)
	assert.True(t, b.Credentials.Equal(nobody))
	assert.NotZero(t, b.Generation)

	again := r.Resolve(42)
	assert.Equal(t, b.Generation, again.Generation)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterWithGroups(t *testing.T) {
	r := NewRegistry(nobody, "main")
	alice := identity.New(100, 100, []uint32{5, 6})

	first := r.RegisterWithGroups(7, alice)
	assert.True(t, first.Credentials.Equal(alice))

	// Idempotent for identical credentials.
	same := r.RegisterWithGroups(7, identity.New(100, 100, []uint32{6, 5}))
	assert.Equal(t, first.Generation, same.Generation)

	r.Bind(7, "feature")
	changed := r.RegisterWithGroups(7, identity.New(100, 100, []uint32{5}))
	assert.Greater(t, changed.Generation, first.Generation)
	assert.Equal(t, "feature", changed.Branch)
}

func TestBind(t *testing.T) {
	r := NewRegistry(nobody, "main")

	held := r.Resolve(1)
	bound := r.Bind(1, "b1")
	assert.Equal(t, "b1", bound.Branch)
	assert.Equal(t, held.Generation, bound.Generation)

	// A previously resolved binding is a value and does not move.
	assert.Equal(t, "main", held.Branch)
	assert.Equal(t, "b1", r.Resolve(1).Branch)

	// Binding an unknown pid registers it with the defaults.
	fresh := r.Bind(2, "b2")
	assert.True(t, fresh.Credentials.Equal(nobody))
	assert.Equal(t, 2, r.CountBoundTo("b1")+r.CountBoundTo("b2"))
}

func TestUnregister_NewGenerationOnReuse(t *testing.T) {
	r := NewRegistry(nobody, "main")
	old := r.Bind(9, "b1")

	assert.True(t, r.Unregister(9))
	assert.False(t, r.Unregister(9))
	_, ok := r.Lookup(9)
	assert.False(t, ok)

	reused := r.Resolve(9)
	assert.Greater(t, reused.Generation, old.Generation)
	assert.Equal(t, "main", reused.Branch)
}

func TestRebind(t *testing.T) {
	r := NewRegistry(nobody, "main")
	r.Bind(1, "old")
	r.Bind(2, "old")
	r.Bind(3, "keep")

	assert.Equal(t, 2, r.Rebind("old", "new"))
	assert.Equal(t, 0, r.CountBoundTo("old"))
	assert.Equal(t, 2, r.CountBoundTo("new"))
	assert.Equal(t, 1, r.CountBoundTo("keep"))
}

func TestConcurrentResolve(t *testing.T) {
	r := NewRegistry(nobody, "main")
	var wg sync.WaitGroup
	gens := make([]uint64, 16)
	for i := range gens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gens[i] = r.Resolve(77).Generation
		}(i)
	}
	wg.Wait()
	for _, g := range gens {
		require.Equal(t, gens[0], g)
	}
	assert.Equal(t, 1, r.Len())
}
