package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentials_HasGID(t *testing.T) {
	c := New(1000, 100, []uint32{20, 30, 20})

	assert.True(t, c.HasGID(100), "primary gid")
	assert.True(t, c.HasGID(20), "supplementary gid")
	assert.True(t, c.HasGID(30))
	assert.False(t, c.HasGID(40))
	assert.Equal(t, []uint32{20, 30}, c.GIDs, "groups deduplicated and sorted")
}

func TestCredentials_ZeroValue(t *testing.T) {
	c := Credentials{UID: 5, GID: 7, GIDs: []uint32{9}}

	assert.True(t, c.HasGID(7))
	assert.True(t, c.HasGID(9))
	assert.False(t, c.HasGID(0))
	assert.False(t, c.IsRoot())
}

func TestCredentials_Equal(t *testing.T) {
	a := New(1, 2, []uint32{3, 4})
	b := New(1, 2, []uint32{4, 3})
	c := New(1, 2, []uint32{3})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, New(0, 0, nil).IsRoot())
}
