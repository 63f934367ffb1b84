package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetRoundsUpToClass(t *testing.T) {
	p := NewPool(Config{})

	cases := []struct {
		size    int
		wantCap int
	}{
		{0, DefaultSmallSize},
		{100, DefaultSmallSize},
		{DefaultSmallSize, DefaultSmallSize},
		{DefaultSmallSize + 1, DefaultMediumSize},
		{DefaultLargeSize, DefaultLargeSize},
		{DefaultLargeSize + 1, DefaultLargeSize + 1},
	}
	for _, tc := range cases {
		buf := p.Get(tc.size)
		assert.Len(t, buf, tc.size)
		assert.Equal(t, tc.wantCap, cap(buf), "size %d", tc.size)
		p.Put(buf)
	}
}

func TestCustomClasses(t *testing.T) {
	p := NewPool(Config{SmallSize: 16, MediumSize: 32})
	assert.Equal(t, 16, cap(p.Get(10)))
	assert.Equal(t, 32, cap(p.Get(20)))
	assert.Equal(t, DefaultLargeSize, cap(p.Get(64)))
}

func TestPutIgnoresForeignSlices(t *testing.T) {
	p := NewPool(Config{})
	assert.NotPanics(t, func() {
		p.Put(nil)
		p.Put(make([]byte, 10))
		p.Put(make([]byte, DefaultLargeSize*2))
	})
}

func TestReusedBufferHasRequestedLength(t *testing.T) {
	buf := Get(DefaultMediumSize)
	Put(buf[:10])

	again := Get(5000)
	assert.Len(t, again, 5000)
	assert.Equal(t, DefaultMediumSize, cap(again))
	Put(again)
}

func TestConcurrentUse(t *testing.T) {
	p := NewPool(Config{})
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				buf := p.Get((i*j)%(DefaultMediumSize*2) + 1)
				buf[0] = byte(j)
				p.Put(buf)
			}
		}()
	}
	wg.Wait()
}
