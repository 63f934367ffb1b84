// Package bufpool recycles byte slices for stream copies and spill
// compression. Requests are rounded up to one of three size classes;
// anything above the largest class is allocated directly and never pooled.
package bufpool

import "sync"

// Default size classes.
const (
	DefaultSmallSize  = 4 << 10
	DefaultMediumSize = 64 << 10
	DefaultLargeSize  = 1 << 20
)

// Pool hands out buffers by size class. It is safe for concurrent use.
type Pool struct {
	classes [3]class
}

type class struct {
	size int
	pool sync.Pool
}

// Config sets the class sizes. Zero fields take the defaults.
type Config struct {
	SmallSize  int
	MediumSize int
	LargeSize  int
}

// NewPool creates a pool. Class sizes must be increasing.
func NewPool(cfg Config) *Pool {
	sizes := [3]int{cfg.SmallSize, cfg.MediumSize, cfg.LargeSize}
	defaults := [3]int{DefaultSmallSize, DefaultMediumSize, DefaultLargeSize}
	p := &Pool{}
	for i := range p.classes {
		size := sizes[i]
		if size <= 0 {
			size = defaults[i]
		}
		c := &p.classes[i]
		c.size = size
		c.pool.New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

// Get returns a slice of length size. Its capacity may be larger.
func (p *Pool) Get(size int) []byte {
	for i := range p.classes {
		c := &p.classes[i]
		if size <= c.size {
			return (*c.pool.Get().(*[]byte))[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to its class. Slices whose capacity matches no class
// are dropped.
func (p *Pool) Put(buf []byte) {
	for i := range p.classes {
		c := &p.classes[i]
		if cap(buf) == c.size {
			full := buf[:c.size]
			c.pool.Put(&full)
			return
		}
	}
}

var global = NewPool(Config{})

// Get takes a buffer from the shared pool.
func Get(size int) []byte { return global.Get(size) }

// Put returns a buffer to the shared pool.
func Put(buf []byte) { global.Put(buf) }
