// Package recycle contains size classed pool of byte buffers.
package recycle

import (
	"fmt"
	"io"
	"sync"
)

const minDefSize = 1 << 7
const maxDefSize = 1 << 20

var DefaultSizes = func() (sz []int) {
	for s := minDefSize; s <= maxDefSize; s *= 2 {
		sz = append(sz, s)
	}
	return
}()

type Pool struct {
	sizes []int
	pools []sync.Pool
}

func NewPool() *Pool {
	return NewPoolSizes(DefaultSizes)
}

// NewPoolSizes creates new pool, which reuses buffers of capacities described in sizes.
// sizes should be sorted.
func NewPoolSizes(sizes []int) *Pool {
	if sizes == nil {
		sizes = DefaultSizes[:]
	}
	for i := 0; i < len(sizes); i++ {
		size := sizes[i]
		if size <= 0 {
			panic("non positive size")
		}
		if i != 0 && sizes[i-1] >= size {
			panic("sizes unsorted or have duplicates")
		}
	}
	pools := make([]sync.Pool, len(sizes))
	for i := range sizes {
		size := sizes[i]
		pools[i].New = func() interface{} {
			return make([]byte, size)
		}
	}
	return &Pool{
		sizes: sizes,
		pools: pools,
	}
}

// Get returns buffer of len size. Buffers larger than MaxSize are just allocated.
func (p *Pool) Get(size int) []byte {
	if p.isGCSize(size) || size > p.MaxSize() {
		return make([]byte, size)
	}
	// O(n) but len(sizes) should be <= 30 normally.
	for i := range p.sizes {
		if size <= p.sizes[i] {
			return p.pools[i].Get().([]byte)[:size]
		}
	}
	panic("unreachable")
}

// Put returns buffer got from Get into pool. Buffer should not be used after that.
func (p *Pool) Put(b []byte) {
	size := cap(b)
	if p.isGCSize(size) || size > p.MaxSize() {
		// Garbage, that should be collected by GC.
		return
	}
	for i := range p.sizes {
		if size == p.sizes[i] {
			p.pools[i].Put(b[:size])
			return
		}
	}
	panic(fmt.Sprintf("unexpected buffer capacity: %v", size))
}

// Read reads exactly size bytes from r into buffer got from pool.
func (p *Pool) Read(r io.Reader, size int) ([]byte, error) {
	b := p.Get(size)
	_, err := io.ReadFull(r, b)
	if err != nil {
		p.Put(b)
		return nil, err
	}
	return b, nil
}

func (p *Pool) MinSize() int {
	return p.sizes[0]
}

func (p *Pool) MaxSize() int {
	return p.sizes[len(p.sizes)-1]
}

func (p *Pool) isGCSize(size int) bool {
	return size <= p.MinSize()/2
}
