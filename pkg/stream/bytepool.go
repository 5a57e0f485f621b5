package stream

import (
	"sync"
)

// bytePool provides size-bucketed pooling for chunk buffers to reduce GC
// pressure during large transfers.
type bytePool struct {
	pools map[int]*sync.Pool
	sizes []int
}

// Common chunk sizes for hubfs transfer workloads.
var poolSizes = []int{
	4096,     // 4KB
	65536,    // 64KB
	262144,   // 256KB
	1048576,  // 1MB
	4194304,  // 4MB
	8388608,  // 8MB
	16777216, // 16MB
}

func newBytePool() *bytePool {
	pools := make(map[int]*sync.Pool, len(poolSizes))
	for _, size := range poolSizes {
		size := size
		pools[size] = &sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		}
	}
	return &bytePool{pools: pools, sizes: poolSizes}
}

// get returns a byte slice of exactly the requested length, backed by the
// smallest bucket that can hold it.
func (p *bytePool) get(size int) []byte {
	for _, bucket := range p.sizes {
		if bucket >= size {
			buf := p.pools[bucket].Get().([]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// put returns a slice to its bucket. Slices with capacities that do not
// match a bucket are left to the GC.
func (p *bytePool) put(buf []byte) {
	if buf == nil {
		return
	}
	capacity := cap(buf)
	if pool, ok := p.pools[capacity]; ok {
		//nolint:staticcheck // SA6002: slice allocation is expected here
		pool.Put(buf[:capacity])
	}
}

var defaultBytePool = newBytePool()
