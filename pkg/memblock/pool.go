// Package memblock implements spec.md §4.A: reference-counted,
// pool-backed audio buffers (MemBlock) and the (block, index, length)
// views into them (MemChunk).
package memblock

import (
	"sync"
	"sync/atomic"
)

// Stats mirrors the pool's atomic counters: per-type allocation counts
// and sizes, both currently-live and lifetime-accumulated.
type Stats struct {
	NPooled, NPooledAccumulated     int64
	NUser, NUserAccumulated         int64
	NFixed, NFixedAccumulated       int64
	NImported, NImportedAccumulated int64
	AllocatedBytes, AccumulatedBytes int64
}

func (s *Stats) snapshot() Stats {
	return Stats{
		NPooled:             atomic.LoadInt64(&s.NPooled),
		NPooledAccumulated:  atomic.LoadInt64(&s.NPooledAccumulated),
		NUser:               atomic.LoadInt64(&s.NUser),
		NUserAccumulated:    atomic.LoadInt64(&s.NUserAccumulated),
		NFixed:              atomic.LoadInt64(&s.NFixed),
		NFixedAccumulated:   atomic.LoadInt64(&s.NFixedAccumulated),
		NImported:           atomic.LoadInt64(&s.NImported),
		NImportedAccumulated: atomic.LoadInt64(&s.NImportedAccumulated),
		AllocatedBytes:      atomic.LoadInt64(&s.AllocatedBytes),
		AccumulatedBytes:    atomic.LoadInt64(&s.AccumulatedBytes),
	}
}

func (s *Stats) trackAlloc(kind int32, size int) {
	atomic.AddInt64(&s.AllocatedBytes, int64(size))
	atomic.AddInt64(&s.AccumulatedBytes, int64(size))
	switch kind {
	case kindPooled:
		atomic.AddInt64(&s.NPooled, 1)
		atomic.AddInt64(&s.NPooledAccumulated, 1)
	case kindUser:
		atomic.AddInt64(&s.NUser, 1)
		atomic.AddInt64(&s.NUserAccumulated, 1)
	case kindFixed:
		atomic.AddInt64(&s.NFixed, 1)
		atomic.AddInt64(&s.NFixedAccumulated, 1)
	case kindImported:
		atomic.AddInt64(&s.NImported, 1)
		atomic.AddInt64(&s.NImportedAccumulated, 1)
	}
}

func (s *Stats) trackFree(kind int32, size int) {
	atomic.AddInt64(&s.AllocatedBytes, -int64(size))
	switch kind {
	case kindPooled:
		atomic.AddInt64(&s.NPooled, -1)
	case kindUser:
		atomic.AddInt64(&s.NUser, -1)
	case kindFixed:
		atomic.AddInt64(&s.NFixed, -1)
	case kindImported:
		atomic.AddInt64(&s.NImported, -1)
	}
}

// Pool is a process-wide allocator that recycles freed slabs.
type Pool struct {
	blockSize    int
	blockSizeMax int
	stats        Stats

	mu    sync.Mutex
	slabs [][]byte // free slab free-list, capped to avoid unbounded growth
	maxFreeSlabs int
}

// NewPool creates a pool refusing any single-block request larger than
// blockSizeMax (blockSize stands in when blockSizeMax is not positive).
// Slabs are sized to each request, reusing a free slab of at least that
// capacity when one exists; blockSize does not size them.
func NewPool(blockSize, blockSizeMax int) *Pool {
	if blockSizeMax <= 0 {
		blockSizeMax = blockSize
	}
	return &Pool{
		blockSize:    blockSize,
		blockSizeMax: blockSizeMax,
		maxFreeSlabs: 64,
	}
}

func (p *Pool) BlockSizeMax() int { return p.blockSizeMax }

func (p *Pool) Stats() Stats { return p.stats.snapshot() }

func (p *Pool) getSlab(size int) []byte {
	p.mu.Lock()
	if n := len(p.slabs); n > 0 {
		for i := n - 1; i >= 0; i-- {
			if cap(p.slabs[i]) >= size {
				s := p.slabs[i]
				p.slabs = append(p.slabs[:i], p.slabs[i+1:]...)
				p.mu.Unlock()
				return s[:size]
			}
		}
	}
	p.mu.Unlock()
	return make([]byte, size)
}

func (p *Pool) putSlab(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.slabs) >= p.maxFreeSlabs {
		return
	}
	p.slabs = append(p.slabs, b[:0])
}
