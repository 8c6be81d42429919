package memblock

import (
	"errors"
	"sync/atomic"
)

// ErrPoolExhausted and ErrTooLarge are the two failure modes §4.A names
// for pool allocation.
var (
	ErrPoolExhausted = errors.New("memblock: pool exhausted")
	ErrTooLarge      = errors.New("memblock: request exceeds block_size_max")
)

const (
	kindPooled int32 = iota
	kindUser
	kindFixed
	kindImported
)

// FreeFunc releases externally-owned memory backing a "user" MemBlock.
type FreeFunc func([]byte)

// Block is an immutable-by-convention, reference-counted audio buffer.
// Data/Length are stable for the block's lifetime; mutation is only ever
// performed through MakeWritable, which clones if the block is shared.
type Block struct {
	pool     *Pool
	kind     int32
	data     []byte
	refcount int32
	freeFn   FreeFunc
	readOnly bool
}

// NewPooled allocates a pool-backed block of exactly size bytes.
// Fails with ErrTooLarge if size exceeds the pool's block_size_max, or
// ErrPoolExhausted if the pool cannot serve the request at all.
func NewPooled(p *Pool, size int) (*Block, error) {
	if size < 0 {
		return nil, ErrPoolExhausted
	}
	if size > p.blockSizeMax {
		return nil, ErrTooLarge
	}
	data := p.getSlab(size)
	if data == nil {
		return nil, ErrPoolExhausted
	}
	p.stats.trackAlloc(kindPooled, size)
	return &Block{pool: p, kind: kindPooled, data: data, refcount: 1}, nil
}

// NewUser wraps a caller-owned buffer; freeFn (if non-nil) is invoked
// exactly once when the block's refcount reaches zero.
func NewUser(p *Pool, data []byte, freeFn FreeFunc) *Block {
	p.stats.trackAlloc(kindUser, len(data))
	return &Block{pool: p, kind: kindUser, data: data, refcount: 1, freeFn: freeFn}
}

// NewFixed wraps a stack/mmap-resident buffer that outlives the block;
// no free callback is ever invoked.
func NewFixed(p *Pool, data []byte, readOnly bool) *Block {
	p.stats.trackAlloc(kindFixed, len(data))
	return &Block{pool: p, kind: kindFixed, data: data, refcount: 1, readOnly: readOnly}
}

// NewImported wraps memory imported from a peer's shared-memory segment
// (see pstream's shared-memory acceleration path in §4.G).
func NewImported(p *Pool, data []byte, freeFn FreeFunc) *Block {
	p.stats.trackAlloc(kindImported, len(data))
	return &Block{pool: p, kind: kindImported, data: data, refcount: 1, freeFn: freeFn, readOnly: true}
}

// Ref increments the reference count and returns the same block, for
// call sites that want to hold their own strong reference.
func (b *Block) Ref() *Block {
	atomic.AddInt32(&b.refcount, 1)
	return b
}

// Unref decrements the reference count, releasing the underlying memory
// back to the pool (or invoking freeFn) when it reaches zero.
func (b *Block) Unref() {
	if atomic.AddInt32(&b.refcount, -1) > 0 {
		return
	}
	b.pool.stats.trackFree(b.kind, len(b.data))
	switch b.kind {
	case kindPooled:
		b.pool.putSlab(b.data)
	case kindUser, kindImported:
		if b.freeFn != nil {
			b.freeFn(b.data)
		}
	}
	b.data = nil
}

func (b *Block) RefCount() int32 { return atomic.LoadInt32(&b.refcount) }
func (b *Block) Len() int        { return len(b.data) }
func (b *Block) ReadOnly() bool  { return b.readOnly }
func (b *Block) Pool() *Pool     { return b.pool }

// Acquire/Release pin the block's data pointer for the duration of a
// read/write. In this implementation the pair is a no-op beyond the
// refcount already held by the caller (Go's GC never relocates a
// []byte's backing array), but the API is kept symmetric so callers
// pair acquire with release exactly as pulseaudio's pa_memblock_acquire
// contract requires — a future mmap-backed Block variant can hook here.
func (b *Block) Acquire() []byte { return b.data }
func (b *Block) Release()        {}

// IsSilence reports whether every byte in the block is zero. Note that
// zero is the correct silence byte only for signed/float PCM formats;
// u-law/a-law silence is a different byte and chunk-level Silence()
// writes that value explicitly rather than relying on this check.
func (b *Block) IsSilence() bool {
	for _, c := range b.data {
		if c != 0 {
			return false
		}
	}
	return true
}

// MakeWritable returns a block guaranteed to have refcount == 1 and at
// least minLength bytes, cloning the original's content (up to its
// length) if it was shared or undersized.
func MakeWritable(b *Block, minLength int) (*Block, error) {
	if b.RefCount() == 1 && len(b.data) >= minLength && !b.readOnly {
		return b, nil
	}
	nb, err := NewPooled(b.pool, max(minLength, len(b.data)))
	if err != nil {
		return nil, err
	}
	copy(nb.data, b.data)
	b.Unref()
	return nb, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
