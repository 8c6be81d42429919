package memblock

import (
	"fmt"

	"github.com/rapidaai/sonorad/pkg/types"
)

// Chunk is a (block, index, length) view into a Block. Invariant:
// Index + Length <= Block.Len(). A Chunk holds one strong reference to
// its Block.
type Chunk struct {
	Block  *Block
	Index  int
	Length int
}

// NewChunk validates the slice invariant and takes a reference on b.
func NewChunk(b *Block, index, length int) (Chunk, error) {
	if index < 0 || length < 0 || index+length > b.Len() {
		return Chunk{}, fmt.Errorf("memblock: chunk (%d,%d) out of bounds of block len %d", index, length, b.Len())
	}
	return Chunk{Block: b.Ref(), Index: index, Length: length}, nil
}

// Reset clears c to the empty chunk, releasing its block reference.
func (c *Chunk) Reset() {
	if c.Block != nil {
		c.Block.Unref()
	}
	*c = Chunk{}
}

// IsEmpty reports whether the chunk carries no bytes.
func (c Chunk) IsEmpty() bool { return c.Block == nil || c.Length == 0 }

// Bytes returns the slice view of the chunk's backing block. Caller
// must not retain it past the Chunk's lifetime without its own Ref.
func (c Chunk) Bytes() []byte {
	if c.Block == nil {
		return nil
	}
	data := c.Block.Acquire()
	defer c.Block.Release()
	return data[c.Index : c.Index+c.Length]
}

// Dup returns a new Chunk sharing the same underlying block (ref'd
// again) and the same index/length.
func (c Chunk) Dup() Chunk {
	if c.Block == nil {
		return Chunk{}
	}
	c.Block.Ref()
	return c
}

// Memcpy copies src's bytes into dst; dst.Length must be >= src.Length.
func Memcpy(dst, src Chunk) error {
	if dst.Length < src.Length {
		return fmt.Errorf("memblock: dst chunk too small (%d < %d)", dst.Length, src.Length)
	}
	copy(dst.Bytes(), src.Bytes()[:src.Length])
	return nil
}

// silenceByte returns the zero-amplitude byte value for the given
// sample format: 0x80 for U8, 0xFF for µ-law, 0x55 for A-law and 0x00
// for every other format.
func silenceByte(f types.SampleFormat) byte {
	switch f {
	case types.FormatULaw:
		return 0xFF
	case types.FormatALaw:
		return 0x55
	case types.FormatU8:
		return 0x80
	default:
		return 0x00
	}
}

// Silence writes the format-appropriate zero value across the whole
// chunk.
func Silence(c Chunk, spec types.SampleSpec) {
	b := silenceByte(spec.Format)
	buf := c.Bytes()
	for i := range buf {
		buf[i] = b
	}
}

// Isolate ensures the chunk holds the only reference to its underlying
// storage, copying into a fresh NewPooled block if necessary, and narrowing the
// returned chunk's Block to own exactly [Index, Index+Length).
func Isolate(c Chunk) (Chunk, error) {
	if c.Block.RefCount() == 1 {
		return c, nil
	}
	nb, err := NewPooled(c.Block.pool, c.Length)
	if err != nil {
		return Chunk{}, err
	}
	copy(nb.data, c.Bytes())
	c.Block.Unref()
	return Chunk{Block: nb, Index: 0, Length: c.Length}, nil
}
