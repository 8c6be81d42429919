package memblock

import (
	"container/list"
	"errors"

	"github.com/rapidaai/sonorad/pkg/types"
)

var errBlockQFull = errors.New("memblock: push exceeds blockq max length")

// SeekMode selects how an absolute byte offset on a BlockQ write is
// interpreted, matching the low bits of a pstream frame's flags field
// (§4.G).
type SeekMode int

const (
	SeekRelative SeekMode = iota
	SeekAbsolute
	SeekRelativeOnRead
	SeekRelativeOnWrite
)

type cell struct {
	offset int64 // absolute stream offset of this chunk's first byte
	chunk  Chunk
}

// BlockQ is an ordered queue of chunks with a read index, a write index,
// a silence template and three size limits: MaxLength, TargetLength and
// PreBufThreshold (§3).
type BlockQ struct {
	spec types.SampleSpec
	pool *Pool

	cells *list.List // of *cell, in increasing offset order, non-overlapping

	readIndex  int64
	writeIndex int64

	maxLength    int64
	targetLength int64
	preBuf       int64

	prebuffing bool
}

// NewBlockQ constructs an empty queue. maxLength bounds total queued
// bytes (including holes not yet written); targetLength and preBuf
// mirror the buffer-attr fields of the native protocol (§6.1 CREATE_*).
func NewBlockQ(pool *Pool, spec types.SampleSpec, maxLength, targetLength, preBuf int64) *BlockQ {
	q := &BlockQ{
		spec:         spec,
		pool:         pool,
		cells:        list.New(),
		maxLength:    maxLength,
		targetLength: targetLength,
		preBuf:       preBuf,
	}
	if preBuf > 0 {
		q.prebuffing = true
	}
	return q
}

// Push enqueues chunk at the given absolute/relative offset, per
// seekMode, mirroring pstream's interpretation of the flags field.
func (q *BlockQ) Push(chunk Chunk, offset int64, mode SeekMode) error {
	var abs int64
	switch mode {
	case SeekAbsolute:
		abs = offset
	case SeekRelative:
		abs = q.writeIndex + offset
	case SeekRelativeOnRead:
		abs = q.readIndex + offset
	case SeekRelativeOnWrite:
		abs = q.writeIndex + offset
	}
	if q.maxLength > 0 && abs+int64(chunk.Length)-q.readIndex > q.maxLength {
		return errBlockQFull
	}
	q.insert(abs, chunk.Dup())
	if abs+int64(chunk.Length) > q.writeIndex {
		q.writeIndex = abs + int64(chunk.Length)
	}
	if q.prebuffing && q.queuedBytes() >= q.preBuf {
		q.prebuffing = false
	}
	return nil
}

// insert places a new cell in offset order, removing every existing
// cell that overlaps the new range so the list stays non-overlapping
// (later writes win). An old cell that overlaps only partly is removed
// whole, including its bytes outside the new range.
func (q *BlockQ) insert(offset int64, chunk Chunk) {
	end := offset + int64(chunk.Length)
	for e := q.cells.Front(); e != nil; {
		c := e.Value.(*cell)
		cEnd := c.offset + int64(c.chunk.Length)
		next := e.Next()
		switch {
		case cEnd <= offset || c.offset >= end:
			// no overlap
		case c.offset >= offset && cEnd <= end:
			// fully covered by the new write: drop it
			c.chunk.Reset()
			q.cells.Remove(e)
		default:
			// partial overlap: the old cell is dropped entirely rather
			// than split, so its bytes outside [offset, end) are lost.
			c.chunk.Reset()
			q.cells.Remove(e)
		}
		e = next
	}
	newCell := &cell{offset: offset, chunk: chunk}
	for e := q.cells.Front(); e != nil; e = e.Next() {
		if e.Value.(*cell).offset > offset {
			q.cells.InsertBefore(newCell, e)
			return
		}
	}
	q.cells.PushBack(newCell)
}

func (q *BlockQ) queuedBytes() int64 {
	if q.cells.Len() == 0 {
		return 0
	}
	last := q.cells.Back().Value.(*cell)
	return last.offset + int64(last.chunk.Length) - q.readIndex
}

// Peek returns up to length bytes starting at the read index. Gaps
// (holes, or a wholly-empty queue) are returned as silence, per §3's
// "holes are filled with silence when read". Peeking a chunk never
// advances the read index — call Drop to do that.
func (q *BlockQ) Peek(length int) (Chunk, error) {
	if length <= 0 {
		return Chunk{}, nil
	}
	if q.prebuffing {
		return q.silence(length)
	}

	for e := q.cells.Front(); e != nil; e = e.Next() {
		c := e.Value.(*cell)
		cEnd := c.offset + int64(c.chunk.Length)
		if cEnd <= q.readIndex {
			continue
		}
		if c.offset > q.readIndex {
			// hole before this cell
			holeLen := c.offset - q.readIndex
			if holeLen > int64(length) {
				holeLen = int64(length)
			}
			return q.silence(int(holeLen))
		}
		// readIndex is within this cell
		skip := q.readIndex - c.offset
		avail := int64(c.chunk.Length) - skip
		n := avail
		if n > int64(length) {
			n = int64(length)
		}
		return NewChunk(c.chunk.Block, c.chunk.Index+int(skip), int(n))
	}
	// nothing queued from readIndex on
	return q.silence(length)
}

func (q *BlockQ) silence(length int) (Chunk, error) {
	b, err := NewPooled(q.pool, length)
	if err != nil {
		return Chunk{}, err
	}
	ch, err := NewChunk(b, 0, length)
	if err != nil {
		b.Unref()
		return Chunk{}, err
	}
	Silence(ch, q.spec)
	b.Unref() // ch holds its own ref from NewChunk
	return ch, nil
}

// Drop advances the read index by length, discarding/trimming any
// cells that fall fully or partially behind the new read index.
func (q *BlockQ) Drop(length int) {
	if length <= 0 {
		return
	}
	q.readIndex += int64(length)
	for e := q.cells.Front(); e != nil; {
		c := e.Value.(*cell)
		cEnd := c.offset + int64(c.chunk.Length)
		next := e.Next()
		if cEnd <= q.readIndex {
			c.chunk.Reset()
			q.cells.Remove(e)
		} else {
			break
		}
		e = next
	}
}

// Seek repositions the read index absolutely, discarding cells that now
// lie entirely before it.
func (q *BlockQ) Seek(offset int64) {
	q.readIndex = offset
	for e := q.cells.Front(); e != nil; {
		c := e.Value.(*cell)
		cEnd := c.offset + int64(c.chunk.Length)
		next := e.Next()
		if cEnd <= q.readIndex {
			c.chunk.Reset()
			q.cells.Remove(e)
		} else {
			break
		}
		e = next
	}
}

func (q *BlockQ) ReadIndex() int64  { return q.readIndex }
func (q *BlockQ) WriteIndex() int64 { return q.writeIndex }

// Length is the number of bytes currently queued (including the
// not-yet-filled region up to WriteIndex — used by protocol REQUEST
// accounting).
func (q *BlockQ) Length() int64 { return q.writeIndex - q.readIndex }

// IsEmpty reports whether the queue has no queued data at all (used to
// drive sink-input DRAINED transitions on playback streams).
func (q *BlockQ) IsEmpty() bool { return q.writeIndex <= q.readIndex }
