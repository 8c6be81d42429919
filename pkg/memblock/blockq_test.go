package memblock

import (
	"testing"

	"github.com/rapidaai/sonorad/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec() types.SampleSpec {
	return types.SampleSpec{Format: types.FormatS16LE, Channels: 2, Rate: 44100}
}

func TestBlockQ_PeekDropRoundTrip(t *testing.T) {
	p := NewPool(4096, 1 << 20)
	q := NewBlockQ(p, testSpec(), 1<<20, 4096, 0)

	src, err := NewPooled(p, 64)
	require.NoError(t, err)
	data := src.Acquire()
	for i := range data {
		data[i] = byte(i + 1)
	}
	chunk, err := NewChunk(src, 0, 64)
	require.NoError(t, err)
	src.Unref()

	require.NoError(t, q.Push(chunk, 0, SeekRelative))
	chunk.Reset()

	peeked, err := q.Peek(64)
	require.NoError(t, err)
	assert.Equal(t, 64, peeked.Length)
	assert.Equal(t, byte(1), peeked.Bytes()[0])
	peeked.Reset()

	beforeRead := q.ReadIndex()
	q.Drop(64)
	assert.Equal(t, beforeRead+64, q.ReadIndex())
	assert.True(t, q.IsEmpty())
}

func TestBlockQ_HolesFilledWithSilence(t *testing.T) {
	p := NewPool(4096, 1 << 20)
	q := NewBlockQ(p, testSpec(), 1<<20, 4096, 0)

	// Push data starting at offset 100, leaving [0,100) a hole.
	src, err := NewPooled(p, 20)
	require.NoError(t, err)
	chunk, err := NewChunk(src, 0, 20)
	require.NoError(t, err)
	src.Unref()
	require.NoError(t, q.Push(chunk, 100, SeekAbsolute))
	chunk.Reset()

	peeked, err := q.Peek(200)
	require.NoError(t, err)
	// First peek should return the hole region (clamped to request).
	assert.Equal(t, 100, peeked.Length)
	for _, b := range peeked.Bytes() {
		assert.Equal(t, byte(0), b)
	}
	peeked.Reset()
}

func TestBlockQ_EmptyQueueReturnsSilence(t *testing.T) {
	p := NewPool(4096, 1 << 20)
	q := NewBlockQ(p, testSpec(), 1<<20, 0, 0)

	c, err := q.Peek(128)
	require.NoError(t, err)
	assert.Equal(t, 128, c.Length)
	c.Reset()
}
