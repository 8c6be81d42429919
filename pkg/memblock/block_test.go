package memblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkInvariant_IndexPlusLengthWithinBlock(t *testing.T) {
	p := NewPool(4096, 65536)
	b, err := NewPooled(p, 100)
	require.NoError(t, err)
	defer b.Unref()

	_, err = NewChunk(b, 90, 20)
	assert.Error(t, err, "index+length exceeding block length must fail")

	c, err := NewChunk(b, 10, 50)
	require.NoError(t, err)
	defer c.Reset()
	assert.LessOrEqual(t, c.Index+c.Length, b.Len())
}

func TestMakeWritable_ClonesWhenShared(t *testing.T) {
	p := NewPool(4096, 65536)
	b, err := NewPooled(p, 16)
	require.NoError(t, err)
	b.Ref() // simulate a second owner

	nb, err := MakeWritable(b, 16)
	require.NoError(t, err)
	assert.EqualValues(t, 1, nb.RefCount())

	b.Unref()
}

func TestMakeWritable_ReusesUniqueBlock(t *testing.T) {
	p := NewPool(4096, 65536)
	b, err := NewPooled(p, 16)
	require.NoError(t, err)

	nb, err := MakeWritable(b, 16)
	require.NoError(t, err)
	assert.Same(t, b, nb, "sole-owner, sufficiently-large block should not be cloned")
	nb.Unref()
}

func TestPool_TooLarge(t *testing.T) {
	p := NewPool(1024, 2048)
	_, err := NewPooled(p, 4096)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestUnref_ReturnsToPoolAndStats(t *testing.T) {
	p := NewPool(64, 4096)
	b, err := NewPooled(p, 64)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.Stats().NPooled)
	b.Unref()
	assert.EqualValues(t, 0, p.Stats().NPooled)
}
