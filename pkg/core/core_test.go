package core

import (
	"testing"

	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stereoSpec() types.SampleSpec {
	return types.SampleSpec{Format: types.FormatS16LE, Channels: 2, Rate: 44100}
}

func newTestSink(t *testing.T, flat bool) (*Sink, *memblock.Pool) {
	t.Helper()
	pool := memblock.NewPool(4096, 65536)
	sink, err := NewSink("test-sink", stereoSpec(), types.StereoMap(), pool)
	require.NoError(t, err)
	sink.FlatVolume = flat
	sink.Put()
	return sink, pool
}

func TestSinkUnlink_IdempotentAndTerminal(t *testing.T) {
	sink, _ := newTestSink(t, false)
	sink.Unlink()
	assert.Equal(t, StateUnlinked, sink.State())
	// second call must not panic or change state further
	sink.Unlink()
	assert.Equal(t, StateUnlinked, sink.State())
}

func TestSinkUnlink_FailsAttachedInputs(t *testing.T) {
	sink, pool := newTestSink(t, false)
	in := NewSinkInput("stream", stereoSpec(), types.StereoMap(), nil, pool, 65536, 16384, 4096)
	in.Put()
	sink.AttachInput(in)

	sink.Unlink()
	assert.Equal(t, StreamUnlinked, in.State())
}

func TestSinkRender_ZeroLengthReturnsEmpty(t *testing.T) {
	sink, _ := newTestSink(t, false)
	c, err := sink.Render(0)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestSinkRender_ClampedToPoolMax(t *testing.T) {
	sink, pool := newTestSink(t, false)
	c, err := sink.Render(pool.BlockSizeMax() * 4)
	require.NoError(t, err)
	assert.LessOrEqual(t, c.Length, pool.BlockSizeMax())
}

func TestSinkRender_NoInputsIsSilence(t *testing.T) {
	sink, _ := newTestSink(t, false)
	c, err := sink.Render(256)
	require.NoError(t, err)
	require.False(t, c.IsEmpty())
	assert.True(t, c.Block.IsSilence())
}

func TestSinkRender_SingleInputPassesThrough(t *testing.T) {
	sink, pool := newTestSink(t, false)
	in := NewSinkInput("stream", stereoSpec(), types.StereoMap(), nil, pool, 65536, 16384, 0)
	in.Put()
	sink.AttachInput(in)

	blk, err := memblock.NewPooled(pool, 256)
	require.NoError(t, err)
	chunk, err := memblock.NewChunk(blk, 0, 256)
	require.NoError(t, err)
	blk.Unref()
	for i := range chunk.Bytes() {
		chunk.Bytes()[i] = 0x11
	}
	require.NoError(t, in.Push(chunk))

	out, err := sink.Render(256)
	require.NoError(t, err)
	assert.Equal(t, 256, out.Length)
	assert.False(t, out.Block.IsSilence())
}

func TestSinkRender_SingleInputAppliesNonUnityVolume(t *testing.T) {
	sink, pool := newTestSink(t, false)
	in := NewSinkInput("stream", stereoSpec(), types.StereoMap(), nil, pool, 65536, 16384, 0)
	in.Volume = types.NewCVolume(2, types.VolumeNorm/2)
	in.Put()
	sink.AttachInput(in)

	blk, err := memblock.NewPooled(pool, 4)
	require.NoError(t, err)
	chunk, err := memblock.NewChunk(blk, 0, 4)
	require.NoError(t, err)
	blk.Unref()
	// Two S16LE samples at full scale, one per channel.
	chunk.Bytes()[0], chunk.Bytes()[1] = 0xFF, 0x7F // 32767
	chunk.Bytes()[2], chunk.Bytes()[3] = 0xFF, 0x7F
	require.NoError(t, in.Push(chunk))

	out, err := sink.Render(4)
	require.NoError(t, err)
	require.Equal(t, 4, out.Length)

	got0 := int16(uint16(out.Bytes()[0]) | uint16(out.Bytes()[1])<<8)
	got1 := int16(uint16(out.Bytes()[2]) | uint16(out.Bytes()[3])<<8)
	assert.InDelta(t, 16384, got0, 2, "half volume on the sole contributor must attenuate its samples")
	assert.InDelta(t, 16384, got1, 2, "half volume on the sole contributor must attenuate its samples")
}

func TestFlatVolume_PropagatesToInput(t *testing.T) {
	sink, pool := newTestSink(t, true)
	in := NewSinkInput("stream", stereoSpec(), types.StereoMap(), nil, pool, 65536, 16384, 4096)
	in.Put()
	sink.AttachInput(in)

	requested := types.NewCVolume(2, types.VolumeNorm/2)
	in.SetVolume(requested)

	remapped := sink.ReferenceVolume.Remap(sink.Map, in.Map)
	expected := remapped.Multiply(in.ReferenceRatio)
	assert.Equal(t, expected, in.Volume)

	// invariant: input.volume == sink.reference_volume[map] (x) reference_ratio
	assert.True(t, in.Volume.Equal(expected))
}

func TestFlatVolume_SinkRealVolumeTracksMax(t *testing.T) {
	sink, pool := newTestSink(t, true)
	a := NewSinkInput("a", stereoSpec(), types.StereoMap(), nil, pool, 65536, 16384, 4096)
	b := NewSinkInput("b", stereoSpec(), types.StereoMap(), nil, pool, 65536, 16384, 4096)
	a.Put()
	b.Put()
	sink.AttachInput(a)
	sink.AttachInput(b)

	a.SetVolume(types.NewCVolume(2, types.VolumeNorm))
	b.SetVolume(types.NewCVolume(2, types.VolumeNorm/4))

	assert.Equal(t, types.VolumeNorm, sink.RealVolume.Max())
}

func TestSinkInputProcessRewind_SeeksRelative(t *testing.T) {
	_, pool := newTestSink(t, false)
	in := NewSinkInput("stream", stereoSpec(), types.StereoMap(), nil, pool, 65536, 16384, 4096)
	in.Put()

	blk, err := memblock.NewPooled(pool, 1024)
	require.NoError(t, err)
	chunk, err := memblock.NewChunk(blk, 0, 1024)
	require.NoError(t, err)
	blk.Unref()
	require.NoError(t, in.Push(chunk))

	_, _, err = in.Peek(512)
	require.NoError(t, err)
	in.Drop(512)
	before := in.queue.ReadIndex()

	in.ProcessRewind(128)
	assert.Equal(t, before-128, in.queue.ReadIndex())
}

func TestSourceOutput_MutedPushesSilence(t *testing.T) {
	pool := memblock.NewPool(4096, 65536)
	source := NewSource("test-source", stereoSpec(), types.StereoMap(), pool)
	source.Put()
	out := NewSourceOutput("capture", stereoSpec(), types.StereoMap(), nil, pool, 65536)
	out.Put()
	out.Muted = true
	source.AttachOutput(out)

	blk, err := memblock.NewPooled(pool, 256)
	require.NoError(t, err)
	chunk, err := memblock.NewChunk(blk, 0, 256)
	require.NoError(t, err)
	blk.Unref()
	for i := range chunk.Bytes() {
		chunk.Bytes()[i] = 0x42
	}
	source.Capture(chunk)

	got, err := out.Pop(256)
	require.NoError(t, err)
	assert.True(t, got.Block.IsSilence())
}

func TestStartFailMove_RestoresOriginalSink(t *testing.T) {
	srcSink, pool := newTestSink(t, false)
	dstSink, err := NewSink("other-sink", stereoSpec(), types.StereoMap(), pool)
	require.NoError(t, err)
	dstSink.Put()

	in := NewSinkInput("stream", stereoSpec(), types.StereoMap(), nil, pool, 65536, 16384, 4096)
	in.Put()
	srcSink.AttachInput(in)

	txns, err := StartMoveSinkInput(in, dstSink)
	require.NoError(t, err)
	require.NoError(t, FailMoveSinkInput(txns))

	assert.Contains(t, srcSink.attachedInputs(), in)
}

func TestStartFinishMove_AttachesToDestination(t *testing.T) {
	srcSink, pool := newTestSink(t, false)
	dstSink, err := NewSink("other-sink", stereoSpec(), types.StereoMap(), pool)
	require.NoError(t, err)
	dstSink.Put()

	in := NewSinkInput("stream", stereoSpec(), types.StereoMap(), nil, pool, 65536, 16384, 4096)
	in.Put()
	srcSink.AttachInput(in)

	txns, err := StartMoveSinkInput(in, dstSink)
	require.NoError(t, err)
	require.NoError(t, FinishMoveSinkInput(txns))

	assert.Contains(t, dstSink.attachedInputs(), in)
	assert.NotContains(t, srcSink.attachedInputs(), in)
}
