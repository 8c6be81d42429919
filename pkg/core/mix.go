package core

import (
	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/types"
)

// mixContributor is one peeked, non-silent sink-input's contribution
// for the current render period.
type mixContributor struct {
	chunk  memblock.Chunk
	volume types.CVolume // soft_volume ⊗ input.volume, already flattened
}

// mix implements spec.md §4.I step 3's "many contributors" branch: a
// per-channel saturating sum scaled by each contributor's volume, then
// scaled again by the sink's own soft volume. Only S16LE is mixed: for
// any other sink format (or when sinkMuted is set) the result is
// silence. Sink-input chunks are not converted to the sink's format on
// the way in; SinkInput.Peek returns the queued bytes as pushed.
func mix(pool *memblock.Pool, contributors []mixContributor, length int, spec types.SampleSpec, sinkVolume types.CVolume, sinkMuted bool) (memblock.Chunk, error) {
	blk, err := memblock.NewPooled(pool, length)
	if err != nil {
		return memblock.Chunk{}, err
	}
	chunk, err := memblock.NewChunk(blk, 0, length)
	blk.Unref()
	if err != nil {
		return memblock.Chunk{}, err
	}

	out := chunk.Bytes()
	if sinkMuted || spec.Format != types.FormatS16LE {
		memblock.Silence(chunk, spec)
		return chunk, nil
	}

	nsamples := length / 2
	acc := make([]int32, nsamples)
	channels := int(spec.Channels)
	if channels < 1 {
		channels = 1
	}

	for _, c := range contributors {
		data := c.chunk.Bytes()
		n := len(data) / 2
		if n > nsamples {
			n = nsamples
		}
		for i := 0; i < n; i++ {
			ch := i % channels
			vol := atVolume(c.volume.Multiply(sinkVolume), ch)
			acc[i] += unclampedScale(decodeSample(data, i), vol)
		}
	}

	for i := 0; i < nsamples; i++ {
		encodeSample(out, i, clampS16(acc[i]))
	}
	return chunk, nil
}

// scaleChunk applies a single per-channel volume to src's S16LE samples,
// writing the result into a freshly pooled chunk of length bytes — the
// one-contributor analogue of pulseaudio's pa_volume_memchunk, used by
// Sink.Render when exactly one contributor is mixing (spec.md §4.I step
// 3's n==1 case) so that a non-unity volume on the only attached stream
// is actually audible in the output.
func scaleChunk(pool *memblock.Pool, src memblock.Chunk, length int, spec types.SampleSpec, volume types.CVolume) (memblock.Chunk, error) {
	blk, err := memblock.NewPooled(pool, length)
	if err != nil {
		return memblock.Chunk{}, err
	}
	chunk, err := memblock.NewChunk(blk, 0, length)
	blk.Unref()
	if err != nil {
		return memblock.Chunk{}, err
	}

	out := chunk.Bytes()
	data := src.Bytes()
	if spec.Format != types.FormatS16LE {
		copy(out, data)
		return chunk, nil
	}

	nsamples := length / 2
	channels := int(spec.Channels)
	if channels < 1 {
		channels = 1
	}
	n := len(data) / 2
	if n > nsamples {
		n = nsamples
	}
	for i := 0; i < n; i++ {
		ch := i % channels
		vol := atVolume(volume, ch)
		encodeSample(out, i, clampS16(unclampedScale(decodeSample(data, i), vol)))
	}
	return chunk, nil
}

func decodeSample(data []byte, i int) int16 {
	return int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
}

func encodeSample(out []byte, i int, v int16) {
	u := uint16(v)
	out[2*i] = byte(u)
	out[2*i+1] = byte(u >> 8)
}

// unclampedScale applies vol to sample in pulseaudio's fixed-point scale
// without clamping, so callers that still need to accumulate multiple
// contributors (mix's default branch) can clamp once after summing.
func unclampedScale(sample int16, vol types.Volume) int32 {
	return int32((int64(sample) * int64(vol)) / int64(types.VolumeNorm))
}

func clampS16(v int32) int16 {
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// CVolume.at is unexported on types.CVolume; mirror its clamp-to-last
// semantics locally since mix needs per-channel lookups with the same
// fallback behaviour used throughout pkg/types.
func atVolume(v types.CVolume, i int) types.Volume {
	if len(v) == 0 {
		return types.VolumeNorm
	}
	if i < len(v) {
		return v[i]
	}
	return v[len(v)-1]
}
