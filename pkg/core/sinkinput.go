package core

import (
	"sync"

	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/types"
)

// SinkInput is one playback stream attached to a Sink. Its blockq
// (pkg/memblock.BlockQ) is the buffer a client writes into and the
// sink's IO thread peeks/drops from every render period.
type SinkInput struct {
	Index    uint32
	Name     string
	Spec     types.SampleSpec
	Map      types.ChannelMap
	Proplist *types.Proplist

	core *Core
	sink *Sink

	mu    sync.Mutex
	state StreamState

	// Volume is the flattened per-channel volume actually applied at
	// mix time: sink.reference_volume ⊗ reference_ratio under
	// FLAT_VOLUME (see recomputeFlatVolumes).
	Volume types.CVolume
	// ReferenceRatio is this input's volume relative to the sink's
	// reference volume — the quantity FLAT_VOLUME preserves across
	// sink volume changes.
	ReferenceRatio types.CVolume
	// RealRatio is Volume ⊘ sink.real_volume, recomputed whenever
	// either side changes.
	RealRatio types.CVolume
	SoftVolume types.CVolume
	Muted      bool

	RequestedLatencyUsec uint64

	queue *memblock.BlockQ

	// sync group for move restrictions (spec.md §4.I "Moving streams").
	syncPrev, syncNext *SinkInput
}

// NewSinkInput constructs an un-attached, un-registered sink-input
// with its own playback blockq.
func NewSinkInput(name string, spec types.SampleSpec, chmap types.ChannelMap, props *types.Proplist, pool *memblock.Pool, maxLength, tlength, prebuf int64) *SinkInput {
	if props == nil {
		props = types.NewProplist()
	}
	n := int(spec.Channels)
	return &SinkInput{
		Name:           name,
		Spec:           spec,
		Map:            chmap,
		Proplist:       props,
		state:          StreamInit,
		Volume:         types.NormCVolume(n),
		ReferenceRatio: types.NormCVolume(n),
		RealRatio:      types.NormCVolume(n),
		SoftVolume:     types.NormCVolume(n),
		queue:          memblock.NewBlockQ(pool, spec, maxLength, tlength, prebuf),
	}
}

// Put transitions INIT → RUNNING.
func (in *SinkInput) Put() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state == StreamInit {
		in.state = StreamRunning
	}
}

// Sink returns the sink this input is attached to. It is nil until
// Sink.AttachInput, after Unlink, and after a move that detached the
// input without reattaching it.
func (in *SinkInput) Sink() *Sink {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.sink
}

func (in *SinkInput) State() StreamState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

func (in *SinkInput) Cork() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state == StreamRunning {
		in.state = StreamCorked
	}
}

func (in *SinkInput) Uncork() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state == StreamCorked {
		in.state = StreamRunning
	}
}

// Push writes a chunk of client audio into the input's blockq.
func (in *SinkInput) Push(chunk memblock.Chunk) error {
	return in.queue.Push(chunk, 0, memblock.SeekRelative)
}

// Peek returns up to length bytes plus the input's current volume.
// Corked or drained inputs peek as silence (handled by the blockq
// itself once empty and prebuffering).
func (in *SinkInput) Peek(length int) (memblock.Chunk, types.CVolume, error) {
	if in.State() == StreamCorked {
		return memblock.Chunk{}, in.Volume, nil
	}
	c, err := in.queue.Peek(length)
	if err != nil {
		return memblock.Chunk{}, nil, err
	}
	if c.IsEmpty() && in.State() == StreamRunning {
		in.maybeDrain()
	}
	return c, in.Volume, nil
}

func (in *SinkInput) Drop(length int) {
	if length <= 0 {
		return
	}
	in.queue.Drop(length)
}

func (in *SinkInput) maybeDrain() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.queue.IsEmpty() && in.state == StreamRunning {
		in.state = StreamDrained
	}
}

// ProcessRewind is delivered by the sink's Render step 1 to every
// attached input ahead of a pending rewind.
func (in *SinkInput) ProcessRewind(n int) {
	in.queue.Seek(in.queue.ReadIndex() - int64(n))
}

// Fail unlinks the input as a consequence of its sink disappearing
// (spec.md §4.I "Failure semantics" via Unlink).
func (in *SinkInput) Fail() {
	in.Unlink()
}

// Unlink is idempotent.
func (in *SinkInput) Unlink() {
	in.mu.Lock()
	if in.state == StreamUnlinked {
		in.mu.Unlock()
		return
	}
	in.state = StreamUnlinked
	in.mu.Unlock()

	if in.sink != nil {
		in.sink.DetachInput(in.Index)
		in.sink = nil
	}
	if in.core != nil {
		in.core.unregisterSinkInput(in.Index)
	}
}

// SetVolume applies a new (unflattened) volume request. Under
// FLAT_VOLUME it stores the request as this input's ReferenceRatio
// relative to the sink's reference volume and recomputes every
// attached input's Volume and the sink's RealVolume (see
// propagateSinkInputVolumeRequest); the sink's reference volume is
// left unchanged. Otherwise it sets Volume directly.
func (in *SinkInput) SetVolume(v types.CVolume) {
	if in.sink != nil && in.sink.FlatVolume {
		propagateSinkInputVolumeRequest(in.sink, in, v)
		return
	}
	in.mu.Lock()
	in.Volume = v
	in.mu.Unlock()
}

func (in *SinkInput) SetMute(muted bool) {
	in.mu.Lock()
	in.Muted = muted
	in.mu.Unlock()
}
