package core

import (
	"sync"

	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/types"
)

// SourceOutput is one capture stream attached to a Source. Captured
// audio is pushed into its blockq by the source; a pstream connection
// drains it with Pop.
type SourceOutput struct {
	Index    uint32
	Name     string
	Spec     types.SampleSpec
	Map      types.ChannelMap
	Proplist *types.Proplist

	core   *Core
	source *Source

	mu    sync.Mutex
	state StreamState

	Volume     types.CVolume
	SoftVolume types.CVolume
	Muted      bool

	queue *memblock.BlockQ
}

func NewSourceOutput(name string, spec types.SampleSpec, chmap types.ChannelMap, props *types.Proplist, pool *memblock.Pool, maxLength int64) *SourceOutput {
	if props == nil {
		props = types.NewProplist()
	}
	n := int(spec.Channels)
	return &SourceOutput{
		Name:       name,
		Spec:       spec,
		Map:        chmap,
		Proplist:   props,
		state:      StreamInit,
		Volume:     types.NormCVolume(n),
		SoftVolume: types.NormCVolume(n),
		queue:      memblock.NewBlockQ(pool, spec, maxLength, maxLength, 0),
	}
}

func (o *SourceOutput) Put() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StreamInit {
		o.state = StreamRunning
	}
}

// Source returns the source this output is currently attached to.
func (o *SourceOutput) Source() *Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.source
}

func (o *SourceOutput) State() StreamState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *SourceOutput) Cork() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StreamRunning {
		o.state = StreamCorked
	}
}

func (o *SourceOutput) Uncork() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StreamCorked {
		o.state = StreamRunning
	}
}

// Pop removes up to length bytes of captured audio for delivery to
// the client.
func (o *SourceOutput) Pop(length int) (memblock.Chunk, error) {
	c, err := o.queue.Peek(length)
	if err != nil {
		return memblock.Chunk{}, err
	}
	o.queue.Drop(c.Length)
	return c, nil
}

func (o *SourceOutput) push(chunk memblock.Chunk) {
	if o.State() != StreamRunning {
		return
	}
	eff := o.SoftVolume.Multiply(o.Volume)
	if o.Muted || eff.IsMuted() {
		sil, err := memblock.NewPooled(chunk.Block.Pool(), chunk.Length)
		if err != nil {
			return
		}
		c, err := memblock.NewChunk(sil, 0, chunk.Length)
		sil.Unref()
		if err != nil {
			return
		}
		memblock.Silence(c, o.Spec)
		o.queue.Push(c, 0, memblock.SeekRelative)
		return
	}
	o.queue.Push(chunk.Dup(), 0, memblock.SeekRelative)
}

// Fail unlinks the output as a consequence of its source disappearing.
func (o *SourceOutput) Fail() { o.Unlink() }

func (o *SourceOutput) Unlink() {
	o.mu.Lock()
	if o.state == StreamUnlinked {
		o.mu.Unlock()
		return
	}
	o.state = StreamUnlinked
	o.mu.Unlock()

	if o.source != nil {
		o.source.DetachOutput(o.Index)
		o.source = nil
	}
	if o.core != nil {
		o.core.unregisterSourceOutput(o.Index)
	}
}

func (o *SourceOutput) SetVolume(v types.CVolume) {
	o.mu.Lock()
	o.Volume = v
	o.mu.Unlock()
}

func (o *SourceOutput) SetMute(muted bool) {
	o.mu.Lock()
	o.Muted = muted
	o.mu.Unlock()
}
