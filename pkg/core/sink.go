package core

import (
	"sync"

	"github.com/rapidaai/sonorad/pkg/asyncmsgq"
	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/types"
)

// Async message codes a Sink's IO thread understands, delivered via
// pkg/asyncmsgq — spec.md §4.I "Sink-input add/remove is delivered to
// the IO thread via synchronous messages so main-thread visibility of
// attached matches IO-thread visibility".
const (
	SinkMsgAttachInput = iota
	SinkMsgDetachInput
	SinkMsgRequestRewind
)

// sinkThreadInfo is the IO-thread-owned half of a Sink (spec.md §5):
// the main thread must never read these fields directly.
type sinkThreadInfo struct {
	inputs          map[uint32]*SinkInput
	rewindRequested int
	state           State
}

// Sink is spec.md §4.I's playback sink: a main-thread view (name,
// volume, state, latency bounds) plus a thread_info half reachable
// only through ProcessMsg / Render, which the daemon's IO-thread
// goroutine drives.
type Sink struct {
	Index uint32
	Name  string
	Spec  types.SampleSpec
	Map   types.ChannelMap

	core *Core
	pool *memblock.Pool

	mu            sync.Mutex
	state         State
	suspendCauses SuspendCause

	ReferenceVolume types.CVolume
	RealVolume      types.CVolume
	SoftVolume      types.CVolume
	Muted           bool
	FlatVolume      bool

	FixedLatencyUsec uint64 // 0 means dynamic [MinLatencyUsec, MaxLatencyUsec]
	MinLatencyUsec   uint64
	MaxLatencyUsec   uint64

	Monitor *Source

	Queue *asyncmsgq.Queue

	threadInfo sinkThreadInfo
}

// NewSink constructs an un-registered sink with its monitor source
// already created (a sink "owns its monitor source", spec.md §4.I).
func NewSink(name string, spec types.SampleSpec, chmap types.ChannelMap, pool *memblock.Pool) (*Sink, error) {
	q, err := asyncmsgq.New()
	if err != nil {
		return nil, err
	}
	n := int(spec.Channels)
	s := &Sink{
		Name:            name,
		Spec:            spec,
		Map:             chmap,
		pool:            pool,
		state:           StateInit,
		ReferenceVolume: types.NormCVolume(n),
		RealVolume:      types.NormCVolume(n),
		SoftVolume:      types.NormCVolume(n),
		FixedLatencyUsec: DefaultFixedLatencyUsec,
		Queue:           q,
		threadInfo: sinkThreadInfo{
			inputs: make(map[uint32]*SinkInput),
			state:  StateInit,
		},
	}
	s.Monitor = newMonitorSource(s, pool)
	return s, nil
}

// Put transitions INIT → IDLE, the first transition after creation.
func (s *Sink) Put() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInit {
		s.state = StateIdle
	}
}

func (s *Sink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Suspend sets cause in the suspend bitset; the sink is SUSPENDED iff
// the bitset is non-zero.
func (s *Sink) Suspend(cause SuspendCause) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUnlinked {
		return
	}
	s.suspendCauses |= cause
	s.state = StateSuspended
}

// Resume clears cause; if no causes remain the sink returns to IDLE.
func (s *Sink) Resume(cause SuspendCause) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUnlinked {
		return
	}
	s.suspendCauses &^= cause
	if s.suspendCauses == 0 && s.state == StateSuspended {
		s.state = StateIdle
	}
}

func (s *Sink) checkState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUnlinked || s.state == StateSuspended {
		return
	}
	if len(s.threadInfo.inputs) > 0 {
		s.state = StateRunning
	} else {
		s.state = StateIdle
	}
}

// Unlink is idempotent: s.state becomes UNLINKED and every attached
// input is detached so no thread's view references s afterward
// (spec.md §8 invariant 5).
func (s *Sink) Unlink() {
	s.mu.Lock()
	if s.state == StateUnlinked {
		s.mu.Unlock()
		return
	}
	s.state = StateUnlinked
	s.mu.Unlock()

	for _, in := range s.attachedInputs() {
		in.Fail()
	}
	if s.Monitor != nil {
		s.Monitor.Unlink()
	}
	if s.Queue != nil {
		s.Queue.Close()
	}
	if s.core != nil {
		s.core.unregisterSink(s.Index)
	}
}

func (s *Sink) attachedInputs() []*SinkInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SinkInput, 0, len(s.threadInfo.inputs))
	for _, in := range s.threadInfo.inputs {
		out = append(out, in)
	}
	return out
}

// AttachInput applies the attach directly through ProcessMsg, the
// same entry point a real IO-thread goroutine uses when draining
// s.Queue (see asyncmsgq.Queue.Run) — sonorad's core runs
// cooperatively on whichever goroutine drives Render, so there is
// always exactly one caller of ProcessMsg at a time; deployments that
// want genuine OS-thread separation drive it through s.Queue.Send
// instead (same effect, just across goroutines).
func (s *Sink) AttachInput(in *SinkInput) {
	s.ProcessMsg(SinkMsgAttachInput, in, 0, nil)
	in.sink = s
	s.checkState()
}

// DetachInput is the inverse of AttachInput.
func (s *Sink) DetachInput(idx uint32) {
	s.ProcessMsg(SinkMsgDetachInput, idx, 0, nil)
	s.checkState()
}

// RequestRewind posts a pending rewind of n bytes, applied at the
// start of the next Render call.
func (s *Sink) RequestRewind(n int) {
	s.ProcessMsg(SinkMsgRequestRewind, n, 0, nil)
}

// ProcessMsg implements asyncmsgq.Target: it is the sole mutator of
// thread_info.
func (s *Sink) ProcessMsg(code int, userdata any, offset int64, chunk *memblock.Chunk) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch code {
	case SinkMsgAttachInput:
		in := userdata.(*SinkInput)
		s.threadInfo.inputs[in.Index] = in
	case SinkMsgDetachInput:
		idx := userdata.(uint32)
		delete(s.threadInfo.inputs, idx)
	case SinkMsgRequestRewind:
		n := userdata.(int)
		if n > s.threadInfo.rewindRequested {
			s.threadInfo.rewindRequested = n
		}
	}
	return 0
}

// Render executes the five-step mixing algorithm in spec.md §4.I for
// one output period of up to length bytes, clamped to the memblock
// pool's maximum block size. length == 0 returns an empty chunk.
func (s *Sink) Render(length int) (memblock.Chunk, error) {
	if length == 0 {
		return memblock.Chunk{}, nil
	}
	if max := s.pool.BlockSizeMax(); length > max {
		length = max
	}

	if s.State() == StateSuspended {
		return s.silenceChunk(length)
	}

	s.mu.Lock()
	rewind := s.threadInfo.rewindRequested
	s.threadInfo.rewindRequested = 0
	inputs := make([]*SinkInput, 0, len(s.threadInfo.inputs))
	for _, in := range s.threadInfo.inputs {
		inputs = append(inputs, in)
	}
	s.mu.Unlock()

	// Step 1: deliver any pending rewind to every attached input.
	if rewind > 0 {
		for _, in := range inputs {
			in.ProcessRewind(rewind)
		}
	}

	// Step 2: peek every attached input, shrinking length to the
	// smallest peek and collecting non-silent contributions.
	type peeked struct {
		in     *SinkInput
		chunk  memblock.Chunk
		silent bool
	}
	var all []peeked
	for _, in := range inputs {
		c, vol, err := in.Peek(length)
		if err != nil {
			continue
		}
		if c.Length < length {
			length = c.Length
		}
		all = append(all, peeked{in: in, chunk: c, silent: c.IsEmpty() || vol.IsMuted()})
	}

	var contributors []mixContributor
	for _, p := range all {
		if !p.silent {
			eff := p.in.SoftVolume.Multiply(p.in.Volume)
			contributors = append(contributors, mixContributor{chunk: p.chunk, volume: eff})
		}
	}

	// Step 3: mixing policy.
	var result memblock.Chunk
	var err error
	switch len(contributors) {
	case 0:
		result, err = s.silenceChunk(length)
	case 1:
		eff := contributors[0].volume.Multiply(s.SoftVolume)
		result = contributors[0].chunk
		if result.Length > length {
			result.Length = length
		}
		if s.Muted || eff.IsMuted() {
			result, err = s.silenceChunk(length)
		} else if !eff.IsNorm() {
			result, err = scaleChunk(s.pool, result, length, s.Spec, eff)
		}
	default:
		result, err = mix(s.pool, contributors, length, s.Spec, s.SoftVolume, s.Muted)
	}
	if err != nil {
		return memblock.Chunk{}, err
	}

	// Step 4: drop length from every peeked input (including silent
	// ones), matching the final shrunk length.
	for _, p := range all {
		p.in.Drop(length)
	}

	// Step 5: post to the monitor source, if linked.
	if s.Monitor != nil && s.Monitor.State() != StateUnlinked {
		s.Monitor.PostMonitorData(result)
	}

	return result, nil
}

func (s *Sink) silenceChunk(length int) (memblock.Chunk, error) {
	blk, err := memblock.NewPooled(s.pool, length)
	if err != nil {
		return memblock.Chunk{}, err
	}
	chunk, err := memblock.NewChunk(blk, 0, length)
	blk.Unref()
	if err != nil {
		return memblock.Chunk{}, err
	}
	memblock.Silence(chunk, s.Spec)
	return chunk, nil
}

// RequestedLatency returns the minimum over every attached input's
// requested_sink_latency, clamped into the sink's [min, max] (and the
// absolute floor/ceiling).
func (s *Sink) RequestedLatency() uint64 {
	if s.FixedLatencyUsec != 0 {
		return clampLatency(s.FixedLatencyUsec, s.FixedLatencyUsec, s.FixedLatencyUsec)
	}
	var requested uint64 = AbsoluteMaxLatencyUsec
	any := false
	for _, in := range s.threadInfo.inputs {
		if in.RequestedLatencyUsec > 0 && in.RequestedLatencyUsec < requested {
			requested = in.RequestedLatencyUsec
			any = true
		}
	}
	if !any {
		requested = s.MaxLatencyUsec
	}
	return clampLatency(requested, s.MinLatencyUsec, s.MaxLatencyUsec)
}
