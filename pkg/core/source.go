package core

import (
	"sync"

	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/types"
)

// sourceThreadInfo is the IO-thread-owned half of a Source.
type sourceThreadInfo struct {
	outputs map[uint32]*SourceOutput
}

// Source is spec.md §4.I's capture source — either a hardware input
// or a sink's monitor. It pushes each captured chunk to every
// attached SourceOutput's blockq.
type Source struct {
	Index uint32
	Name  string
	Spec  types.SampleSpec
	Map   types.ChannelMap

	core *Core
	pool *memblock.Pool

	// monitorOf is non-nil when this Source is a sink's monitor,
	// matching "a sink owns its monitor source" (spec.md §4.I).
	monitorOf *Sink

	mu            sync.Mutex
	state         State
	suspendCauses SuspendCause

	ReferenceVolume types.CVolume
	RealVolume      types.CVolume
	Muted           bool

	threadInfo sourceThreadInfo
}

func newMonitorSource(sink *Sink, pool *memblock.Pool) *Source {
	n := int(sink.Spec.Channels)
	return &Source{
		Name:            sink.Name + ".monitor",
		Spec:            sink.Spec,
		Map:             sink.Map,
		pool:            pool,
		monitorOf:       sink,
		state:           StateInit,
		ReferenceVolume: types.NormCVolume(n),
		RealVolume:      types.NormCVolume(n),
		threadInfo:      sourceThreadInfo{outputs: make(map[uint32]*SourceOutput)},
	}
}

// NewSource constructs a standalone (non-monitor) source.
func NewSource(name string, spec types.SampleSpec, chmap types.ChannelMap, pool *memblock.Pool) *Source {
	n := int(spec.Channels)
	return &Source{
		Name:            name,
		Spec:            spec,
		Map:             chmap,
		pool:            pool,
		state:           StateInit,
		ReferenceVolume: types.NormCVolume(n),
		RealVolume:      types.NormCVolume(n),
		threadInfo:      sourceThreadInfo{outputs: make(map[uint32]*SourceOutput)},
	}
}

func (s *Source) Put() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInit {
		s.state = StateIdle
	}
}

func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Source) Suspend(cause SuspendCause) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUnlinked {
		return
	}
	s.suspendCauses |= cause
	s.state = StateSuspended
}

func (s *Source) Resume(cause SuspendCause) {
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

func (s *Source) checkState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUnlinked || s.state == StateSuspended {
		return
	}
	if len(s.threadInfo.outputs) > 0 {
		s.state = StateRunning
	} else {
		s.state = StateIdle
	}
}

func (s *Source) Unlink() {
	s.mu.Lock()
	if s.state == StateUnlinked {
		s.mu.Unlock()
		return
	}
	s.state = StateUnlinked
	outs := make([]*SourceOutput, 0, len(s.threadInfo.outputs))
	for _, o := range s.threadInfo.outputs {
		outs = append(outs, o)
	}
	s.mu.Unlock()

	for _, o := range outs {
		o.Fail()
	}
	if s.core != nil && s.Index != 0 {
		s.core.unregisterSource(s.Index)
	}
}

func (s *Source) AttachOutput(o *SourceOutput) {
	s.mu.Lock()
	s.threadInfo.outputs[o.Index] = o
	s.mu.Unlock()
	o.source = s
	s.checkState()
}

func (s *Source) DetachOutput(idx uint32) {
	s.mu.Lock()
	delete(s.threadInfo.outputs, idx)
	s.mu.Unlock()
	s.checkState()
}

// PostMonitorData is how a sink's Render step 5 feeds its monitor
// source; it fans the rendered chunk out to every attached output.
func (s *Source) PostMonitorData(chunk memblock.Chunk) {
	s.push(chunk)
}

// Capture is the equivalent entry point for a hardware source driver
// delivering newly-recorded audio.
func (s *Source) Capture(chunk memblock.Chunk) {
	s.push(chunk)
}

func (s *Source) push(chunk memblock.Chunk) {
	if s.State() == StateSuspended {
		return
	}
	s.mu.Lock()
	outs := make([]*SourceOutput, 0, len(s.threadInfo.outputs))
	for _, o := range s.threadInfo.outputs {
		outs = append(outs, o)
	}
	s.mu.Unlock()
	for _, o := range outs {
		o.push(chunk)
	}
}
