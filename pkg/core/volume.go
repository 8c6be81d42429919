// FLAT_VOLUME propagation, spec.md §4.I "Volume/ratio invariants
// under FLAT_VOLUME" and §8 invariant 2:
//
//	input.volume == sink.reference_volume[map(k)] ⊗ input.reference_ratio[k]
package core

import "github.com/rapidaai/sonorad/pkg/types"

// recomputeFlatVolumes applies sink.reference_volume and every
// attached input's reference_ratio to derive each input's flattened
// Volume, then recomputes the sink's real_volume as the per-channel
// max over all inputs (remapped into the sink's channel layout).
func recomputeFlatVolumes(sink *Sink, inputs []*SinkInput) {
	n := int(sink.Spec.Channels)
	real := types.MutedCVolume(n)

	for _, in := range inputs {
		ref := sink.ReferenceVolume.Remap(sink.Map, in.Map)
		vol := ref.Multiply(in.ReferenceRatio)
		applyMuteTieBreak(vol)
		in.mu.Lock()
		in.Volume = vol
		in.mu.Unlock()

		backInSinkMap := vol.Remap(in.Map, sink.Map)
		for c := range real {
			if backInSinkMap[c] > real[c] {
				real[c] = backInSinkMap[c]
			}
		}
	}
	if len(inputs) == 0 {
		real = sink.ReferenceVolume
	}
	sink.RealVolume = real

	for _, in := range inputs {
		realRemapped := sink.RealVolume.Remap(sink.Map, in.Map)
		in.mu.Lock()
		in.RealRatio = in.Volume.Divide(realRemapped)
		in.mu.Unlock()
	}
}

// applyMuteTieBreak is spec.md §4.I's tie-break: "if remapped[c] <=
// MUTED, the corresponding ratio is left unchanged and the soft-volume
// component is forced to MUTED" — modelled here by zeroing vol[c]
// directly rather than the input's per-channel SoftVolume; Render
// multiplies the two, so the channel is muted in the mix either way.
func applyMuteTieBreak(vol types.CVolume) {
	for c := range vol {
		if vol[c] <= types.VolumeMuted {
			vol[c] = types.VolumeMuted
		}
	}
}

// propagateSinkInputVolumeRequest implements "when setting the sink
// volume explicitly" from the input's side: an explicit per-input
// volume request under FLAT_VOLUME is expressed as a reference_ratio
// change (the ratio this input wants relative to the sink), then the
// whole attached set is recomputed.
func propagateSinkInputVolumeRequest(sink *Sink, in *SinkInput, requested types.CVolume) {
	ref := sink.ReferenceVolume.Remap(sink.Map, in.Map)
	in.mu.Lock()
	in.ReferenceRatio = requested.Divide(ref)
	in.mu.Unlock()
	recomputeFlatVolumes(sink, sink.attachedInputs())
}

// SetReferenceVolume applies an explicit sink volume change: under
// FLAT_VOLUME, reference_volume becomes v and every attached input's
// Volume is recomputed to preserve its reference_ratio (spec.md
// §4.I). Outside FLAT_VOLUME it is simply the sink's own volume.
func (s *Sink) SetReferenceVolume(v types.CVolume) {
	s.mu.Lock()
	s.ReferenceVolume = v
	flat := s.FlatVolume
	s.mu.Unlock()

	if !flat {
		s.mu.Lock()
		s.RealVolume = v
		s.mu.Unlock()
		return
	}
	recomputeFlatVolumes(s, s.attachedInputs())
}

// VolumeChanged models an externally-induced volume change reported
// by the hardware: reference_volume is pulled to equal the new real
// volume, and every input's reference_ratio is set to its current
// real_ratio, preserving each input's volume relative to the sink.
func (s *Sink) VolumeChanged(real types.CVolume) {
	s.mu.Lock()
	s.RealVolume = real
	s.ReferenceVolume = real
	inputs := make([]*SinkInput, 0, len(s.threadInfo.inputs))
	for _, in := range s.threadInfo.inputs {
		inputs = append(inputs, in)
	}
	s.mu.Unlock()

	for _, in := range inputs {
		in.mu.Lock()
		in.ReferenceRatio = in.RealRatio
		in.mu.Unlock()
	}
	recomputeFlatVolumes(s, inputs)
}
