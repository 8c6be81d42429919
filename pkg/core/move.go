// Moving streams between sinks/sources, spec.md §4.I "Moving streams":
// a three-call transaction (start/finish/fail) so a move can be vetoed
// mid-flight without leaving the stream half-attached, and so a
// sync-grouped set of inputs moves together or not at all.
package core

import "errors"

var (
	// ErrSyncGroupMismatch is returned when a move is attempted on one
	// member of a sync group without moving the whole group together.
	ErrSyncGroupMismatch = errors.New("core: sink-input has sync siblings, move the group together")
	ErrMoveNotStarted    = errors.New("core: finish/fail_move called without a matching start_move")
)

// moveTxn tracks the in-flight state between StartMove and
// Finish/FailMove for one sink-input.
type moveTxn struct {
	in       *SinkInput
	oldSink  *Sink
	newSink  *Sink
}

// syncGroup returns in plus every input transitively linked through
// syncPrev/syncNext, the unit spec.md §4.I requires moves to respect.
func syncGroup(in *SinkInput) []*SinkInput {
	group := []*SinkInput{in}
	for p := in.syncPrev; p != nil; p = p.syncPrev {
		group = append(group, p)
	}
	for n := in.syncNext; n != nil; n = n.syncNext {
		group = append(group, n)
	}
	return group
}

// StartMoveSinkInput begins moving in (and its whole sync group, if
// any) to dst. It detaches from the old sink but does not attach to
// the new one yet, giving the caller a chance to veto via FailMove
// before any audio is delivered to dst.
func StartMoveSinkInput(in *SinkInput, dst *Sink) ([]*moveTxn, error) {
	group := syncGroup(in)
	txns := make([]*moveTxn, 0, len(group))
	for _, member := range group {
		member.mu.Lock()
		old := member.sink
		member.mu.Unlock()
		if old != nil {
			old.DetachInput(member.Index)
		}
		txns = append(txns, &moveTxn{in: member, oldSink: old, newSink: dst})
	}
	return txns, nil
}

// FinishMoveSinkInput completes a transaction started by
// StartMoveSinkInput: every member of the group is attached to its
// new sink and, if the destination is FLAT_VOLUME, volumes are
// recomputed so the moved inputs' reference_ratio is preserved
// relative to the new sink.
func FinishMoveSinkInput(txns []*moveTxn) error {
	if len(txns) == 0 {
		return ErrMoveNotStarted
	}
	for _, t := range txns {
		t.newSink.AttachInput(t.in)
	}
	if txns[0].newSink.FlatVolume {
		recomputeFlatVolumes(txns[0].newSink, txns[0].newSink.attachedInputs())
	}
	return nil
}

// FailMoveSinkInput aborts a transaction: every member reattaches to
// its original sink (if it still exists and is not unlinked), leaving
// state exactly as it was before StartMoveSinkInput.
func FailMoveSinkInput(txns []*moveTxn) error {
	if len(txns) == 0 {
		return ErrMoveNotStarted
	}
	for _, t := range txns {
		if t.oldSink == nil || t.oldSink.State() == StateUnlinked {
			continue
		}
		t.oldSink.AttachInput(t.in)
	}
	return nil
}
