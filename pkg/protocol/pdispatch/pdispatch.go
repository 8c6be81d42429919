// Package pdispatch implements spec.md §4.H: the command/reply
// dispatch table sitting on top of pstream's control packets. A
// command table routes inbound requests to handlers; a pending-reply
// map routes inbound REPLY/ERROR frames back to the caller that sent
// the matching tagged request, with a per-request timeout.
package pdispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/rapidaai/sonorad/pkg/protocol/tagstruct"
)

// Wire commands relevant to dispatch itself; the full command set
// (§6.1) is registered by the caller via RegisterCommand.
const (
	CommandError   uint32 = 0
	CommandTimeout uint32 = 1 // synthetic, never sent on the wire
	CommandReply   uint32 = 2
)

var (
	// ErrUnexpectedReply is returned by Run when a REPLY/ERROR frame's
	// tag matches no pending request — the sender is malformed.
	ErrUnexpectedReply = errors.New("pdispatch: reply tag has no pending request")
	// ErrUnknownCommand is returned by Run when command_table has no
	// handler registered for the frame's command.
	ErrUnknownCommand = errors.New("pdispatch: no handler for command")
)

// Handler processes an inbound request frame.
type Handler func(pd *Pdispatch, command, tag uint32, ts *tagstruct.TagStruct, userdata any) error

// ReplyCallback processes an inbound REPLY/ERROR frame, or a
// synthetic TIMEOUT (ts is nil in that case).
type ReplyCallback func(command, tag uint32, ts *tagstruct.TagStruct, userdata any)

type pendingEntry struct {
	callback ReplyCallback
	userdata any
	timer    *time.Timer
}

// Pdispatch holds the command table and pending-reply bookkeeping for
// one pstream connection.
type Pdispatch struct {
	mu      sync.Mutex
	table   map[uint32]Handler
	pending map[uint32]*pendingEntry

	// OnDrain fires once the pending-reply list transitions to empty —
	// used to sequence orderly shutdown (wait for all outstanding
	// requests to settle before tearing down the pstream).
	OnDrain func()
}

// New creates an empty dispatch table.
func New() *Pdispatch {
	return &Pdispatch{
		table:   make(map[uint32]Handler),
		pending: make(map[uint32]*pendingEntry),
	}
}

// RegisterCommand installs the handler for an inbound request command.
func (pd *Pdispatch) RegisterCommand(command uint32, h Handler) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.table[command] = h
}

// RegisterReply arms a pending reply for tag: cb fires with the
// matching REPLY/ERROR frame, or with command == CommandTimeout and a
// nil tag-struct if timeout elapses first.
func (pd *Pdispatch) RegisterReply(tag uint32, timeout time.Duration, cb ReplyCallback, userdata any) {
	entry := &pendingEntry{callback: cb, userdata: userdata}
	pd.mu.Lock()
	pd.pending[tag] = entry
	pd.mu.Unlock()

	entry.timer = time.AfterFunc(timeout, func() { pd.expire(tag, entry) })
}

func (pd *Pdispatch) expire(tag uint32, entry *pendingEntry) {
	pd.mu.Lock()
	cur, ok := pd.pending[tag]
	if !ok || cur != entry {
		pd.mu.Unlock()
		return
	}
	delete(pd.pending, tag)
	drained := len(pd.pending) == 0
	pd.mu.Unlock()

	entry.callback(CommandTimeout, tag, nil, entry.userdata)
	if drained && pd.OnDrain != nil {
		pd.OnDrain()
	}
}

// Run parses data as a tag-struct, reads its (command, tag) header,
// and routes it: REPLY/ERROR goes to the matching pending entry (if
// any — otherwise ErrUnexpectedReply); anything else goes to
// command_table[command] (ErrUnknownCommand if unregistered).
func (pd *Pdispatch) Run(data []byte, userdata any) error {
	ts := tagstruct.NewFromBytes(data)
	command, err := ts.GetU32()
	if err != nil {
		return err
	}
	tag, err := ts.GetU32()
	if err != nil {
		return err
	}

	if command == CommandReply || command == CommandError {
		pd.mu.Lock()
		entry, ok := pd.pending[tag]
		if ok {
			delete(pd.pending, tag)
			entry.timer.Stop()
		}
		drained := len(pd.pending) == 0
		pd.mu.Unlock()

		if !ok {
			return ErrUnexpectedReply
		}
		entry.callback(command, tag, ts, entry.userdata)
		if drained && pd.OnDrain != nil {
			pd.OnDrain()
		}
		return nil
	}

	pd.mu.Lock()
	h, ok := pd.table[command]
	pd.mu.Unlock()
	if !ok {
		return ErrUnknownCommand
	}
	return h(pd, command, tag, ts, userdata)
}

// IsPending reports whether any replies are outstanding.
func (pd *Pdispatch) IsPending() bool {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return len(pd.pending) > 0
}

// CancelReply removes a pending entry without invoking its callback —
// used when the request's originating connection dies first.
func (pd *Pdispatch) CancelReply(tag uint32) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if entry, ok := pd.pending[tag]; ok {
		entry.timer.Stop()
		delete(pd.pending, tag)
	}
}
