// Package mainloop implements spec.md §4.C: the abstract main-loop API
// over IO, timer, deferred and quit event sources. All callbacks run on
// the loop's owning goroutine — the same "single logical thread"
// guarantee the spec requires, implemented here with a goroutine and a
// work channel rather than the C original's function-pointer vtable.
package mainloop

import "time"

// IOEvent is a bitmask of readiness conditions an IOSource can wait on.
type IOEvent uint8

const (
	IOIn IOEvent = 1 << iota
	IOOut
	IOHup
)

type (
	IOCallback       func(events IOEvent)
	TimerCallback    func()
	DeferredCallback func()
)

// IOSource is a registered, cancellable readiness watch.
type IOSource interface {
	// SetEvents updates the event mask this source watches.
	SetEvents(events IOEvent)
	// Cancel removes the source; no further callback invocations follow
	// its return, even if one was already queued (it is dropped).
	Cancel()
}

// TimerSource is a one-shot, absolute-deadline timer. The callback may
// call Restart to rearm it.
type TimerSource interface {
	Restart(at time.Time)
	Disable()
	Cancel()
}

// DeferredSource fires once per loop iteration while enabled.
type DeferredSource interface {
	Enable(enabled bool)
	Cancel()
}

// Reader is the minimal capability an IO source needs: a way to block
// until the underlying source is readable/writable. Implementations
// (signalbridge.Bridge, which relays its os/signal channel) run their
// own blocking goroutine and signal over readyCh.
type Reader interface {
	// Notify must send on readyCh whenever the source becomes ready,
	// until stopCh is closed. Called once, from a goroutine the Api
	// owns.
	Notify(readyCh chan<- IOEvent, stopCh <-chan struct{})
}

// Api is the capability set of §4.C's table: create/enable/cancel for
// each source kind, plus Quit and Run.
type Api interface {
	NewIO(r Reader, events IOEvent, cb IOCallback) IOSource
	NewTimer(at time.Time, cb TimerCallback) TimerSource
	NewDeferred(cb DeferredCallback) DeferredSource
	// Quit requests the loop stop after the current dispatch round,
	// Run returning exitCode.
	Quit(exitCode int)
	// Run blocks, dispatching callbacks on the calling goroutine,
	// until Quit is called. Returns the code passed to Quit.
	Run() int
}
