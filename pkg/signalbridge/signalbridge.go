// Package signalbridge implements spec.md §4.L: bridging UNIX signals
// into the main loop as an ordinary IO event, so signal handling obeys
// the same single-logical-thread guarantee as every other callback
// instead of running on a dedicated runtime signal goroutine.
package signalbridge

import (
	"os"
	"os/signal"
	"sync"

	"github.com/rapidaai/sonorad/pkg/mainloop"
)

// Handler is invoked on the main loop's goroutine once per received
// signal.
type Handler func(sig os.Signal)

// Bridge turns a set of os.Signals into mainloop IO readiness events:
// Notify (run by mainloop.StdLoop.NewIO's goroutine) relays
// signal.Notify's channel, records each signal in pending and sends
// IOIn on readyCh, which wakes the loop.
type Bridge struct {
	mu      sync.Mutex
	sigCh   chan os.Signal
	handler map[os.Signal]Handler
	readyW  chan struct{} // not used by any Bridge method
	closed  bool
	stopCh  chan struct{}

	pending []os.Signal
}

// New registers interest in sigs (e.g. syscall.SIGINT, syscall.SIGTERM,
// syscall.SIGHUP for config reload, syscall.SIGUSR1 for dumping state)
// and returns a Bridge ready to be installed on a mainloop.Api via
// Install.
func New(sigs ...os.Signal) *Bridge {
	b := &Bridge{
		sigCh:   make(chan os.Signal, 16),
		handler: make(map[os.Signal]Handler),
		stopCh:  make(chan struct{}),
	}
	if len(sigs) > 0 {
		signal.Notify(b.sigCh, sigs...)
	}
	return b
}

// On registers the callback fired when sig is delivered. Registering a
// signal that was not passed to New has no effect, since the runtime
// was never told to forward it.
func (b *Bridge) On(sig os.Signal, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler[sig] = h
}

// Notify implements mainloop.Reader: it relays signal.Notify's channel
// into readyCh as IOIn events, stopping when stopCh closes or the
// bridge itself is closed.
func (b *Bridge) Notify(readyCh chan<- mainloop.IOEvent, stopCh <-chan struct{}) {
	for {
		select {
		case sig, ok := <-b.sigCh:
			if !ok {
				return
			}
			b.mu.Lock()
			b.pending = append(b.pending, sig)
			b.mu.Unlock()
			select {
			case readyCh <- mainloop.IOIn:
			case <-stopCh:
				return
			}
		case <-stopCh:
			return
		case <-b.stopCh:
			return
		}
	}
}

// Install creates an IO source on loop that dispatches each pending
// signal to its registered Handler on the loop's goroutine, and
// returns the resulting source so the caller can Cancel it on shutdown.
func (b *Bridge) Install(loop mainloop.Api) mainloop.IOSource {
	return loop.NewIO(b, mainloop.IOIn, func(mainloop.IOEvent) {
		b.mu.Lock()
		sigs := b.pending
		b.pending = nil
		handlers := make(map[os.Signal]Handler, len(b.handler))
		for s, h := range b.handler {
			handlers[s] = h
		}
		b.mu.Unlock()

		for _, sig := range sigs {
			if h, ok := handlers[sig]; ok {
				h(sig)
			}
		}
	})
}

// Close stops signal delivery and releases the underlying channel.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	signal.Stop(b.sigCh)
	close(b.stopCh)
}
