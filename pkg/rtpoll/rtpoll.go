// Package rtpoll implements spec.md §4.D: the realtime poll loop that
// drives each sink/source IO thread, multiplexing poll-fds together
// with the async message queue's readiness fd and a one-shot absolute
// timer. Unlike pkg/mainloop (goroutine+channel, for the control
// thread), this is a real poll(2) loop — IO threads are the
// latency-sensitive path and must not pay goroutine-scheduler jitter
// on top of the kernel's own wakeup latency.
package rtpoll

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// Priority controls which items get serviced within one wake-up when
// multiple are ready; items are polled in insertion order within a
// priority class.
type Priority int

const (
	PriorityEarly Priority = iota
	PriorityNormal
	PriorityLate
)

// ItemCallback is invoked after Run with the revents observed for this
// item's fd(s). Its result reports whether the item wants another
// immediate Run iteration before blocking again; Run does not act on it.
type ItemCallback func(revents int16) (wantImmediate bool)

type item struct {
	fds      []unix.PollFd
	cb       ItemCallback
	priority Priority
	disabled bool
}

// RtPoll is one IO thread's event loop.
type RtPoll struct {
	items []*item

	timerAt      time.Time
	timerEnabled bool
	elapsed      bool

	cancelled bool
}

func New() *RtPoll { return &RtPoll{} }

// Install binds the poll loop to the calling goroutine/OS thread.
// Callers that need IO threads pinned to a dedicated OS thread should
// call runtime.LockOSThread() themselves before Install — rtpoll does
// not do this unconditionally because some back-ends (the driver
// callback thread case in §5) already guarantee thread stability.
func (r *RtPoll) Install() {}

// ItemNewFdsem registers a self-pipe/eventfd-style readiness fd — used
// to wake the IO thread when the async message queue (pkg/asyncmsgq)
// has new work.
func (r *RtPoll) ItemNewFdsem(fd int, priority Priority, cb ItemCallback) {
	r.items = append(r.items, &item{
		fds:      []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}},
		cb:       cb,
		priority: priority,
	})
}

// ItemNewAsyncmsgq is an alias of ItemNewFdsem kept for symmetry with
// spec.md's naming — the async message queue exposes exactly a
// readiness fd to rtpoll (see asyncmsgq.Queue.NotifyFd).
func (r *RtPoll) ItemNewAsyncmsgq(fd int, cb ItemCallback) {
	r.ItemNewFdsem(fd, PriorityNormal, cb)
}

// ItemNew registers an arbitrary set of pollfds (e.g. a driver's
// hardware fd armed for POLLOUT).
func (r *RtPoll) ItemNew(fds []unix.PollFd, priority Priority, cb ItemCallback) *ItemHandle {
	it := &item{fds: fds, cb: cb, priority: priority}
	r.items = append(r.items, it)
	return &ItemHandle{poll: r, it: it}
}

// ItemHandle lets a caller mutate or remove a previously-registered
// item (ItemGetPollfd / enable-disable / removal).
type ItemHandle struct {
	poll *RtPoll
	it   *item
}

func (h *ItemHandle) GetPollfd() []unix.PollFd { return h.it.fds }
func (h *ItemHandle) SetDisabled(disabled bool) { h.it.disabled = disabled }
func (h *ItemHandle) Remove() {
	for i, it := range h.poll.items {
		if it == h.it {
			h.poll.items = append(h.poll.items[:i], h.poll.items[i+1:]...)
			return
		}
	}
}

// SetTimerAbsolute arms a one-shot wakeup at t.
func (r *RtPoll) SetTimerAbsolute(t time.Time) {
	r.timerAt = t
	r.timerEnabled = true
}

// SetTimerDisabled disarms the timer.
func (r *RtPoll) SetTimerDisabled() { r.timerEnabled = false }

// TimerElapsed reports whether the timer fired during the most recent
// Run call.
func (r *RtPoll) TimerElapsed() bool { return r.elapsed }

// Cancel requests Run return 0 ("quit") at the next opportunity.
func (r *RtPoll) Cancel() { r.cancelled = true }

// Run polls every registered item's fds plus the timer. Returns
// negative on fatal poll(2) error; zero on cancellation, when the timer
// expires with no item ready, or when there is nothing to wait on;
// positive (count of ready items) otherwise.
func (r *RtPoll) Run() int {
	r.elapsed = false
	if r.cancelled {
		return 0
	}

	timeoutMs := -1
	if r.timerEnabled {
		d := time.Until(r.timerAt)
		if d < 0 {
			d = 0
		}
		timeoutMs = int(d.Milliseconds())
	}

	// Items are polled in priority order (early, normal, late); flatten
	// into one pollfd slice, remembering the back-reference per item so
	// revents can be redistributed after the syscall.
	ordered := orderedItems(r.items)
	var all []unix.PollFd
	owner := make([]*item, 0)
	offsets := make([]int, 0, len(ordered))
	for _, it := range ordered {
		if it.disabled {
			continue
		}
		offsets = append(offsets, len(all))
		all = append(all, it.fds...)
		for range it.fds {
			owner = append(owner, it)
		}
	}

	if len(all) == 0 {
		if timeoutMs < 0 {
			return 0 // nothing to wait on and no timer: treat as quit
		}
		time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
		r.elapsed = r.timerEnabled
		return 0
	}

	n, err := unix.Poll(all, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return r.Run()
		}
		return -1
	}
	if n == 0 {
		r.elapsed = r.timerEnabled
		return 0
	}

	ready := 0
	immediate := false
	seen := make(map[*item]bool)
	for i, pfd := range all {
		if pfd.Revents == 0 {
			continue
		}
		it := owner[i]
		if seen[it] {
			continue
		}
		seen[it] = true
		ready++
		if it.cb != nil && it.cb(pfd.Revents) {
			immediate = true
		}
	}
	_ = offsets
	if immediate {
		// caller loop should come back around without delay; rtpoll
		// signals this simply by having already invoked the callback —
		// the driving loop decides whether to re-Run immediately.
	}
	return ready
}

func orderedItems(items []*item) []*item {
	out := make([]*item, 0, len(items))
	for _, p := range []Priority{PriorityEarly, PriorityNormal, PriorityLate} {
		for _, it := range items {
			if it.priority == p {
				out = append(out, it)
			}
		}
	}
	return out
}
