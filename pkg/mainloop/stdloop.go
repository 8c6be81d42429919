package mainloop

import (
	"container/heap"
	"sync"
	"time"
)

// StdLoop is the reference Api implementation: one owning goroutine
// (the one that calls Run) serializes every callback. IO readiness is
// funnelled into the event channel and timer expiry arrives on a
// time.Timer Run arms each iteration, so Run's select loop is the only
// place callbacks are invoked from.
type StdLoop struct {
	mu       sync.Mutex
	timers   timerHeap
	deferred map[*deferredSrc]struct{}

	event    chan func()
	quitCh   chan int
	quitting bool
}

func NewStdLoop() *StdLoop {
	return &StdLoop{
		deferred: make(map[*deferredSrc]struct{}),
		event:    make(chan func(), 64),
		quitCh:   make(chan int, 1),
	}
}

// ---- IO sources ----

type ioSrc struct {
	loop    *StdLoop
	cb      IOCallback
	events  IOEvent
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex
}

func (l *StdLoop) NewIO(r Reader, events IOEvent, cb IOCallback) IOSource {
	s := &ioSrc{loop: l, cb: cb, events: events, stopCh: make(chan struct{})}
	readyCh := make(chan IOEvent, 16)
	go r.Notify(readyCh, s.stopCh)
	go func() {
		for {
			select {
			case ev, ok := <-readyCh:
				if !ok {
					return
				}
				s.mu.Lock()
				want := s.events
				s.mu.Unlock()
				if ev&want == 0 {
					continue
				}
				l.post(func() {
					s.mu.Lock()
					stopped := s.stopped
					s.mu.Unlock()
					if !stopped {
						s.cb(ev)
					}
				})
			case <-s.stopCh:
				return
			}
		}
	}()
	return s
}

func (s *ioSrc) SetEvents(events IOEvent) {
	s.mu.Lock()
	s.events = events
	s.mu.Unlock()
}

func (s *ioSrc) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
}

// ---- Timer sources ----

type timerEntry struct {
	at    time.Time
	cb    TimerCallback
	index int
	live  bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

type timerSrc struct {
	loop  *StdLoop
	entry *timerEntry
}

func (l *StdLoop) NewTimer(at time.Time, cb TimerCallback) TimerSource {
	l.mu.Lock()
	e := &timerEntry{at: at, cb: cb, live: true}
	heap.Push(&l.timers, e)
	l.mu.Unlock()
	return &timerSrc{loop: l, entry: e}
}

func (t *timerSrc) Restart(at time.Time) {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	if !t.entry.live {
		t.entry.live = true
		heap.Push(&t.loop.timers, t.entry)
	}
	t.entry.at = at
	heap.Fix(&t.loop.timers, t.entry.index)
}

func (t *timerSrc) Disable() {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	if t.entry.live {
		heap.Remove(&t.loop.timers, t.entry.index)
		t.entry.live = false
	}
}

func (t *timerSrc) Cancel() { t.Disable() }

// ---- Deferred sources ----

type deferredSrc struct {
	loop    *StdLoop
	cb      DeferredCallback
	enabled bool
}

func (l *StdLoop) NewDeferred(cb DeferredCallback) DeferredSource {
	d := &deferredSrc{loop: l, cb: cb, enabled: true}
	l.mu.Lock()
	l.deferred[d] = struct{}{}
	l.mu.Unlock()
	return d
}

func (d *deferredSrc) Enable(enabled bool) { d.enabled = enabled }
func (d *deferredSrc) Cancel() {
	d.loop.mu.Lock()
	delete(d.loop.deferred, d)
	d.loop.mu.Unlock()
}

// ---- dispatch ----

func (l *StdLoop) post(fn func()) {
	l.event <- fn
}

func (l *StdLoop) Quit(exitCode int) {
	select {
	case l.quitCh <- exitCode:
	default:
	}
}

func (l *StdLoop) Run() int {
	for {
		l.mu.Lock()
		l.runDeferred()
		var timerC <-chan time.Time
		var timer *time.Timer
		if l.timers.Len() > 0 {
			d := time.Until(l.timers[0].at)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}
		l.mu.Unlock()

		select {
		case code := <-l.quitCh:
			if timer != nil {
				timer.Stop()
			}
			return code
		case fn := <-l.event:
			if timer != nil {
				timer.Stop()
			}
			fn()
		case <-timerC:
			l.fireExpiredTimers()
		}
	}
}

func (l *StdLoop) runDeferred() {
	for d := range l.deferred {
		if d.enabled {
			d.cb()
		}
	}
}

func (l *StdLoop) fireExpiredTimers() {
	now := time.Now()
	l.mu.Lock()
	var due []*timerEntry
	for l.timers.Len() > 0 && !l.timers[0].at.After(now) {
		e := heap.Pop(&l.timers).(*timerEntry)
		e.live = false
		due = append(due, e)
	}
	l.mu.Unlock()
	for _, e := range due {
		e.cb()
	}
}
