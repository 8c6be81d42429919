// Package asyncmsgq implements spec.md §4.E: the only legal inter-thread
// channel between the main (control) thread and a sink/source's IO
// thread. Ordering is FIFO per-sender; Send is a synchronous barrier.
package asyncmsgq

import (
	"os"
	"sync"

	"github.com/rapidaai/sonorad/pkg/memblock"
)

// Target receives delivered messages. Sink/Source/SinkInput/SourceOutput
// all implement this on their thread_info side (§4.I, §5).
type Target interface {
	ProcessMsg(code int, userdata any, offset int64, chunk *memblock.Chunk) int
}

// Message is one FIFO entry.
type Message struct {
	Target   Target
	Code     int
	Userdata any
	Offset   int64
	Chunk    *memblock.Chunk

	reply chan int // non-nil only for Send; receives ProcessMsg's return
}

// Queue is a FIFO of Messages with a notification fd suitable for
// rtpoll's ItemNewFdsem, so an IO thread can wake on either poll-fds or
// incoming messages from the same rtpoll.Run call.
type Queue struct {
	mu     sync.Mutex
	pend   []Message
	closed bool

	notifyR *os.File
	notifyW *os.File
}

// New creates an empty queue with a ready-to-poll self-pipe.
func New() (*Queue, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &Queue{notifyR: r, notifyW: w}, nil
}

// NotifyFd returns the read end's fd for rtpoll.ItemNewFdsem.
func (q *Queue) NotifyFd() int { return int(q.notifyR.Fd()) }

// Drain consumes the self-pipe's wakeup bytes; call after rtpoll.Run
// reports the notify fd readable, before Pop-ing messages.
func (q *Queue) Drain() {
	buf := make([]byte, 64)
	for {
		n, err := q.notifyR.Read(buf)
		if n < len(buf) || err != nil {
			return
		}
	}
}

func (q *Queue) wake() {
	q.notifyW.Write([]byte{1})
}

// Post appends a message without blocking and without waiting for
// processing.
func (q *Queue) Post(target Target, code int, userdata any, offset int64, chunk *memblock.Chunk) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pend = append(q.pend, Message{Target: target, Code: code, Userdata: userdata, Offset: offset, Chunk: chunk})
	q.mu.Unlock()
	q.wake()
}

// Send appends a message and blocks until target.ProcessMsg has run
// and returned, propagating its return value. Must not be called from
// the thread that calls Pop/Dispatch on this same queue (it would
// deadlock waiting on itself).
func (q *Queue) Send(target Target, code int, userdata any, offset int64, chunk *memblock.Chunk) int {
	reply := make(chan int, 1)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return -1
	}
	q.pend = append(q.pend, Message{Target: target, Code: code, Userdata: userdata, Offset: offset, Chunk: chunk, reply: reply})
	q.mu.Unlock()
	q.wake()
	return <-reply
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Pop removes and returns the oldest pending message, if any.
func (q *Queue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pend) == 0 {
		return Message{}, false
	}
	m := q.pend[0]
	q.pend = q.pend[1:]
	return m, true
}

// Dispatch pops and processes every currently-pending message on the
// calling (IO-thread) goroutine, in FIFO order; the natural driving
// loop for an IO thread after rtpoll.Run reports the notify fd ready.
func (q *Queue) Dispatch() {
	for {
		m, ok := q.Pop()
		if !ok {
			return
		}
		ret := m.Target.ProcessMsg(m.Code, m.Userdata, m.Offset, m.Chunk)
		if m.reply != nil {
			m.reply <- ret
		}
	}
}

// Run blocks, alternately waiting for a wakeup and dispatching
// whatever arrived, until Close is called. It is the natural body of
// the goroutine standing in for an IO thread bound to this queue.
func (q *Queue) Run() {
	for {
		q.Drain()
		if q.Closed() {
			return
		}
		q.Dispatch()
	}
}

// Close drops all pending messages (§4.E's cancellation contract: the
// target must tolerate messages that arrive after its own unlink as
// long as it still holds a reference, but no message is delivered once
// the queue itself is closed).
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	pending := q.pend
	q.pend = nil
	q.mu.Unlock()
	for _, m := range pending {
		if m.reply != nil {
			m.reply <- -1
		}
	}
	q.notifyR.Close()
	q.notifyW.Close()
}
