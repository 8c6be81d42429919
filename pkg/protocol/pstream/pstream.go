// Package pstream implements spec.md §4.G: packet-stream framing over
// a bidirectional byte channel. Each frame is a 20-byte descriptor
// followed by its payload; channel 0xFFFFFFFF marks a control packet,
// any other value marks an audio memblock addressed to that channel.
package pstream

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/protocol/packet"
)

const descriptorLen = 20

// controlChannel marks a frame as carrying a control (tag-struct)
// packet rather than an audio memblock.
const controlChannel = 0xFFFFFFFF

// SeekMode mirrors the low bits of the descriptor's flags word.
type SeekMode uint32

const (
	SeekRelative SeekMode = iota
	SeekAbsolute
	SeekRelativeOnRead
	SeekRelativeOnWrite
)

// OnPacketFunc handles a received control packet.
type OnPacketFunc func(p *packet.Packet)

// OnMemblockFunc handles a received audio frame.
type OnMemblockFunc func(channel uint32, offset int64, seek SeekMode, chunk memblock.Chunk)

// OnDieFunc fires once, on any fatal IO error or on an explicit Close.
type OnDieFunc func(err error)

type outbound struct {
	header  [descriptorLen]byte
	payload []byte
}

// Pstream frames packets and memblocks over conn. Callers must set
// OnPacket/OnMemblock/OnDie before calling Run.
type Pstream struct {
	conn io.ReadWriteCloser
	pool *memblock.Pool

	OnPacket   OnPacketFunc
	OnMemblock OnMemblockFunc
	OnDie      OnDieFunc
	OnDrained  func()

	mu       sync.Mutex
	outq     []outbound
	wake     chan struct{}
	closed   bool
	diedOnce sync.Once
}

// New wraps conn. pool is used to allocate blocks for received
// memblock frames; it may be nil if the caller never expects inbound
// audio frames (e.g. a client-only control connection).
func New(conn io.ReadWriteCloser, pool *memblock.Pool) *Pstream {
	return &Pstream{
		conn: conn,
		pool: pool,
		wake: make(chan struct{}, 1),
	}
}

// Run starts the reader and writer loops and blocks until the stream
// dies (read error, write error, or Close). It is meant to be run on
// its own goroutine per connection.
func (s *Pstream) Run() {
	done := make(chan struct{})
	go func() {
		s.writeLoop()
		close(done)
	}()
	s.readLoop()
	<-done
}

// SendPacket enqueues a control frame for writing.
func (s *Pstream) SendPacket(p *packet.Packet) {
	s.enqueue(controlChannel, 0, SeekRelative, p.Data())
}

// SendMemblock enqueues an audio frame addressed to channel.
func (s *Pstream) SendMemblock(channel uint32, offset int64, seek SeekMode, chunk memblock.Chunk) {
	s.enqueue(channel, offset, seek, chunk.Bytes())
}

func (s *Pstream) enqueue(channel uint32, offset int64, seek SeekMode, payload []byte) {
	var hdr [descriptorLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[4:8], channel)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(uint64(offset)>>32))
	binary.BigEndian.PutUint32(hdr[12:16], uint32(uint64(offset)))
	binary.BigEndian.PutUint32(hdr[16:20], uint32(seek))

	body := make([]byte, len(payload))
	copy(body, payload)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.outq = append(s.outq, outbound{header: hdr, payload: body})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Pstream) writeLoop() {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.outq) == 0 {
			s.mu.Unlock()
			if s.OnDrained != nil {
				s.OnDrained()
			}
			_, ok := <-s.wake
			if !ok {
				return
			}
			continue
		}
		next := s.outq[0]
		s.outq = s.outq[1:]
		s.mu.Unlock()

		if _, err := s.conn.Write(next.header[:]); err != nil {
			s.die(err)
			return
		}
		if len(next.payload) > 0 {
			if _, err := s.conn.Write(next.payload); err != nil {
				s.die(err)
				return
			}
		}
	}
}

func (s *Pstream) readLoop() {
	var hdr [descriptorLen]byte
	for {
		if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
			s.die(err)
			return
		}
		length := binary.BigEndian.Uint32(hdr[0:4])
		channel := binary.BigEndian.Uint32(hdr[4:8])
		offsetHi := binary.BigEndian.Uint32(hdr[8:12])
		offsetLo := binary.BigEndian.Uint32(hdr[12:16])
		flags := binary.BigEndian.Uint32(hdr[16:20])
		offset := int64(uint64(offsetHi)<<32 | uint64(offsetLo))

		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(s.conn, payload); err != nil {
				s.die(err)
				return
			}
		}

		if channel == controlChannel {
			if s.OnPacket != nil {
				s.OnPacket(packet.NewOwned(payload))
			}
			continue
		}

		if s.OnMemblock == nil || s.pool == nil {
			continue
		}
		blk := memblock.NewUser(s.pool, payload, nil)
		chunk, err := memblock.NewChunk(blk, 0, len(payload))
		blk.Unref()
		if err != nil {
			continue
		}
		s.OnMemblock(channel, offset, SeekMode(flags&0x3), chunk)
	}
}

func (s *Pstream) die(err error) {
	s.diedOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.wake)
		s.mu.Unlock()
		s.conn.Close()
		if s.OnDie != nil {
			s.OnDie(err)
		}
	})
}

// Close tears the stream down deterministically, without waiting for
// a read/write error to surface one.
func (s *Pstream) Close() {
	s.die(errors.New("pstream: closed"))
}
