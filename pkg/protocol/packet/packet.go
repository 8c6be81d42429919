// Package packet implements the Packet half of spec.md §4.F: a
// reference-counted byte buffer framed by pstream (§4.G).
package packet

import "sync/atomic"

// Packet is (bytes, length, refcount).
type Packet struct {
	data     []byte
	refcount int32
}

// NewOwned takes ownership of data (no copy).
func NewOwned(data []byte) *Packet {
	return &Packet{data: data, refcount: 1}
}

// NewCopy copies data into a fresh Packet.
func NewCopy(data []byte) *Packet {
	cp := make([]byte, len(data))
	copy(cp, data)
	return NewOwned(cp)
}

func (p *Packet) Data() []byte { return p.data }
func (p *Packet) Len() int     { return len(p.data) }

func (p *Packet) Ref() *Packet {
	atomic.AddInt32(&p.refcount, 1)
	return p
}

func (p *Packet) Unref() {
	if atomic.AddInt32(&p.refcount, -1) <= 0 {
		p.data = nil
	}
}
