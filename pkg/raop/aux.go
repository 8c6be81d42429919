package raop

import (
	"encoding/binary"
	"sync"
	"time"
)

const ntpEpochOffset = 0x83aa7e80 // seconds between 1900 and 1970 epochs

// toNTP converts a time.Time to the 64-bit NTP timestamp format
// spec.md §4.K's timing channel uses: seconds since 1900 in the
// integer part, (microseconds * 2^32 / 1e6) in the fraction.
func toNTP(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	usec := uint64(t.Nanosecond() / 1000)
	frac := (usec << 32) / 1_000_000
	return secs<<32 | frac
}

// buildSyncPacket is spec.md §4.K's udp_sync_header-based sync
// packet: header [0x80,0xd4,0x00,0x07,...], current RTP timestamp
// minus the fixed 88200-sample delay, the transmitter's current NTP
// time, and the current RTP timestamp again. first sets bit 0x10 on
// byte 0 for the very first sync packet of a session.
func buildSyncPacket(rtpTimestamp uint32, first bool, now time.Time) []byte {
	const delay = 88200
	pkt := make([]byte, 20)
	pkt[0] = 0x80
	if first {
		pkt[0] |= 0x10
	}
	pkt[1] = 0xd4
	binary.BigEndian.PutUint16(pkt[2:4], 0x0007)
	binary.BigEndian.PutUint32(pkt[4:8], rtpTimestamp-delay)
	ntp := toNTP(now)
	binary.BigEndian.PutUint32(pkt[8:12], uint32(ntp>>32))
	binary.BigEndian.PutUint32(pkt[12:16], uint32(ntp))
	binary.BigEndian.PutUint32(pkt[16:20], rtpTimestamp)
	return pkt
}

// timingRequest is a parsed incoming timing-channel request (payload
// type 0x52): originate timestamp is the pair the requester sent.
type timingRequest struct {
	OriginateHi, OriginateLo uint32
}

func parseTimingRequest(pkt []byte) (timingRequest, bool) {
	if len(pkt) < 16 || pkt[1]&0x7f != 0x52 {
		return timingRequest{}, false
	}
	return timingRequest{
		OriginateHi: binary.BigEndian.Uint32(pkt[8:12]),
		OriginateLo: binary.BigEndian.Uint32(pkt[12:16]),
	}, true
}

// buildTimingReply answers a timing request (payload type 0x53) with
// originate (echoed), receive, and transmit NTP timestamps.
func buildTimingReply(req timingRequest, receiveTime, transmitTime time.Time) []byte {
	pkt := make([]byte, 32)
	pkt[0] = 0x80
	pkt[1] = 0xd3 // marker bit set + payload type 0x53
	binary.BigEndian.PutUint16(pkt[2:4], 0x0007)

	binary.BigEndian.PutUint32(pkt[8:12], req.OriginateHi)
	binary.BigEndian.PutUint32(pkt[12:16], req.OriginateLo)

	rx := toNTP(receiveTime)
	binary.BigEndian.PutUint32(pkt[16:20], uint32(rx>>32))
	binary.BigEndian.PutUint32(pkt[20:24], uint32(rx))

	tx := toNTP(transmitTime)
	binary.BigEndian.PutUint32(pkt[24:28], uint32(tx>>32))
	binary.BigEndian.PutUint32(pkt[28:32], uint32(tx))
	return pkt
}

// retransmitRequest is a parsed control-channel retransmit request
// (payload type 0x55): a (start sequence, count) range.
type retransmitRequest struct {
	StartSeq uint16
	Count    uint16
}

func parseRetransmitRequest(pkt []byte) (retransmitRequest, bool) {
	if len(pkt) < 8 || pkt[1]&0x7f != 0x55 {
		return retransmitRequest{}, false
	}
	return retransmitRequest{
		StartSeq: binary.BigEndian.Uint16(pkt[4:6]),
		Count:    binary.BigEndian.Uint16(pkt[6:8]),
	}, true
}

// buildRetransmitReplyHeader is the 8-byte retransmit-reply framing
// (payload type 0x56) prepended to a resent packet's own RTP header
// and payload: [0x80,0xd6,0x01,??,0x80,0x60,seq_hi,seq_lo].
func buildRetransmitReplyHeader(seq uint16) []byte {
	hdr := make([]byte, 8)
	hdr[0] = 0x80
	hdr[1] = 0xd6
	hdr[2] = 0x01
	hdr[3] = 0x30 // unknown byte; the teacher's C client leaves this unexplained too
	hdr[4] = 0x80
	hdr[5] = 0x60
	binary.BigEndian.PutUint16(hdr[6:8], seq)
	return hdr
}

// packetBuffer is the retransmit ring spec.md §4.K requires: a
// fixed-capacity FIFO of (seq, packet) entries, oldest evicted first.
type packetBuffer struct {
	mu       sync.Mutex
	capacity int
	order    []uint16
	packets  map[uint16][]byte
}

func newPacketBuffer(capacity int) *packetBuffer {
	return &packetBuffer{capacity: capacity, packets: make(map[uint16][]byte, capacity)}
}

func (b *packetBuffer) Insert(seq uint16, pkt []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.packets[seq]; !exists {
		b.order = append(b.order, seq)
	}
	cp := append([]byte(nil), pkt...)
	b.packets[seq] = cp
	for len(b.order) > b.capacity {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.packets, oldest)
	}
}

func (b *packetBuffer) Lookup(seq uint16) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pkt, ok := b.packets[seq]
	return pkt, ok
}

func (b *packetBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
