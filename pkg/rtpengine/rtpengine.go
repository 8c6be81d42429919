// Package rtpengine implements spec.md §4.J: RTP send/receive contexts
// over a UDP socket plus a periodic SAP announcer, grounded in the
// teacher's RTP/SDP plumbing (sip/infra/sdp.go,
// sip/infra/rtp_port_allocator.go) but re-pointed at raw RTP framing
// with github.com/pion/rtp instead of SIP call setup.
package rtpengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"golang.org/x/time/rate"

	"github.com/rapidaai/sonorad/pkg/commons"
	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/types"
)

// MaxIovecs bounds how many whole chunks Send copies into its internal
// queue per call before draining it into mtu-sized packets (spec.md
// §4.J's "gather up to MAX_IOVECS consecutive chunks").
const MaxIovecs = 16

// Static payload-type mapping (spec.md §4.J).
const (
	PayloadTypeStereo = 10 // s16be/44100/stereo
	PayloadTypeMono   = 11 // s16be/44100/mono
	PayloadTypeDynamic = 127
)

// ErrShortWrite is returned when the socket could not accept a full
// packet; per spec.md §4.J this is not retried, the packet is dropped.
var ErrShortWrite = errors.New("rtpengine: short write, packet dropped")

// PayloadTypeFor resolves the static mapping, defaulting to the
// dynamic payload type for anything not in the stereo/mono 44.1kHz
// s16be table.
func PayloadTypeFor(spec types.SampleSpec) uint8 {
	if spec.Rate == 44100 && spec.Format == types.FormatS16BE {
		switch spec.Channels {
		case 1:
			return PayloadTypeMono
		case 2:
			return PayloadTypeStereo
		}
	}
	return PayloadTypeDynamic
}

// rtpValid reports whether spec can be carried without reformatting.
func rtpValid(spec types.SampleSpec) bool {
	return spec.Format == types.FormatS16BE
}

// SendContext is the sender side of one RTP stream.
type SendContext struct {
	conn      *net.UDPConn
	spec      types.SampleSpec
	mtu       int
	ssrc      uint32
	sequence  uint32 // atomic, low 16 bits significant
	timestamp uint32 // atomic
	log       commons.Logger

	// queue accumulates bytes across Send calls until there's enough
	// to fill an mtu-sized packet; spec.md §4.J's "while queue length
	// ≥ mtu, gather … send" loop drains it one packet at a time,
	// leaving any remainder under budget queued for the next call.
	queue []byte
}

// NewSendContext binds a send context to an already-connected UDP
// socket. If spec is not RTP-valid, the stream is sent as s16be
// (spec.md §4.J "force format = s16be").
func NewSendContext(conn *net.UDPConn, spec types.SampleSpec, mtu int, ssrc uint32, log commons.Logger) *SendContext {
	if !rtpValid(spec) {
		spec.Format = types.FormatS16BE
	}
	if log == nil {
		log = commons.NewNopLogger()
	}
	return &SendContext{conn: conn, spec: spec, mtu: mtu, ssrc: ssrc, log: log}
}

// Send appends up to MaxIovecs chunks to the internal byte queue, then
// drains the queue one mtu-sized packet at a time for as long as its
// length is at least mtu, prepending a header and writing each packet
// in turn (spec.md invariant 6: "writing N×mtu+r bytes produces
// exactly N packets; the remainder stays queued" — confirmed by §4.J's
// worked example, where a 4096-byte push at mtu=1280 yields 3 packets
// of 1280 bytes and a 256-byte remainder, with the timestamp advancing
// by mtu/frame_size per packet). Any remainder under mtu stays queued
// for the next call, so a single push larger than one packet's worth
// (e.g. a render period's whole chunk) is split across as many packets
// as it takes instead of being dropped whole because it didn't fit in
// one. On EAGAIN/EINTR an individual packet is dropped rather than
// retried (spec.md §4.J: "a full socket buffer means the receiver
// cannot keep up"); Send keeps draining the rest of the queue
// regardless, reporting the last write error it saw.
func (c *SendContext) Send(chunks []memblock.Chunk) (int, error) {
	budget := c.mtu
	if budget <= 0 {
		return 0, fmt.Errorf("rtpengine: mtu %d must be positive", c.mtu)
	}

	for i, ch := range chunks {
		if i >= MaxIovecs {
			break
		}
		c.queue = append(c.queue, ch.Bytes()...)
	}

	sent := 0
	var lastErr error
	for len(c.queue) >= budget {
		payload := c.queue[:budget]
		c.queue = c.queue[budget:]

		seq := uint16(atomic.AddUint32(&c.sequence, 1))
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    PayloadTypeFor(c.spec),
				SequenceNumber: seq,
				Timestamp:      atomic.LoadUint32(&c.timestamp),
				SSRC:           c.ssrc,
			},
			Payload: payload,
		}
		buf, err := pkt.Marshal()
		if err != nil {
			lastErr = err
			continue
		}

		if _, err := c.conn.Write(buf); err != nil {
			lastErr = ErrShortWrite
		} else {
			sent++
		}

		frameSize := uint32(c.spec.FrameSize())
		if frameSize > 0 {
			atomic.AddUint32(&c.timestamp, uint32(budget)/frameSize)
		}
	}
	return sent, lastErr
}

// RecvContext is the receiver side of one RTP stream.
type RecvContext struct {
	conn      *net.UDPConn
	spec      types.SampleSpec
	pool      *memblock.Pool
	recvBuf   []byte
	firstSSRC uint32
	haveSSRC  bool
	log       commons.Logger
}

func NewRecvContext(conn *net.UDPConn, spec types.SampleSpec, pool *memblock.Pool, recvBufSize int, log commons.Logger) *RecvContext {
	if log == nil {
		log = commons.NewNopLogger()
	}
	return &RecvContext{conn: conn, spec: spec, pool: pool, recvBuf: make([]byte, recvBufSize), log: log}
}

// Recv reads one datagram, validates the RTP header (V=2, no padding,
// no extensions, SSRC matching the first seen sender, expected
// payload type), and returns the audio payload as a memblock chunk
// along with the packet's RTP timestamp and local receive time.
//
// A zero-length datagram (FIONREAD would report 0) still consumes one
// byte off the socket to clear a CRC-errored packet, matching the
// read-one-byte-anyway behaviour spec.md §4.J describes; UDP datagram
// semantics make this a degenerate case (an empty payload) rather
// than a literal single-byte read against a stream socket.
func (r *RecvContext) Recv() (memblock.Chunk, uint32, time.Time, error) {
	n, err := r.conn.Read(r.recvBuf)
	recvTime := time.Now()
	if err != nil {
		return memblock.Chunk{}, 0, recvTime, err
	}
	if n == 0 {
		return memblock.Chunk{}, 0, recvTime, nil
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(r.recvBuf[:n]); err != nil {
		return memblock.Chunk{}, 0, recvTime, fmt.Errorf("rtpengine: malformed packet: %w", err)
	}
	if pkt.Version != 2 || pkt.Padding || pkt.Extension {
		return memblock.Chunk{}, 0, recvTime, fmt.Errorf("rtpengine: unsupported RTP header flags")
	}
	if !r.haveSSRC {
		r.firstSSRC = pkt.SSRC
		r.haveSSRC = true
	} else if pkt.SSRC != r.firstSSRC {
		return memblock.Chunk{}, 0, recvTime, fmt.Errorf("rtpengine: SSRC changed mid-stream (got %08x, want %08x)", pkt.SSRC, r.firstSSRC)
	}
	if want := PayloadTypeFor(r.spec); pkt.PayloadType != want {
		return memblock.Chunk{}, 0, recvTime, fmt.Errorf("rtpengine: unexpected payload type %d (want %d)", pkt.PayloadType, want)
	}

	blk, err := memblock.NewPooled(r.pool, len(pkt.Payload))
	if err != nil {
		return memblock.Chunk{}, 0, recvTime, err
	}
	chunk, err := memblock.NewChunk(blk, 0, len(pkt.Payload))
	blk.Unref()
	if err != nil {
		return memblock.Chunk{}, 0, recvTime, err
	}
	copy(chunk.Bytes(), pkt.Payload)
	return chunk, pkt.Timestamp, recvTime, nil
}

// AnnounceFunc builds the SDP body a SAP announcement should carry
// for the current session.
type AnnounceFunc func() ([]byte, error)

// Announcer periodically sends a SAP packet carrying a compact SDP
// descriptor (spec.md §4.J), paced with golang.org/x/time/rate
// instead of a hand-rolled ticker so the 5s period doesn't drift
// under load.
type Announcer struct {
	conn   *net.UDPConn
	build  AnnounceFunc
	period time.Duration
	log    commons.Logger
}

func NewAnnouncer(conn *net.UDPConn, period time.Duration, build AnnounceFunc, log commons.Logger) *Announcer {
	if log == nil {
		log = commons.NewNopLogger()
	}
	return &Announcer{conn: conn, build: build, period: period, log: log}
}

// sapHeader is SAPv1, no auth, no encryption, no compression, one
// message ID hash (zero — this engine doesn't deduplicate across
// restarts) and a session count of zero extra payload types.
func sapHeader() []byte {
	return []byte{0x20, 0x00, 0x00, 0x00}
}

// Run blocks, announcing at the configured period until ctx is
// cancelled. Pacing uses a rate.Limiter (one token per period, burst
// 1) rather than a time.Ticker so a slow build() doesn't accumulate
// drift across announcements.
func (a *Announcer) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(a.period), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		body, err := a.build()
		if err != nil {
			a.log.Warn("sap: failed to build announcement body", "error", err)
			continue
		}
		pkt := append(append([]byte{}, sapHeader()...), body...)
		if _, err := a.conn.Write(pkt); err != nil {
			a.log.Warn("sap: announce write failed", "error", err)
		}
	}
}
