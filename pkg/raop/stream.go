package raop

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rapidaai/sonorad/pkg/memblock"
)

// SendAudio frames and transmits one period of PCM audio, inserting
// the framed packet into the retransmit ring before sending so a
// control-channel retransmit request can always find it.
func (c *Client) SendAudio(chunk memblock.Chunk) error {
	pcm := pcmFromChunk(chunk)
	var key, iv []byte
	if c.cfg.Encrypt {
		key, iv = c.aesKey, c.aesIV
	}
	seq := c.seq
	pkt := encodeALACPacket(c.cfg.UDP, seq, c.rtpTS, c.ssrc, c.firstSent, pcm, key, iv)
	c.firstSent = false
	c.seq++
	if c.cfg.Spec.FrameSize() > 0 {
		c.rtpTS += uint32(len(pcm) / c.cfg.Spec.FrameSize())
	}

	if c.cfg.UDP {
		c.buffer.Insert(seq, pkt)
		_, err := c.audioConn.Write(pkt)
		// Socket EAGAIN is treated as sent (UDP is best-effort); the
		// sequence/buffer insertion above already happened regardless
		// (spec.md §4.K "Failure semantics").
		return ignoreWouldBlock(err)
	}
	_, err := c.rtsp.conn.Write(pkt)
	return err
}

// ignoreWouldBlock treats EAGAIN as success per spec.md §4.K: "Socket
// EAGAIN on audio write: the packet is considered sent (UDP is
// best-effort)". Any other error is propagated.
func ignoreWouldBlock(err error) error {
	if err == nil || errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

// RunSyncLoop sends a sync packet on the control socket once per
// second (spec.md §4.K). Retransmit requests arriving on the same
// socket are served by RunControlLoop, not here.
func (c *Client) RunSyncLoop(ctx context.Context) error {
	first := true
	period := time.Second
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pkt := buildSyncPacket(c.rtpTS, first, time.Now())
			first = false
			if _, err := c.controlConn.Write(pkt); err != nil {
				return err
			}
		}
	}
}

// RunControlLoop reads retransmit requests off the control socket and
// resends matching packets from the buffer with the retransmit-reply
// framing prepended.
func (c *Client) RunControlLoop(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := c.controlConn.Read(buf)
		if err != nil {
			return err
		}
		req, ok := parseRetransmitRequest(buf[:n])
		if !ok {
			continue
		}
		for i := uint16(0); i < req.Count; i++ {
			seq := req.StartSeq + i
			pkt, ok := c.buffer.Lookup(seq)
			if !ok {
				continue
			}
			out := append(buildRetransmitReplyHeader(seq), pkt...)
			_, _ = c.audioConn.Write(out)
		}
	}
}

// RunTimingLoop answers timing requests on the timing socket.
func (c *Client) RunTimingLoop(ctx context.Context) error {
	buf := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := c.timingConn.Read(buf)
		recvTime := time.Now()
		if err != nil {
			return err
		}
		req, ok := parseTimingRequest(buf[:n])
		if !ok {
			continue
		}
		reply := buildTimingReply(req, recvTime, time.Now())
		_, _ = c.timingConn.Write(reply)
	}
}
