package raop

import "github.com/rapidaai/sonorad/pkg/memblock"

// bitWriter packs fields MSB-first into buf, mirroring
// original_source/src/modules/raop/raop_client.c's bit_writer: each
// call appends dataBitLen low bits of data, most significant bit
// first, growing buf one byte at a time as bits accumulate.
type bitWriter struct {
	buf    []byte
	bitPos uint8 // 0..7, bits already used in the current (last) byte
}

func newBitWriter(capacity int) *bitWriter {
	return &bitWriter{buf: make([]byte, 0, capacity)}
}

func (w *bitWriter) writeBits(data byte, dataBitLen uint8) {
	if dataBitLen == 0 {
		return
	}
	if w.bitPos == 0 {
		w.buf = append(w.buf, 0)
	}
	bitsLeft := 8 - w.bitPos
	overflow := int(bitsLeft) - int(dataBitLen)
	last := len(w.buf) - 1
	if overflow >= 0 {
		w.buf[last] |= data << uint(overflow)
		if overflow == 0 {
			w.bitPos = 0
		} else {
			w.bitPos += dataBitLen
		}
		return
	}
	shift := uint(-overflow)
	w.buf[last] |= data >> shift
	w.buf = append(w.buf, data<<(8-shift))
	w.bitPos = uint8(shift)
}

func (w *bitWriter) writeByte(b byte) { w.writeBits(b, 8) }

// tcpAudioHeader / udpAudioHeader mirror the teacher's constant byte
// arrays exactly (spec.md §4.K's pseudo-RTP and RTP framing).
var (
	tcpAudioHeader = [16]byte{0x24, 0x00, 0x00, 0x00, 0xF0, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	udpAudioHeader = [12]byte{0x80, 0x60, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
)

// encodeALACPacket builds one network-ready packet: framing header +
// ALAC-wrapped, optionally encrypted PCM payload, following spec.md
// §4.K's "Audio framing" table.
func encodeALACPacket(udp bool, seq uint16, rtpTimestamp, ssrc uint32, first bool, pcm []byte, encKey, encIV []byte) []byte {
	nSamples := len(pcm) / 4 // stereo s16: 2 bytes * 2 channels

	w := newBitWriter(len(pcm) + 32)
	w.writeBits(1, 3) // channel count - 1 (stereo)
	w.writeBits(0, 4) // reserved
	w.writeBits(0, 8) // reserved
	w.writeBits(0, 4) // reserved
	w.writeBits(1, 1) // has-size
	w.writeBits(0, 2) // reserved
	w.writeBits(1, 1) // not-compressed

	w.writeByte(byte(nSamples >> 24))
	w.writeByte(byte(nSamples >> 16))
	w.writeByte(byte(nSamples >> 8))
	w.writeByte(byte(nSamples))

	usable := nSamples * 4
	for i := 0; i+3 < usable; i += 4 {
		// byte-swap each 16-bit stereo sample into ALAC ordering.
		w.writeByte(pcm[i+1])
		w.writeByte(pcm[i])
		w.writeByte(pcm[i+3])
		w.writeByte(pcm[i+2])
	}

	payload := w.buf
	if encKey != nil {
		// ALAC header precedes the encrypted PCM region; only the PCM
		// bytes following it are ciphertext.
		headerLen := len(payload) - usable
		_ = cbcEncryptInPlace(encKey, encIV, payload[headerLen:])
	}

	var out []byte
	if udp {
		hdr := udpAudioHeader
		if first {
			hdr[0] |= 0x80
		}
		hdr[2] = byte(seq >> 8)
		hdr[3] = byte(seq)
		hdr[4] = byte(rtpTimestamp >> 24)
		hdr[5] = byte(rtpTimestamp >> 16)
		hdr[6] = byte(rtpTimestamp >> 8)
		hdr[7] = byte(rtpTimestamp)
		hdr[8] = byte(ssrc >> 24)
		hdr[9] = byte(ssrc >> 16)
		hdr[10] = byte(ssrc >> 8)
		hdr[11] = byte(ssrc)
		out = append(append([]byte{}, hdr[:]...), payload...)
	} else {
		hdr := tcpAudioHeader
		length := uint16(len(hdr)-4) + uint16(len(payload))
		hdr[2] = byte(length >> 8)
		hdr[3] = byte(length)
		if first {
			hdr[0] |= 0x80
		}
		out = append(append([]byte{}, hdr[:]...), payload...)
	}
	return out
}

// pcmFromChunk copies a chunk's raw bytes for framing, since the
// ALAC writer above needs a plain []byte it can index.
func pcmFromChunk(c memblock.Chunk) []byte {
	return append([]byte(nil), c.Bytes()...)
}
