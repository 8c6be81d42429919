package raop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/sonorad/pkg/types"
)

func TestReceiverPublicKey_LoadsRealModulus(t *testing.T) {
	pub, err := loadReceiverPublicKey()
	require.NoError(t, err)
	assert.Equal(t, 65537, pub.E)
	assert.True(t, pub.N.BitLen() > 1000)
}

func TestEncryptSessionKey_ProducesCiphertext(t *testing.T) {
	key, iv, err := generateSessionKey()
	require.NoError(t, err)
	assert.Len(t, key, 16)
	assert.Len(t, iv, 16)

	ct, err := encryptSessionKey(key)
	require.NoError(t, err)
	assert.NotEmpty(t, ct)
	assert.NotEqual(t, key, ct)
}

func TestCBCEncryptInPlace_LeavesTrailingBytesClear(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	buf := make([]byte, 18) // one full block + 2 trailing bytes
	for i := range buf {
		buf[i] = byte(i + 1)
	}
	trailing := append([]byte(nil), buf[16:]...)

	require.NoError(t, cbcEncryptInPlace(key, iv, buf))
	assert.Equal(t, trailing, buf[16:])
	assert.NotEqual(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, buf[:16])
}

func TestBitWriter_MatchesByteAlignedFields(t *testing.T) {
	w := newBitWriter(8)
	w.writeBits(1, 3)
	w.writeBits(0, 4)
	w.writeBits(0, 8)
	w.writeBits(0, 4)
	w.writeBits(1, 1)
	w.writeBits(0, 2)
	w.writeBits(1, 1)
	// 3+4+8+4+1+2+1 = 23 bits -> 3 bytes
	require.Len(t, w.buf, 3)
	assert.Equal(t, byte(0b00100000), w.buf[0]) // channel=1 (3 bits) + 0000 (4 bits) + top bit of next byte
}

func TestEncodeALACPacket_UDPHeaderFields(t *testing.T) {
	pcm := make([]byte, 16) // 4 stereo frames
	for i := range pcm {
		pcm[i] = byte(i)
	}
	pkt := encodeALACPacket(true, 42, 1000, 0xaabbccdd, true, pcm, nil, nil)
	require.True(t, len(pkt) > 12)
	assert.Equal(t, byte(0x80|0x80), pkt[0]) // marker bit set for first packet
	assert.Equal(t, byte(0x60), pkt[1])
	assert.Equal(t, uint16(42), uint16(pkt[2])<<8|uint16(pkt[3]))
}

func TestVolumeToDB_ClampsToDeviceRange(t *testing.T) {
	assert.Equal(t, volumeMinDB, VolumeToDB(types.VolumeMuted))
	db := VolumeToDB(types.VolumeNorm)
	assert.GreaterOrEqual(t, db, volumeMinDB)
	assert.LessOrEqual(t, db, volumeMaxDB)
}

func TestPacketBuffer_FIFOEviction(t *testing.T) {
	buf := newPacketBuffer(3)
	buf.Insert(1, []byte{1})
	buf.Insert(2, []byte{2})
	buf.Insert(3, []byte{3})
	buf.Insert(4, []byte{4}) // evicts seq 1

	_, ok := buf.Lookup(1)
	assert.False(t, ok)
	got, ok := buf.Lookup(4)
	require.True(t, ok)
	assert.Equal(t, []byte{4}, got)
	assert.Equal(t, 3, buf.Len())
}

func TestBuildSyncPacket_FirstBitSet(t *testing.T) {
	pkt := buildSyncPacket(100000, true, time.Now())
	assert.Equal(t, byte(0x80|0x10), pkt[0])
	assert.Equal(t, byte(0xd4), pkt[1])
}

func TestRetransmitRequest_RoundTrip(t *testing.T) {
	pkt := make([]byte, 8)
	pkt[0] = 0x80
	pkt[1] = 0x55
	pkt[4] = 0x00
	pkt[5] = 0x05
	pkt[6] = 0x00
	pkt[7] = 0x03
	req, ok := parseRetransmitRequest(pkt)
	require.True(t, ok)
	assert.Equal(t, uint16(5), req.StartSeq)
	assert.Equal(t, uint16(3), req.Count)
}
