package rtpengine

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/types"
)

func TestPayloadTypeFor_StaticMapping(t *testing.T) {
	stereo := types.SampleSpec{Format: types.FormatS16BE, Channels: 2, Rate: 44100}
	mono := types.SampleSpec{Format: types.FormatS16BE, Channels: 1, Rate: 44100}
	other := types.SampleSpec{Format: types.FormatFloat32LE, Channels: 2, Rate: 48000}

	assert.EqualValues(t, PayloadTypeStereo, PayloadTypeFor(stereo))
	assert.EqualValues(t, PayloadTypeMono, PayloadTypeFor(mono))
	assert.EqualValues(t, PayloadTypeDynamic, PayloadTypeFor(other))
}

func udpPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	serverAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	server, err := net.ListenUDP("udp", serverAddr)
	require.NoError(t, err)

	client, err := net.DialUDP("udp", nil, server.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	// Connect the server side back to the client so both ends can Write
	// without specifying an address, matching SendContext/RecvContext's
	// assumption of a pre-connected socket.
	connected, err := net.DialUDP("udp", serverAddr, client.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	server.Close()

	return client, connected
}

func TestSendRecv_RoundTrip(t *testing.T) {
	client, server := udpPair(t)
	defer client.Close()
	defer server.Close()

	pool := memblock.NewPool(4096, 65536)
	spec := types.SampleSpec{Format: types.FormatS16BE, Channels: 2, Rate: 44100}

	const mtu = 1400
	send := NewSendContext(client, spec, mtu, 0xdeadbeef, nil)
	recv := NewRecvContext(server, spec, pool, 2048, nil)

	// One full mtu's worth: the queue drains to exactly one packet,
	// nothing held back.
	blk, err := memblock.NewPooled(pool, mtu)
	require.NoError(t, err)
	chunk, err := memblock.NewChunk(blk, 0, mtu)
	require.NoError(t, err)
	blk.Unref()
	for i := range chunk.Bytes() {
		chunk.Bytes()[i] = byte(i)
	}

	n, err := send.Send([]memblock.Chunk{chunk})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	got, ts, _, err := recv.Recv()
	require.NoError(t, err)
	assert.Equal(t, mtu, got.Length)
	assert.Equal(t, uint32(0), ts)
	assert.Equal(t, chunk.Bytes(), got.Bytes())
}

func TestSend_SplitsLargerPushAcrossPackets(t *testing.T) {
	client, server := udpPair(t)
	defer client.Close()
	defer server.Close()

	pool := memblock.NewPool(8192, 65536)
	spec := types.SampleSpec{Format: types.FormatS16BE, Channels: 2, Rate: 44100}

	const mtu = 1280
	send := NewSendContext(client, spec, mtu, 0xdeadbeef, nil)
	recv := NewRecvContext(server, spec, pool, 2048, nil)

	blk, err := memblock.NewPooled(pool, 4096)
	require.NoError(t, err)
	chunk, err := memblock.NewChunk(blk, 0, 4096)
	require.NoError(t, err)
	blk.Unref()
	memblock.Silence(chunk, spec)

	n, err := send.Send([]memblock.Chunk{chunk})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 4096-3*mtu, len(send.queue))

	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	wantTS := uint32(0)
	for i := 0; i < 3; i++ {
		got, ts, _, err := recv.Recv()
		require.NoError(t, err)
		assert.Equal(t, mtu, got.Length)
		assert.Equal(t, wantTS, ts)
		wantTS += mtu / 4
	}
}

func TestRecv_RejectsMismatchedSSRC(t *testing.T) {
	client, server := udpPair(t)
	defer client.Close()
	defer server.Close()

	pool := memblock.NewPool(4096, 65536)
	spec := types.SampleSpec{Format: types.FormatS16BE, Channels: 2, Rate: 44100}

	const mtu = 1400
	sendA := NewSendContext(client, spec, mtu, 1, nil)
	sendB := NewSendContext(client, spec, mtu, 2, nil)
	recv := NewRecvContext(server, spec, pool, 2048, nil)

	blk, err := memblock.NewPooled(pool, mtu)
	require.NoError(t, err)
	chunk, err := memblock.NewChunk(blk, 0, mtu)
	require.NoError(t, err)
	blk.Unref()

	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = sendA.Send([]memblock.Chunk{chunk})
	require.NoError(t, err)
	_, _, _, err = recv.Recv()
	require.NoError(t, err)

	_, err = sendB.Send([]memblock.Chunk{chunk.Dup()})
	require.NoError(t, err)
	_, _, _, err = recv.Recv()
	assert.Error(t, err)
}

func TestBuildAnnounceSDP_Marshals(t *testing.T) {
	spec := types.SampleSpec{Format: types.FormatS16BE, Channels: 2, Rate: 44100}
	body, err := BuildAnnounceSDP("sonorad sink", "127.0.0.1", 1, "239.255.0.1", 46000, spec)
	require.NoError(t, err)
	assert.Contains(t, string(body), "m=audio 46000")
}
