package pstream

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/protocol/packet"
)

func TestPstream_ControlPacketRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	pool := memblock.NewPool(4096, 1<<20)

	sa := New(a, pool)
	sb := New(b, pool)

	received := make(chan []byte, 1)
	sb.OnPacket = func(p *packet.Packet) { received <- p.Data() }

	go sa.Run()
	go sb.Run()
	defer sa.Close()
	defer sb.Close()

	sa.SendPacket(packet.NewOwned([]byte("hello")))

	select {
	case got := <-received:
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control packet")
	}
}

func TestPstream_MemblockRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	pool := memblock.NewPool(4096, 1<<20)

	sa := New(a, pool)
	sb := New(b, pool)

	type received struct {
		channel uint32
		offset  int64
		seek    SeekMode
		data    []byte
	}
	gotCh := make(chan received, 1)
	sb.OnMemblock = func(channel uint32, offset int64, seek SeekMode, chunk memblock.Chunk) {
		gotCh <- received{channel, offset, seek, chunk.Bytes()}
	}

	go sa.Run()
	go sb.Run()
	defer sa.Close()
	defer sb.Close()

	blk := memblock.NewUser(pool, []byte{1, 2, 3, 4}, nil)
	chunk, err := memblock.NewChunk(blk, 0, 4)
	require.NoError(t, err)

	sa.SendMemblock(7, 42, SeekAbsolute, chunk)

	select {
	case got := <-gotCh:
		assert.EqualValues(t, 7, got.channel)
		assert.EqualValues(t, 42, got.offset)
		assert.Equal(t, SeekAbsolute, got.seek)
		assert.Equal(t, []byte{1, 2, 3, 4}, got.data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for memblock frame")
	}
}

func TestPstream_DieOnClose(t *testing.T) {
	a, b := net.Pipe()
	pool := memblock.NewPool(4096, 1<<20)
	sa := New(a, pool)
	sb := New(b, pool)

	diedCh := make(chan error, 1)
	sb.OnDie = func(err error) { diedCh <- err }

	go sa.Run()
	go sb.Run()

	sa.Close()

	select {
	case err := <-diedCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for die callback")
	}
}
