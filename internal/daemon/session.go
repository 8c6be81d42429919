package daemon

import (
	"net"
	"sync"

	"github.com/rapidaai/sonorad/pkg/commons"
	"github.com/rapidaai/sonorad/pkg/core"
	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/protocol/packet"
	"github.com/rapidaai/sonorad/pkg/protocol/pdispatch"
	"github.com/rapidaai/sonorad/pkg/protocol/pstream"
	"github.com/rapidaai/sonorad/pkg/streamrestore"
)

// session is the per-connection state a pstream/pdispatch pair needs:
// which sink-inputs/source-outputs this connection owns, keyed by the
// pstream channel number they were assigned.
type session struct {
	core    *core.Core
	pool    *memblock.Pool
	restore *streamrestore.Store
	cookie  []byte
	log     commons.Logger

	conn     net.Conn
	pstream  *pstream.Pstream
	dispatch *pdispatch.Pdispatch
	client   *core.Client

	authenticated bool

	defaultSink   string
	defaultSource string

	mu       sync.Mutex
	nextChan uint32
	playback map[uint32]*core.SinkInput
	record   map[uint32]*core.SourceOutput
}

func newSession(conn net.Conn, d *Daemon) *session {
	sess := &session{
		core:          d.core,
		pool:          d.pool,
		restore:       d.restore,
		cookie:        d.cookie,
		log:           d.log,
		conn:          conn,
		dispatch:      pdispatch.New(),
		defaultSink:   d.cfg.DefaultSink,
		defaultSource: d.cfg.DefaultSource,
		playback:      make(map[uint32]*core.SinkInput),
		record:        make(map[uint32]*core.SourceOutput),
	}
	sess.client = core.NewClient("unknown", nil)
	sess.core.RegisterClient(sess.client)
	sess.pstream = pstream.New(conn, d.pool)
	sess.pstream.OnPacket = func(p *packet.Packet) {
		if err := sess.dispatch.Run(p.Data(), nil); err != nil {
			sess.log.Debug("pdispatch: dropped malformed frame", "error", err)
		}
	}
	sess.pstream.OnMemblock = sess.onMemblock
	sess.pstream.OnDie = func(err error) { sess.close() }
	sess.registerCommands()
	return sess
}

// onMemblock routes an inbound audio frame to the playback stream the
// channel number was assigned to at CREATE_PLAYBACK_STREAM time.
func (sess *session) onMemblock(channel uint32, _ int64, _ pstream.SeekMode, chunk memblock.Chunk) {
	sess.mu.Lock()
	in, ok := sess.playback[channel]
	sess.mu.Unlock()
	if !ok {
		return
	}
	_ = in.Push(chunk)
}

func (sess *session) newChannel() uint32 {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	ch := sess.nextChan
	sess.nextChan++
	return ch
}

func (sess *session) resolveSink(name string) (*core.Sink, bool) {
	if name != "" {
		return sess.core.SinkByName(name)
	}
	return sess.core.SinkByName(sess.defaultSinkName())
}

func (sess *session) resolveSource(name string) (*core.Source, bool) {
	if name != "" {
		return sess.core.SourceByName(name)
	}
	return sess.core.SourceByName(sess.defaultSourceName())
}

func (sess *session) defaultSinkName() string   { return sess.defaultSink }
func (sess *session) defaultSourceName() string { return sess.defaultSource }

func (sess *session) close() {
	sess.mu.Lock()
	playback := make([]*core.SinkInput, 0, len(sess.playback))
	for _, in := range sess.playback {
		playback = append(playback, in)
	}
	record := make([]*core.SourceOutput, 0, len(sess.record))
	for _, out := range sess.record {
		record = append(record, out)
	}
	sess.mu.Unlock()

	for _, in := range playback {
		in.Unlink()
	}
	for _, out := range record {
		out.Unlink()
	}
	sess.core.UnregisterClient(sess.client.Index)
}

// run drives the connection until it dies.
func (sess *session) run() {
	defer sess.conn.Close()
	sess.pstream.Run()
}
