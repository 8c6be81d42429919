// Command sonocat is a reference protocol client in the shape of
// pacat: it authenticates against a sonorad server, opens a playback
// stream on a sink, and forwards raw S16LE PCM read from stdin to it
// over pstream memblocks.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/protocol/packet"
	"github.com/rapidaai/sonorad/pkg/protocol/pdispatch"
	"github.com/rapidaai/sonorad/pkg/protocol/pstream"
	"github.com/rapidaai/sonorad/pkg/protocol/tagstruct"
	"github.com/rapidaai/sonorad/pkg/types"
)

const (
	cmdCreatePlaybackStream uint32 = 3
	cmdAuth                 uint32 = 8
	cmdSetClientName        uint32 = 9

	replyTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sonocat:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("sonocat", pflag.ContinueOnError)
	server := fs.String("server", os.Getenv("SONORAD_SERVER"), "sonorad address (unix:PATH, tcp:HOST:PORT, or HOST:PORT)")
	sink := fs.String("sink", "", "sink name to play on (empty uses the server's default)")
	rate := fs.Uint32("rate", 44100, "sample rate")
	channels := fs.Uint8("channels", 2, "channel count")
	name := fs.String("name", "sonocat", "client application name")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *server == "" {
		return fmt.Errorf("--server is required (or set SONORAD_SERVER)")
	}

	cookie, err := readCookie()
	if err != nil {
		return fmt.Errorf("sonocat: read auth cookie: %w", err)
	}

	conn, err := dial(*server)
	if err != nil {
		return fmt.Errorf("sonocat: dial %s: %w", *server, err)
	}
	defer conn.Close()

	spec := types.SampleSpec{Format: types.FormatS16LE, Channels: *channels, Rate: *rate}
	c := newClient(conn)
	go c.pstream.Run()

	if err := c.auth(cookie); err != nil {
		return fmt.Errorf("sonocat: auth: %w", err)
	}
	if err := c.setClientName(*name); err != nil {
		return fmt.Errorf("sonocat: set client name: %w", err)
	}
	channel, err := c.createPlaybackStream(*sink, spec)
	if err != nil {
		return fmt.Errorf("sonocat: create playback stream: %w", err)
	}

	return c.streamStdin(channel, spec)
}

// client wraps one pstream/pdispatch pair and gives synchronous,
// tag-correlated request/reply semantics on top of them.
type client struct {
	pool     *memblock.Pool
	pstream  *pstream.Pstream
	dispatch *pdispatch.Pdispatch

	mu      sync.Mutex
	nextTag uint32
}

func newClient(conn net.Conn) *client {
	pool := memblock.NewPool(4096, 1<<20)
	c := &client{
		pool:     pool,
		pstream:  pstream.New(conn, pool),
		dispatch: pdispatch.New(),
	}
	c.pstream.OnPacket = func(p *packet.Packet) {
		_ = c.dispatch.Run(p.Data(), nil)
	}
	return c
}

func (c *client) newTag() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.nextTag
	c.nextTag++
	return t
}

// request sends command/payload tagged with a fresh tag and blocks
// for the matching REPLY/ERROR frame (or pdispatch's synthetic
// TIMEOUT), returning the reply's tag-struct body past the header.
func (c *client) request(command uint32, build func(ts *tagstruct.TagStruct)) (*tagstruct.TagStruct, error) {
	tag := c.newTag()
	ts := tagstruct.New()
	ts.PutU32(command)
	ts.PutU32(tag)
	build(ts)

	replyCh := make(chan *tagstruct.TagStruct, 1)
	errCh := make(chan error, 1)
	c.dispatch.RegisterReply(tag, replyTimeout, func(cmd, _ uint32, reply *tagstruct.TagStruct, _ any) {
		switch cmd {
		case pdispatch.CommandTimeout:
			errCh <- fmt.Errorf("timed out waiting for reply to command %d", command)
		case pdispatch.CommandError:
			kind, _ := reply.GetU32()
			errCh <- fmt.Errorf("server rejected command %d: error kind %d", command, kind)
		default:
			replyCh <- reply
		}
	}, nil)

	c.pstream.SendPacket(packet.NewCopy(ts.Bytes()))

	select {
	case reply := <-replyCh:
		return reply, nil
	case err := <-errCh:
		return nil, err
	}
}

func (c *client) auth(cookie []byte) error {
	_, err := c.request(cmdAuth, func(ts *tagstruct.TagStruct) { ts.PutArbitrary(cookie) })
	return err
}

func (c *client) setClientName(name string) error {
	props := types.NewProplist()
	props.Sets("application.name", name)
	_, err := c.request(cmdSetClientName, func(ts *tagstruct.TagStruct) { ts.PutProplist(props) })
	return err
}

func (c *client) createPlaybackStream(sink string, spec types.SampleSpec) (uint32, error) {
	chmap := types.StereoMap()
	if spec.Channels == 1 {
		chmap = types.MonoMap()
	}
	props := types.NewProplist()
	reply, err := c.request(cmdCreatePlaybackStream, func(ts *tagstruct.TagStruct) {
		if sink == "" {
			ts.PutStringNil()
		} else {
			ts.PutString(sink)
		}
		ts.PutSampleSpec(spec)
		ts.PutChannelMap(chmap)
		ts.PutProplist(props)
		ts.PutU32(65536) // max_length
		ts.PutU32(16384) // target_length
		ts.PutU32(4096)  // prebuf
	})
	if err != nil {
		return 0, err
	}
	if _, err := reply.GetU32(); err != nil { // stream index, unused here
		return 0, err
	}
	channel, err := reply.GetU32()
	if err != nil {
		return 0, err
	}
	return channel, nil
}

// streamStdin reads raw PCM from stdin in frame-aligned chunks and
// forwards each as a memblock on channel until EOF.
func (c *client) streamStdin(channel uint32, spec types.SampleSpec) error {
	const periodFrames = 882 // 20ms at 44100Hz
	bufSize := periodFrames * spec.FrameSize()
	r := bufio.NewReaderSize(os.Stdin, bufSize)

	for {
		buf := make([]byte, bufSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			block := memblock.NewUser(c.pool, buf[:n], nil)
			chunk, cerr := memblock.NewChunk(block, 0, n)
			if cerr != nil {
				return cerr
			}
			c.pstream.SendMemblock(channel, 0, pstream.SeekRelative, chunk)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func readCookie() ([]byte, error) {
	path := cookiePath()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(b) != 256 {
		return nil, fmt.Errorf("cookie at %s has wrong length %d", path, len(b))
	}
	return b, nil
}

func cookiePath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir + "/pulse/cookie"
	}
	return os.Getenv("HOME") + "/.pulse-cookie"
}

// dial parses the same SERVER grammar the daemon listens on.
func dial(addr string) (net.Conn, error) {
	switch {
	case strings.HasPrefix(addr, "unix:"):
		return net.Dial("unix", strings.TrimPrefix(addr, "unix:"))
	case strings.HasPrefix(addr, "tcp4:"):
		return net.Dial("tcp4", strings.TrimPrefix(addr, "tcp4:"))
	case strings.HasPrefix(addr, "tcp6:"):
		return net.Dial("tcp6", strings.TrimPrefix(addr, "tcp6:"))
	case strings.HasPrefix(addr, "tcp:"):
		return net.Dial("tcp", strings.TrimPrefix(addr, "tcp:"))
	case strings.HasPrefix(addr, "/"):
		return net.Dial("unix", addr)
	default:
		return net.Dial("tcp", addr)
	}
}
