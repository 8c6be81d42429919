// Package raop implements spec.md §4.K: a client for Apple's RAOP
// (RTSP-based AirTunes) protocol, grounded in the teacher's RTSP/SDP
// call-setup plumbing (sip/ package) but re-pointed at a single
// long-lived RAOP session instead of SIP dialogs, and in the rest of
// the retrieval pack for the crypto/backoff/rate-limiting idioms.
package raop

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/rapidaai/sonorad/pkg/commons"
	"github.com/rapidaai/sonorad/pkg/errs"
	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/types"
)

// State is the session state machine spec.md §4.K drives from the
// RTSP callback: CONNECT → OPTIONS → ANNOUNCE → SETUP → RECORD →
// streaming, with SET_PARAMETER/FLUSH/TEARDOWN reachable once
// streaming.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOptionsSent
	StateAnnounceSent
	StateSetupSent
	StateRecordSent
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOptionsSent:
		return "OPTIONS_SENT"
	case StateAnnounceSent:
		return "ANNOUNCE_SENT"
	case StateSetupSent:
		return "SETUP_SENT"
	case StateRecordSent:
		return "RECORD_SENT"
	case StateStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

// Config describes one RAOP device to connect to.
type Config struct {
	Host             string
	Port             int // usually 5000
	UDP              bool
	Encrypt          bool
	FramesPerPacket  int // ALAC frames per packet, typically 352
	Spec             types.SampleSpec
	PacketBufferSize int // retransmit ring capacity, default 1000
}

// Client drives one RAOP session end to end: RTSP handshake, key
// exchange, audio framing/encryption, and the UDP sync/timing/control
// auxiliary channels when running in UDP mode.
type Client struct {
	cfg    Config
	log    commons.Logger
	pool   *memblock.Pool
	instID string

	mu    sync.Mutex
	state State

	rtsp *rtspConn

	aesKey, aesIV []byte

	audioConn, controlConn, timingConn *net.UDPConn
	serverPort, controlPort, timingPort int

	seq       uint16
	rtpTS     uint32
	ssrc      uint32
	firstSent bool

	buffer *packetBuffer

	OnSuspend func(reason error)
}

// New constructs a Client in the DISCONNECTED state. Config is
// validated lazily: Connect surfaces RSA/AES/RTSP failures as
// errs.Kind-wrapped errors per spec.md §4.K "Failure semantics".
func New(cfg Config, pool *memblock.Pool, log commons.Logger) *Client {
	if cfg.FramesPerPacket == 0 {
		cfg.FramesPerPacket = 352
	}
	if cfg.PacketBufferSize == 0 {
		cfg.PacketBufferSize = 1000
	}
	if log == nil {
		log = commons.NewNopLogger()
	}
	var ssrc [4]byte
	_, _ = rand.Read(ssrc[:])
	return &Client{
		cfg:    cfg,
		log:    log,
		pool:   pool,
		instID: uuid.NewString(),
		state:  StateDisconnected,
		buffer: newPacketBuffer(cfg.PacketBufferSize),
		ssrc:   uint32(ssrc[0])<<24 | uint32(ssrc[1])<<16 | uint32(ssrc[2])<<8 | uint32(ssrc[3]),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect runs the full CONNECT → OPTIONS → ANNOUNCE → SETUP → RECORD
// sequence. On any step's failure the client surfaces an error of kind
// errs.ConnectionRefused (errs has no separate Unreachable kind) and
// the caller (the sink driving this client) is expected to
// transition to SUSPENDED and schedule a reconnect via Reconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := rtspDial(ctx, addr, c.instID)
	if err != nil {
		return errs.New(errs.ConnectionRefused, fmt.Errorf("raop: connect %s: %w", addr, err))
	}
	c.rtsp = conn

	if err := c.rtsp.Options(ctx); err != nil {
		return c.fail(err)
	}
	c.setState(StateOptionsSent)

	aesKey, aesIV, err := generateSessionKey()
	if err != nil {
		return c.fail(fmt.Errorf("raop: session key generation: %w", err))
	}
	c.aesKey, c.aesIV = aesKey, aesIV

	encryptedKey, err := encryptSessionKey(aesKey)
	if err != nil {
		return c.fail(fmt.Errorf("raop: RSA-OAEP key wrap: %w", err))
	}

	if err := c.rtsp.Announce(ctx, c.cfg.Spec, encryptedKey, aesIV); err != nil {
		return c.fail(err)
	}
	c.setState(StateAnnounceSent)

	if c.cfg.UDP {
		if err := c.openUDPSockets(); err != nil {
			return c.fail(err)
		}
	}

	setup, err := c.rtsp.Setup(ctx, c.audioLocalPort(), c.controlLocalPort(), c.timingLocalPort())
	if err != nil {
		return c.fail(err)
	}
	c.serverPort, c.controlPort, c.timingPort = setup.serverPort, setup.controlPort, setup.timingPort
	if c.cfg.UDP {
		if err := c.connectUDPSockets(); err != nil {
			return c.fail(err)
		}
	}
	c.setState(StateSetupSent)

	if err := c.rtsp.Record(ctx); err != nil {
		return c.fail(err)
	}
	c.setState(StateRecordSent)
	c.firstSent = true
	c.setState(StateStreaming)
	return nil
}

func (c *Client) fail(err error) error {
	wrapped := errs.New(errs.ConnectionRefused, err)
	if c.OnSuspend != nil {
		c.OnSuspend(wrapped)
	}
	c.setState(StateDisconnected)
	return wrapped
}

// audioLocalPort/controlLocalPort/timingLocalPort report the ephemeral
// ports SETUP opened, for the Transport header.
func (c *Client) audioLocalPort() int   { return udpLocalPort(c.audioConn) }
func (c *Client) controlLocalPort() int { return udpLocalPort(c.controlConn) }
func (c *Client) timingLocalPort() int  { return udpLocalPort(c.timingConn) }

func udpLocalPort(conn *net.UDPConn) int {
	if conn == nil {
		return 0
	}
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func (c *Client) openUDPSockets() error {
	var err error
	c.audioConn, err = net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return err
	}
	c.controlConn, err = net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return err
	}
	c.timingConn, err = net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	return err
}

func (c *Client) connectUDPSockets() error {
	remote := net.ParseIP(c.cfg.Host)
	if ac, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: remote, Port: c.serverPort}); err == nil {
		c.audioConn.Close()
		c.audioConn = ac
	} else {
		return err
	}
	if cc, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: remote, Port: c.controlPort}); err == nil {
		c.controlConn.Close()
		c.controlConn = cc
	} else {
		return err
	}
	if tc, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: remote, Port: c.timingPort}); err == nil {
		c.timingConn.Close()
		c.timingConn = tc
	} else {
		return err
	}
	return nil
}

// SetVolume sends SET_PARAMETER volume with v scaled per spec.md
// §4.K's "Volume" section.
func (c *Client) SetVolume(ctx context.Context, v types.Volume) error {
	db := VolumeToDB(v)
	return c.rtsp.SetParameterVolume(ctx, db)
}

// Flush sends FLUSH, used on cork/underrun recovery.
func (c *Client) Flush(ctx context.Context) error {
	return c.rtsp.Flush(ctx)
}

// Teardown sends TEARDOWN and closes every socket, moving back to
// DISCONNECTED.
func (c *Client) Teardown(ctx context.Context) error {
	var err error
	if c.rtsp != nil {
		err = c.rtsp.Teardown(ctx)
		c.rtsp.Close()
	}
	for _, conn := range []*net.UDPConn{c.audioConn, c.controlConn, c.timingConn} {
		if conn != nil {
			conn.Close()
		}
	}
	c.setState(StateDisconnected)
	return err
}

// ReconnectPolicy returns the exponential-backoff policy capped at
// 30s spec.md §7 mandates for NO_RESPONSE/Unreachable recovery.
func ReconnectPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // retry indefinitely; the caller cancels via context
	return b
}
