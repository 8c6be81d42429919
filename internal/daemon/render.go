package daemon

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/rapidaai/sonorad/pkg/core"
	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/raop"
	"github.com/rapidaai/sonorad/pkg/rtpengine"
	"github.com/rapidaai/sonorad/pkg/types"
)

// renderPeriod is how often every registered sink is asked to render
// one period's worth of audio, matched to a typical 20ms hardware
// period.
const renderPeriod = 20 * time.Millisecond

// runRenderLoop drains every sink in d.core once per renderPeriod
// until ctx is cancelled. A sink with no network consumer attached
// still renders (into silence, discarded) so its mixing algorithm and
// monitor source stay exercised even with nothing downstream.
func (d *Daemon) runRenderLoop(ctx context.Context) error {
	ticker := time.NewTicker(renderPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.renderOnce()
		}
	}
}

func (d *Daemon) renderOnce() {
	var sinks []*core.Sink
	d.core.EachSink(func(s *core.Sink) { sinks = append(sinks, s) })
	for _, s := range sinks {
		length := int(float64(s.Spec.Rate) * renderPeriod.Seconds() * float64(s.Spec.Channels) * float64(s.Spec.Format.BytesPerSample()))
		chunk, err := s.Render(length)
		if err != nil {
			d.log.Warn("sink render failed", "sink", s.Name, "error", err)
			continue
		}
		if consume, ok := d.sinkConsumers[s.Index]; ok {
			consume(chunk)
		}
	}
}

// setupNullSink registers the always-present fallback sink used when
// no network transport is configured, so CREATE_PLAYBACK_STREAM has
// somewhere to attach even in a minimal deployment.
func (d *Daemon) setupNullSink() error {
	spec := types.SampleSpec{Format: types.FormatS16LE, Channels: 2, Rate: 44100}
	sink, err := core.NewSink("null", spec, types.StereoMap(), d.pool)
	if err != nil {
		return fmt.Errorf("daemon: create null sink: %w", err)
	}
	sink.Put()
	d.core.RegisterSink(sink)
	if d.cfg.DefaultSink == "" {
		d.cfg.DefaultSink = "null"
	}
	return nil
}

// setupRAOPSink dials the configured AirTunes receiver and wires a
// sink whose render output streams to it over raop.Client, with
// ReconnectPolicy-governed reconnects on failure (spec.md §4.K/§7).
func (d *Daemon) setupRAOPSink(ctx context.Context) error {
	spec := types.SampleSpec{Format: types.FormatS16BE, Channels: 2, Rate: 44100}
	sink, err := core.NewSink("raop", spec, types.StereoMap(), d.pool)
	if err != nil {
		return fmt.Errorf("daemon: create raop sink: %w", err)
	}
	sink.Put()
	idx := d.core.RegisterSink(sink)

	client := raop.New(raop.Config{
		Host:            d.cfg.RAOPHost,
		Port:            d.cfg.RAOPPort,
		UDP:             d.cfg.RAOPUDP,
		Encrypt:         d.cfg.RAOPEncrypt,
		Spec:            spec,
		PacketBufferSize: d.cfg.PacketBufferSize,
	}, d.pool, d.log.With("sink", "raop"))

	client.OnSuspend = func(reason error) {
		d.log.Warn("raop: session suspended, reconnecting", "error", reason)
		sink.Suspend(core.CauseUser)
		go d.reconnectRAOP(ctx, client, sink)
	}

	if err := client.Connect(ctx); err != nil {
		d.log.Warn("raop: initial connect failed, will retry", "error", err)
		sink.Suspend(core.CauseUser)
		go d.reconnectRAOP(ctx, client, sink)
	}

	d.sinkConsumers[idx] = func(chunk memblock.Chunk) {
		if sink.State() == core.StateSuspended {
			return
		}
		if err := client.SendAudio(chunk); err != nil {
			d.log.Debug("raop: send audio failed", "error", err)
		}
	}
	go func() { _ = client.RunSyncLoop(ctx) }()
	if d.cfg.RAOPUDP {
		go func() { _ = client.RunControlLoop(ctx) }()
		go func() { _ = client.RunTimingLoop(ctx) }()
	}
	return nil
}

func (d *Daemon) reconnectRAOP(ctx context.Context, client *raop.Client, sink *core.Sink) {
	b := raop.ReconnectPolicy()
	for {
		wait := b.NextBackOff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := client.Connect(ctx); err != nil {
			d.log.Debug("raop: reconnect attempt failed", "error", err)
			continue
		}
		sink.Resume(core.CauseUser)
		return
	}
}

// setupRTPSink opens a UDP send socket to RTPRemoteAddr and wires a
// sink whose render output is packetised as RTP (spec.md §4.J),
// optionally announced via SAP.
func (d *Daemon) setupRTPSink(ctx context.Context) error {
	spec := types.SampleSpec{Format: types.FormatS16BE, Channels: 2, Rate: 44100}
	remote, err := net.ResolveUDPAddr("udp", d.cfg.RTPRemoteAddr)
	if err != nil {
		return fmt.Errorf("daemon: resolve rtp remote addr: %w", err)
	}
	localPort, err := d.ports.Allocate(ctx)
	if err != nil {
		return fmt.Errorf("daemon: allocate rtp send port: %w", err)
	}
	conn, err := net.DialUDP("udp", &net.UDPAddr{Port: localPort}, remote)
	if err != nil {
		d.ports.Release(ctx, localPort)
		return fmt.Errorf("daemon: dial rtp remote: %w", err)
	}
	d.allocatedRTPPort = localPort

	sink, err := core.NewSink("rtp", spec, types.StereoMap(), d.pool)
	if err != nil {
		return fmt.Errorf("daemon: create rtp sink: %w", err)
	}
	sink.Put()
	idx := d.core.RegisterSink(sink)

	var ssrc [4]byte
	_, _ = rand.Read(ssrc[:])
	send := rtpengine.NewSendContext(conn, spec, 1400, binary.BigEndian.Uint32(ssrc[:]), d.log.With("sink", "rtp"))

	d.sinkConsumers[idx] = func(chunk memblock.Chunk) {
		if _, err := send.Send([]memblock.Chunk{chunk}); err != nil {
			d.log.Debug("rtp: send failed", "error", err)
		}
	}

	if d.cfg.SAPAnnounce {
		sapAddr, err := net.ResolveUDPAddr("udp", d.cfg.SAPMulticastAddr)
		if err != nil {
			return fmt.Errorf("daemon: resolve sap multicast addr: %w", err)
		}
		sapConn, err := net.DialUDP("udp", nil, sapAddr)
		if err != nil {
			return fmt.Errorf("daemon: dial sap multicast: %w", err)
		}
		announcer := rtpengine.NewAnnouncer(sapConn, 5*time.Second, func() ([]byte, error) {
			return buildSDP(spec, remote)
		}, d.log.With("announcer", "sap"))
		go func() { _ = announcer.Run(ctx) }()
	}
	return nil
}

// setupRTPSource opens a UDP listen socket on RTPListenAddr and wires
// a standalone source fed by received RTP packets.
func (d *Daemon) setupRTPSource(ctx context.Context) error {
	spec := types.SampleSpec{Format: types.FormatS16BE, Channels: 2, Rate: 44100}
	local, err := net.ResolveUDPAddr("udp", d.cfg.RTPListenAddr)
	if err != nil {
		return fmt.Errorf("daemon: resolve rtp listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return fmt.Errorf("daemon: listen rtp: %w", err)
	}

	src := core.NewSource("rtp", spec, types.StereoMap(), d.pool)
	src.Put()
	d.core.RegisterSource(src)

	recv := rtpengine.NewRecvContext(conn, spec, d.pool, 2048, d.log.With("source", "rtp"))
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			chunk, _, _, err := recv.Recv()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				d.log.Debug("rtp: recv failed", "error", err)
				continue
			}
			if !chunk.IsEmpty() {
				src.Capture(chunk)
			}
		}
	}()
	return nil
}

// buildSDP renders the SAP session body for the RTP sink, using
// pion/sdp instead of hand-formatting RFC 2327 lines.
func buildSDP(spec types.SampleSpec, remote *net.UDPAddr) ([]byte, error) {
	payloadType := rtpengine.PayloadTypeFor(spec)
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: remote.IP.String(),
		},
		SessionName: "sonorad",
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: remote.Port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{fmt.Sprintf("%d", payloadType)},
			},
			Attributes: []sdp.Attribute{
				{Key: "fmtp", Value: fmt.Sprintf("%d rate=%d;channels=%d", payloadType, spec.Rate, spec.Channels)},
			},
		}},
	}
	return desc.Marshal()
}
