package raop

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/rapidaai/sonorad/pkg/types"
)

// Status mirrors pa_rtsp_status_t (spec.md §4.K "Failure semantics").
type Status int

const (
	StatusOK Status = iota
	StatusBadRequest
	StatusUnauthorized
	StatusNoResponse
	StatusInternalError
)

func statusFromCode(code int) Status {
	switch {
	case code == 200:
		return StatusOK
	case code == 400:
		return StatusBadRequest
	case code == 401 || code == 403:
		return StatusUnauthorized
	case code >= 500:
		return StatusInternalError
	default:
		return StatusNoResponse
	}
}

func (s Status) Error() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "BAD_REQUEST"
	case StatusUnauthorized:
		return "UNAUTHORIZED"
	case StatusNoResponse:
		return "NO_RESPONSE"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// rtspConn is a minimal RTSP/1.0 request-response client speaking the
// handful of methods RAOP needs, over a single persistent TCP
// connection — the "RTSP callback" spec.md §4.K refers to.
type rtspConn struct {
	conn       net.Conn
	reader     *textproto.Reader
	cseq       uint32
	clientInst string
	session    string
	userAgent  string
	uri        string
}

func rtspDial(ctx context.Context, addr, clientInstance string) (*rtspConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &rtspConn{
		conn:       conn,
		reader:     textproto.NewReader(bufio.NewReader(conn)),
		clientInst: clientInstance,
		userAgent:  "sonorad",
		uri:        fmt.Sprintf("rtsp://%s/%s", conn.LocalAddr().String(), clientInstance),
	}, nil
}

func (c *rtspConn) Close() error { return c.conn.Close() }

func (c *rtspConn) nextCSeq() uint32 { return atomic.AddUint32(&c.cseq, 1) }

// request sends one RTSP request and returns the parsed status line
// code and response headers. body, if non-nil, is sent with a
// Content-Type already set by the caller via headers.
func (c *rtspConn) request(ctx context.Context, method, uri string, headers map[string]string, body []byte) (int, textproto.MIMEHeader, []byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", method, uri)
	fmt.Fprintf(&b, "CSeq: %d\r\n", c.nextCSeq())
	fmt.Fprintf(&b, "User-Agent: %s\r\n", c.userAgent)
	fmt.Fprintf(&b, "Client-Instance: %s\r\n", c.clientInst)
	if c.session != "" {
		fmt.Fprintf(&b, "Session: %s\r\n", c.session)
	}
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	if body != nil {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	b.WriteString("\r\n")
	if body != nil {
		b.Write(body)
	}

	if _, err := c.conn.Write([]byte(b.String())); err != nil {
		return 0, nil, nil, err
	}

	statusLine, err := c.reader.ReadLine()
	if err != nil {
		return 0, nil, nil, err
	}
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return 0, nil, nil, fmt.Errorf("raop: malformed RTSP status line %q", statusLine)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, nil, nil, fmt.Errorf("raop: malformed RTSP status code %q", parts[1])
	}

	hdr, err := c.reader.ReadMIMEHeader()
	if err != nil {
		return code, nil, nil, err
	}
	if sess := hdr.Get("Session"); sess != "" {
		c.session = sess
	}

	var respBody []byte
	if cl := hdr.Get("Content-Length"); cl != "" {
		n, _ := strconv.Atoi(cl)
		if n > 0 {
			respBody = make([]byte, n)
			if _, err := readFull(c.reader.R, respBody); err != nil {
				return code, hdr, nil, err
			}
		}
	}

	if code != 200 {
		return code, hdr, respBody, statusFromCode(code)
	}
	return code, hdr, respBody, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *rtspConn) Options(ctx context.Context) error {
	_, _, _, err := c.request(ctx, "OPTIONS", "*", nil, nil)
	return err
}

// Announce sends ANNOUNCE with an SDP body carrying rsaaeskey/aesiv,
// built with pion/sdp/v3 rather than hand-assembled text.
func (c *rtspConn) Announce(ctx context.Context, spec types.SampleSpec, encryptedKey, iv []byte) error {
	keyB64 := strings.TrimRight(base64.StdEncoding.EncodeToString(encryptedKey), "=")
	ivB64 := strings.TrimRight(base64.StdEncoding.EncodeToString(iv), "=")

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username: c.clientInst, SessionID: 0, SessionVersion: 0,
			NetworkType: "IN", AddressType: "IP4", UnicastAddress: "0.0.0.0",
		},
		SessionName: "sonorad RAOP session",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN", AddressType: "IP4",
			Address: &sdp.Address{Address: "0.0.0.0"},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media: "audio", Port: sdp.RangedPort{Value: 0},
					Protos: []string{"RTP", "AVP"}, Formats: []string{"96"},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: "96 AppleLossless"},
					{Key: "fmtp", Value: fmt.Sprintf("96 %d 0 16 40 10 14 2 255 0 0 44100", int(spec.Rate))},
					{Key: "rsaaeskey", Value: keyB64},
					{Key: "aesiv", Value: ivB64},
				},
			},
		},
	}
	body, err := desc.Marshal()
	if err != nil {
		return err
	}
	_, _, _, err = c.request(ctx, "ANNOUNCE", c.uri, map[string]string{"Content-Type": "application/sdp"}, body)
	return err
}

type setupResult struct {
	serverPort, controlPort, timingPort int
}

func (c *rtspConn) Setup(ctx context.Context, audioLocal, controlLocal, timingLocal int) (*setupResult, error) {
	transport := fmt.Sprintf(
		"RTP/AVP/UDP;unicast;interleaved=0-1;mode=record;control_port=%d;timing_port=%d",
		controlLocal, timingLocal,
	)
	_, hdr, _, err := c.request(ctx, "SETUP", c.uri, map[string]string{"Transport": transport}, nil)
	if err != nil {
		return nil, err
	}
	return parseTransportHeader(hdr.Get("Transport")), nil
}

func parseTransportHeader(h string) *setupResult {
	res := &setupResult{}
	for _, field := range strings.Split(h, ";") {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		v, _ := strconv.Atoi(kv[1])
		switch kv[0] {
		case "server_port":
			res.serverPort = v
		case "control_port":
			res.controlPort = v
		case "timing_port":
			res.timingPort = v
		}
	}
	return res
}

func (c *rtspConn) Record(ctx context.Context) error {
	_, _, _, err := c.request(ctx, "RECORD", c.uri, map[string]string{"Range": "npt=0-", "RTP-Info": "seq=0;rtptime=0"}, nil)
	return err
}

func (c *rtspConn) SetParameterVolume(ctx context.Context, db float64) error {
	body := []byte(fmt.Sprintf("volume: %.6f\r\n", db))
	_, _, _, err := c.request(ctx, "SET_PARAMETER", c.uri, map[string]string{"Content-Type": "text/parameters"}, body)
	return err
}

func (c *rtspConn) Flush(ctx context.Context) error {
	_, _, _, err := c.request(ctx, "FLUSH", c.uri, map[string]string{"RTP-Info": "seq=0;rtptime=0"}, nil)
	return err
}

func (c *rtspConn) Teardown(ctx context.Context) error {
	_, _, _, err := c.request(ctx, "TEARDOWN", c.uri, nil, nil)
	return err
}

// dialTimeout is the default RTSP connect/request timeout used by
// callers that don't supply their own context deadline.
const dialTimeout = 5 * time.Second
