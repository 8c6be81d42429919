package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/sonorad/pkg/commons"
	"github.com/rapidaai/sonorad/pkg/core"
	"github.com/rapidaai/sonorad/pkg/memblock"
	"github.com/rapidaai/sonorad/pkg/types"
)

func stereoSpec() types.SampleSpec {
	return types.SampleSpec{Format: types.FormatS16LE, Channels: 2, Rate: 44100}
}

func newTestServer(t *testing.T) (*Server, *core.Core) {
	t.Helper()
	c := core.New(commons.NewNopLogger())
	s := New(c, commons.NewNopLogger())
	return s, c
}

func TestListSinks_ReturnsRegisteredSinks(t *testing.T) {
	s, c := newTestServer(t)
	pool := memblock.NewPool(4096, 65536)
	sink, err := core.NewSink("test-sink", stereoSpec(), types.StereoMap(), pool)
	require.NoError(t, err)
	sink.Put()
	c.RegisterSink(sink)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sinks")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got []sinkView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "test-sink", got[0].Name)
	assert.Equal(t, "idle", got[0].State)
}

func TestListSinkInputs_ReportsAttachedSink(t *testing.T) {
	s, c := newTestServer(t)
	pool := memblock.NewPool(4096, 65536)
	sink, err := core.NewSink("test-sink", stereoSpec(), types.StereoMap(), pool)
	require.NoError(t, err)
	sink.Put()
	c.RegisterSink(sink)

	in := core.NewSinkInput("stream", stereoSpec(), types.StereoMap(), nil, pool, 65536, 16384, 4096)
	in.Put()
	sink.AttachInput(in)
	c.RegisterSinkInput(in)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sink-inputs")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got []sinkInputView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	require.NotNil(t, got[0].SinkIdx)
	assert.Equal(t, sink.Index, *got[0].SinkIdx)
}

func TestStreamEvents_DeliversNewSinkEvent(t *testing.T) {
	s, c := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the subscriber goroutine time to register before the event fires.
	time.Sleep(30 * time.Millisecond)

	pool := memblock.NewPool(4096, 65536)
	sink, err := core.NewSink("test-sink", stereoSpec(), types.StereoMap(), pool)
	require.NoError(t, err)
	c.RegisterSink(sink)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg eventMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "new", msg.Kind)
	assert.Equal(t, "sink", msg.Facility)
	assert.Equal(t, sink.Index, msg.Index)
}
