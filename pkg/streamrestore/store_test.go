package streamrestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/sonorad/pkg/commons"
	"github.com/rapidaai/sonorad/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared", commons.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCanonicalName_PrefersApplicationMediaRoleOverSpec(t *testing.T) {
	pl := types.NewProplist()
	pl.Sets("application.name", "mpv")
	pl.Sets("media.name", "song.flac")
	pl.Sets("media.role", "music")
	spec := types.SampleSpec{Format: types.FormatS16LE, Rate: 44100, Channels: 2}

	name1 := CanonicalName(pl, spec)
	name2 := CanonicalName(pl, spec)
	assert.Equal(t, name1, name2, "identical proplists must canonicalise identically")

	other := types.NewProplist()
	other.Sets("application.name", "vlc")
	assert.NotEqual(t, name1, CanonicalName(other, spec))
}

func TestCanonicalName_FallsBackToSampleSpec(t *testing.T) {
	empty := types.NewProplist()
	spec := types.SampleSpec{Format: types.FormatS16LE, Rate: 48000, Channels: 2}
	name := CanonicalName(empty, spec)
	assert.Equal(t, CanonicalName(types.NewProplist(), spec), name)
	other := types.SampleSpec{Format: types.FormatS16LE, Rate: 44100, Channels: 2}
	assert.NotEqual(t, CanonicalName(types.NewProplist(), other), name)
}

func TestStore_SetVolumeThenRead_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	m := types.StereoMap()
	v := types.CVolume{types.VolumeNorm, types.VolumeNorm / 2}

	require.NoError(t, s.SetVolume("stream-a", m, v))

	e, ok, err := s.Read("stream-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.VolumeValid)

	gotMap, gotVol, ok := e.DecodedVolume()
	require.True(t, ok)
	assert.Equal(t, m, gotMap)
	assert.Equal(t, v, gotVol)
}

func TestStore_SetMuteThenSetVolume_PreservesBothFields(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetMute("stream-b", true))
	require.NoError(t, s.SetVolume("stream-b", types.StereoMap(), types.NormCVolume(2)))

	e, ok, err := s.Read("stream-b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.MutedValid)
	assert.True(t, e.Muted)
	assert.True(t, e.VolumeValid)
}

func TestStore_Read_MissingNameReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Read("does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SetDeviceAndCard(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetDevice("stream-c", "sink-usb"))
	require.NoError(t, s.SetCard("stream-c", "card-usb-profile-stereo"))

	e, ok, err := s.Read("stream-c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.DeviceValid)
	assert.Equal(t, "sink-usb", e.Device)
	assert.True(t, e.CardValid)
	assert.Equal(t, "card-usb-profile-stereo", e.Card)
}
