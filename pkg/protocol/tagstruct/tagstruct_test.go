package tagstruct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/sonorad/pkg/types"
)

func TestRoundTrip_Scalars(t *testing.T) {
	w := New()
	w.PutString("hello")
	w.PutStringNil()
	w.PutU32(0xdeadbeef)
	w.PutI32(-12345)
	w.PutU16(65000)
	w.PutI16(-7)
	w.PutU8(200)
	w.PutI8(-2)

	r := NewFromBytes(w.Bytes())
	s, ok, err := r.GetString()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	_, ok, err = r.GetString()
	require.NoError(t, err)
	assert.False(t, ok)

	u32, err := r.GetU32()
	require.NoError(t, err)
	assert.EqualValues(t, 0xdeadbeef, u32)

	i32, err := r.GetI32()
	require.NoError(t, err)
	assert.EqualValues(t, -12345, i32)

	u16, err := r.GetU16()
	require.NoError(t, err)
	assert.EqualValues(t, 65000, u16)

	i16, err := r.GetI16()
	require.NoError(t, err)
	assert.EqualValues(t, -7, i16)

	u8, err := r.GetU8()
	require.NoError(t, err)
	assert.EqualValues(t, 200, u8)

	i8, err := r.GetI8()
	require.NoError(t, err)
	assert.EqualValues(t, -2, i8)

	assert.True(t, r.Eof())
}

func TestRoundTrip_AudioTypes(t *testing.T) {
	spec := types.SampleSpec{Format: types.FormatS16LE, Channels: 2, Rate: 44100}
	cmap := types.StereoMap()
	vol := types.NewCVolume(2, types.VolumeNorm)
	tv := Timeval{Sec: 100, Usec: 500}
	arb := []byte{1, 2, 3, 4, 5}

	w := New()
	w.PutSampleSpec(spec)
	w.PutChannelMap(cmap)
	w.PutCVolume(vol)
	w.PutTimeval(tv)
	w.PutArbitrary(arb)

	r := NewFromBytes(w.Bytes())
	gotSpec, err := r.GetSampleSpec()
	require.NoError(t, err)
	assert.Equal(t, spec, gotSpec)

	gotMap, err := r.GetChannelMap()
	require.NoError(t, err)
	assert.Equal(t, cmap, gotMap)

	gotVol, err := r.GetCVolume()
	require.NoError(t, err)
	assert.True(t, gotVol.Equal(vol))

	gotTv, err := r.GetTimeval()
	require.NoError(t, err)
	assert.Equal(t, tv, gotTv)

	gotArb, err := r.GetArbitrary()
	require.NoError(t, err)
	assert.Equal(t, arb, gotArb)

	assert.True(t, r.Eof())
}

func TestRoundTrip_Proplist(t *testing.T) {
	p := types.NewProplist()
	p.Sets("application.name", "sonocat")
	p.Sets("media.role", "music")

	w := New()
	w.PutProplist(p)

	r := NewFromBytes(w.Bytes())
	got, err := r.GetProplist()
	require.NoError(t, err)
	for _, k := range p.Keys() {
		v, _ := p.GetBytes(k)
		gv, ok := got.GetBytes(k)
		assert.True(t, ok)
		assert.Equal(t, v, gv)
	}
	assert.True(t, r.Eof())
}

func TestMalformed_WrongTag(t *testing.T) {
	w := New()
	w.PutString("x")
	r := NewFromBytes(w.Bytes())
	_, err := r.GetU32()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMalformed_ShortRead(t *testing.T) {
	r := NewFromBytes([]byte{TagU32, 0, 0})
	_, err := r.GetU32()
	assert.ErrorIs(t, err, ErrMalformed)
}
