// Package tagstruct implements the TagStruct half of spec.md §4.F: a
// one-byte-tag-per-field serialisation of the command/reply payloads
// carried in pstream control packets.
package tagstruct

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rapidaai/sonorad/pkg/types"
)

// Tag bytes, matching the wire table in spec.md §4.F exactly.
const (
	TagString    = 't'
	TagStringNil = 'N'
	TagU32       = 'L'
	TagI32       = 'l'
	TagU16       = 'S'
	TagI16       = 's'
	TagU8        = 'B'
	TagI8        = 'b'
	TagSampleSpec = 'a'
	TagChannelMap = 'm'
	TagCVolume    = 'v'
	TagTimeval    = 'T'
	TagArbitrary  = 'x'
	TagProplist   = 'P'
)

// ErrMalformed is returned on any type mismatch or short read.
var ErrMalformed = errors.New("tagstruct: malformed")

// TagStruct both builds (Put*) and parses (Get*) a tagged buffer.
type TagStruct struct {
	buf []byte
	pos int
}

// New creates an empty, write-only TagStruct.
func New() *TagStruct { return &TagStruct{} }

// NewFromBytes wraps an existing buffer for reading.
func NewFromBytes(b []byte) *TagStruct { return &TagStruct{buf: b} }

// Bytes returns the accumulated/wrapped buffer.
func (t *TagStruct) Bytes() []byte { return t.buf }

// Eof is true when the read cursor has consumed the whole buffer.
func (t *TagStruct) Eof() bool { return t.pos >= len(t.buf) }

func (t *TagStruct) malformed(want byte, got byte) error {
	return fmt.Errorf("%w: expected tag %q, got %q at offset %d", ErrMalformed, want, got, t.pos-1)
}

func (t *TagStruct) needTag(tag byte) error {
	if t.pos >= len(t.buf) {
		return fmt.Errorf("%w: short read expecting tag %q", ErrMalformed, tag)
	}
	got := t.buf[t.pos]
	t.pos++
	if got != tag {
		return t.malformed(tag, got)
	}
	return nil
}

func (t *TagStruct) need(n int) error {
	if t.pos+n > len(t.buf) {
		return fmt.Errorf("%w: short read needing %d bytes, have %d", ErrMalformed, n, len(t.buf)-t.pos)
	}
	return nil
}

// ---- strings ----

// PutString appends a NUL-terminated UTF-8 string with the 't' tag.
func (t *TagStruct) PutString(s string) {
	t.buf = append(t.buf, TagString)
	t.buf = append(t.buf, []byte(s)...)
	t.buf = append(t.buf, 0)
}

// PutStringNil appends the nil-string sentinel 'N'.
func (t *TagStruct) PutStringNil() {
	t.buf = append(t.buf, TagStringNil)
}

// GetString reads a 't' or 'N' tag; ok is false and s is "" for 'N'.
func (t *TagStruct) GetString() (s string, ok bool, err error) {
	if t.pos >= len(t.buf) {
		return "", false, fmt.Errorf("%w: short read expecting string", ErrMalformed)
	}
	tag := t.buf[t.pos]
	switch tag {
	case TagString:
		t.pos++
		start := t.pos
		for t.pos < len(t.buf) && t.buf[t.pos] != 0 {
			t.pos++
		}
		if t.pos >= len(t.buf) {
			return "", false, fmt.Errorf("%w: unterminated string", ErrMalformed)
		}
		s = string(t.buf[start:t.pos])
		t.pos++
		return s, true, nil
	case TagStringNil:
		t.pos++
		return "", false, nil
	default:
		return "", false, t.malformed(TagString, tag)
	}
}

// ---- fixed-width integers ----

func (t *TagStruct) putFixed(tag byte, n int, put func([]byte)) {
	t.buf = append(t.buf, tag)
	start := len(t.buf)
	t.buf = append(t.buf, make([]byte, n)...)
	put(t.buf[start:])
}

func (t *TagStruct) PutU32(v uint32) {
	t.putFixed(TagU32, 4, func(b []byte) { binary.BigEndian.PutUint32(b, v) })
}
func (t *TagStruct) PutI32(v int32) { t.PutU32(uint32(v)); t.buf[len(t.buf)-5] = TagI32 }

func (t *TagStruct) PutU16(v uint16) {
	t.putFixed(TagU16, 2, func(b []byte) { binary.BigEndian.PutUint16(b, v) })
}
func (t *TagStruct) PutI16(v int16) { t.PutU16(uint16(v)); t.buf[len(t.buf)-3] = TagI16 }

func (t *TagStruct) PutU8(v uint8) {
	t.buf = append(t.buf, TagU8, v)
}
func (t *TagStruct) PutI8(v int8) {
	t.buf = append(t.buf, TagI8, byte(v))
}

func (t *TagStruct) getFixed(tag byte, n int) ([]byte, error) {
	if err := t.needTag(tag); err != nil {
		return nil, err
	}
	if err := t.need(n); err != nil {
		return nil, err
	}
	b := t.buf[t.pos : t.pos+n]
	t.pos += n
	return b, nil
}

func (t *TagStruct) GetU32() (uint32, error) {
	b, err := t.getFixed(TagU32, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (t *TagStruct) GetI32() (int32, error) {
	b, err := t.getFixed(TagI32, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (t *TagStruct) GetU16() (uint16, error) {
	b, err := t.getFixed(TagU16, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (t *TagStruct) GetI16() (int16, error) {
	b, err := t.getFixed(TagI16, 2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (t *TagStruct) GetU8() (uint8, error) {
	if err := t.needTag(TagU8); err != nil {
		return 0, err
	}
	if err := t.need(1); err != nil {
		return 0, err
	}
	v := t.buf[t.pos]
	t.pos++
	return v, nil
}

func (t *TagStruct) GetI8() (int8, error) {
	if err := t.needTag(TagI8); err != nil {
		return 0, err
	}
	if err := t.need(1); err != nil {
		return 0, err
	}
	v := int8(t.buf[t.pos])
	t.pos++
	return v, nil
}

// ---- sample spec / channel map / cvolume / timeval / arbitrary ----

func (t *TagStruct) PutSampleSpec(s types.SampleSpec) {
	t.buf = append(t.buf, TagSampleSpec, byte(s.Format), s.Channels)
	t.buf = append(t.buf, 0, 0, 0, 0)
	binary.BigEndian.PutUint32(t.buf[len(t.buf)-4:], s.Rate)
}

func (t *TagStruct) GetSampleSpec() (types.SampleSpec, error) {
	if err := t.needTag(TagSampleSpec); err != nil {
		return types.SampleSpec{}, err
	}
	if err := t.need(6); err != nil {
		return types.SampleSpec{}, err
	}
	format := types.SampleFormat(t.buf[t.pos])
	channels := t.buf[t.pos+1]
	rate := binary.BigEndian.Uint32(t.buf[t.pos+2 : t.pos+6])
	t.pos += 6
	return types.SampleSpec{Format: format, Channels: channels, Rate: rate}, nil
}

func (t *TagStruct) PutChannelMap(m types.ChannelMap) {
	t.buf = append(t.buf, TagChannelMap, byte(len(m)))
	for _, p := range m {
		t.buf = append(t.buf, byte(p))
	}
}

func (t *TagStruct) GetChannelMap() (types.ChannelMap, error) {
	if err := t.needTag(TagChannelMap); err != nil {
		return nil, err
	}
	if err := t.need(1); err != nil {
		return nil, err
	}
	n := int(t.buf[t.pos])
	t.pos++
	if err := t.need(n); err != nil {
		return nil, err
	}
	m := make(types.ChannelMap, n)
	for i := 0; i < n; i++ {
		m[i] = types.ChannelPosition(t.buf[t.pos+i])
	}
	t.pos += n
	return m, nil
}

func (t *TagStruct) PutCVolume(v types.CVolume) {
	t.buf = append(t.buf, TagCVolume, byte(len(v)))
	for _, vol := range v {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(vol))
		t.buf = append(t.buf, b...)
	}
}

func (t *TagStruct) GetCVolume() (types.CVolume, error) {
	if err := t.needTag(TagCVolume); err != nil {
		return nil, err
	}
	if err := t.need(1); err != nil {
		return nil, err
	}
	n := int(t.buf[t.pos])
	t.pos++
	if err := t.need(n * 4); err != nil {
		return nil, err
	}
	v := make(types.CVolume, n)
	for i := 0; i < n; i++ {
		v[i] = types.Volume(binary.BigEndian.Uint32(t.buf[t.pos+i*4 : t.pos+i*4+4]))
	}
	t.pos += n * 4
	return v, nil
}

// Timeval is a (sec, usec) pair, matching the 'T' tag's wire layout.
type Timeval struct {
	Sec  uint32
	Usec uint32
}

func (t *TagStruct) PutTimeval(tv Timeval) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], tv.Sec)
	binary.BigEndian.PutUint32(b[4:8], tv.Usec)
	t.buf = append(t.buf, TagTimeval)
	t.buf = append(t.buf, b...)
}

func (t *TagStruct) GetTimeval() (Timeval, error) {
	if err := t.needTag(TagTimeval); err != nil {
		return Timeval{}, err
	}
	if err := t.need(8); err != nil {
		return Timeval{}, err
	}
	tv := Timeval{
		Sec:  binary.BigEndian.Uint32(t.buf[t.pos : t.pos+4]),
		Usec: binary.BigEndian.Uint32(t.buf[t.pos+4 : t.pos+8]),
	}
	t.pos += 8
	return tv, nil
}

func (t *TagStruct) PutArbitrary(data []byte) {
	t.buf = append(t.buf, TagArbitrary)
	lb := make([]byte, 4)
	binary.BigEndian.PutUint32(lb, uint32(len(data)))
	t.buf = append(t.buf, lb...)
	t.buf = append(t.buf, data...)
}

func (t *TagStruct) GetArbitrary() ([]byte, error) {
	if err := t.needTag(TagArbitrary); err != nil {
		return nil, err
	}
	if err := t.need(4); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(t.buf[t.pos : t.pos+4]))
	t.pos += 4
	if err := t.need(n); err != nil {
		return nil, err
	}
	data := make([]byte, n)
	copy(data, t.buf[t.pos:t.pos+n])
	t.pos += n
	return data, nil
}

// PutProplist appends the proplist's entries as repeated (t, L, x)
// triples — a string key, its raw-byte-array length restated, and the
// value bytes — terminated by a single 'N' sentinel, per §4.F's "P"
// row ("iterated t, u32 len, x").
func (t *TagStruct) PutProplist(p *types.Proplist) {
	t.buf = append(t.buf, TagProplist)
	for _, k := range p.Keys() {
		v, _ := p.GetBytes(k)
		t.PutString(k)
		t.PutU32(uint32(len(v)))
		t.PutArbitrary(v)
	}
	t.PutStringNil()
}

func (t *TagStruct) GetProplist() (*types.Proplist, error) {
	if err := t.needTag(TagProplist); err != nil {
		return nil, err
	}
	p := types.NewProplist()
	for {
		if t.pos >= len(t.buf) {
			return nil, fmt.Errorf("%w: unterminated proplist", ErrMalformed)
		}
		if t.buf[t.pos] == TagStringNil {
			t.pos++
			return p, nil
		}
		key, ok, err := t.GetString()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: proplist key must not be nil", ErrMalformed)
		}
		n, err := t.GetU32()
		if err != nil {
			return nil, err
		}
		val, err := t.GetArbitrary()
		if err != nil {
			return nil, err
		}
		if int(n) != len(val) {
			return nil, fmt.Errorf("%w: proplist value length mismatch", ErrMalformed)
		}
		p.SetBytes(key, val)
	}
}
