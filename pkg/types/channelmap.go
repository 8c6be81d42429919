package types

// ChannelPosition tags one slot of a ChannelMap.
type ChannelPosition uint8

const (
	PositionMono ChannelPosition = iota
	PositionFrontLeft
	PositionFrontRight
	PositionFrontCenter
	PositionRearLeft
	PositionRearRight
	PositionRearCenter
	PositionLFE
	PositionSideLeft
	PositionSideRight
)

// ChannelMap is an ordered list of channel-position tags; its length must
// equal the owning SampleSpec's channel count.
type ChannelMap []ChannelPosition

// Valid reports whether m has a non-zero, bounded length.
func (m ChannelMap) Valid() bool {
	return len(m) >= MinChannels && len(m) <= MaxChannels
}

// StereoMap is the default 2-channel layout used throughout the tests and
// the default sink/source construction helpers.
func StereoMap() ChannelMap {
	return ChannelMap{PositionFrontLeft, PositionFrontRight}
}

// MonoMap is the default 1-channel layout.
func MonoMap() ChannelMap {
	return ChannelMap{PositionMono}
}

// DefaultMap returns a stereo map for 2 channels, mono for 1, and
// positionally-unspecified "aux" slots (reusing FrontLeft/Right cyclically)
// for anything else — matching pulseaudio's pa_channel_map_init_auto
// fallback behaviour for unusual channel counts.
func DefaultMap(channels int) ChannelMap {
	switch channels {
	case 1:
		return MonoMap()
	case 2:
		return StereoMap()
	default:
		m := make(ChannelMap, channels)
		for i := range m {
			if i%2 == 0 {
				m[i] = PositionFrontLeft
			} else {
				m[i] = PositionFrontRight
			}
		}
		return m
	}
}

// IndexOf returns the index of the first channel in m at position pos —
// used to remap per-channel volume between a sink's channel map and a
// sink-input's differing channel map. Returns -1 if no channel in m has
// that position.
func (m ChannelMap) IndexOf(pos ChannelPosition) int {
	for i, p := range m {
		if p == pos {
			return i
		}
	}
	return -1
}
