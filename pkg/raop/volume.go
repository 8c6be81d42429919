package raop

import (
	"math"

	"github.com/rapidaai/sonorad/pkg/types"
)

// Device dB bounds from original_source/src/modules/raop/raop_client.c.
const (
	volumeDefDB = -30.0
	volumeMinDB = -144.0
	volumeMaxDB = 0.0
)

// swVolumeToDB approximates pulseaudio's pa_sw_volume_to_dB: a linear
// PA volume (VolumeNorm == 0 dB) converted to decibels on pulseaudio's
// cubic scale (60·log10 of the ratio to VolumeNorm).
func swVolumeToDB(v types.Volume) float64 {
	if v == types.VolumeMuted {
		return math.Inf(-1)
	}
	ratio := float64(v) / float64(types.VolumeNorm)
	return 60 * math.Log10(ratio)
}

// VolumeToDB scales a linear PA volume into [VOLUME_DEF, 0] dB before
// clamping to the device's accepted [-144, 0] range, per spec.md
// §4.K's "Volume" section and pa_raop_client_adjust_volume /
// pa_raop_client_set_volume.
func VolumeToDB(v types.Volume) float64 {
	if v == types.VolumeMuted {
		return volumeMinDB
	}
	maxv := float64(types.VolumeNorm)
	minv := maxv * math.Pow(10, volumeDefDB/60.0)
	adjusted := float64(v) - float64(v)*(minv/maxv) + minv
	db := swVolumeToDB(types.Volume(adjusted))
	if db < volumeMinDB {
		return volumeMinDB
	}
	if db > volumeMaxDB {
		return volumeMaxDB
	}
	return db
}
