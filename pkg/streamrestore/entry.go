// Package streamrestore persists per-stream volume, mute and preferred
// device choices across restarts, the supplemental feature grounded in
// original_source/src/modules/module-stream-restore.c's "struct entry"
// and dropped from spec.md's distillation.
package streamrestore

import (
	"hash/fnv"
	"strconv"

	"github.com/rapidaai/sonorad/pkg/types"
)

// Entry mirrors module-stream-restore.c's struct entry: every field is
// independently "valid" since a stream may have had only its volume,
// or only its device, ever explicitly set.
type Entry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	// Name is the canonicalised stream identity CanonicalName computes;
	// unique so upserts key on it directly.
	Name string `gorm:"column:name;type:varchar(256);not null;uniqueIndex"`

	MutedValid bool `gorm:"column:muted_valid;not null;default:false"`
	Muted      bool `gorm:"column:muted;not null;default:false"`

	VolumeValid bool   `gorm:"column:volume_valid;not null;default:false"`
	ChannelMap  string `gorm:"column:channel_map;type:varchar(64);not null;default:''"`
	Volume      string `gorm:"column:volume;type:varchar(512);not null;default:''"` // comma-separated per-channel Volume

	DeviceValid bool   `gorm:"column:device_valid;not null;default:false"`
	Device      string `gorm:"column:device;type:varchar(256);not null;default:''"`

	CardValid bool   `gorm:"column:card_valid;not null;default:false"`
	Card      string `gorm:"column:card;type:varchar(256);not null;default:''"`
}

func (Entry) TableName() string { return "stream_restore_entries" }

// CanonicalName resolves spec.md §9's Open Question on get_name()'s
// fallback bucket: sonorad hashes application.name + media.name +
// media.role, in that order of preference, falling back to the
// object's sample spec string when none of those proplist keys are
// present — "any stable identifier derivable from the proplist".
func CanonicalName(pl *types.Proplist, spec types.SampleSpec) string {
	h := fnv.New64a()
	wrote := false
	for _, key := range []string{"application.name", "media.name", "media.role"} {
		if v, ok := pl.Gets(key); ok && v != "" {
			h.Write([]byte(key))
			h.Write([]byte{0})
			h.Write([]byte(v))
			h.Write([]byte{0})
			wrote = true
		}
	}
	if !wrote {
		h.Write([]byte(spec.String()))
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// encodeCVolume/decodeCVolume and encodeChannelMap/decodeChannelMap give
// Entry's string columns a stable, order-preserving textual form —
// gorm/sqlite has no native array column, so the teacher's own
// convention (comma-joined scalar columns, see gorm model structs
// throughout the retrieval pack) is followed here too.
func encodeCVolume(v types.CVolume) string {
	out := make([]byte, 0, len(v)*6)
	for i, c := range v {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(c), 10)
	}
	return string(out)
}

func decodeCVolume(s string) types.CVolume {
	if s == "" {
		return nil
	}
	var out types.CVolume
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			n, err := strconv.ParseUint(s[start:i], 10, 32)
			if err == nil {
				out = append(out, types.Volume(n))
			}
			start = i + 1
		}
	}
	return out
}

func encodeChannelMap(m types.ChannelMap) string {
	out := make([]byte, 0, len(m)*2)
	for i, p := range m {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(p), 10)
	}
	return string(out)
}

func decodeChannelMap(s string) types.ChannelMap {
	if s == "" {
		return nil
	}
	var out types.ChannelMap
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			n, err := strconv.ParseUint(s[start:i], 10, 8)
			if err == nil {
				out = append(out, types.ChannelPosition(n))
			}
			start = i + 1
		}
	}
	return out
}
