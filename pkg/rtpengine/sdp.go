package rtpengine

import (
	"fmt"

	"github.com/pion/sdp/v3"

	"github.com/rapidaai/sonorad/pkg/types"
)

// BuildAnnounceSDP constructs the compact SDP descriptor a SAP
// announcement carries for a sink being advertised on the network,
// using pion/sdp/v3 instead of the teacher's hand-built SDP strings
// (sip/infra/sdp.go) — the grammar is the same RFC 4566 shape, this
// package just builds it through a real SDP encoder rather than
// string concatenation.
func BuildAnnounceSDP(sessionName, originAddress string, sessionID uint64, mcastAddress string, port uint16, spec types.SampleSpec) ([]byte, error) {
	pt := fmt.Sprintf("%d", PayloadTypeFor(spec))

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: originAddress,
		},
		SessionName: sdp.SessionName(sessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: mcastAddress},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: int(port)},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{pt},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: fmt.Sprintf("%s L16/%d/%d", pt, spec.Rate, spec.Channels)},
					{Key: "recvonly"},
				},
			},
		},
	}
	return desc.Marshal()
}
