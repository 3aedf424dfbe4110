package container

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// toAVCC converts an Annex-B access unit into length-prefixed form,
// dropping access unit delimiters. Data without a start code is assumed
// to be AVCC already.
func toAVCC(data []byte) ([]byte, error) {
	if !hasStartCode(data) {
		return data, nil
	}

	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("failed to parse Annex-B: %w", err)
	}

	nalus := au[:0]
	for _, nalu := range au {
		if len(nalu) == 0 || h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeAccessUnitDelimiter {
			continue
		}
		nalus = append(nalus, nalu)
	}
	if len(nalus) == 0 {
		return nil, nil
	}
	return h264.AVCC(nalus).Marshal()
}

func hasStartCode(b []byte) bool {
	return (len(b) >= 4 && b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 1) ||
		(len(b) >= 3 && b[0] == 0 && b[1] == 0 && b[2] == 1)
}

// avcDecoderConfig builds an AVCDecoderConfigurationRecord (ISO 14496-15)
// for a single SPS/PPS pair with 4-byte NALU lengths.
func avcDecoderConfig(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 || len(pps) == 0 {
		return nil, fmt.Errorf("incomplete parameter sets (sps=%d pps=%d)", len(sps), len(pps))
	}

	rec := make([]byte, 0, 11+len(sps)+len(pps))
	rec = append(rec,
		1,      // configurationVersion
		sps[1], // AVCProfileIndication
		sps[2], // profile_compatibility
		sps[3], // AVCLevelIndication
		0xFF,   // lengthSizeMinusOne = 3
		0xE1,   // numOfSequenceParameterSets = 1
		byte(len(sps)>>8), byte(len(sps)),
	)
	rec = append(rec, sps...)
	rec = append(rec, 1, byte(len(pps)>>8), byte(len(pps)))
	rec = append(rec, pps...)
	return rec, nil
}
