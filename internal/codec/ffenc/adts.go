package ffenc

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

const adtsHeaderSize = 7

var errADTSSync = errors.New("lost ADTS sync")

// audioConfig returns the AudioSpecificConfig describing pkt.
func audioConfig(pkt *mpeg4audio.ADTSPacket) ([]byte, error) {
	conf := mpeg4audio.AudioSpecificConfig{
		Type:         pkt.Type,
		SampleRate:   pkt.SampleRate,
		ChannelCount: pkt.ChannelCount,
	}
	return conf.Marshal()
}

// adtsSplitter cuts an ADTS byte stream into packets. It only reads the
// frame length to find frame boundaries; each complete frame is decoded
// by mpeg4audio.
type adtsSplitter struct {
	buf []byte
}

func (s *adtsSplitter) push(data []byte) ([]*mpeg4audio.ADTSPacket, error) {
	s.buf = append(s.buf, data...)

	var pkts mpeg4audio.ADTSPackets
	pos := 0
	for len(s.buf)-pos >= adtsHeaderSize {
		h := s.buf[pos:]
		if h[0] != 0xFF || h[1]&0xF0 != 0xF0 {
			return pkts, errADTSSync
		}
		frameLen := int(h[3]&0x03)<<11 | int(h[4])<<3 | int(h[5])>>5
		if frameLen <= adtsHeaderSize {
			return pkts, fmt.Errorf("invalid ADTS frame length %d", frameLen)
		}
		if len(h) < frameLen {
			break
		}

		var frame mpeg4audio.ADTSPackets
		if err := frame.Unmarshal(h[:frameLen]); err != nil {
			return pkts, fmt.Errorf("decode ADTS frame: %w", err)
		}
		for _, pkt := range frame {
			// AU aliases buf, which is compacted below.
			pkt.AU = append([]byte(nil), pkt.AU...)
		}
		pkts = append(pkts, frame...)
		pos += frameLen
	}
	s.buf = append(s.buf[:0], s.buf[pos:]...)
	return pkts, nil
}
