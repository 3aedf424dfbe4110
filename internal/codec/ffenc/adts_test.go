package ffenc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// adtsFrameBytes builds an ADTS frame without CRC.
func adtsFrameBytes(objectType, rateIndex, channels int, payload []byte) []byte {
	n := 7 + len(payload)
	h := []byte{
		0xFF,
		0xF1,
		byte((objectType-1)<<6 | rateIndex<<2 | channels>>2),
		byte((channels&3)<<6 | n>>11),
		byte(n >> 3),
		byte((n&7)<<5 | 0x1F),
		0xFC,
	}
	return append(h, payload...)
}

func TestADTSSplitter(t *testing.T) {
	stream := append(adtsFrameBytes(2, 3, 2, []byte{1, 2, 3}), adtsFrameBytes(2, 3, 2, []byte{4, 5})...)

	for _, chunk := range []int{1, 4, 9, len(stream)} {
		var s adtsSplitter
		var pkts []*mpeg4audio.ADTSPacket
		for i := 0; i < len(stream); i += chunk {
			got, err := s.push(stream[i:min(i+chunk, len(stream))])
			if err != nil {
				t.Fatalf("chunk %d: %v", chunk, err)
			}
			pkts = append(pkts, got...)
		}

		if len(pkts) != 2 {
			t.Fatalf("chunk %d: got %d packets, want 2", chunk, len(pkts))
		}
		p := pkts[0]
		if p.Type != mpeg4audio.ObjectTypeAACLC || p.SampleRate != 48000 || p.ChannelCount != 2 {
			t.Errorf("chunk %d: header = %+v", chunk, p)
		}
		if !bytes.Equal(p.AU, []byte{1, 2, 3}) || !bytes.Equal(pkts[1].AU, []byte{4, 5}) {
			t.Errorf("chunk %d: payloads = %v %v", chunk, p.AU, pkts[1].AU)
		}
	}
}

func TestADTSSplitterKeepsPayloadsAcrossPushes(t *testing.T) {
	var s adtsSplitter
	first, err := s.push(adtsFrameBytes(2, 4, 1, []byte{7, 7}))
	if err != nil || len(first) != 1 {
		t.Fatalf("first push = %v, %v", first, err)
	}
	if _, err := s.push(adtsFrameBytes(2, 4, 1, []byte{8, 8})); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first[0].AU, []byte{7, 7}) {
		t.Errorf("first payload overwritten: %v", first[0].AU)
	}
	if first[0].SampleRate != 44100 || first[0].ChannelCount != 1 {
		t.Errorf("header = %+v", first[0])
	}
}

func TestADTSSplitterErrors(t *testing.T) {
	var s adtsSplitter
	if _, err := s.push([]byte{0, 1, 2, 3, 4, 5, 6, 7}); !errors.Is(err, errADTSSync) {
		t.Errorf("garbage: err = %v, want lost sync", err)
	}

	tests := map[string][]byte{
		"reserved sample rate index": adtsFrameBytes(2, 13, 2, []byte{1}),
		"empty payload":              adtsFrameBytes(2, 3, 2, nil),
	}
	crc := adtsFrameBytes(2, 4, 1, []byte{0, 0, 9, 9})
	crc[1] = 0xF0
	tests["crc present"] = crc

	for name, frame := range tests {
		s = adtsSplitter{}
		if pkts, err := s.push(frame); err == nil {
			t.Errorf("%s: expected error, got %d packets", name, len(pkts))
		}
	}
}

func TestAudioConfig(t *testing.T) {
	conf, err := audioConfig(&mpeg4audio.ADTSPacket{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   48000,
		ChannelCount: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(conf, []byte{0x11, 0x90}) {
		t.Errorf("config = %x, want 1190", conf)
	}
}
