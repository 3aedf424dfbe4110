package ffenc

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

var startCode = []byte{0, 0, 1}

// auSplitter cuts an Annex-B byte stream into access units. Units are
// delimited by AUD NAL units, which are dropped.
type auSplitter struct {
	buf []byte
	au  [][]byte
}

// push appends stream bytes and returns the access units completed by them.
func (s *auSplitter) push(data []byte) [][][]byte {
	s.buf = append(s.buf, data...)

	first := bytes.Index(s.buf, startCode)
	if first < 0 {
		// Keep a possible partial start code.
		if len(s.buf) > 2 {
			s.buf = append(s.buf[:0], s.buf[len(s.buf)-2:]...)
		}
		return nil
	}

	var out [][][]byte
	pos := first
	for {
		next := bytes.Index(s.buf[pos+3:], startCode)
		if next < 0 {
			break
		}
		next += pos + 3
		if au := s.add(trimZeros(s.buf[pos+3 : next])); au != nil {
			out = append(out, au)
		}
		pos = next
	}
	s.buf = append(s.buf[:0], s.buf[pos:]...)
	return out
}

// flush ends the stream and returns the last access unit, if any.
func (s *auSplitter) flush() [][]byte {
	var last []byte
	if i := bytes.Index(s.buf, startCode); i >= 0 {
		last = trimZeros(s.buf[i+3:])
	}
	s.buf = nil
	if au := s.add(last); au != nil {
		return au
	}
	au := s.au
	s.au = nil
	return au
}

func (s *auSplitter) add(nalu []byte) [][]byte {
	if len(nalu) == 0 {
		return nil
	}
	if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeAccessUnitDelimiter {
		au := s.au
		s.au = nil
		return au
	}
	s.au = append(s.au, bytes.Clone(nalu))
	return nil
}

// trimZeros drops the trailing zero bytes that belong to the next
// four-byte start code.
func trimZeros(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}

// parameterSets returns the SPS and PPS carried by an access unit.
func parameterSets(au [][]byte) (sps, pps []byte) {
	for _, nalu := range au {
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			sps = nalu
		case h264.NALUTypePPS:
			pps = nalu
		}
	}
	return sps, pps
}

func isKeyFrame(au [][]byte) bool {
	for _, nalu := range au {
		if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}
