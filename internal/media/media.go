// Package media holds the types shared by every stage of the recording
// pipeline: track kinds, encoder output formats, compressed samples and the
// error taxonomy.
package media

import "fmt"

// TrackKind identifies one of the two tracks a recording may carry.
type TrackKind string

// Track kinds.
const (
	KindVideo TrackKind = "video"
	KindAudio TrackKind = "audio"
)

// String implements fmt.Stringer.
func (k TrackKind) String() string { return string(k) }

// Valid reports whether k is a known track kind.
func (k TrackKind) Valid() bool {
	return k == KindVideo || k == KindAudio
}

// Codec names used in formats.
const (
	CodecH264 = "h264"
	CodecAAC  = "aac"
)

// MIME kinds used for capability lookup.
const (
	MimeVideoAVC = "video/avc"
	MimeAudioAAC = "audio/mp4a-latm"
)

// MimeFor returns the MIME kind encoders are looked up by for a track.
func MimeFor(kind TrackKind) string {
	if kind == KindAudio {
		return MimeAudioAAC
	}
	return MimeVideoAVC
}

// Format describes an encoded stream. Encoders announce it once their
// output parameters are known; container writers declare tracks from it.
type Format struct {
	Kind  TrackKind
	Codec string

	// Video
	Width     int
	Height    int
	FrameRate int
	SPS       []byte
	PPS       []byte

	// Audio
	SampleRate   int
	Channels     int
	AudioConfig  []byte // AudioSpecificConfig
	SamplesPerAU int

	Bitrate int
}

// String implements fmt.Stringer.
func (f Format) String() string {
	if f.Kind == KindAudio {
		return fmt.Sprintf("%s %s %dHz/%dch %dbps", f.Kind, f.Codec, f.SampleRate, f.Channels, f.Bitrate)
	}
	return fmt.Sprintf("%s %s %dx%d@%d %dbps", f.Kind, f.Codec, f.Width, f.Height, f.FrameRate, f.Bitrate)
}

// BufferFlags mark special encoder output buffers.
type BufferFlags uint8

// Buffer flags.
const (
	FlagKeyFrame BufferFlags = 1 << iota
	FlagCodecConfig
	FlagEndOfStream
)

// Has reports whether all bits of f2 are set.
func (f BufferFlags) Has(f2 BufferFlags) bool { return f&f2 == f2 }

// Sample is one compressed access unit ready for the container.
type Sample struct {
	Data      []byte
	Timestamp int64 // presentation time in microseconds
	KeyFrame  bool
}
