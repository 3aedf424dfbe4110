package ffmpeg

import "github.com/smazurov/avrec/internal/media"

// EncoderParams describes one encoder child. Raw media enters on stdin and
// an elementary stream (Annex-B H.264 or ADTS AAC) leaves on stdout.
type EncoderParams struct {
	Kind    media.TrackKind
	Encoder string // h264_vaapi, libx264, aac, etc.

	// Raw video input
	Width       int
	Height      int
	FPS         int
	PixelFormat string // defaults to yuv420p

	// Raw audio input
	SampleRate int
	Channels   int

	// Rate control (only set what's needed)
	Bitrate int    // bits per second
	RCMode  string // rc_mode for hardware encoders
	GOP     int    // keyframe interval in frames (0 = 10s worth of frames)

	// Encoder options
	Preset  string
	Tune    string
	Profile string

	// Hardware acceleration
	GlobalArgs   []string // -vaapi_device, etc.
	VideoFilters string   // format=nv12,hwupload

	// EncoderArgs are extra encoder options as flag/value pairs, e.g. ["-qp", "20"].
	EncoderArgs []string

	// ProgressSocket receives -progress key=value blocks when set.
	ProgressSocket string
	LogLevel       string
}

// SourceKind selects the ffmpeg demuxer a device source reads from.
type SourceKind string

// Source kinds.
const (
	SourceV4L2  SourceKind = "v4l2"
	SourceALSA  SourceKind = "alsa"
	SourcePulse SourceKind = "pulse"
	SourceLavfi SourceKind = "lavfi"
)

// SourceParams describes a capture child writing raw media to stdout.
type SourceParams struct {
	Kind   media.TrackKind
	Input  SourceKind
	Device string // /dev/video0, hw:1,0, or a lavfi graph

	// InputFormat is the v4l2 pixel format to request (yuyv422, mjpeg).
	InputFormat string
	// InputArgs are passed verbatim before -i.
	InputArgs []string

	Width  int
	Height int
	FPS    int

	SampleRate int
	Channels   int

	// Options are behaviour flags applied to the input.
	Options  []OptionType
	LogLevel string
}
