package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/smazurov/avrec/internal/media"
)

// Binary is the ffmpeg executable. Tests and packaging may override it.
var Binary = "ffmpeg"

// DefaultLogLevel prefixes every stderr line with its level so that
// ParseLogLevel can route it.
const DefaultLogLevel = "level+warning"

// Base returns the ffmpeg argv prefix shared by every child.
func Base(logLevel string) []string {
	if logLevel == "" {
		logLevel = DefaultLogLevel
	}
	return []string{Binary, "-hide_banner", "-nostats", "-loglevel", logLevel}
}

// EncodersListArgs returns the argv listing compiled-in encoders.
func EncodersListArgs() []string {
	return []string{Binary, "-hide_banner", "-encoders"}
}

// SourcesListArgs returns the argv listing the devices of an input device.
func SourcesListArgs(input SourceKind) []string {
	return []string{Binary, "-hide_banner", "-sources", string(input)}
}

// BuildEncoderArgs builds the argv of an encoder child from structured parameters.
func BuildEncoderArgs(p *EncoderParams) ([]string, error) {
	if p.Encoder == "" {
		return nil, errors.New("encoder is required")
	}
	switch p.Kind {
	case media.KindVideo:
		return buildVideoEncoder(p)
	case media.KindAudio:
		return buildAudioEncoder(p)
	default:
		return nil, fmt.Errorf("unknown track kind %q", p.Kind)
	}
}

func buildVideoEncoder(p *EncoderParams) ([]string, error) {
	if p.Width <= 0 || p.Height <= 0 || p.FPS <= 0 {
		return nil, fmt.Errorf("invalid raw video geometry %dx%d@%d", p.Width, p.Height, p.FPS)
	}
	pixFmt := p.PixelFormat
	if pixFmt == "" {
		pixFmt = "yuv420p"
	}

	args := Base(p.LogLevel)

	// Global args (hardware devices, etc.)
	args = append(args, p.GlobalArgs...)

	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", pixFmt,
		"-video_size", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-framerate", strconv.Itoa(p.FPS),
		"-i", "pipe:0",
	)

	if p.VideoFilters != "" {
		args = append(args, "-vf", p.VideoFilters)
	}

	args = append(args, "-c:v", p.Encoder)
	if p.Profile != "" {
		args = append(args, "-profile:v", p.Profile)
	}

	// Rate control - only add what's set
	if p.RCMode != "" && IsHardwareEncoder(p.Encoder) {
		args = append(args, "-rc_mode", p.RCMode)
	}
	if p.Bitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(p.Bitrate))
	}
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	if p.Tune != "" {
		args = append(args, "-tune", p.Tune)
	}
	args = append(args, p.EncoderArgs...)

	gop := p.GOP
	if gop <= 0 {
		gop = p.FPS * KeyFrameIntervalSeconds
	}
	// Samples carry no composition offset, so decode order must equal
	// presentation order.
	args = append(args, "-g", strconv.Itoa(gop), "-bf", "0")

	// One AUD per access unit lets the reader split the byte stream.
	args = append(args, "-bsf:v", "h264_metadata=aud=insert", "-an")

	if p.ProgressSocket != "" {
		args = append(args, "-progress", "unix://"+p.ProgressSocket)
	}
	args = append(args, "-flush_packets", "1", "-f", "h264", "pipe:1")
	return args, nil
}

func buildAudioEncoder(p *EncoderParams) ([]string, error) {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return nil, fmt.Errorf("invalid raw audio layout %dHz/%dch", p.SampleRate, p.Channels)
	}

	args := Base(p.LogLevel)
	args = append(args, p.GlobalArgs...)
	args = append(args,
		"-f", "s16le",
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-i", "pipe:0",
		"-c:a", p.Encoder,
	)
	if p.Profile != "" {
		args = append(args, "-profile:a", p.Profile)
	}
	if p.Bitrate > 0 {
		args = append(args, "-b:a", strconv.Itoa(p.Bitrate))
	}
	args = append(args, p.EncoderArgs...)
	args = append(args, "-vn")
	if p.ProgressSocket != "" {
		args = append(args, "-progress", "unix://"+p.ProgressSocket)
	}
	args = append(args, "-flush_packets", "1", "-f", "adts", "pipe:1")
	return args, nil
}

// KeyFrameIntervalSeconds is the default distance between keyframes.
const KeyFrameIntervalSeconds = 10

// BuildSourceArgs builds the argv of a capture child writing yuv420p frames
// or s16le PCM to stdout.
func BuildSourceArgs(p *SourceParams) ([]string, error) {
	if p.Device == "" {
		return nil, errors.New("device is required")
	}
	if err := ValidateOptions(p.Options); err != nil {
		return nil, err
	}

	args := append(Base(p.LogLevel), "-nostdin")

	switch p.Kind {
	case media.KindVideo:
		if p.Width <= 0 || p.Height <= 0 || p.FPS <= 0 {
			return nil, fmt.Errorf("invalid video geometry %dx%d@%d", p.Width, p.Height, p.FPS)
		}
		size := fmt.Sprintf("%dx%d", p.Width, p.Height)
		switch p.Input {
		case SourceLavfi:
			args = append(args, "-re", "-f", "lavfi")
		case SourceV4L2, "":
			args = append(args, "-f", "v4l2")
			args = ApplyOptions(p.Options, args)
			if p.InputFormat != "" {
				args = append(args, "-input_format", p.InputFormat)
			}
			args = append(args, "-video_size", size, "-framerate", strconv.Itoa(p.FPS))
		default:
			return nil, fmt.Errorf("unsupported video input %q", p.Input)
		}
		args = append(args, p.InputArgs...)
		args = append(args, "-i", p.Device)
		// Scale and retime so every frame matches the encoder's raw geometry.
		args = append(args,
			"-vf", fmt.Sprintf("scale=%d:%d,fps=%d", p.Width, p.Height, p.FPS),
			"-pix_fmt", "yuv420p",
			"-f", "rawvideo", "pipe:1",
		)

	case media.KindAudio:
		if p.SampleRate <= 0 || p.Channels <= 0 {
			return nil, fmt.Errorf("invalid audio layout %dHz/%dch", p.SampleRate, p.Channels)
		}
		switch p.Input {
		case SourceLavfi:
			args = append(args, "-re", "-f", "lavfi")
		case SourceALSA, SourcePulse, "":
			input := p.Input
			if input == "" {
				input = SourceALSA
			}
			args = append(args, "-f", string(input))
			args = ApplyOptions(p.Options, args)
		default:
			return nil, fmt.Errorf("unsupported audio input %q", p.Input)
		}
		args = append(args, p.InputArgs...)
		args = append(args, "-i", p.Device)
		args = append(args,
			"-ar", strconv.Itoa(p.SampleRate),
			"-ac", strconv.Itoa(p.Channels),
			"-f", "s16le", "pipe:1",
		)

	default:
		return nil, fmt.Errorf("unknown track kind %q", p.Kind)
	}
	return args, nil
}

// TestPatternGraph returns the lavfi graph of a moving test pattern.
func TestPatternGraph(width, height, fps int) string {
	return fmt.Sprintf("testsrc2=size=%dx%d:rate=%d", width, height, fps)
}

// ToneGraph returns the lavfi graph of a 1 kHz tone.
func ToneGraph(sampleRate int) string {
	return fmt.Sprintf("sine=frequency=1000:sample_rate=%d", sampleRate)
}

// Command renders argv for display, quoting arguments that need it.
func Command(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			quoted[i] = strconv.Quote(a)
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}
