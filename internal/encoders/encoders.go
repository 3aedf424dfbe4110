// Package encoders discovers the encoders compiled into ffmpeg and picks a
// working one per track, hardware families first.
package encoders

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/smazurov/avrec/internal/ffmpeg"
	"github.com/smazurov/avrec/internal/process"
)

// EncoderType represents the type of encoder (video, audio, subtitle)
type EncoderType string

const (
	VideoEncoder    EncoderType = "V"
	AudioEncoder    EncoderType = "A"
	SubtitleEncoder EncoderType = "S"
	Unknown         EncoderType = "?"
)

// Encoder represents an FFmpeg encoder
type Encoder struct {
	Type        EncoderType `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	HWAccel     bool        `json:"hwaccel"`
}

// EncoderList holds a categorized list of encoders
type EncoderList struct {
	VideoEncoders    []Encoder `json:"video_encoders"`
	AudioEncoders    []Encoder `json:"audio_encoders"`
	SubtitleEncoders []Encoder `json:"subtitle_encoders"`
	OtherEncoders    []Encoder `json:"other_encoders"`
}

// Find returns the encoder with the given name.
func (l *EncoderList) Find(name string) (Encoder, bool) {
	if l == nil {
		return Encoder{}, false
	}
	for _, group := range [][]Encoder{l.VideoEncoders, l.AudioEncoders, l.SubtitleEncoders, l.OtherEncoders} {
		for _, e := range group {
			if e.Name == name {
				return e, true
			}
		}
	}
	return Encoder{}, false
}

// EncoderFilter represents filter options for encoders
type EncoderFilter struct {
	Type    string `json:"type"`    // Filter by encoder type (V, A, S)
	Search  string `json:"search"`  // Search term for name or description
	Hwaccel bool   `json:"hwaccel"` // Filter for hardware accelerated encoders
}

// GetFFmpegEncoders retrieves all available encoders from ffmpeg
func GetFFmpegEncoders(ctx context.Context) (*EncoderList, error) {
	if !IsFFmpegInstalled() {
		return nil, fmt.Errorf("ffmpeg is not installed or not in PATH")
	}

	output, err := process.Output(ctx, ffmpeg.EncodersListArgs()...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute encoders command: %w", err)
	}
	return parseEncoderOutput(string(output))
}

// IsFFmpegInstalled checks if ffmpeg is installed and available
func IsFFmpegInstalled() bool {
	_, err := exec.LookPath(ffmpeg.Binary)
	return err == nil
}

var (
	encoderRegex = regexp.MustCompile(`^\s*([VASFXBD.]{6})\s+(\S+)\s+(.+)$`)
	hwaccelRegex = regexp.MustCompile(`(?i)(nvenc|qsv|amf|vaapi|videotoolbox|rkmpp|v4l2m2m|vdpau|cuda|d3d11va|vulkan)`)
)

// parseEncoderOutput processes the output of ffmpeg -encoders command
func parseEncoderOutput(output string) (*EncoderList, error) {
	result := &EncoderList{
		VideoEncoders:    []Encoder{},
		AudioEncoders:    []Encoder{},
		SubtitleEncoders: []Encoder{},
		OtherEncoders:    []Encoder{},
	}

	scanner := bufio.NewScanner(strings.NewReader(output))

	// The legend ends with a dashed separator line.
	encodersStarted := false
	for scanner.Scan() {
		line := scanner.Text()

		if !encodersStarted {
			if strings.HasPrefix(strings.TrimSpace(line), "------") {
				encodersStarted = true
			}
			continue
		}
		if len(strings.TrimSpace(line)) == 0 {
			continue
		}

		matches := encoderRegex.FindStringSubmatch(line)
		if len(matches) != 4 {
			continue
		}
		typeFlags, name, description := matches[1], matches[2], matches[3]

		var encoderType EncoderType
		switch typeFlags[0] {
		case 'V':
			encoderType = VideoEncoder
		case 'A':
			encoderType = AudioEncoder
		case 'S':
			encoderType = SubtitleEncoder
		default:
			encoderType = Unknown
		}

		encoder := Encoder{
			Type:        encoderType,
			Name:        name,
			Description: strings.TrimSpace(description),
			HWAccel:     hwaccelRegex.MatchString(name),
		}

		switch encoderType {
		case VideoEncoder:
			result.VideoEncoders = append(result.VideoEncoders, encoder)
		case AudioEncoder:
			result.AudioEncoders = append(result.AudioEncoders, encoder)
		case SubtitleEncoder:
			result.SubtitleEncoders = append(result.SubtitleEncoders, encoder)
		default:
			result.OtherEncoders = append(result.OtherEncoders, encoder)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading output: %w", err)
	}
	return result, nil
}

// FilterEncoders applies filters to a list of encoders
func FilterEncoders(encoders *EncoderList, filter EncoderFilter) *EncoderList {
	matchesFilter := func(encoder Encoder) bool {
		if filter.Type != "" && string(encoder.Type) != filter.Type {
			return false
		}
		if filter.Hwaccel && !encoder.HWAccel {
			return false
		}
		if filter.Search != "" {
			searchTerm := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(encoder.Name), searchTerm) &&
				!strings.Contains(strings.ToLower(encoder.Description), searchTerm) {
				return false
			}
		}
		return true
	}

	keep := func(in []Encoder) []Encoder {
		out := []Encoder{}
		for _, e := range in {
			if matchesFilter(e) {
				out = append(out, e)
			}
		}
		return out
	}

	return &EncoderList{
		VideoEncoders:    keep(encoders.VideoEncoders),
		AudioEncoders:    keep(encoders.AudioEncoders),
		SubtitleEncoders: keep(encoders.SubtitleEncoders),
		OtherEncoders:    keep(encoders.OtherEncoders),
	}
}
