package recorder

import (
	"errors"
	"fmt"

	"github.com/smazurov/avrec/internal/container"
	"github.com/smazurov/avrec/internal/media"
)

// Encoding defaults.
const (
	DefaultWidth      = 1280
	DefaultHeight     = 720
	DefaultFrameRate  = 25
	DefaultSampleRate = 44100
	DefaultChannels   = 1
	DefaultAudioRate  = 64000

	// BitsPerPixel scales the derived video bitrate.
	BitsPerPixel = 0.25
	// SamplesPerFrame is the AAC access unit length.
	SamplesPerFrame = 1024
)

// VideoOptions configures the video track.
type VideoOptions struct {
	Enabled   bool
	Width     int
	Height    int
	FrameRate int
	// Bitrate in bits per second. Zero derives it from BitsPerPixel.
	Bitrate int
	Device  string
}

// AudioOptions configures the audio track.
type AudioOptions struct {
	Enabled    bool
	SampleRate int
	Channels   int
	Bitrate    int
	Device     string
}

// Options describes one recording session.
type Options struct {
	OutputDir string
	Container container.Kind
	Video     VideoOptions
	Audio     AudioOptions
}

// VideoBitrate returns the bitrate for a frame size and rate at BitsPerPixel.
func VideoBitrate(width, height, fps int) int {
	return int(BitsPerPixel * float64(fps) * float64(width) * float64(height))
}

func (o Options) validate() error {
	if !o.Video.Enabled && !o.Audio.Enabled {
		return media.NewError(media.ErrCodeConfig, "at least one of audio and video must be enabled", nil)
	}
	if o.OutputDir == "" {
		return media.NewError(media.ErrCodeConfig, "output directory is required", nil)
	}
	if _, err := container.ParseKind(string(o.Container)); err != nil {
		return media.NewError(media.ErrCodeConfig, "invalid container", err)
	}
	if o.Video.Enabled && (o.Video.Width < 0 || o.Video.Height < 0 || o.Video.FrameRate < 0) {
		return media.NewError(media.ErrCodeConfig, "invalid video geometry", errors.New("negative dimension or frame rate"))
	}
	if o.Video.Enabled && (o.Video.Width%2 != 0 || o.Video.Height%2 != 0) {
		return media.NewError(media.ErrCodeConfig, fmt.Sprintf("video size %dx%d must be even", o.Video.Width, o.Video.Height), nil)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.Container == "" {
		o.Container = container.KindMP4
	}
	v := &o.Video
	if v.Width == 0 {
		v.Width = DefaultWidth
	}
	if v.Height == 0 {
		v.Height = DefaultHeight
	}
	if v.FrameRate == 0 {
		v.FrameRate = DefaultFrameRate
	}
	if v.Bitrate == 0 {
		v.Bitrate = VideoBitrate(v.Width, v.Height, v.FrameRate)
	}
	a := &o.Audio
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.Channels == 0 {
		a.Channels = DefaultChannels
	}
	if a.Bitrate == 0 {
		a.Bitrate = DefaultAudioRate
	}
	return o
}

func (o Options) videoFormat() media.Format {
	return media.Format{
		Kind:      media.KindVideo,
		Codec:     media.CodecH264,
		Width:     o.Video.Width,
		Height:    o.Video.Height,
		FrameRate: o.Video.FrameRate,
		Bitrate:   o.Video.Bitrate,
	}
}

func (o Options) audioFormat() media.Format {
	return media.Format{
		Kind:         media.KindAudio,
		Codec:        media.CodecAAC,
		SampleRate:   o.Audio.SampleRate,
		Channels:     o.Audio.Channels,
		SamplesPerAU: SamplesPerFrame,
		Bitrate:      o.Audio.Bitrate,
	}
}
