package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/smazurov/avrec/internal/ffmpeg"
	"github.com/smazurov/avrec/internal/logging"
	"github.com/smazurov/avrec/internal/media"
)

// Device names with special meaning.
const (
	// DeviceTest selects the built-in generators.
	DeviceTest = "test"
	// LavfiPrefix marks a device that is an ffmpeg lavfi graph.
	LavfiPrefix = "lavfi:"

	DefaultVideoDevice = "/dev/video0"
)

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	// AudioInput is alsa or pulse. Defaults to alsa.
	AudioInput ffmpeg.SourceKind
	// InputFormat is the pixel format requested from V4L2 devices.
	InputFormat string
	// Options are applied to every device capture.
	Options []ffmpeg.OptionType
	// Depth bounds buffered video frames.
	Depth    int
	LogLevel string
	Logger   *slog.Logger

	// ListDevices defaults to ListDevices.
	ListDevices func(ctx context.Context, input ffmpeg.SourceKind) ([]Device, error)
	// ResolveVideo defaults to ResolveVideoDevice.
	ResolveVideo func(device string) (string, error)
}

// Factory builds the sources of a recording session from device names.
type Factory struct {
	opts   FactoryOptions
	logger *slog.Logger
}

// NewFactory creates a Factory.
func NewFactory(opts FactoryOptions) *Factory {
	if opts.AudioInput == "" {
		opts.AudioInput = ffmpeg.SourceALSA
	}
	if opts.ListDevices == nil {
		opts.ListDevices = ListDevices
	}
	if opts.ResolveVideo == nil {
		opts.ResolveVideo = ResolveVideoDevice
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("source")
	}
	return &Factory{opts: opts, logger: logger}
}

func unavailable(what string, err error) error {
	return media.NewError(media.ErrCodeCapability, what+" unavailable",
		fmt.Errorf("%w: %w", media.ErrCapabilityUnavailable, err))
}

// Video returns the frame source for device.
func (f *Factory) Video(format media.Format, device string) (FrameSource, error) {
	if device == DeviceTest {
		return NewTestPattern(format.Width, format.Height, format.FrameRate, f.opts.Depth), nil
	}

	p := ffmpeg.SourceParams{
		Kind:     media.KindVideo,
		Width:    format.Width,
		Height:   format.Height,
		FPS:      format.FrameRate,
		LogLevel: f.opts.LogLevel,
	}
	if graph, ok := strings.CutPrefix(device, LavfiPrefix); ok {
		p.Input = ffmpeg.SourceLavfi
		p.Device = graph
	} else {
		if device == "" {
			device = DefaultVideoDevice
		}
		path, err := f.opts.ResolveVideo(device)
		if err != nil {
			return nil, unavailable("video source", err)
		}
		p.Input = ffmpeg.SourceV4L2
		p.Device = path
		p.InputFormat = f.opts.InputFormat
		p.Options = f.opts.Options
	}

	if _, err := ffmpeg.BuildSourceArgs(&p); err != nil {
		return nil, unavailable("video source", err)
	}
	f.logger.Debug("Opening video source", "input", p.Input, "device", p.Device)
	return NewVideoDevice(p, f.opts.Depth, f.logger), nil
}

// Audio returns the PCM source for device. A capture device ffmpeg does not
// list is replaced by the input's default device.
func (f *Factory) Audio(format media.Format, device string) (AudioSource, error) {
	if device == DeviceTest {
		return NewSine(format.SampleRate, format.Channels), nil
	}

	p := ffmpeg.SourceParams{
		Kind:       media.KindAudio,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		LogLevel:   f.opts.LogLevel,
	}
	if graph, ok := strings.CutPrefix(device, LavfiPrefix); ok {
		p.Input = ffmpeg.SourceLavfi
		p.Device = graph
	} else {
		p.Input = f.opts.AudioInput
		p.Options = f.opts.Options
		p.Device = f.resolveAudio(device)
	}

	if _, err := ffmpeg.BuildSourceArgs(&p); err != nil {
		return nil, unavailable("audio source", err)
	}
	f.logger.Debug("Opening audio source", "input", p.Input, "device", p.Device)
	return NewAudioDevice(p, f.logger), nil
}

func (f *Factory) resolveAudio(device string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	devices, err := f.opts.ListDevices(ctx, f.opts.AudioInput)
	if err != nil {
		f.logger.Debug("Audio device listing failed", "input", f.opts.AudioInput, "error", err)
	}
	resolved, fellBack := ResolveAudioDevice(device, devices)
	if fellBack {
		f.logger.Warn("Audio device not found, using default", "device", device, "fallback", resolved)
	}
	return resolved
}
