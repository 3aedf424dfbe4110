// Package cmd holds the avrec subcommands and the wiring shared with the
// server.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/smazurov/avrec/internal/config"
	"github.com/smazurov/avrec/internal/container"
	"github.com/smazurov/avrec/internal/encoders"
	"github.com/smazurov/avrec/internal/events"
	"github.com/smazurov/avrec/internal/ffmpeg"
	"github.com/smazurov/avrec/internal/logging"
	"github.com/smazurov/avrec/internal/recorder"
	"github.com/smazurov/avrec/internal/source"
)

// App is a recorder assembled from options.
type App struct {
	Options  *config.Options
	Catalog  *encoders.Catalog
	Sources  *source.Factory
	Recorder *recorder.Recorder
}

// NewApp builds the encoder catalog, the capture sources and the recorder.
// bus may be nil.
func NewApp(opts *config.Options, bus *events.Bus) (*App, error) {
	captureOpts, err := ffmpeg.ParseOptions(opts.CaptureOptionKeys())
	if err != nil {
		return nil, fmt.Errorf("capture.options: %w", err)
	}
	if err := ffmpeg.ValidateOptions(captureOpts); err != nil {
		return nil, fmt.Errorf("capture.options: %w", err)
	}

	input := ffmpeg.SourceKind(opts.AudioInput)
	switch input {
	case ffmpeg.SourceALSA, ffmpeg.SourcePulse:
	default:
		return nil, fmt.Errorf("audio.input: unsupported input %q", opts.AudioInput)
	}

	if _, err := container.ParseKind(opts.RecordingContainer); err != nil {
		return nil, fmt.Errorf("recording.container: %w", err)
	}

	level := ffmpegLogLevel(opts.LoggingFFmpeg)

	catalog := encoders.NewCatalog(encoders.CatalogOptions{
		Validate:    opts.EncodersValidate,
		Storage:     encoders.NewFileStorage(opts.EncodersValidationFile),
		Video:       opts.EncodersVideo,
		Audio:       opts.EncodersAudio,
		ProgressDir: opts.MetricsProgressDir,
		LogLevel:    level,
	})

	sources := source.NewFactory(source.FactoryOptions{
		AudioInput:  input,
		InputFormat: opts.VideoInputFormat,
		Options:     captureOpts,
		Depth:       opts.VideoBufferFrames,
		LogLevel:    level,
	})

	cfg := recorder.Config{
		Lookup:       catalog,
		Sources:      sources,
		DrainTimeout: opts.DrainTimeout(),
		EOSTimeout:   opts.EOSTimeout(),
	}
	if bus != nil {
		cfg.Events = bus
	}

	return &App{
		Options:  opts,
		Catalog:  catalog,
		Sources:  sources,
		Recorder: recorder.New(cfg),
	}, nil
}

// SessionOptions returns the configured session.
func (a *App) SessionOptions() recorder.Options {
	return SessionOptions(a.Options)
}

// SessionOptions maps the recording, video and audio settings.
func SessionOptions(o *config.Options) recorder.Options {
	return recorder.Options{
		OutputDir: o.RecordingOutputDir,
		Container: container.Kind(strings.ToLower(o.RecordingContainer)),
		Video: recorder.VideoOptions{
			Enabled:   o.RecordingVideo,
			Width:     o.VideoWidth,
			Height:    o.VideoHeight,
			FrameRate: o.VideoFPS,
			Bitrate:   o.VideoBitrate,
			Device:    o.VideoDevice,
		},
		Audio: recorder.AudioOptions{
			Enabled:    o.RecordingAudio,
			SampleRate: o.AudioSampleRate,
			Channels:   o.AudioChannels,
			Bitrate:    o.AudioBitrate,
			Device:     o.AudioDevice,
		},
	}
}

// ffmpegLogLevel translates a logging level to an ffmpeg -loglevel value.
// Empty leaves ffmpeg's default.
func ffmpegLogLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug":
		return "debug"
	case "info":
		return "info"
	case "warn", "warning":
		return "warning"
	case "error":
		return "error"
	default:
		return ""
	}
}

// initLogging applies the logging settings, forcing JSON output when asked.
func initLogging(opts *config.Options, json bool) *slog.Logger {
	lc := opts.LoggingConfig()
	if json {
		lc.Format = "json"
	}
	logging.Initialize(lc)
	return logging.GetLogger("main")
}
