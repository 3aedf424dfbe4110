package config

import (
	"strings"
	"time"

	"github.com/smazurov/avrec/internal/logging"
)

// Options is the flat set of avrec settings. Every field is a CLI flag; the
// toml tag names its key in the config file and the env tag its variable
// after EnvPrefix.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port         string `help:"Address to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Recording settings
	RecordingOutputDir      string `help:"Directory receiving recordings" default:"recordings" toml:"recording.output_dir" env:"RECORDING_OUTPUT_DIR"`
	RecordingContainer      string `help:"Container format (mp4, webm)" default:"mp4" toml:"recording.container" env:"RECORDING_CONTAINER"`
	RecordingVideo          bool   `help:"Record a video track" default:"true" toml:"recording.video" env:"RECORDING_VIDEO"`
	RecordingAudio          bool   `help:"Record an audio track" default:"true" toml:"recording.audio" env:"RECORDING_AUDIO"`
	RecordingDrainTimeoutMs int    `help:"Encoder output poll timeout in milliseconds" default:"10" toml:"recording.drain_timeout_ms" env:"RECORDING_DRAIN_TIMEOUT_MS"`
	RecordingEOSTimeoutMs   int    `help:"Time allowed for an encoder to flush on stop, in milliseconds" default:"3000" toml:"recording.eos_timeout_ms" env:"RECORDING_EOS_TIMEOUT_MS"`

	// Video settings
	VideoDevice       string `help:"V4L2 device, /dev/v4l id, lavfi:<graph> or test" default:"" toml:"video.device" env:"VIDEO_DEVICE"`
	VideoInputFormat  string `help:"Pixel format requested from the camera (yuyv422, mjpeg)" default:"" toml:"video.input_format" env:"VIDEO_INPUT_FORMAT"`
	VideoWidth        int    `help:"Frame width" default:"1280" toml:"video.width" env:"VIDEO_WIDTH"`
	VideoHeight       int    `help:"Frame height" default:"720" toml:"video.height" env:"VIDEO_HEIGHT"`
	VideoFPS          int    `help:"Frame rate" default:"25" toml:"video.fps" env:"VIDEO_FPS"`
	VideoBitrate      int    `help:"Video bitrate in bits per second, 0 derives it from the frame size" default:"0" toml:"video.bitrate" env:"VIDEO_BITRATE"`
	VideoBufferFrames int    `help:"Captured frames buffered ahead of the encoder" default:"4" toml:"video.buffer_frames" env:"VIDEO_BUFFER_FRAMES"`

	// Audio settings
	AudioDevice     string `help:"ALSA or PulseAudio device, lavfi:<graph> or test" default:"" toml:"audio.device" env:"AUDIO_DEVICE"`
	AudioInput      string `help:"Audio capture input (alsa, pulse)" default:"alsa" toml:"audio.input" env:"AUDIO_INPUT"`
	AudioSampleRate int    `help:"Sample rate in Hz" default:"44100" toml:"audio.sample_rate" env:"AUDIO_SAMPLE_RATE"`
	AudioChannels   int    `help:"Channel count" default:"1" toml:"audio.channels" env:"AUDIO_CHANNELS"`
	AudioBitrate    int    `help:"Audio bitrate in bits per second" default:"64000" toml:"audio.bitrate" env:"AUDIO_BITRATE"`

	// Capture settings
	CaptureOptions string `help:"Comma-separated ffmpeg input options (genpts, low_latency, ...)" default:"" toml:"capture.options" env:"CAPTURE_OPTIONS"`

	// Encoder settings
	EncodersVideo          string `help:"Force a video encoder instead of automatic selection" default:"" toml:"encoders.video" env:"ENCODERS_VIDEO"`
	EncodersAudio          string `help:"Force an audio encoder instead of automatic selection" default:"" toml:"encoders.audio" env:"ENCODERS_AUDIO"`
	EncodersValidate       bool   `help:"Test-encode before using an encoder" default:"true" toml:"encoders.validate" env:"ENCODERS_VALIDATE"`
	EncodersValidationFile string `help:"Validation results file" default:"validated_encoders.toml" toml:"encoders.validation_file" env:"ENCODERS_VALIDATION_FILE"`

	// Metrics settings
	MetricsEnabled     bool   `help:"Serve Prometheus metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`
	MetricsSSEEnabled  bool   `help:"Publish encoder metrics as events" default:"true" toml:"metrics.sse_enabled" env:"METRICS_SSE_ENABLED"`
	MetricsProgressDir string `help:"Directory for ffmpeg progress sockets, empty disables them" default:"" toml:"metrics.progress_dir" env:"METRICS_PROGRESS_DIR"`
	MetricsHWLoadPath  string `help:"Rockchip MPP load file" default:"/proc/mpp_service/load" toml:"metrics.hw_load_path" env:"METRICS_HW_LOAD_PATH"`

	// Features settings
	FeaturesLEDControl bool `help:"Drive the board LED from the recording state" default:"false" toml:"features.led_control_enabled" env:"FEATURES_LED_CONTROL"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRecorder  string `help:"Recorder logging level" default:"" toml:"logging.recorder" env:"LOGGING_RECORDER"`
	LoggingPipeline  string `help:"Pipeline logging level" default:"" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingMux       string `help:"Mux logging level" default:"" toml:"logging.mux" env:"LOGGING_MUX"`
	LoggingContainer string `help:"Container logging level" default:"" toml:"logging.container" env:"LOGGING_CONTAINER"`
	LoggingEncoders  string `help:"Encoders logging level" default:"" toml:"logging.encoders" env:"LOGGING_ENCODERS"`
	LoggingSource    string `help:"Capture source logging level" default:"" toml:"logging.source" env:"LOGGING_SOURCE"`
	LoggingFFmpeg    string `help:"FFmpeg output logging level" default:"" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingAPI       string `help:"API logging level" default:"" toml:"logging.api" env:"LOGGING_API"`
}

// LoggingConfig returns the logging settings. Empty module levels inherit
// the global level.
func (o *Options) LoggingConfig() logging.Config {
	modules := map[string]string{
		"recorder":  o.LoggingRecorder,
		"pipeline":  o.LoggingPipeline,
		"mux":       o.LoggingMux,
		"container": o.LoggingContainer,
		"encoders":  o.LoggingEncoders,
		"source":    o.LoggingSource,
		"ffmpeg":    o.LoggingFFmpeg,
		"api":       o.LoggingAPI,
	}
	for module, level := range modules {
		if level == "" {
			delete(modules, module)
		}
	}
	return logging.Config{Level: o.LoggingLevel, Format: o.LoggingFormat, Modules: modules}
}

// DrainTimeout is RecordingDrainTimeoutMs as a duration.
func (o *Options) DrainTimeout() time.Duration {
	return time.Duration(o.RecordingDrainTimeoutMs) * time.Millisecond
}

// EOSTimeout is RecordingEOSTimeoutMs as a duration.
func (o *Options) EOSTimeout() time.Duration {
	return time.Duration(o.RecordingEOSTimeoutMs) * time.Millisecond
}

// CaptureOptionKeys splits CaptureOptions.
func (o *Options) CaptureOptionKeys() []string {
	var keys []string
	for _, k := range strings.Split(o.CaptureOptions, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
