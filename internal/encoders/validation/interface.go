// Package validation knows how each encoder family is driven: the global
// arguments, filters and rate control flags it needs, and a short test
// encode proving it works on this machine.
package validation

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/smazurov/avrec/internal/ffmpeg"
	"github.com/smazurov/avrec/internal/process"
)

// EncoderParams is a map of encoder-specific parameters, keyed by flag
// name without the leading dash.
type EncoderParams map[string]string

// Args renders params as ffmpeg flag/value pairs in key order.
func (p EncoderParams) Args() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, "-"+k, p[k])
	}
	return args
}

// EncoderSettings contains the specific FFmpeg settings needed for an encoder.
type EncoderSettings struct {
	GlobalArgs   []string      `json:"global_args"`   // Global FFmpeg arguments (e.g., -vaapi_device)
	OutputParams EncoderParams `json:"output_params"` // Output parameters (e.g., preset, profile)
	VideoFilters string        `json:"video_filters"` // Video filter chain (e.g., format=nv12,hwupload)
	Audio        bool          `json:"audio"`
}

// RateControlMode represents the rate control strategy
type RateControlMode string

const (
	RateControlCBR RateControlMode = "cbr" // Constant bitrate
	RateControlVBR RateControlMode = "vbr" // Variable bitrate
	RateControlCRF RateControlMode = "crf" // Constant rate factor (quality-based)
	RateControlCQP RateControlMode = "cqp" // Constant quantization parameter
)

// QualityParams represents quality and rate control settings.
type QualityParams struct {
	Mode       RateControlMode
	Bitrate    int // bits per second
	MaxBitrate int // bits per second, 0 = Bitrate
	Quality    int // 0-51 for CRF/CQP, 0 = encoder default
}

// EncoderValidator defines the interface for validating specific encoder types.
type EncoderValidator interface {
	// CanValidate returns true if this validator can handle the given encoder name
	CanValidate(encoderName string) bool

	// Validate runs a short test encode with the production settings.
	Validate(ctx context.Context, encoderName string) error

	// GetEncoderNames returns the encoder names this validator handles, in
	// order of preference.
	GetEncoderNames() []string

	// GetDescription returns a human-readable description of this validator
	GetDescription() string

	// HWAccel reports whether the family runs on dedicated hardware.
	HWAccel() bool

	// GetProductionSettings returns the settings used both for recording and
	// for the validation test encode.
	GetProductionSettings(encoderName string) (*EncoderSettings, error)

	// GetQualityParams translates rate control settings to encoder parameters.
	GetQualityParams(encoderName string, params *QualityParams) (EncoderParams, error)
}

// ValidatorRegistry holds all registered validators.
type ValidatorRegistry struct {
	validators []EncoderValidator
}

// NewValidatorRegistry creates a new validator registry.
func NewValidatorRegistry() *ValidatorRegistry {
	return &ValidatorRegistry{
		validators: make([]EncoderValidator, 0),
	}
}

// Register adds a validator to the registry. Registration order is the
// order of preference.
func (r *ValidatorRegistry) Register(validator EncoderValidator) {
	r.validators = append(r.validators, validator)
}

// FindValidator finds the appropriate validator for the given encoder name.
func (r *ValidatorRegistry) FindValidator(encoderName string) EncoderValidator {
	for _, validator := range r.validators {
		if validator.CanValidate(encoderName) {
			return validator
		}
	}
	return nil
}

// GetAllValidators returns all registered validators.
func (r *ValidatorRegistry) GetAllValidators() []EncoderValidator {
	return r.validators
}

// Candidates returns the encoder names accepted by match, in registry
// order, hardware families first as registered.
func (r *ValidatorRegistry) Candidates(match func(name string) bool) []string {
	var names []string
	for _, v := range r.validators {
		for _, name := range v.GetEncoderNames() {
			if match(name) && !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	return names
}

// Timeout bounds a validation test encode.
var Timeout = 10 * time.Second

// runFFmpeg executes a validation command. Replaced in tests.
var runFFmpeg = func(ctx context.Context, args []string) error {
	_, err := process.Output(ctx, args...)
	return err
}

// ValidateEncoderWithSettings provides a common validation implementation for all validators.
func ValidateEncoderWithSettings(ctx context.Context, validator EncoderValidator, encoderName string) error {
	args, err := TestArgs(validator, encoderName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()
	if err := runFFmpeg(ctx, args); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("validation of %s timed out: %w", encoderName, err)
		}
		return fmt.Errorf("validation of %s failed: %w", encoderName, err)
	}
	return nil
}

// TestArgs returns the argv of the validation encode: one second of
// synthetic input encoded with the production settings into the null muxer.
func TestArgs(validator EncoderValidator, encoderName string) ([]string, error) {
	settings, err := validator.GetProductionSettings(encoderName)
	if err != nil {
		return nil, fmt.Errorf("failed to get production settings: %w", err)
	}

	args := []string{ffmpeg.Binary, "-hide_banner", "-nostdin", "-loglevel", "error"}
	args = append(args, settings.GlobalArgs...)

	if settings.Audio {
		args = append(args,
			"-f", "lavfi", "-i", "sine=frequency=1000:sample_rate=44100:duration=1",
			"-c:a", encoderName,
		)
	} else {
		args = append(args,
			"-f", "lavfi", "-i", "testsrc2=duration=1:size=640x480:rate=30",
			"-pix_fmt", "yuv420p",
		)
		if settings.VideoFilters != "" {
			args = append(args, "-vf", settings.VideoFilters)
		}
		args = append(args, "-c:v", encoderName)
	}
	args = append(args, settings.OutputParams.Args()...)

	quality, err := validator.GetQualityParams(encoderName, &QualityParams{Mode: RateControlCBR, Bitrate: testBitrate(settings.Audio)})
	if err != nil {
		return nil, err
	}
	args = append(args, quality.Args()...)
	args = append(args, "-f", "null", "-")
	return args, nil
}

func testBitrate(audio bool) int {
	if audio {
		return 64000
	}
	return 2000000
}

func formatBitrate(bps int) string {
	return strconv.Itoa(bps)
}
