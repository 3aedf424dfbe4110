package validation

import (
	"context"
	"slices"
)

// GenericValidator validates the software encoders every ffmpeg build is
// expected to carry. It is registered last and accepts any name.
type GenericValidator struct{}

// NewGenericValidator creates a new generic validator
func NewGenericValidator() *GenericValidator {
	return &GenericValidator{}
}

var audioEncoders = []string{"aac", "libfdk_aac"}

// CanValidate returns true for any encoder (this is the fallback validator)
func (v *GenericValidator) CanValidate(string) bool {
	return true
}

// Validate tests the encoder using production settings
func (v *GenericValidator) Validate(ctx context.Context, encoderName string) error {
	return ValidateEncoderWithSettings(ctx, v, encoderName)
}

// GetEncoderNames returns the software encoders this validator prefers.
func (v *GenericValidator) GetEncoderNames() []string {
	return []string{
		"libx264",     // x264 software encoder (H.264)
		"libopenh264", // Cisco OpenH264 (H.264)
		"aac",         // native FFmpeg AAC
		"libfdk_aac",  // Fraunhofer FDK AAC
	}
}

// GetDescription returns a description of this validator
func (v *GenericValidator) GetDescription() string {
	return "Generic validator - Software encoder fallback and validation for unknown encoder types"
}

// HWAccel implements EncoderValidator.
func (v *GenericValidator) HWAccel() bool { return false }

// GetProductionSettings returns production settings for software encoders
func (v *GenericValidator) GetProductionSettings(encoderName string) (*EncoderSettings, error) {
	switch {
	case slices.Contains(audioEncoders, encoderName):
		return &EncoderSettings{
			OutputParams: EncoderParams{"profile:a": "aac_low"},
			Audio:        true,
		}, nil
	case encoderName == "libx264":
		return &EncoderSettings{
			OutputParams: EncoderParams{
				"preset":    "ultrafast", // Fast encoding for live capture
				"tune":      "zerolatency",
				"profile:v": "high",
			},
		}, nil
	default:
		return &EncoderSettings{OutputParams: EncoderParams{}}, nil
	}
}

// GetQualityParams translates quality settings to encoder parameters for software encoders
func (v *GenericValidator) GetQualityParams(encoderName string, params *QualityParams) (EncoderParams, error) {
	if params == nil {
		return EncoderParams{}, nil
	}

	if slices.Contains(audioEncoders, encoderName) {
		switch params.Mode {
		case RateControlCBR, RateControlVBR:
			return EncoderParams{"b:a": formatBitrate(params.Bitrate)}, nil
		}
		return nil, unsupported(params.Mode, encoderName)
	}

	switch encoderName {
	case "libx264":
		switch params.Mode {
		case RateControlCBR:
			bitrate := formatBitrate(params.Bitrate)
			return EncoderParams{
				"b:v":     bitrate,
				"minrate": bitrate,
				"maxrate": bitrate,
				"bufsize": formatBitrate(2 * params.Bitrate),
			}, nil
		case RateControlVBR:
			return EncoderParams{
				"b:v":     formatBitrate(params.Bitrate),
				"maxrate": formatBitrate(maxRate(params)),
				"bufsize": formatBitrate(2 * maxRate(params)),
			}, nil
		case RateControlCRF:
			return EncoderParams{"crf": quality(params, 23)}, nil
		case RateControlCQP:
			return EncoderParams{"qp": quality(params, 23)}, nil
		}
		return nil, unsupported(params.Mode, encoderName)

	default:
		// Generic fallback for unknown encoders
		switch params.Mode {
		case RateControlCBR, RateControlVBR:
			return EncoderParams{"b:v": formatBitrate(params.Bitrate)}, nil
		case RateControlCQP:
			return EncoderParams{"qp": quality(params, 23)}, nil
		}
		return nil, unsupported(params.Mode, "generic encoder")
	}
}
