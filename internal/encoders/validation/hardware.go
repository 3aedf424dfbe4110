package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// rateMapper translates rate control settings for one encoder family.
type rateMapper func(params *QualityParams) (EncoderParams, error)

// HardwareValidator validates one hardware encoder family. Families differ
// only in their names, setup arguments and rate control flags.
type HardwareValidator struct {
	family      string
	description string
	names       []string
	settings    EncoderSettings
	rate        rateMapper
}

// CanValidate returns true if this validator can handle the given encoder name
func (v *HardwareValidator) CanValidate(encoderName string) bool {
	return strings.HasSuffix(encoderName, "_"+v.family)
}

// Validate tests the encoder using production settings
func (v *HardwareValidator) Validate(ctx context.Context, encoderName string) error {
	return ValidateEncoderWithSettings(ctx, v, encoderName)
}

// GetEncoderNames returns the encoder names of the family.
func (v *HardwareValidator) GetEncoderNames() []string { return v.names }

// GetDescription returns a description of this validator
func (v *HardwareValidator) GetDescription() string { return v.description }

// HWAccel implements EncoderValidator.
func (v *HardwareValidator) HWAccel() bool { return true }

// Family returns the short family name (vaapi, rkmpp, ...).
func (v *HardwareValidator) Family() string { return v.family }

// GetProductionSettings returns production settings for the family.
func (v *HardwareValidator) GetProductionSettings(encoderName string) (*EncoderSettings, error) {
	if !v.CanValidate(encoderName) {
		return nil, fmt.Errorf("encoder %s is not supported by %s validator", encoderName, v.family)
	}
	s := v.settings
	s.GlobalArgs = append([]string(nil), v.settings.GlobalArgs...)
	s.OutputParams = make(EncoderParams, len(v.settings.OutputParams))
	for k, val := range v.settings.OutputParams {
		s.OutputParams[k] = val
	}
	return &s, nil
}

// GetQualityParams translates quality settings to encoder parameters.
func (v *HardwareValidator) GetQualityParams(encoderName string, params *QualityParams) (EncoderParams, error) {
	if !v.CanValidate(encoderName) {
		return nil, fmt.Errorf("encoder %s is not supported by %s validator", encoderName, v.family)
	}
	if params == nil {
		return EncoderParams{}, nil
	}
	return v.rate(params)
}

// NewVaapiValidator creates a new VAAPI validator
func NewVaapiValidator() *HardwareValidator {
	return &HardwareValidator{
		family:      "vaapi",
		description: "VAAPI (Video Acceleration API) - Intel/AMD hardware acceleration on Linux",
		names:       []string{"h264_vaapi", "hevc_vaapi"},
		settings: EncoderSettings{
			GlobalArgs:   []string{"-vaapi_device", "/dev/dri/renderD128"},
			VideoFilters: "format=nv12,hwupload",
		},
		rate: func(p *QualityParams) (EncoderParams, error) {
			switch p.Mode {
			case RateControlCBR:
				return withBuffer(EncoderParams{"rc_mode": "CBR"}, p, true), nil
			case RateControlVBR:
				return withBuffer(EncoderParams{"rc_mode": "VBR"}, p, false), nil
			case RateControlCQP:
				return EncoderParams{"rc_mode": "CQP", "qp": quality(p, 20)}, nil
			}
			return nil, unsupported(p.Mode, "vaapi")
		},
	}
}

// NewRkmppValidator creates a new RKMPP validator
func NewRkmppValidator() *HardwareValidator {
	return &HardwareValidator{
		family:      "rkmpp",
		description: "Rockchip MPP - Hardware acceleration on Rockchip SoCs",
		names:       []string{"h264_rkmpp", "hevc_rkmpp"},
		rate: func(p *QualityParams) (EncoderParams, error) {
			switch p.Mode {
			case RateControlCBR:
				return EncoderParams{"rc_mode": "CBR", "b:v": formatBitrate(p.Bitrate)}, nil
			case RateControlVBR:
				return EncoderParams{"rc_mode": "VBR", "b:v": formatBitrate(p.Bitrate), "maxrate": formatBitrate(maxRate(p))}, nil
			case RateControlCQP:
				q := quality(p, 20)
				return EncoderParams{"rc_mode": "CQP", "qp_init": q, "qp_min": q, "qp_max": q}, nil
			}
			return nil, unsupported(p.Mode, "rkmpp")
		},
	}
}

// NewV4L2M2MValidator creates a validator for V4L2 memory-to-memory encoders
// (Raspberry Pi and other SoCs).
func NewV4L2M2MValidator() *HardwareValidator {
	return &HardwareValidator{
		family:      "v4l2m2m",
		description: "V4L2 M2M - Stateful hardware encoders exposed through Video4Linux",
		names:       []string{"h264_v4l2m2m", "hevc_v4l2m2m"},
		rate: func(p *QualityParams) (EncoderParams, error) {
			switch p.Mode {
			case RateControlCBR, RateControlVBR:
				return EncoderParams{"b:v": formatBitrate(p.Bitrate)}, nil
			}
			return nil, unsupported(p.Mode, "v4l2m2m")
		},
	}
}

// NewNvencValidator creates a new NVENC validator
func NewNvencValidator() *HardwareValidator {
	return &HardwareValidator{
		family:      "nvenc",
		description: "NVIDIA NVENC - Hardware acceleration on NVIDIA GPUs",
		names:       []string{"h264_nvenc", "hevc_nvenc"},
		settings: EncoderSettings{
			OutputParams: EncoderParams{"preset": "p4", "tune": "ll"},
		},
		rate: func(p *QualityParams) (EncoderParams, error) {
			switch p.Mode {
			case RateControlCBR:
				return withBuffer(EncoderParams{"rc": "cbr"}, p, true), nil
			case RateControlVBR:
				return withBuffer(EncoderParams{"rc": "vbr"}, p, false), nil
			case RateControlCQP:
				return EncoderParams{"rc": "constqp", "qp": quality(p, 20)}, nil
			}
			return nil, unsupported(p.Mode, "nvenc")
		},
	}
}

// NewQsvValidator creates a new Intel Quick Sync validator
func NewQsvValidator() *HardwareValidator {
	return &HardwareValidator{
		family:      "qsv",
		description: "Intel Quick Sync Video - Hardware acceleration on Intel GPUs",
		names:       []string{"h264_qsv", "hevc_qsv"},
		settings: EncoderSettings{
			GlobalArgs:   []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"},
			VideoFilters: "format=nv12,hwupload=extra_hw_frames=64",
			OutputParams: EncoderParams{"preset": "veryfast"},
		},
		rate: func(p *QualityParams) (EncoderParams, error) {
			switch p.Mode {
			case RateControlCBR:
				// QSV selects CBR when maxrate equals the target.
				return withBuffer(EncoderParams{}, p, true), nil
			case RateControlVBR:
				return withBuffer(EncoderParams{}, p, false), nil
			case RateControlCQP:
				return EncoderParams{"global_quality": quality(p, 20)}, nil
			}
			return nil, unsupported(p.Mode, "qsv")
		},
	}
}

// NewVideoToolboxValidator creates a new VideoToolbox validator
func NewVideoToolboxValidator() *HardwareValidator {
	return &HardwareValidator{
		family:      "videotoolbox",
		description: "Apple VideoToolbox - Hardware acceleration on macOS",
		names:       []string{"h264_videotoolbox", "hevc_videotoolbox"},
		settings: EncoderSettings{
			OutputParams: EncoderParams{"realtime": "1"},
		},
		rate: func(p *QualityParams) (EncoderParams, error) {
			switch p.Mode {
			case RateControlCBR, RateControlVBR:
				return EncoderParams{"b:v": formatBitrate(p.Bitrate), "maxrate": formatBitrate(maxRate(p))}, nil
			case RateControlCQP:
				return EncoderParams{"q:v": quality(p, 60)}, nil
			}
			return nil, unsupported(p.Mode, "videotoolbox")
		},
	}
}

// withBuffer adds target, max and buffer sizes. CBR pins maxrate to the
// target; buffers default to twice the max rate.
func withBuffer(params EncoderParams, p *QualityParams, constant bool) EncoderParams {
	maxBitrate := maxRate(p)
	if constant {
		maxBitrate = p.Bitrate
	}
	params["b:v"] = formatBitrate(p.Bitrate)
	params["maxrate"] = formatBitrate(maxBitrate)
	params["bufsize"] = formatBitrate(2 * maxBitrate)
	return params
}

func maxRate(p *QualityParams) int {
	if p.MaxBitrate > 0 {
		return p.MaxBitrate
	}
	return p.Bitrate
}

func quality(p *QualityParams, def int) string {
	if p.Quality > 0 {
		return strconv.Itoa(p.Quality)
	}
	return strconv.Itoa(def)
}

func unsupported(mode RateControlMode, family string) error {
	return fmt.Errorf("unsupported rate control mode %s for %s", mode, family)
}
