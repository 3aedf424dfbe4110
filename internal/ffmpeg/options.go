package ffmpeg

import (
	"fmt"
	"slices"
	"strings"
)

// OptionType represents a strongly typed FFmpeg input option.
type OptionType string

// FFmpeg option constants
const (
	OptionGeneratePTS        OptionType = "genpts"
	OptionIgnoreDTS          OptionType = "igndts"
	OptionIgnoreErrors       OptionType = "ignore_err"
	OptionWallclockTimestamp OptionType = "wallclock_ts"
	OptionThreadQueue1024    OptionType = "thread_queue_1024"
	OptionThreadQueue4096    OptionType = "thread_queue_4096"
	OptionLowLatency         OptionType = "low_latency"
)

// OptionCategory represents option categories
type OptionCategory string

const (
	CategoryTiming      OptionCategory = "Timing"
	CategoryErrorHandle OptionCategory = "Error Handling"
	CategoryPerformance OptionCategory = "Performance"
)

// ExclusiveGroup represents a group of mutually exclusive options
type ExclusiveGroup string

const (
	GroupThreadQueue ExclusiveGroup = "thread_queue"
)

// Option describes a capture input flag with metadata.
type Option struct {
	Key            OptionType      `json:"key"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       OptionCategory  `json:"category"`
	AppDefault     bool            `json:"app_default"`
	FFmpegDefault  string          `json:"ffmpeg_default"`
	ExclusiveGroup *ExclusiveGroup `json:"exclusive_group,omitempty"`
	ConflictsWith  []OptionType    `json:"conflicts_with,omitempty"`

	// fflag is merged into a single -fflags argument; args are appended as is.
	fflag string
	args  []string
}

func group(g ExclusiveGroup) *ExclusiveGroup { return &g }

// AllOptions contains every capture input flag.
var AllOptions = []Option{
	{
		Key:           OptionGeneratePTS,
		Name:          "Generate PTS",
		Description:   "Generate missing presentation timestamps on the capture input",
		Category:      CategoryTiming,
		FFmpegDefault: "disabled",
		ConflictsWith: []OptionType{OptionWallclockTimestamp},
		fflag:         "+genpts",
	},
	{
		Key:           OptionIgnoreDTS,
		Name:          "Ignore DTS",
		Description:   "Ignore decode timestamps of corrupted device streams",
		Category:      CategoryErrorHandle,
		FFmpegDefault: "disabled",
		fflag:         "+igndts",
	},
	{
		Key:           OptionIgnoreErrors,
		Name:          "Ignore Errors",
		Description:   "Keep capturing despite stream errors",
		Category:      CategoryErrorHandle,
		FFmpegDefault: "disabled",
		args:          []string{"-err_detect", "ignore_err"},
	},
	{
		Key:           OptionWallclockTimestamp,
		Name:          "Wallclock Timestamps",
		Description:   "Stamp device packets with the wall clock",
		Category:      CategoryTiming,
		FFmpegDefault: "disabled",
		ConflictsWith: []OptionType{OptionGeneratePTS},
		args:          []string{"-use_wallclock_as_timestamps", "1"},
	},
	{
		Key:            OptionThreadQueue1024,
		Name:           "Large Thread Queue",
		Description:    "Use a 1024 packet input queue so slow reads do not drop device data",
		Category:       CategoryPerformance,
		AppDefault:     true,
		FFmpegDefault:  "8",
		ExclusiveGroup: group(GroupThreadQueue),
		args:           []string{"-thread_queue_size", "1024"},
	},
	{
		Key:            OptionThreadQueue4096,
		Name:           "Extra Large Thread Queue",
		Description:    "Use a 4096 packet input queue for problematic devices",
		Category:       CategoryPerformance,
		FFmpegDefault:  "8",
		ExclusiveGroup: group(GroupThreadQueue),
		args:           []string{"-thread_queue_size", "4096"},
	},
	{
		Key:           OptionLowLatency,
		Name:          "Low Latency Mode",
		Description:   "Disable input buffering",
		Category:      CategoryPerformance,
		FFmpegDefault: "disabled",
		fflag:         "+nobuffer",
	},
}

// GetOptionByKey returns the option named key, or nil.
func GetOptionByKey(key OptionType) *Option {
	for i := range AllOptions {
		if AllOptions[i].Key == key {
			return &AllOptions[i]
		}
	}
	return nil
}

// ParseOptions converts option keys, e.g. from a config file, rejecting unknown ones.
func ParseOptions(keys []string) ([]OptionType, error) {
	opts := make([]OptionType, 0, len(keys))
	for _, k := range keys {
		opt := OptionType(strings.TrimSpace(k))
		if GetOptionByKey(opt) == nil {
			return nil, fmt.Errorf("unknown ffmpeg option %q", k)
		}
		opts = append(opts, opt)
	}
	return opts, nil
}

// ValidateOptions rejects two options of one exclusive group and options
// that conflict with each other. Unknown keys are ignored.
func ValidateOptions(selected []OptionType) error {
	byGroup := make(map[ExclusiveGroup]*Option)
	chosen := make(map[OptionType]bool, len(selected))
	for _, key := range selected {
		chosen[key] = true
	}

	for _, key := range selected {
		opt := GetOptionByKey(key)
		if opt == nil {
			continue
		}
		if opt.ExclusiveGroup != nil {
			if prev, ok := byGroup[*opt.ExclusiveGroup]; ok && prev.Key != opt.Key {
				return fmt.Errorf("options %q and %q are mutually exclusive (%s)", prev.Name, opt.Name, *opt.ExclusiveGroup)
			}
			byGroup[*opt.ExclusiveGroup] = opt
		}
		for _, other := range opt.ConflictsWith {
			if !chosen[other] {
				continue
			}
			name := string(other)
			if o := GetOptionByKey(other); o != nil {
				name = o.Name
			}
			return fmt.Errorf("option %q conflicts with %q", opt.Name, name)
		}
	}
	return nil
}

// GetDefaultOptions returns the options enabled when none are configured.
func GetDefaultOptions() []OptionType {
	var defaults []OptionType
	for _, opt := range AllOptions {
		if opt.AppDefault {
			defaults = append(defaults, opt.Key)
		}
	}
	return defaults
}

// ApplyOptions appends the input flags for options to args.
func ApplyOptions(options []OptionType, args []string) []string {
	var fflags strings.Builder
	for _, key := range options {
		opt := GetOptionByKey(key)
		if opt == nil {
			continue
		}
		fflags.WriteString(opt.fflag)
		args = append(args, opt.args...)
	}
	if fflags.Len() > 0 {
		args = append(args, "-fflags", fflags.String())
	}
	return args
}

var hardwareFamilies = []string{"nvenc", "amf", "vaapi", "qsv", "videotoolbox", "rkmpp", "v4l2m2m"}

// IsHardwareEncoder reports whether an encoder name belongs to a hardware
// acceleration family.
func IsHardwareEncoder(name string) bool {
	return slices.ContainsFunc(hardwareFamilies, func(family string) bool {
		return strings.Contains(name, family)
	})
}
