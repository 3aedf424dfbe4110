package validation

import (
	"context"
	"errors"
	"maps"
	"strings"
	"testing"
)

func TestHardwareValidator_GetQualityParams(t *testing.T) {
	tests := []struct {
		name        string
		validator   *HardwareValidator
		encoderName string
		params      *QualityParams
		wantParams  map[string]string
		wantErr     bool
	}{
		{
			name:        "vaapi CBR",
			validator:   NewVaapiValidator(),
			encoderName: "h264_vaapi",
			params:      &QualityParams{Mode: RateControlCBR, Bitrate: 5000000},
			wantParams: map[string]string{
				"rc_mode": "CBR",
				"b:v":     "5000000",
				"maxrate": "5000000",
				"bufsize": "10000000",
			},
		},
		{
			name:        "vaapi VBR with max bitrate",
			validator:   NewVaapiValidator(),
			encoderName: "hevc_vaapi",
			params:      &QualityParams{Mode: RateControlVBR, Bitrate: 4000000, MaxBitrate: 8000000},
			wantParams: map[string]string{
				"rc_mode": "VBR",
				"b:v":     "4000000",
				"maxrate": "8000000",
				"bufsize": "16000000",
			},
		},
		{
			name:        "vaapi CQP default quality",
			validator:   NewVaapiValidator(),
			encoderName: "h264_vaapi",
			params:      &QualityParams{Mode: RateControlCQP},
			wantParams:  map[string]string{"rc_mode": "CQP", "qp": "20"},
		},
		{
			name:        "vaapi CRF mode should fail",
			validator:   NewVaapiValidator(),
			encoderName: "h264_vaapi",
			params:      &QualityParams{Mode: RateControlCRF, Quality: 23},
			wantErr:     true,
		},
		{
			name:        "rkmpp CQP",
			validator:   NewRkmppValidator(),
			encoderName: "h264_rkmpp",
			params:      &QualityParams{Mode: RateControlCQP, Quality: 25},
			wantParams:  map[string]string{"rc_mode": "CQP", "qp_init": "25", "qp_min": "25", "qp_max": "25"},
		},
		{
			name:        "nvenc CBR",
			validator:   NewNvencValidator(),
			encoderName: "h264_nvenc",
			params:      &QualityParams{Mode: RateControlCBR, Bitrate: 3000000},
			wantParams:  map[string]string{"rc": "cbr", "b:v": "3000000", "maxrate": "3000000", "bufsize": "6000000"},
		},
		{
			name:        "v4l2m2m bitrate only",
			validator:   NewV4L2M2MValidator(),
			encoderName: "h264_v4l2m2m",
			params:      &QualityParams{Mode: RateControlVBR, Bitrate: 1000000},
			wantParams:  map[string]string{"b:v": "1000000"},
		},
		{
			name:        "v4l2m2m CQP should fail",
			validator:   NewV4L2M2MValidator(),
			encoderName: "h264_v4l2m2m",
			params:      &QualityParams{Mode: RateControlCQP},
			wantErr:     true,
		},
		{
			name:        "invalid encoder name",
			validator:   NewRkmppValidator(),
			encoderName: "h264_vaapi",
			params:      &QualityParams{Mode: RateControlCBR, Bitrate: 1},
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.validator.GetQualityParams(tt.encoderName, tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetQualityParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !maps.Equal(map[string]string(got), tt.wantParams) {
				t.Errorf("GetQualityParams() = %v, want %v", got, tt.wantParams)
			}
		})
	}
}

func TestGenericValidator_GetQualityParams(t *testing.T) {
	v := NewGenericValidator()

	tests := []struct {
		name        string
		encoderName string
		params      *QualityParams
		wantParams  map[string]string
		wantErr     bool
	}{
		{
			name:        "libx264 CBR mode",
			encoderName: "libx264",
			params:      &QualityParams{Mode: RateControlCBR, Bitrate: 5760000},
			wantParams: map[string]string{
				"b:v":     "5760000",
				"minrate": "5760000",
				"maxrate": "5760000",
				"bufsize": "11520000",
			},
		},
		{
			name:        "libx264 CRF mode with default",
			encoderName: "libx264",
			params:      &QualityParams{Mode: RateControlCRF},
			wantParams:  map[string]string{"crf": "23"},
		},
		{
			name:        "aac bitrate",
			encoderName: "aac",
			params:      &QualityParams{Mode: RateControlCBR, Bitrate: 64000},
			wantParams:  map[string]string{"b:a": "64000"},
		},
		{
			name:        "aac CRF should fail",
			encoderName: "aac",
			params:      &QualityParams{Mode: RateControlCRF},
			wantErr:     true,
		},
		{
			name:        "unknown encoder CBR",
			encoderName: "mpeg4",
			params:      &QualityParams{Mode: RateControlCBR, Bitrate: 1000000},
			wantParams:  map[string]string{"b:v": "1000000"},
		},
		{
			name:        "nil params",
			encoderName: "libx264",
			wantParams:  map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.GetQualityParams(tt.encoderName, tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetQualityParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !maps.Equal(map[string]string(got), tt.wantParams) {
				t.Errorf("GetQualityParams() = %v, want %v", got, tt.wantParams)
			}
		})
	}
}

func TestGetProductionSettingsIsACopy(t *testing.T) {
	v := NewVaapiValidator()
	s, err := v.GetProductionSettings("h264_vaapi")
	if err != nil {
		t.Fatalf("GetProductionSettings() error = %v", err)
	}
	s.GlobalArgs[1] = "/dev/dri/renderD129"
	s.OutputParams["qp"] = "1"

	again, _ := v.GetProductionSettings("h264_vaapi")
	if again.GlobalArgs[1] != "/dev/dri/renderD128" || len(again.OutputParams) != 0 {
		t.Errorf("production settings were mutated: %+v", again)
	}

	if _, err := v.GetProductionSettings("libx264"); err == nil {
		t.Error("expected error for foreign encoder")
	}
}

func TestRegistryOrder(t *testing.T) {
	r := NewValidatorRegistry()
	r.Register(NewVaapiValidator())
	r.Register(NewRkmppValidator())
	r.Register(NewGenericValidator())

	h264 := r.Candidates(func(name string) bool {
		return strings.HasPrefix(name, "h264_") || name == "libx264"
	})
	want := []string{"h264_vaapi", "h264_rkmpp", "libx264"}
	if strings.Join(h264, ",") != strings.Join(want, ",") {
		t.Errorf("Candidates() = %v, want %v", h264, want)
	}

	if _, ok := r.FindValidator("h264_rkmpp").(*HardwareValidator); !ok {
		t.Error("h264_rkmpp should map to a hardware validator")
	}
	if _, ok := r.FindValidator("libx264").(*GenericValidator); !ok {
		t.Error("libx264 should fall back to the generic validator")
	}
}

func TestEncoderParamsArgs(t *testing.T) {
	got := EncoderParams{"rc_mode": "CBR", "b:v": "100", "bufsize": "200"}.Args()
	want := "-b:v 100 -bufsize 200 -rc_mode CBR"
	if strings.Join(got, " ") != want {
		t.Errorf("Args() = %q, want %q", strings.Join(got, " "), want)
	}
}

func TestTestArgs(t *testing.T) {
	args, err := TestArgs(NewVaapiValidator(), "h264_vaapi")
	if err != nil {
		t.Fatalf("TestArgs() error = %v", err)
	}
	cmd := strings.Join(args, " ")
	for _, check := range []string{
		"-vaapi_device /dev/dri/renderD128 -f lavfi -i testsrc2=",
		"-vf format=nv12,hwupload -c:v h264_vaapi",
		"-rc_mode CBR",
		"-f null -",
	} {
		if !strings.Contains(cmd, check) {
			t.Errorf("missing %q in %s", check, cmd)
		}
	}

	args, err = TestArgs(NewGenericValidator(), "aac")
	if err != nil {
		t.Fatalf("TestArgs() error = %v", err)
	}
	cmd = strings.Join(args, " ")
	if !strings.Contains(cmd, "-i sine=") || !strings.Contains(cmd, "-c:a aac") || !strings.Contains(cmd, "-b:a 64000") {
		t.Errorf("unexpected audio test command: %s", cmd)
	}
}

func TestValidateEncoderWithSettings(t *testing.T) {
	orig := runFFmpeg
	t.Cleanup(func() { runFFmpeg = orig })

	var ran []string
	runFFmpeg = func(_ context.Context, args []string) error {
		ran = args
		return nil
	}
	if err := NewRkmppValidator().Validate(context.Background(), "h264_rkmpp"); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !strings.Contains(strings.Join(ran, " "), "-c:v h264_rkmpp") {
		t.Errorf("validation ran %v", ran)
	}

	boom := errors.New("exit status 1")
	runFFmpeg = func(context.Context, []string) error { return boom }
	err := NewRkmppValidator().Validate(context.Background(), "h264_rkmpp")
	if !errors.Is(err, boom) {
		t.Errorf("Validate() error = %v, want wrapped %v", err, boom)
	}
}
