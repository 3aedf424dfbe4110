package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

type testConfig struct {
	Config string `help:"Config file path"`

	StringField string   `toml:"test.string_field" env:"STRING_FIELD"`
	BoolField   bool     `toml:"test.bool_field" env:"BOOL_FIELD"`
	IntField    int      `toml:"test.int_field" env:"INT_FIELD"`
	SliceField  []string `toml:"test.slice_field" env:"SLICE_FIELD"`

	NestedString string `toml:"nested.value" env:"NESTED_VALUE"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeConfig(t, `
[test]
string_field = "hello world"
bool_field = true
int_field = 42
slice_field = ["item1", "item2", "item3"]

[nested]
value = "nested value"
`)

	cfg := &testConfig{Config: path}
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := testConfig{
		Config:       path,
		StringField:  "hello world",
		BoolField:    true,
		IntField:     42,
		SliceField:   []string{"item1", "item2", "item3"},
		NestedString: "nested value",
	}
	if !reflect.DeepEqual(*cfg, want) {
		t.Errorf("got %+v, want %+v", *cfg, want)
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("AVREC_STRING_FIELD", "env string")
	t.Setenv("AVREC_BOOL_FIELD", "false")
	t.Setenv("AVREC_INT_FIELD", "123")
	t.Setenv("AVREC_SLICE_FIELD", "a, b,c")
	t.Setenv("AVREC_NESTED_VALUE", "env nested")

	cfg := &testConfig{BoolField: true}
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.StringField != "env string" || cfg.BoolField || cfg.IntField != 123 || cfg.NestedString != "env nested" {
		t.Errorf("unexpected config %+v", *cfg)
	}
	if !reflect.DeepEqual(cfg.SliceField, []string{"a", "b", "c"}) {
		t.Errorf("SliceField = %v", cfg.SliceField)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfig(t, `
[test]
string_field = "toml value"
bool_field = true
int_field = 100
slice_field = ["toml1", "toml2"]
`)
	t.Setenv("AVREC_STRING_FIELD", "env value")
	t.Setenv("AVREC_INT_FIELD", "200")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("int-field", 0, "")
	if err := cmd.Flags().Set("int-field", "300"); err != nil {
		t.Fatal(err)
	}

	cfg := &testConfig{Config: path, IntField: 300}
	if err := LoadConfig(cfg, cmd); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.StringField != "env value" {
		t.Errorf("StringField = %q, env should override the file", cfg.StringField)
	}
	if cfg.IntField != 300 {
		t.Errorf("IntField = %d, the flag should win", cfg.IntField)
	}
	if !cfg.BoolField {
		t.Error("BoolField should come from the file")
	}
	if !reflect.DeepEqual(cfg.SliceField, []string{"toml1", "toml2"}) {
		t.Errorf("SliceField = %v", cfg.SliceField)
	}
}

func TestLoadConfigReportsBadValues(t *testing.T) {
	path := writeConfig(t, `
[test]
string_field = 5
int_field = "many"
bool_field = true
`)
	t.Setenv("AVREC_BOOL_FIELD", "sometimes")

	cfg := &testConfig{Config: path}
	err := LoadConfig(cfg, nil)
	if err == nil {
		t.Fatal("expected an error")
	}

	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 3 {
		t.Fatalf("expected 3 aggregated errors, got %v", err)
	}
	for _, key := range []string{"test.string_field", "test.int_field", "AVREC_BOOL_FIELD"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error does not mention %s: %v", key, err)
		}
	}
	if !cfg.BoolField {
		t.Error("valid file value lost to an invalid env value")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := &testConfig{Config: filepath.Join(t.TempDir(), "missing.toml")}
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatalf("LoadConfig should not fail for a missing file: %v", err)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := writeConfig(t, "[test\ninvalid toml syntax\n")
	if err := LoadConfig(&testConfig{Config: path}, nil); err == nil {
		t.Fatal("LoadConfig should fail for invalid TOML")
	}
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	if err := LoadConfig(testConfig{}, nil); err == nil {
		t.Fatal("expected an error for a struct value")
	}
}

func TestLoadOptions(t *testing.T) {
	path := writeConfig(t, `
[recording]
output_dir = "/var/lib/avrec"
container = "webm"
audio = false

[video]
device = "lavfi:testsrc2"
width = 640
height = 480
fps = 30

[encoders]
video = "libx264"
validate = false

[logging]
level = "warn"
pipeline = "debug"
`)
	t.Setenv("AVREC_AUDIO_SAMPLE_RATE", "48000")

	opts := &Options{
		Config:           path,
		RecordingVideo:   true,
		RecordingAudio:   true,
		EncodersValidate: true,
		LoggingLevel:     "info",
	}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.RecordingOutputDir != "/var/lib/avrec" || opts.RecordingContainer != "webm" {
		t.Errorf("recording settings not loaded: %+v", opts)
	}
	if !opts.RecordingVideo || opts.RecordingAudio {
		t.Errorf("track toggles = video %v, audio %v", opts.RecordingVideo, opts.RecordingAudio)
	}
	if opts.VideoDevice != "lavfi:testsrc2" || opts.VideoWidth != 640 || opts.VideoHeight != 480 || opts.VideoFPS != 30 {
		t.Errorf("video settings not loaded: %+v", opts)
	}
	if opts.EncodersVideo != "libx264" || opts.EncodersValidate {
		t.Errorf("encoder settings not loaded: %+v", opts)
	}
	if opts.AudioSampleRate != 48000 {
		t.Errorf("AudioSampleRate = %d, want 48000 from env", opts.AudioSampleRate)
	}

	lc := opts.LoggingConfig()
	if lc.Level != "warn" || lc.Modules["pipeline"] != "debug" {
		t.Errorf("logging config = %+v", lc)
	}
	if _, ok := lc.Modules["mux"]; ok {
		t.Error("unset module level should inherit the global level")
	}
}

func TestOptionsHelpers(t *testing.T) {
	opts := &Options{
		RecordingDrainTimeoutMs: 10,
		RecordingEOSTimeoutMs:   2500,
		CaptureOptions:          " genpts, ,low_latency",
	}
	if got := opts.DrainTimeout().Milliseconds(); got != 10 {
		t.Errorf("DrainTimeout = %dms", got)
	}
	if got := opts.EOSTimeout().Milliseconds(); got != 2500 {
		t.Errorf("EOSTimeout = %dms", got)
	}
	if got := opts.CaptureOptionKeys(); !reflect.DeepEqual(got, []string{"genpts", "low_latency"}) {
		t.Errorf("CaptureOptionKeys = %v", got)
	}
	if got := (&Options{}).CaptureOptionKeys(); got != nil {
		t.Errorf("empty CaptureOptions gave %v", got)
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":                  "port",
		"LoggingLevel":          "logging-level",
		"VideoFPS":              "video-fps",
		"HTTPPort":              "http-port",
		"RecordingEOSTimeoutMs": "recording-eos-timeout-ms",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"level1": map[string]any{
			"level2": map[string]any{"value": "nested_value"},
			"simple": "simple_value",
		},
		"root": "root_value",
	}

	tests := []struct {
		path string
		want any
	}{
		{"root", "root_value"},
		{"level1.simple", "simple_value"},
		{"level1.level2.value", "nested_value"},
		{"nonexistent", nil},
		{"root.child", nil},
		{"level1.nonexistent", nil},
	}
	for _, tt := range tests {
		if got := getNestedValue(data, tt.path); got != tt.want {
			t.Errorf("getNestedValue(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSetFieldValue(t *testing.T) {
	var s struct {
		Str   string
		Flag  bool
		Num   int
		List  []string
		Ratio float64
	}
	v := reflect.ValueOf(&s).Elem()

	if err := setFieldValue(v.FieldByName("Str"), "text"); err != nil || s.Str != "text" {
		t.Errorf("string: %v %q", err, s.Str)
	}
	if err := setFieldValue(v.FieldByName("Flag"), true); err != nil || !s.Flag {
		t.Errorf("bool: %v %v", err, s.Flag)
	}
	if err := setFieldValue(v.FieldByName("Num"), int64(42)); err != nil || s.Num != 42 {
		t.Errorf("int: %v %d", err, s.Num)
	}
	if err := setFieldValue(v.FieldByName("List"), []any{"a", "b"}); err != nil || !reflect.DeepEqual(s.List, []string{"a", "b"}) {
		t.Errorf("slice: %v %v", err, s.List)
	}

	if err := setFieldValue(v.FieldByName("Num"), "42"); err == nil {
		t.Error("expected error for string into int")
	}
	if err := setFieldValue(v.FieldByName("List"), []any{"a", 1}); err == nil {
		t.Error("expected error for mixed array")
	}
	if err := setFieldValue(v.FieldByName("Ratio"), 0.5); err == nil {
		t.Error("expected error for unsupported kind")
	}
}

func TestSetFieldValueFromString(t *testing.T) {
	var s struct {
		Str  string
		Flag bool
		Num  int
		List []string
	}
	v := reflect.ValueOf(&s).Elem()

	for field, value := range map[string]string{"Str": "text", "Flag": "true", "Num": "123", "List": " x , y "} {
		if err := setFieldValueFromString(v.FieldByName(field), value); err != nil {
			t.Errorf("%s: %v", field, err)
		}
	}
	if s.Str != "text" || !s.Flag || s.Num != 123 || !reflect.DeepEqual(s.List, []string{"x", "y"}) {
		t.Errorf("unexpected values %+v", s)
	}

	if err := setFieldValueFromString(v.FieldByName("Num"), "lots"); err == nil {
		t.Error("expected error for non-numeric int")
	}
	if err := setFieldValueFromString(v.FieldByName("Flag"), "maybe"); err == nil {
		t.Error("expected error for non-boolean bool")
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "warn"
format = "json"
mux = "debug"

[logging.modules]
api = "error"
`)

	cfg, err := LoadLoggingConfig(path)
	if err != nil {
		t.Fatalf("LoadLoggingConfig: %v", err)
	}
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("level/format = %q/%q", cfg.Level, cfg.Format)
	}
	want := map[string]string{"mux": "debug", "api": "error"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("modules = %v, want %v", cfg.Modules, want)
	}
}

func TestLoadLoggingConfigDefaults(t *testing.T) {
	cfg, err := LoadLoggingConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if cfg.Level != "info" || cfg.Format != "text" || len(cfg.Modules) != 0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}

	if _, err := LoadLoggingConfig(writeConfig(t, "[logging\n")); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg struct {
		Name    string `default:"avrec"`
		Enabled bool   `default:"true"`
		Count   int    `default:"4"`
		Untagged string
		Empty   string `default:""`
	}
	cfg.Untagged = "keep"
	if err := ApplyDefaults(&cfg); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}
	if cfg.Name != "avrec" || !cfg.Enabled || cfg.Count != 4 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Untagged != "keep" || cfg.Empty != "" {
		t.Errorf("untagged fields changed: %+v", cfg)
	}
}

func TestApplyDefaultsReportsBadTags(t *testing.T) {
	var cfg struct {
		Count int  `default:"many"`
		On    bool `default:"maybe"`
	}
	err := ApplyDefaults(&cfg)
	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 2 {
		t.Fatalf("ApplyDefaults error = %v, want two errors", err)
	}
	if err := ApplyDefaults(cfg); err == nil {
		t.Error("expected an error for a struct value")
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.Config != "config.toml" || opts.Port != ":8090" {
		t.Errorf("server defaults = %q %q", opts.Config, opts.Port)
	}
	if opts.RecordingContainer != "mp4" || !opts.RecordingVideo || !opts.RecordingAudio {
		t.Errorf("recording defaults = %+v", opts)
	}
	if opts.VideoWidth != 1280 || opts.VideoHeight != 720 || opts.VideoFPS != 25 {
		t.Errorf("video defaults = %dx%d@%d", opts.VideoWidth, opts.VideoHeight, opts.VideoFPS)
	}
	if opts.AudioInput != "alsa" || opts.AudioSampleRate != 44100 {
		t.Errorf("audio defaults = %q %d", opts.AudioInput, opts.AudioSampleRate)
	}
	if opts.EOSTimeout().Milliseconds() != 3000 || !opts.EncodersValidate {
		t.Errorf("EOSTimeout = %v, validate %v", opts.EOSTimeout(), opts.EncodersValidate)
	}
	if opts.FeaturesLEDControl {
		t.Error("LED control should be off by default")
	}
}
