package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/smazurov/avrec/internal/codec"
	"github.com/smazurov/avrec/internal/codec/codectest"
	"github.com/smazurov/avrec/internal/config"
	"github.com/smazurov/avrec/internal/container"
	"github.com/smazurov/avrec/internal/container/containertest"
	"github.com/smazurov/avrec/internal/encoders"
	"github.com/smazurov/avrec/internal/events"
	"github.com/smazurov/avrec/internal/media"
	"github.com/smazurov/avrec/internal/recorder"
	"github.com/smazurov/avrec/internal/source"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestRecorder() *recorder.Recorder {
	lookup := codec.LookupFunc(func(mime string) (codec.Capability, error) {
		return codec.Capability{
			Name: "fake",
			Mime: mime,
			Open: func() (codec.Encoder, error) { return codectest.New(), nil },
		}, nil
	})
	return recorder.New(recorder.Config{
		Lookup:  lookup,
		Sources: source.NewFactory(source.FactoryOptions{Logger: discard}),
		OpenWriter: func(string, container.Kind) (container.Writer, error) {
			return containertest.New(), nil
		},
		Logger:     discard,
		EOSTimeout: 500 * time.Millisecond,
	})
}

func testSession(t *testing.T) recorder.Options {
	return recorder.Options{
		OutputDir: t.TempDir(),
		Video:     recorder.VideoOptions{Enabled: true, Width: 16, Height: 16, FrameRate: 50, Device: source.DeviceTest},
		Audio:     recorder.AudioOptions{Enabled: true, SampleRate: 8000, Channels: 1, Device: source.DeviceTest},
	}
}

func TestSessionOptions(t *testing.T) {
	opts := config.DefaultOptions()
	opts.RecordingContainer = "WebM"
	opts.RecordingAudio = false
	opts.VideoDevice = "/dev/video2"
	opts.AudioDevice = "hw:1,0"

	got := SessionOptions(opts)
	if got.Container != container.KindWebM {
		t.Errorf("Container = %q", got.Container)
	}
	if got.OutputDir != "recordings" {
		t.Errorf("OutputDir = %q", got.OutputDir)
	}
	if !got.Video.Enabled || got.Video.Width != 1280 || got.Video.Height != 720 || got.Video.FrameRate != 25 || got.Video.Device != "/dev/video2" {
		t.Errorf("Video = %+v", got.Video)
	}
	if got.Audio.Enabled || got.Audio.SampleRate != 44100 || got.Audio.Channels != 1 || got.Audio.Bitrate != 64000 || got.Audio.Device != "hw:1,0" {
		t.Errorf("Audio = %+v", got.Audio)
	}
}

func TestNewApp(t *testing.T) {
	opts := config.DefaultOptions()
	opts.CaptureOptions = "genpts"
	opts.EncodersValidationFile = t.TempDir() + "/validated.toml"

	app, err := NewApp(opts, events.New())
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if app.Catalog == nil || app.Sources == nil || app.Recorder == nil {
		t.Fatalf("incomplete app: %+v", app)
	}
	if st := app.Recorder.Status(); st.Active || st.State != events.SessionStopped {
		t.Errorf("fresh recorder status = %+v", st)
	}
	if got := app.SessionOptions(); got.Video.Width != opts.VideoWidth {
		t.Errorf("SessionOptions().Video.Width = %d", got.Video.Width)
	}
}

func TestNewAppRejectsBadOptions(t *testing.T) {
	tests := map[string]func(*config.Options){
		"unknown capture option": func(o *config.Options) { o.CaptureOptions = "warp_speed" },
		"audio input":            func(o *config.Options) { o.AudioInput = "jack" },
		"container":              func(o *config.Options) { o.RecordingContainer = "avi" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			opts := config.DefaultOptions()
			mutate(opts)
			if _, err := NewApp(opts, nil); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestFFmpegLogLevel(t *testing.T) {
	tests := map[string]string{
		"":      "",
		"debug": "debug",
		"INFO":  "info",
		"warn":  "warning",
		"error": "error",
		"trace": "",
	}
	for in, want := range tests {
		if got := ffmpegLogLevel(in); got != want {
			t.Errorf("ffmpegLogLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTracks(t *testing.T) {
	if kinds, err := parseTracks(""); err != nil || len(kinds) != 2 {
		t.Errorf("parseTracks(\"\") = %v, %v", kinds, err)
	}
	if kinds, err := parseTracks("Audio"); err != nil || len(kinds) != 1 || kinds[0] != media.KindAudio {
		t.Errorf("parseTracks(Audio) = %v, %v", kinds, err)
	}
	if _, err := parseTracks("subtitles"); err == nil {
		t.Error("expected an error for an unknown track")
	}
}

type fakeCatalog struct {
	candidates map[string][]encoders.Candidate
	results    *encoders.ValidationResults
	err        error
}

func (f *fakeCatalog) Candidates(_ context.Context, mime string) ([]encoders.Candidate, error) {
	return f.candidates[mime], f.err
}

func (f *fakeCatalog) ValidateAll(context.Context) (*encoders.ValidationResults, error) {
	return f.results, f.err
}

func TestListEncoders(t *testing.T) {
	cat := &fakeCatalog{candidates: map[string][]encoders.Candidate{
		media.MimeVideoAVC: {
			{Name: "h264_vaapi", HWAccel: true, Compiled: true, Validated: true, Working: true, Family: "Hardware vaapi encoders"},
			{Name: "libx264", Compiled: true},
		},
		media.MimeAudioAAC: {
			{Name: "aac", Compiled: true, Validated: true},
		},
	}}

	var buf bytes.Buffer
	if err := listEncoders(context.Background(), cat, []media.TrackKind{media.KindVideo, media.KindAudio}, &buf); err != nil {
		t.Fatalf("listEncoders: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for i, want := range []string{"h264_vaapi", "libx264", "aac"} {
		if !strings.Contains(lines[i+1], want) {
			t.Errorf("line %d = %q, want %s", i+1, lines[i+1], want)
		}
	}
	if !strings.Contains(lines[1], "working") || !strings.Contains(lines[2], "untested") || !strings.Contains(lines[3], "failed") {
		t.Errorf("unexpected statuses:\n%s", buf.String())
	}

	cat.err = errors.New("ffmpeg missing")
	if err := listEncoders(context.Background(), cat, []media.TrackKind{media.KindVideo}, io.Discard); err == nil {
		t.Error("expected catalog error")
	}
}

func TestValidateEncoders(t *testing.T) {
	cat := &fakeCatalog{results: &encoders.ValidationResults{
		H264: encoders.CodecValidation{Working: []string{"libx264"}, Failed: []string{"h264_vaapi"}},
		AAC:  encoders.CodecValidation{Working: []string{"aac"}},
	}}
	var buf bytes.Buffer
	results, err := validateEncoders(context.Background(), cat, &buf)
	if err != nil {
		t.Fatalf("validateEncoders: %v", err)
	}
	if results != cat.results {
		t.Error("results not returned")
	}
	out := buf.String()
	for _, want := range []string{"H.264: 1 working, 1 failed", "ok    libx264", "fail  h264_vaapi", "AAC: 1 working, 0 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunRecordDuration(t *testing.T) {
	rec := newTestRecorder()
	err := runRecord(context.Background(), rec, testSession(t), recordParams{
		Duration: 100 * time.Millisecond,
		Grace:    5 * time.Second,
		Logger:   discard,
	})
	if err != nil {
		t.Fatalf("runRecord: %v", err)
	}
	if st := rec.Status(); st.Active || st.State != events.SessionStopped {
		t.Errorf("status after run = %+v", st)
	}
}

func TestRunRecordInterruptAndSignals(t *testing.T) {
	rec := newTestRecorder()
	control := make(chan os.Signal, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runRecord(ctx, rec, testSession(t), recordParams{
			Grace:   5 * time.Second,
			Control: control,
			Logger:  discard,
		})
	}()

	waitState := func(want string) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if rec.Status().State == want {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("state = %q, want %q", rec.Status().State, want)
	}

	waitState(events.SessionRecording)
	control <- syscall.SIGUSR1
	waitState(events.SessionPaused)
	control <- syscall.SIGUSR2
	waitState(events.SessionRecording)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runRecord: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runRecord did not return after interrupt")
	}
	if rec.Status().Active {
		t.Error("session still active")
	}
}

func TestRunRecordStartError(t *testing.T) {
	opts := testSession(t)
	opts.Video.Enabled = false
	opts.Audio.Enabled = false
	err := runRecord(context.Background(), newTestRecorder(), opts, recordParams{Logger: discard})
	var merr *media.Error
	if !errors.As(err, &merr) || merr.Code != media.ErrCodeConfig {
		t.Errorf("runRecord = %v, want config error", err)
	}
}

func TestCommandsRegisterFlags(t *testing.T) {
	rec := CreateRecordCmd()
	for _, name := range []string{"config", "duration", "output-dir", "container", "video-device", "audio-device", "no-video", "no-audio", "log-json"} {
		if rec.Flags().Lookup(name) == nil {
			t.Errorf("record is missing --%s", name)
		}
	}

	enc := CreateEncodersCmd()
	names := map[string]bool{}
	for _, sub := range enc.Commands() {
		names[sub.Name()] = true
	}
	if !names["list"] || !names["validate"] {
		t.Errorf("encoders subcommands = %v", names)
	}
}
