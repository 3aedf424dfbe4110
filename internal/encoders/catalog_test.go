package encoders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/smazurov/avrec/internal/encoders/validation"
	"github.com/smazurov/avrec/internal/media"
)

func fakeList(names ...string) func(context.Context) (*EncoderList, error) {
	return func(context.Context) (*EncoderList, error) {
		list := &EncoderList{}
		for _, n := range names {
			e := Encoder{Name: n, Description: n + " encoder"}
			if isAudioEncoder(n) {
				e.Type = AudioEncoder
				list.AudioEncoders = append(list.AudioEncoders, e)
			} else {
				e.Type = VideoEncoder
				list.VideoEncoders = append(list.VideoEncoders, e)
			}
		}
		return list, nil
	}
}

// fakeValidator passes the encoders in working and records every call.
type fakeValidator struct {
	mu      sync.Mutex
	working []string
	calls   []string
}

func (f *fakeValidator) validate(_ context.Context, _ validation.EncoderValidator, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if slices.Contains(f.working, name) {
		return nil
	}
	return errors.New("test encode failed")
}

func newTestCatalog(opts CatalogOptions) *Catalog {
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCatalog(opts)
}

func TestCatalogPrefersHardware(t *testing.T) {
	c := newTestCatalog(CatalogOptions{List: fakeList("libx264", "h264_vaapi", "aac")})

	capability, err := c.FindEncoder(media.MimeVideoAVC)
	if err != nil {
		t.Fatal(err)
	}
	if capability.Name != "h264_vaapi" || !capability.HWAccel || capability.Mime != media.MimeVideoAVC {
		t.Errorf("capability = %+v, want hardware h264_vaapi", capability)
	}

	capability, err = c.FindEncoder(media.MimeAudioAAC)
	if err != nil {
		t.Fatal(err)
	}
	if capability.Name != "aac" || capability.HWAccel {
		t.Errorf("capability = %+v, want software aac", capability)
	}
}

func TestCatalogFallsBackWhenValidationFails(t *testing.T) {
	v := &fakeValidator{working: []string{"libx264"}}
	store := NewFileStorage(filepath.Join(t.TempDir(), "validation.toml"))
	c := newTestCatalog(CatalogOptions{
		List:      fakeList("h264_vaapi", "h264_nvenc", "libx264"),
		Validate:  true,
		Validator: v.validate,
		Storage:   store,
	})

	capability, err := c.FindEncoder(media.MimeVideoAVC)
	if err != nil {
		t.Fatal(err)
	}
	if capability.Name != "libx264" {
		t.Errorf("selected %s, want libx264", capability.Name)
	}
	if want := []string{"h264_vaapi", "h264_nvenc", "libx264"}; !slices.Equal(v.calls, want) {
		t.Errorf("validated %v, want %v", v.calls, want)
	}

	// Outcomes are cached.
	if _, err := c.FindEncoder(media.MimeVideoAVC); err != nil {
		t.Fatal(err)
	}
	if len(v.calls) != 3 {
		t.Errorf("validator called again: %v", v.calls)
	}

	// And persisted.
	saved, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(saved.H264.Working, []string{"libx264"}) || len(saved.H264.Failed) != 2 {
		t.Errorf("stored results = %+v", saved.H264)
	}

	fresh := newTestCatalog(CatalogOptions{
		List:      fakeList("h264_vaapi", "h264_nvenc", "libx264"),
		Validate:  true,
		Validator: v.validate,
		Storage:   store,
	})
	if _, err := fresh.FindEncoder(media.MimeVideoAVC); err != nil {
		t.Fatal(err)
	}
	if len(v.calls) != 3 {
		t.Errorf("stored results not reused: %v", v.calls)
	}
}

func TestCatalogNoEncoder(t *testing.T) {
	c := newTestCatalog(CatalogOptions{List: fakeList("libx264")})

	_, err := c.FindEncoder(media.MimeAudioAAC)
	if !errors.Is(err, media.ErrCapabilityUnavailable) {
		t.Fatalf("err = %v, want capability unavailable", err)
	}
	var merr *media.Error
	if !errors.As(err, &merr) || merr.Code != media.ErrCodeCapability {
		t.Errorf("err = %v, want %s", err, media.ErrCodeCapability)
	}

	if _, err := c.FindEncoder("video/hevc"); !errors.Is(err, media.ErrCapabilityUnavailable) {
		t.Errorf("unknown mime: err = %v", err)
	}
}

func TestCatalogListError(t *testing.T) {
	c := newTestCatalog(CatalogOptions{List: func(context.Context) (*EncoderList, error) {
		return nil, errors.New("ffmpeg is not installed")
	}})
	if _, err := c.FindEncoder(media.MimeVideoAVC); !errors.Is(err, media.ErrCapabilityUnavailable) {
		t.Errorf("err = %v, want capability unavailable", err)
	}
}

func TestCatalogPinnedEncoder(t *testing.T) {
	c := newTestCatalog(CatalogOptions{
		List:  fakeList("h264_vaapi", "libx264", "aac", "libfdk_aac"),
		Video: "libx264",
		Audio: "libfdk_aac",
	})

	if capability, err := c.FindEncoder(media.MimeVideoAVC); err != nil || capability.Name != "libx264" {
		t.Errorf("video = %+v, %v", capability, err)
	}
	if capability, err := c.FindEncoder(media.MimeAudioAAC); err != nil || capability.Name != "libfdk_aac" {
		t.Errorf("audio = %+v, %v", capability, err)
	}

	missing := newTestCatalog(CatalogOptions{List: fakeList("libx264"), Video: "h264_qsv"})
	if _, err := missing.FindEncoder(media.MimeVideoAVC); !errors.Is(err, media.ErrCapabilityUnavailable) {
		t.Errorf("pinned encoder missing from build: err = %v", err)
	}
}

func TestCatalogOpenReturnsFreshHandles(t *testing.T) {
	c := newTestCatalog(CatalogOptions{List: fakeList("libx264")})
	capability, err := c.FindEncoder(media.MimeVideoAVC)
	if err != nil {
		t.Fatal(err)
	}
	a, err := capability.Open()
	if err != nil {
		t.Fatal(err)
	}
	b, err := capability.Open()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("Open returned the same handle twice")
	}
	a.Release()
	b.Release()
}

func TestCatalogCandidates(t *testing.T) {
	v := &fakeValidator{working: []string{"aac"}}
	c := newTestCatalog(CatalogOptions{
		List:      fakeList("aac"),
		Validate:  true,
		Validator: v.validate,
	})
	if _, err := c.FindEncoder(media.MimeAudioAAC); err != nil {
		t.Fatal(err)
	}

	cands, err := c.Candidates(context.Background(), media.MimeAudioAAC)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want aac and libfdk_aac", len(cands))
	}
	if c0 := cands[0]; c0.Name != "aac" || !c0.Compiled || !c0.Validated || !c0.Working {
		t.Errorf("aac = %+v", c0)
	}
	if c1 := cands[1]; c1.Name != "libfdk_aac" || c1.Compiled || c1.Validated {
		t.Errorf("libfdk_aac = %+v", c1)
	}
}

func TestCatalogValidateAll(t *testing.T) {
	v := &fakeValidator{working: []string{"h264_rkmpp", "aac"}}
	c := newTestCatalog(CatalogOptions{
		List:      fakeList("h264_rkmpp", "libx264", "aac"),
		Validator: v.validate,
	})

	results, err := c.ValidateAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(results.H264.Working, []string{"h264_rkmpp"}) || !slices.Equal(results.H264.Failed, []string{"libx264"}) {
		t.Errorf("h264 = %+v", results.H264)
	}
	if !slices.Equal(results.AAC.Working, []string{"aac"}) {
		t.Errorf("aac = %+v", results.AAC)
	}
	if results.Timestamp == "" {
		t.Error("missing timestamp")
	}

	// A second run tests again.
	if _, err := c.ValidateAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(v.calls) != 6 {
		t.Errorf("validator calls = %v, want two full runs", v.calls)
	}
}

func TestCatalogValidateAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestCatalog(CatalogOptions{List: fakeList("libx264")})
	if _, err := c.ValidateAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
