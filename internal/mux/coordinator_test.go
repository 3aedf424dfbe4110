package mux

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/smazurov/avrec/internal/container/containertest"
	"github.com/smazurov/avrec/internal/events"
	"github.com/smazurov/avrec/internal/media"
)

var (
	videoFmt = media.Format{Kind: media.KindVideo, Codec: media.CodecH264}
	audioFmt = media.Format{Kind: media.KindAudio, Codec: media.CodecAAC}
)

func newTestCoordinator(t *testing.T, w *containertest.Writer, kinds ...media.TrackKind) *Coordinator {
	t.Helper()
	c := New(w, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	for _, k := range kinds {
		if err := c.Attach(k); err != nil {
			t.Fatalf("Attach(%s): %v", k, err)
		}
	}
	return c
}

func register(t *testing.T, c *Coordinator, kind media.TrackKind, f media.Format) int {
	t.Helper()
	idx, err := c.RegisterTrack(kind, f)
	if err != nil {
		t.Fatalf("RegisterTrack(%s): %v", kind, err)
	}
	return idx
}

func barrierAsync(c *Coordinator, ctx context.Context, kind media.TrackKind) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- c.OpenBarrier(ctx, kind) }()
	return ch
}

func expectPending(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("barrier returned early: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
}

func expectResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("barrier did not return")
		return nil
	}
}

func TestOpenBarrierWaitsForAllTracks(t *testing.T) {
	w := containertest.New()
	c := newTestCoordinator(t, w, media.KindAudio, media.KindVideo)

	ai := register(t, c, media.KindAudio, audioFmt)
	audioDone := barrierAsync(c, t.Context(), media.KindAudio)
	expectPending(t, audioDone)

	if err := c.Write(ai, media.Sample{Data: []byte{1}, Timestamp: 1}); err != nil {
		t.Fatalf("Write before open: %v", err)
	}
	if got := c.Snapshot().Dropped; got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}

	register(t, c, media.KindVideo, videoFmt)
	if err := c.OpenBarrier(t.Context(), media.KindVideo); err != nil {
		t.Fatalf("OpenBarrier(video): %v", err)
	}
	if err := expectResult(t, audioDone); err != nil {
		t.Fatalf("OpenBarrier(audio): %v", err)
	}

	started, _, _ := w.Counts()
	if started != 1 {
		t.Errorf("writer started %d times, want 1", started)
	}
	if err := c.Write(ai, media.Sample{Data: []byte{2}, Timestamp: 2}); err != nil {
		t.Fatalf("Write after open: %v", err)
	}
	if got := len(w.Samples(ai)); got != 1 {
		t.Errorf("samples written = %d, want 1", got)
	}
}

func TestCloseBarrierClosesOnce(t *testing.T) {
	w := containertest.New()
	c := newTestCoordinator(t, w, media.KindAudio, media.KindVideo)
	register(t, c, media.KindAudio, audioFmt)
	register(t, c, media.KindVideo, videoFmt)
	a := barrierAsync(c, t.Context(), media.KindAudio)
	v := barrierAsync(c, t.Context(), media.KindVideo)
	if err := expectResult(t, a); err != nil {
		t.Fatal(err)
	}
	if err := expectResult(t, v); err != nil {
		t.Fatal(err)
	}

	if err := c.CloseBarrier(media.KindAudio); err != nil {
		t.Fatalf("CloseBarrier(audio): %v", err)
	}
	if _, stopped, released := w.Counts(); stopped != 0 || released != 0 {
		t.Fatal("writer closed while a pipeline is still active")
	}
	if err := c.CloseBarrier(media.KindVideo); err != nil {
		t.Fatalf("CloseBarrier(video): %v", err)
	}
	if err := c.CloseBarrier(media.KindVideo); err != nil {
		t.Fatalf("repeated CloseBarrier: %v", err)
	}

	want := []string{"add:audio", "add:video", "start", "stop", "release"}
	if got := w.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if v := w.Violations(); len(v) != 0 {
		t.Errorf("violations: %v", v)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestNeverOpenedReleasesWithoutStop(t *testing.T) {
	w := containertest.New()
	c := newTestCoordinator(t, w, media.KindVideo)

	if err := c.CloseBarrier(media.KindVideo); err != nil {
		t.Fatalf("CloseBarrier: %v", err)
	}
	want := []string{"release"}
	if got := w.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestSurvivorOpensWhenSiblingLeavesEarly(t *testing.T) {
	w := containertest.New()
	c := newTestCoordinator(t, w, media.KindAudio, media.KindVideo)

	register(t, c, media.KindAudio, audioFmt)
	audioDone := barrierAsync(c, t.Context(), media.KindAudio)
	expectPending(t, audioDone)

	if err := c.CloseBarrier(media.KindVideo); err != nil {
		t.Fatalf("CloseBarrier(video): %v", err)
	}
	if err := expectResult(t, audioDone); err != nil {
		t.Fatalf("OpenBarrier(audio): %v", err)
	}
	s := c.Snapshot()
	if !s.Open || s.Registered != 1 || s.Active != 1 {
		t.Errorf("snapshot = %+v", s)
	}

	if err := c.CloseBarrier(media.KindAudio); err != nil {
		t.Fatalf("CloseBarrier(audio): %v", err)
	}
	want := []string{"add:audio", "start", "stop", "release"}
	if got := w.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestOpenBarrierCancelled(t *testing.T) {
	w := containertest.New()
	c := newTestCoordinator(t, w, media.KindAudio, media.KindVideo)
	register(t, c, media.KindAudio, audioFmt)

	ctx, cancel := context.WithCancel(t.Context())
	done := barrierAsync(c, ctx, media.KindAudio)
	expectPending(t, done)
	cancel()

	if err := expectResult(t, done); !errors.Is(err, media.ErrInterrupted) {
		t.Fatalf("OpenBarrier = %v, want ErrInterrupted", err)
	}
	if c.Snapshot().Open {
		t.Error("container opened after cancellation")
	}
}

func TestRegisteredSiblingLeavingOpensSurvivor(t *testing.T) {
	w := containertest.New()
	c := newTestCoordinator(t, w, media.KindAudio, media.KindVideo)
	register(t, c, media.KindAudio, audioFmt)
	register(t, c, media.KindVideo, videoFmt)

	done := barrierAsync(c, t.Context(), media.KindAudio)
	expectPending(t, done)

	// Video declared its track but fails before its barrier.
	if err := c.CloseBarrier(media.KindVideo); err != nil {
		t.Fatal(err)
	}
	if err := expectResult(t, done); err != nil {
		t.Fatalf("OpenBarrier = %v", err)
	}
}

func TestRegistrationErrors(t *testing.T) {
	w := containertest.New()
	c := newTestCoordinator(t, w, media.KindAudio)

	if err := c.Attach(media.KindAudio); !errors.Is(err, media.ErrAlreadyStarted) {
		t.Errorf("duplicate Attach = %v, want ErrAlreadyStarted", err)
	}
	if _, err := c.RegisterTrack(media.KindVideo, videoFmt); !errors.Is(err, media.ErrWriterState) {
		t.Errorf("RegisterTrack(unattached) = %v, want ErrWriterState", err)
	}
	if err := c.OpenBarrier(t.Context(), media.KindAudio); !errors.Is(err, media.ErrWriterState) {
		t.Errorf("OpenBarrier before RegisterTrack = %v, want ErrWriterState", err)
	}

	register(t, c, media.KindAudio, audioFmt)
	if _, err := c.RegisterTrack(media.KindAudio, audioFmt); !errors.Is(err, media.ErrAlreadyStarted) {
		t.Errorf("second RegisterTrack = %v, want ErrAlreadyStarted", err)
	}
	if err := c.OpenBarrier(t.Context(), media.KindAudio); err != nil {
		t.Fatalf("OpenBarrier: %v", err)
	}
	if err := c.Attach(media.KindVideo); !errors.Is(err, media.ErrAlreadyStarted) {
		t.Errorf("Attach after open = %v, want ErrAlreadyStarted", err)
	}
	if err := c.Write(7, media.Sample{}); !errors.Is(err, media.ErrWriterState) {
		t.Errorf("Write(unknown index) = %v, want ErrWriterState", err)
	}
}

func TestWriterStartFailureReachesAllWaiters(t *testing.T) {
	w := containertest.New()
	w.FailStart = errors.New("disk full")
	c := newTestCoordinator(t, w, media.KindAudio, media.KindVideo)
	register(t, c, media.KindAudio, audioFmt)
	register(t, c, media.KindVideo, videoFmt)

	a := barrierAsync(c, t.Context(), media.KindAudio)
	v := barrierAsync(c, t.Context(), media.KindVideo)
	for _, ch := range []<-chan error{a, v} {
		if err := expectResult(t, ch); !errors.Is(err, media.ErrWriterState) {
			t.Errorf("OpenBarrier = %v, want ErrWriterState", err)
		}
	}

	_ = c.CloseBarrier(media.KindAudio)
	_ = c.CloseBarrier(media.KindVideo)
	want := []string{"add:audio", "add:video", "start", "release"}
	if got := w.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

type recordingPublisher struct {
	ch chan events.Event
}

func (r *recordingPublisher) Publish(ev events.Event) {
	r.ch <- ev
}

func TestCoordinatorPublishesEvents(t *testing.T) {
	pub := &recordingPublisher{ch: make(chan events.Event, 4)}
	w := containertest.New()
	c := New(w, Options{
		SessionID: "s1",
		Events:    pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := c.Attach(media.KindAudio); err != nil {
		t.Fatal(err)
	}
	register(t, c, media.KindAudio, audioFmt)
	if err := c.OpenBarrier(t.Context(), media.KindAudio); err != nil {
		t.Fatal(err)
	}
	if err := c.CloseBarrier(media.KindAudio); err != nil {
		t.Fatal(err)
	}

	opened, ok := (<-pub.ch).(events.ContainerOpenedEvent)
	if !ok || opened.SessionID != "s1" || opened.Tracks != 1 {
		t.Errorf("unexpected open event %+v", opened)
	}
	closed, ok := (<-pub.ch).(events.ContainerClosedEvent)
	if !ok || !closed.Opened {
		t.Errorf("unexpected close event %+v", closed)
	}
}
