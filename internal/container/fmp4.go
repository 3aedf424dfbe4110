package container

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/smazurov/avrec/internal/media"
)

const videoTimeScale = 90000

type fmp4Track struct {
	id        int
	format    media.Format
	timeScale uint32

	// pending holds the newest sample until the next one gives its duration.
	pending    *fmp4.Sample
	pendingDTS int64

	fragment     []*fmp4.Sample
	fragmentBase int64
	fragmentDur  int64

	samples int
}

// FMP4Writer writes a fragmented MP4 file. Each sample is held back until
// its successor arrives so it can carry an exact duration; fragments are
// flushed once they cover FragmentDuration and at Stop.
type FMP4Writer struct {
	out    io.WriteCloser
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	state    state
	tracks   []*fmp4Track
	sequence uint32
	written  int64
}

// NewFMP4Writer returns an fMP4 writer over out. The writer owns out and
// closes it on Release.
func NewFMP4Writer(out io.WriteCloser, opts Options) *FMP4Writer {
	opts = opts.withDefaults()
	return &FMP4Writer{
		out:      out,
		opts:     opts,
		logger:   opts.Logger.With("container", KindMP4),
		sequence: 1,
	}
}

// AddTrack implements Writer.
func (w *FMP4Writer) AddTrack(format media.Format) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateIdle {
		return -1, stateError("add track", w.state)
	}

	t := &fmp4Track{id: len(w.tracks) + 1, format: format}
	switch format.Codec {
	case media.CodecH264:
		if len(format.SPS) == 0 || len(format.PPS) == 0 {
			return -1, fmt.Errorf("h264 track without parameter sets: %w", media.ErrCapabilityUnavailable)
		}
		t.timeScale = videoTimeScale
	case media.CodecAAC:
		if format.SampleRate <= 0 {
			return -1, fmt.Errorf("aac track without sample rate: %w", media.ErrCapabilityUnavailable)
		}
		t.timeScale = uint32(format.SampleRate)
	default:
		return -1, fmt.Errorf("codec %q: %w", format.Codec, media.ErrCapabilityUnavailable)
	}

	w.tracks = append(w.tracks, t)
	w.logger.Debug("Track added", "track", len(w.tracks)-1, "format", format.String())
	return len(w.tracks) - 1, nil
}

func (t *fmp4Track) codec() (mp4.Codec, error) {
	switch t.format.Codec {
	case media.CodecH264:
		return &mp4.CodecH264{SPS: t.format.SPS, PPS: t.format.PPS}, nil
	case media.CodecAAC:
		var cfg mpeg4audio.AudioSpecificConfig
		if len(t.format.AudioConfig) > 0 {
			if err := cfg.Unmarshal(t.format.AudioConfig); err != nil {
				return nil, fmt.Errorf("invalid audio specific config: %w", err)
			}
		} else {
			cfg = mpeg4audio.AudioSpecificConfig{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   t.format.SampleRate,
				ChannelCount: t.format.Channels,
			}
		}
		return &mp4.CodecMPEG4Audio{Config: cfg}, nil
	default:
		return nil, fmt.Errorf("codec %q: %w", t.format.Codec, media.ErrCapabilityUnavailable)
	}
}

// Start implements Writer. It writes the initialization segment.
func (w *FMP4Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateIdle {
		return stateError("start", w.state)
	}
	if len(w.tracks) == 0 {
		return fmt.Errorf("start without tracks: %w", media.ErrWriterState)
	}

	init := &fmp4.Init{}
	for _, t := range w.tracks {
		c, err := t.codec()
		if err != nil {
			return err
		}
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: t.timeScale,
			Codec:     c,
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("failed to marshal init segment: %w", err)
	}
	if err := w.write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write init segment: %w", err)
	}

	w.state = stateStarted
	w.logger.Info("Container started", "tracks", len(w.tracks))
	return nil
}

// WriteSample implements Writer.
func (w *FMP4Writer) WriteSample(track int, sample media.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateStarted {
		return stateError("write sample", w.state)
	}
	if track < 0 || track >= len(w.tracks) {
		return fmt.Errorf("unknown track %d: %w", track, media.ErrWriterState)
	}
	t := w.tracks[track]

	payload := sample.Data
	if t.format.Codec == media.CodecH264 {
		var err error
		if payload, err = toAVCC(payload); err != nil {
			return err
		}
	}
	if len(payload) == 0 {
		return nil
	}

	dts := scaleMicros(sample.Timestamp, t.timeScale)
	if t.pending != nil {
		w.appendPending(t, dts-t.pendingDTS)
	}
	t.pending = &fmp4.Sample{
		IsNonSyncSample: t.format.Kind == media.KindVideo && !sample.KeyFrame,
		Payload:         bytes.Clone(payload),
	}
	t.pendingDTS = dts

	if t.fragmentDur >= scaleMicros(w.opts.FragmentDuration.Microseconds(), t.timeScale) {
		return w.flush()
	}
	return nil
}

// appendPending moves the held sample into the current fragment.
func (w *FMP4Writer) appendPending(t *fmp4Track, duration int64) {
	if duration <= 0 {
		duration = 1
	}
	if len(t.fragment) == 0 {
		t.fragmentBase = t.pendingDTS
	}
	t.pending.Duration = uint32(duration)
	t.fragment = append(t.fragment, t.pending)
	t.fragmentDur += duration
	t.samples++
	t.pending = nil
}

// flush writes buffered samples of every track as one fragment.
func (w *FMP4Writer) flush() error {
	part := &fmp4.Part{SequenceNumber: w.sequence}
	for _, t := range w.tracks {
		if len(t.fragment) == 0 {
			continue
		}
		base := t.fragmentBase
		if base < 0 {
			base = 0
		}
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       t.id,
			BaseTime: uint64(base),
			Samples:  t.fragment,
		})
		t.fragment = nil
		t.fragmentDur = 0
	}
	if len(part.Tracks) == 0 {
		return nil
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("failed to marshal fragment: %w", err)
	}
	if err := w.write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write fragment: %w", err)
	}
	w.sequence++
	return nil
}

// defaultDuration is used for the final sample of a track.
func (t *fmp4Track) defaultDuration() int64 {
	if t.format.Kind == media.KindAudio {
		if t.format.SamplesPerAU > 0 {
			return int64(t.format.SamplesPerAU)
		}
		return 1024
	}
	fps := t.format.FrameRate
	if fps <= 0 {
		fps = 25
	}
	return int64(t.timeScale) / int64(fps)
}

// Stop implements Writer. Held samples are flushed.
func (w *FMP4Writer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateStarted {
		return stateError("stop", w.state)
	}
	w.state = stateStopped

	for _, t := range w.tracks {
		if t.pending != nil {
			w.appendPending(t, t.defaultDuration())
		}
	}
	if err := w.flush(); err != nil {
		return err
	}

	counts := make([]any, 0, 2*len(w.tracks)+2)
	for i, t := range w.tracks {
		counts = append(counts, fmt.Sprintf("track%d", i), t.samples)
	}
	counts = append(counts, "bytes", w.written)
	w.logger.Info("Container stopped", counts...)
	return nil
}

// Release implements Writer. It closes the output.
func (w *FMP4Writer) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == stateReleased {
		return stateError("release", w.state)
	}
	w.state = stateReleased
	if err := w.out.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	return nil
}

func (w *FMP4Writer) write(b []byte) error {
	n, err := w.out.Write(b)
	w.written += int64(n)
	return err
}

// scaleMicros converts microseconds into timescale units.
func scaleMicros(us int64, timeScale uint32) int64 {
	return us * int64(timeScale) / int64(time.Second/time.Microsecond)
}
