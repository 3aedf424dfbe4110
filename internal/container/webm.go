package container

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"

	"github.com/smazurov/avrec/internal/media"
)

const (
	codecIDAVC = "V_MPEG4/ISO/AVC"
	codecIDAAC = "A_AAC"

	trackTypeVideo = 1
	trackTypeAudio = 2
)

// WebMWriter writes a Matroska/WebM file through ebml-go block writers.
// Timestamps are written in milliseconds, the default segment timecode scale.
type WebMWriter struct {
	out    *onceCloser
	logger *slog.Logger

	mu      sync.Mutex
	state   state
	entries []webm.TrackEntry
	formats []media.Format
	blocks  []webm.BlockWriteCloser
	counts  []int
	fatal   atomic.Pointer[error]
}

// NewWebMWriter returns a WebM writer over out. The writer owns out.
func NewWebMWriter(out io.WriteCloser, opts Options) *WebMWriter {
	opts = opts.withDefaults()
	return &WebMWriter{
		out:    &onceCloser{WriteCloser: out},
		logger: opts.Logger.With("container", KindWebM),
	}
}

// AddTrack implements Writer.
func (w *WebMWriter) AddTrack(format media.Format) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateIdle {
		return -1, stateError("add track", w.state)
	}

	n := uint64(len(w.entries) + 1)
	entry := webm.TrackEntry{
		TrackNumber: n,
		TrackUID:    n,
	}
	switch format.Codec {
	case media.CodecH264:
		private, err := avcDecoderConfig(format.SPS, format.PPS)
		if err != nil {
			return -1, fmt.Errorf("h264 track: %v: %w", err, media.ErrCapabilityUnavailable)
		}
		entry.Name = "Video"
		entry.CodecID = codecIDAVC
		entry.CodecPrivate = private
		entry.TrackType = trackTypeVideo
		if format.FrameRate > 0 {
			entry.DefaultDuration = uint64(1_000_000_000 / format.FrameRate)
		}
		entry.Video = &webm.Video{
			PixelWidth:  uint64(format.Width),
			PixelHeight: uint64(format.Height),
		}
	case media.CodecAAC:
		if len(format.AudioConfig) == 0 {
			return -1, fmt.Errorf("aac track without audio specific config: %w", media.ErrCapabilityUnavailable)
		}
		entry.Name = "Audio"
		entry.CodecID = codecIDAAC
		entry.CodecPrivate = format.AudioConfig
		entry.TrackType = trackTypeAudio
		entry.Audio = &webm.Audio{
			SamplingFrequency: float64(format.SampleRate),
			Channels:          uint64(format.Channels),
		}
	default:
		return -1, fmt.Errorf("codec %q: %w", format.Codec, media.ErrCapabilityUnavailable)
	}

	w.entries = append(w.entries, entry)
	w.formats = append(w.formats, format)
	w.counts = append(w.counts, 0)
	return len(w.entries) - 1, nil
}

// Start implements Writer. It writes the EBML header and track list.
func (w *WebMWriter) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateIdle {
		return stateError("start", w.state)
	}
	if len(w.entries) == 0 {
		return fmt.Errorf("start without tracks: %w", media.ErrWriterState)
	}

	blocks, err := webm.NewSimpleBlockWriter(w.out, w.entries,
		mkvcore.WithOnFatalHandler(func(err error) {
			w.logger.Error("WebM writer failed", "error", err)
			w.fatal.Store(&err)
		}))
	if err != nil {
		return fmt.Errorf("failed to create webm writer: %w", err)
	}

	w.blocks = blocks
	w.state = stateStarted
	w.logger.Info("Container started", "tracks", len(w.entries))
	return nil
}

// WriteSample implements Writer.
func (w *WebMWriter) WriteSample(track int, sample media.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateStarted {
		return stateError("write sample", w.state)
	}
	if track < 0 || track >= len(w.blocks) {
		return fmt.Errorf("unknown track %d: %w", track, media.ErrWriterState)
	}
	if err := w.fatal.Load(); err != nil {
		return fmt.Errorf("webm writer failed: %w", *err)
	}

	payload := sample.Data
	keyFrame := true
	if w.formats[track].Kind == media.KindVideo {
		var err error
		if payload, err = toAVCC(payload); err != nil {
			return err
		}
		keyFrame = sample.KeyFrame
	}
	if len(payload) == 0 {
		return nil
	}

	if _, err := w.blocks[track].Write(keyFrame, sample.Timestamp/1000, bytes.Clone(payload)); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}
	w.counts[track]++
	return nil
}

// Stop implements Writer. Closing every block writer finalizes the segment.
func (w *WebMWriter) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateStarted {
		return stateError("stop", w.state)
	}
	w.state = stateStopped

	var firstErr error
	for _, b := range w.blocks {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.logger.Info("Container stopped", "samples", w.counts)
	if firstErr != nil {
		return fmt.Errorf("failed to finalize webm: %w", firstErr)
	}
	return nil
}

// Release implements Writer.
func (w *WebMWriter) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == stateReleased {
		return stateError("release", w.state)
	}
	w.state = stateReleased
	return w.out.Close()
}

// onceCloser lets both the block writers and Release close the output.
type onceCloser struct {
	io.WriteCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() { c.err = c.WriteCloser.Close() })
	return c.err
}
