// Package containertest provides a container.Writer fake that records
// every call and enforces the writer lifecycle contract.
package containertest

import (
	"fmt"
	"sync"

	"github.com/smazurov/avrec/internal/media"
)

// Writer records tracks and samples in memory. Contract violations are
// returned as errors wrapping media.ErrWriterState and counted.
type Writer struct {
	// FailStart makes Start fail with this error.
	FailStart error

	mu         sync.Mutex
	tracks     []media.Format
	samples    map[int][]media.Sample
	started    int
	stopped    int
	released   int
	violations []string
	calls      []string
}

// New returns an empty fake writer.
func New() *Writer {
	return &Writer{samples: make(map[int][]media.Sample)}
}

func (w *Writer) violate(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	w.violations = append(w.violations, msg)
	return fmt.Errorf("%s: %w", msg, media.ErrWriterState)
}

// AddTrack implements container.Writer.
func (w *Writer) AddTrack(format media.Format) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, "add:"+format.Kind.String())
	if w.started > 0 || w.released > 0 {
		return -1, w.violate("add track after start")
	}
	w.tracks = append(w.tracks, format)
	return len(w.tracks) - 1, nil
}

// Start implements container.Writer.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, "start")
	if w.FailStart != nil {
		return w.FailStart
	}
	if w.started > 0 || w.released > 0 {
		return w.violate("start called twice")
	}
	if len(w.tracks) == 0 {
		return w.violate("start without tracks")
	}
	w.started++
	return nil
}

// WriteSample implements container.Writer.
func (w *Writer) WriteSample(track int, sample media.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started == 0 || w.stopped > 0 || w.released > 0 {
		return w.violate("write outside started state")
	}
	if track < 0 || track >= len(w.tracks) {
		return w.violate("write to unknown track %d", track)
	}
	prev := w.samples[track]
	if n := len(prev); n > 0 && sample.Timestamp < prev[n-1].Timestamp {
		return w.violate("track %d timestamp went backwards: %d < %d", track, sample.Timestamp, prev[n-1].Timestamp)
	}
	w.samples[track] = append(prev, sample)
	return nil
}

// Stop implements container.Writer.
func (w *Writer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, "stop")
	if w.started == 0 || w.stopped > 0 || w.released > 0 {
		return w.violate("stop outside started state")
	}
	w.stopped++
	return nil
}

// Release implements container.Writer.
func (w *Writer) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, "release")
	if w.released > 0 {
		return w.violate("release called twice")
	}
	w.released++
	return nil
}

// Tracks returns the declared track formats.
func (w *Writer) Tracks() []media.Format {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]media.Format(nil), w.tracks...)
}

// TrackIndex returns the index of the track of the given kind, or -1.
func (w *Writer) TrackIndex(kind media.TrackKind) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, f := range w.tracks {
		if f.Kind == kind {
			return i
		}
	}
	return -1
}

// Samples returns the samples written to a track.
func (w *Writer) Samples(track int) []media.Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]media.Sample(nil), w.samples[track]...)
}

// Counts returns how often Start, Stop and Release succeeded.
func (w *Writer) Counts() (started, stopped, released int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started, w.stopped, w.released
}

// Violations returns recorded contract violations.
func (w *Writer) Violations() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.violations...)
}

// Calls returns the lifecycle calls in order (sample writes excluded).
func (w *Writer) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}
