// Package mux aligns independently encoded tracks into one container.
//
// Pipelines attach at creation, declare their track once the encoder has
// announced its format, then wait at the open barrier. The container starts
// exactly once, when every attached pipeline that is still expected has
// reached the barrier. It is stopped and released exactly once, when the
// last attached pipeline passes the close barrier.
package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/avrec/internal/container"
	"github.com/smazurov/avrec/internal/events"
	"github.com/smazurov/avrec/internal/logging"
	"github.com/smazurov/avrec/internal/media"
	"github.com/smazurov/avrec/internal/metrics"
)

type trackState struct {
	kind     media.TrackKind
	index    int
	ready    bool
	released bool
	written  int
}

// Options configures a Coordinator.
type Options struct {
	SessionID string
	Events    events.Publisher
	Logger    *slog.Logger
}

// Coordinator owns the container writer. A single mutex guards the
// counters, the open/close decisions and every writer call.
type Coordinator struct {
	writer    container.Writer
	sessionID string
	events    events.Publisher
	logger    *slog.Logger

	mu         sync.Mutex
	tracks     map[media.TrackKind]*trackState
	byIndex    map[int]*trackState
	registered int // attached pipelines still expected at the open barrier
	ready      int
	active     int
	open       bool
	closed     bool
	openErr    error
	dropped    int

	opened chan struct{}
	done   chan struct{}
}

// New returns a coordinator owning w.
func New(w container.Writer, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("mux")
	}
	if opts.SessionID != "" {
		logger = logger.With("session_id", opts.SessionID)
	}
	return &Coordinator{
		writer:    w,
		sessionID: opts.SessionID,
		events:    opts.Events,
		logger:    logger,
		tracks:    make(map[media.TrackKind]*trackState),
		byIndex:   make(map[int]*trackState),
		opened:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Attach registers a pipeline for kind. Each kind may attach once.
func (c *Coordinator) Attach(kind media.TrackKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("attach %s after close: %w", kind, media.ErrWriterState)
	}
	if c.open {
		return fmt.Errorf("attach %s after open: %w", kind, media.ErrAlreadyStarted)
	}
	if _, ok := c.tracks[kind]; ok {
		return fmt.Errorf("%s pipeline already attached: %w", kind, media.ErrAlreadyStarted)
	}

	c.tracks[kind] = &trackState{kind: kind, index: -1}
	c.registered++
	c.active++
	c.logger.Debug("Pipeline attached", "track", kind, "registered", c.registered)
	return nil
}

// RegisterTrack adds the track for kind to the container and returns its index.
func (c *Coordinator) RegisterTrack(kind media.TrackKind, format media.Format) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tracks[kind]
	if !ok {
		return -1, fmt.Errorf("%s pipeline not attached: %w", kind, media.ErrWriterState)
	}
	if c.open || c.closed {
		return -1, fmt.Errorf("register %s track after open: %w", kind, media.ErrAlreadyStarted)
	}
	if t.index >= 0 {
		return -1, fmt.Errorf("%s track already registered: %w", kind, media.ErrAlreadyStarted)
	}

	idx, err := c.writer.AddTrack(format)
	if err != nil {
		return -1, fmt.Errorf("failed to add %s track: %w", kind, err)
	}
	t.index = idx
	c.byIndex[idx] = t
	c.logger.Info("Track registered", "track", kind, "index", idx, "format", format.String())
	return idx, nil
}

// OpenBarrier marks kind ready and blocks until the container is open,
// closed, or ctx is done. The container is started by whichever caller
// completes the set.
func (c *Coordinator) OpenBarrier(ctx context.Context, kind media.TrackKind) error {
	c.mu.Lock()
	t, ok := c.tracks[kind]
	switch {
	case !ok:
		c.mu.Unlock()
		return fmt.Errorf("%s pipeline not attached: %w", kind, media.ErrWriterState)
	case t.index < 0:
		c.mu.Unlock()
		return fmt.Errorf("%s reached open barrier without a track: %w", kind, media.ErrWriterState)
	case !t.ready && !t.released:
		t.ready = true
		c.ready++
		c.logger.Debug("Track ready", "track", kind, "ready", c.ready, "registered", c.registered)
		c.maybeOpenLocked()
	}
	c.mu.Unlock()

	select {
	case <-c.opened:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.openErr
	case <-c.done:
		return fmt.Errorf("container closed before open: %w", media.ErrInterrupted)
	case <-ctx.Done():
		return fmt.Errorf("open barrier wait: %w", media.ErrInterrupted)
	}
}

// maybeOpenLocked starts the writer once every expected pipeline is ready.
func (c *Coordinator) maybeOpenLocked() {
	if c.open || c.closed || c.openErr != nil {
		return
	}
	if c.registered == 0 || c.ready != c.registered {
		return
	}

	if err := c.writer.Start(); err != nil {
		c.openErr = fmt.Errorf("container start: %w: %w", media.ErrWriterState, err)
		c.logger.Error("Failed to start container", "error", err)
		close(c.opened)
		return
	}
	c.open = true
	close(c.opened)
	metrics.SetContainerOpen(true)
	c.logger.Info("Container opened", "tracks", c.ready)
	events.Publish(c.events, events.ContainerOpenedEvent{
		SessionID: c.sessionID,
		Tracks:    c.ready,
		Timestamp: events.Now(),
	})
}

// Write forwards a sample to the container while it is open. Samples
// arriving outside the open window are dropped and counted.
func (c *Coordinator) Write(index int, sample media.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.byIndex[index]
	if !ok {
		return fmt.Errorf("write to unknown track %d: %w", index, media.ErrWriterState)
	}
	if !c.open || c.closed {
		c.dropped++
		metrics.RecordDropped(t.kind.String())
		return nil
	}

	if err := c.writer.WriteSample(index, sample); err != nil {
		return fmt.Errorf("failed to write %s sample: %w", t.kind, err)
	}
	t.written++
	metrics.RecordSample(t.kind.String(), len(sample.Data), sample.Timestamp)
	return nil
}

// CloseBarrier records that the pipeline for kind has released. A pipeline
// leaving before it reached the open barrier no longer holds the container
// closed for the others. The last pipeline out closes the writer.
func (c *Coordinator) CloseBarrier(kind media.TrackKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tracks[kind]
	if !ok || t.released {
		return nil
	}
	t.released = true
	c.active--

	if !t.ready {
		c.registered--
		c.logger.Debug("Pipeline left before open barrier", "track", kind, "registered", c.registered)
		if c.active > 0 {
			c.maybeOpenLocked()
		}
	}

	if c.active > 0 {
		return nil
	}
	return c.closeLocked()
}

func (c *Coordinator) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	defer close(c.done)

	var errs []error
	if c.open {
		if err := c.writer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop container: %w", err))
		}
	}
	if err := c.writer.Release(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release container: %w", err))
	}
	metrics.SetContainerOpen(false)

	samples := make(map[string]int, len(c.tracks))
	for kind, t := range c.tracks {
		samples[kind.String()] = t.written
	}
	c.logger.Info("Container closed", "opened", c.open, "samples", samples, "dropped", c.dropped)
	events.Publish(c.events, events.ContainerClosedEvent{
		SessionID: c.sessionID,
		Opened:    c.open,
		Samples:   samples,
		Dropped:   c.dropped,
		Timestamp: events.Now(),
	})

	return errors.Join(errs...)
}

// Done is closed once the writer has been closed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Snapshot is a point-in-time view of the coordinator.
type Snapshot struct {
	Registered int
	Ready      int
	Active     int
	Open       bool
	Closed     bool
	Dropped    int
	Written    map[media.TrackKind]int
}

// Snapshot returns the current counters.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Registered: c.registered,
		Ready:      c.ready,
		Active:     c.active,
		Open:       c.open,
		Closed:     c.closed,
		Dropped:    c.dropped,
		Written:    make(map[media.TrackKind]int, len(c.tracks)),
	}
	for kind, t := range c.tracks {
		s.Written[kind] = t.written
	}
	return s
}
