// Package recorder is the control surface over recording sessions. It
// fans start, stop, pause and resume out to the encoder pipelines of the
// current session under one lock.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/avrec/internal/clock"
	"github.com/smazurov/avrec/internal/codec"
	"github.com/smazurov/avrec/internal/container"
	"github.com/smazurov/avrec/internal/events"
	"github.com/smazurov/avrec/internal/logging"
	"github.com/smazurov/avrec/internal/media"
	"github.com/smazurov/avrec/internal/metrics"
	"github.com/smazurov/avrec/internal/mux"
	"github.com/smazurov/avrec/internal/pipeline"
	"github.com/smazurov/avrec/internal/source"
)

// Controller is the operation set exposed to the API and CLI.
type Controller interface {
	Start(ctx context.Context, opts Options) (*Session, error)
	Stop() (*Session, error)
	Pause() error
	Resume() error
	Status() Status
}

// Sources builds the raw producers of a session.
type Sources interface {
	Video(format media.Format, device string) (source.FrameSource, error)
	Audio(format media.Format, device string) (source.AudioSource, error)
}

// WriterFactory opens the container for a session.
type WriterFactory func(path string, kind container.Kind) (container.Writer, error)

// Config wires a Recorder.
type Config struct {
	Lookup  codec.Lookup
	Sources Sources
	// OpenWriter defaults to container.Create.
	OpenWriter WriterFactory
	// Listener receives every pipeline's prepare and stop callbacks.
	Listener pipeline.Listener
	Events   events.Publisher
	Logger   *slog.Logger
	// Now defaults to time.Now. It sets the session epoch and file name.
	Now func() time.Time
	// Wall is the pipelines' presentation clock source. Defaults to time.Now.
	Wall clock.WallFunc

	DrainTimeout time.Duration
	EOSTimeout   time.Duration
}

// Recorder runs at most one session at a time.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	session *Session
	last    *Session
}

// New creates a Recorder.
func New(cfg Config) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger("recorder")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OpenWriter == nil {
		cfg.OpenWriter = func(path string, kind container.Kind) (container.Writer, error) {
			return container.Create(path, kind, container.Options{})
		}
	}
	return &Recorder{cfg: cfg, logger: cfg.Logger}
}

// Start begins a new session with a fresh coordinator and pipeline set.
// Tracks whose encoder or source is unavailable are skipped; Start fails
// only when no track can record. ctx scopes values only: the session runs
// until Stop or until every pipeline ends.
func (r *Recorder) Start(ctx context.Context, opts Options) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil && r.session.active() {
		return nil, fmt.Errorf("session %s: %w", r.session.ID, media.ErrAlreadyStarted)
	}
	if r.cfg.Lookup == nil || r.cfg.Sources == nil {
		return nil, media.NewError(media.ErrCodeConfig, "recorder has no encoder lookup or sources", nil)
	}

	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	started := r.cfg.Now()
	path := container.OutputPath(opts.OutputDir, started, opts.Container)
	writer, err := r.cfg.OpenWriter(path, opts.Container)
	if err != nil {
		return nil, media.NewError(media.ErrCodeWriterState, "failed to create output", err)
	}

	id := uuid.NewString()
	logger := r.logger.With("session_id", id)
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		ID:       id,
		Path:     path,
		Started:  started,
		Options:  opts,
		coord:    mux.New(writer, mux.Options{SessionID: id, Events: r.cfg.Events, Logger: logging.GetLogger("mux").With("session_id", id)}),
		skipped:  make(map[media.TrackKind]error),
		listener: r.cfg.Listener,
		events:   r.cfg.Events,
		logger:   logger,
		cancel:   cancel,
		state:    events.SessionRecording,
		done:     make(chan struct{}),
	}

	if err := r.buildPipelines(s, started); err != nil {
		cancel()
		r.discard(s, writer)
		return nil, err
	}

	prepared := r.prepare(s)
	running := 0
	for _, p := range prepared {
		if err := p.Start(sctx); err != nil {
			s.skipped[p.Kind()] = err
			logger.Warn("Track failed to start, recording without it", "track", p.Kind(), "error", err)
			_ = p.Stop()
			continue
		}
		running++
	}
	if running == 0 {
		cancel()
		r.discard(s, writer)
		return nil, r.noTracks(s)
	}

	metrics.SessionStarted()
	logger.Info("Recording started", "path", path, "container", opts.Container, "tracks", running)
	s.setState(events.SessionRecording, nil)

	r.session = s
	r.last = s
	go s.watch(r.sessionDone)
	return s, nil
}

// buildPipelines creates one pipeline per enabled track. Pipelines attach
// to the coordinator on creation.
func (r *Recorder) buildPipelines(s *Session, epoch time.Time) error {
	opts := s.Options
	common := func(kind media.TrackKind, format media.Format) pipeline.Config {
		return pipeline.Config{
			Kind:         kind,
			Format:       format,
			Lookup:       r.cfg.Lookup,
			Muxer:        s.coord,
			Epoch:        epoch,
			Wall:         r.cfg.Wall,
			Listener:     s,
			SessionID:    s.ID,
			Events:       r.cfg.Events,
			Logger:       logging.GetLogger("pipeline"),
			DrainTimeout: r.cfg.DrainTimeout,
			EOSTimeout:   r.cfg.EOSTimeout,
		}
	}

	if opts.Video.Enabled {
		format := opts.videoFormat()
		frames, err := r.cfg.Sources.Video(format, opts.Video.Device)
		if err != nil {
			s.skipped[media.KindVideo] = err
			s.logger.Warn("Video source unavailable", "device", opts.Video.Device, "error", err)
		} else {
			cfg := common(media.KindVideo, format)
			cfg.Frames = frames
			p, err := pipeline.New(cfg)
			if err != nil {
				return err
			}
			s.pipelines = append(s.pipelines, p)
		}
	}

	if opts.Audio.Enabled {
		format := opts.audioFormat()
		audio, err := r.cfg.Sources.Audio(format, opts.Audio.Device)
		if err != nil {
			s.skipped[media.KindAudio] = err
			s.logger.Warn("Audio source unavailable", "device", opts.Audio.Device, "error", err)
		} else {
			cfg := common(media.KindAudio, format)
			cfg.Audio = audio
			cfg.ChunkSize = source.ChunkSize(SamplesPerFrame, format.Channels)
			p, err := pipeline.New(cfg)
			if err != nil {
				return err
			}
			s.pipelines = append(s.pipelines, p)
		}
	}
	return nil
}

// prepare prepares every pipeline and returns the ones that succeeded.
// The others are released and recorded as skipped.
func (r *Recorder) prepare(s *Session) []*pipeline.Pipeline {
	var ok []*pipeline.Pipeline
	for _, p := range s.pipelines {
		if err := p.Prepare(); err != nil {
			s.skipped[p.Kind()] = err
			s.logger.Warn("Track unavailable, recording without it", "track", p.Kind(), "error", err)
			_ = p.Stop()
			continue
		}
		ok = append(ok, p)
	}
	return ok
}

// discard releases a session that never started and removes its file.
func (r *Recorder) discard(s *Session, writer container.Writer) {
	for _, p := range s.pipelines {
		_ = p.Stop()
	}
	if len(s.pipelines) == 0 {
		if err := writer.Release(); err != nil {
			s.logger.Warn("Failed to release container", "error", err)
		}
	}
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove unused output", "path", s.Path, "error", err)
	}
}

func (r *Recorder) noTracks(s *Session) error {
	errs := make([]error, 0, len(s.skipped))
	for _, err := range s.skipped {
		errs = append(errs, err)
	}
	cause := errors.Join(errs...)
	if cause == nil || !errors.Is(cause, media.ErrCapabilityUnavailable) {
		cause = errors.Join(media.ErrCapabilityUnavailable, cause)
	}
	return media.NewError(media.ErrCodeCapability, "no track could start recording", cause)
}

func (r *Recorder) sessionDone(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == s {
		r.session = nil
	}
}

// Stop ends the current session and drops it. The returned session
// completes asynchronously; use Done or Wait.
func (r *Recorder) Stop() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if s == nil {
		return nil, media.ErrNoSession
	}
	r.session = nil
	s.logger.Info("Stopping recording")
	s.stop()
	return s, nil
}

// Pause pauses every capturing pipeline. Without a session it does nothing.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil || !r.session.active() {
		return nil
	}
	return r.session.pause()
}

// Resume resumes every paused pipeline. Without a session it does nothing.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil || !r.session.active() {
		return nil
	}
	return r.session.resume()
}

// Status reports the current session, or the last one when idle.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.session != nil:
		return r.session.status()
	case r.last != nil:
		st := r.last.status()
		st.Active = false
		return st
	default:
		return Status{State: events.SessionStopped}
	}
}

// Current returns the active session, if any.
func (r *Recorder) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}
