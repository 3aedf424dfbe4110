// Package pipeline runs one track's capture, encode and drain loop.
//
// A Pipeline owns its encoder handle. The capture goroutine moves raw input
// from the source into the encoder; the drain goroutine moves encoded output
// into the mux coordinator. Every state change goes through transition,
// which validates it against the transition table, stores the state
// atomically and publishes it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/avrec/internal/clock"
	"github.com/smazurov/avrec/internal/codec"
	"github.com/smazurov/avrec/internal/events"
	"github.com/smazurov/avrec/internal/logging"
	"github.com/smazurov/avrec/internal/media"
	"github.com/smazurov/avrec/internal/metrics"
	"github.com/smazurov/avrec/internal/source"
)

const (
	maxTryAgain = 5

	defaultDrainTimeout = 10 * time.Millisecond
	defaultInputTimeout = 10 * time.Millisecond
	defaultEOSTimeout   = 3 * time.Second
	defaultPollInterval = 20 * time.Millisecond
)

// Muxer is the coordinator a pipeline feeds.
type Muxer interface {
	Attach(kind media.TrackKind) error
	RegisterTrack(kind media.TrackKind, format media.Format) (int, error)
	OpenBarrier(ctx context.Context, kind media.TrackKind) error
	Write(index int, sample media.Sample) error
	CloseBarrier(kind media.TrackKind) error
}

// Listener is notified when a pipeline is prepared and when it has released.
type Listener interface {
	OnPrepared(p *Pipeline)
	OnStopped(p *Pipeline)
}

// Config describes one pipeline.
type Config struct {
	Kind   media.TrackKind
	Format media.Format
	Lookup codec.Lookup
	Muxer  Muxer

	// Epoch is the session start shared by every pipeline of a session.
	Epoch time.Time
	Wall  clock.WallFunc

	// Frames feeds a video pipeline, Audio an audio pipeline.
	Frames source.FrameSource
	Audio  source.AudioSource
	// ChunkSize is the PCM read size of an audio pipeline.
	ChunkSize int

	Listener  Listener
	SessionID string
	Events    events.Publisher
	Logger    *slog.Logger

	DrainTimeout time.Duration
	InputTimeout time.Duration
	EOSTimeout   time.Duration
	PollInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.InputTimeout <= 0 {
		c.InputTimeout = defaultInputTimeout
	}
	if c.EOSTimeout <= 0 {
		c.EOSTimeout = defaultEOSTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = source.ChunkSize(1024, max(c.Format.Channels, 1))
	}
	if c.Epoch.IsZero() {
		c.Epoch = time.Now()
	}
	if c.Logger == nil {
		c.Logger = logging.GetLogger("pipeline")
	}
}

// Pipeline is one track's encoder pipeline.
type Pipeline struct {
	cfg    Config
	kind   media.TrackKind
	logger *slog.Logger
	clock  *clock.Clock

	state atomic.Int32
	mu    sync.Mutex
	err   error

	enc     codec.Encoder
	encName string
	track   atomic.Int32
	lastTS  atomic.Int64

	// Owned by the drain goroutine.
	mono       clock.Monotonic
	formatSeen bool

	ctx         context.Context
	cancel      context.CancelFunc
	quit        chan struct{}
	quitOnce    sync.Once
	drainReq    chan struct{}
	captureDone chan struct{}
	done        chan struct{}
	releaseOnce sync.Once
}

// New creates an idle pipeline and attaches it to the coordinator.
func New(cfg Config) (*Pipeline, error) {
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("unknown track kind %q", cfg.Kind)
	}
	if cfg.Lookup == nil || cfg.Muxer == nil {
		return nil, errors.New("pipeline needs an encoder lookup and a muxer")
	}
	if cfg.Kind == media.KindVideo && cfg.Frames == nil {
		return nil, errors.New("video pipeline without frame source")
	}
	if cfg.Kind == media.KindAudio && cfg.Audio == nil {
		return nil, errors.New("audio pipeline without audio source")
	}
	cfg.setDefaults()

	if err := cfg.Muxer.Attach(cfg.Kind); err != nil {
		return nil, err
	}

	logger := cfg.Logger.With("track", cfg.Kind)
	if cfg.SessionID != "" {
		logger = logger.With("session_id", cfg.SessionID)
	}
	p := &Pipeline{
		cfg:         cfg,
		kind:        cfg.Kind,
		logger:      logger,
		clock:       clock.New(cfg.Epoch, cfg.Wall),
		ctx:         context.Background(),
		quit:        make(chan struct{}),
		drainReq:    make(chan struct{}, 1),
		captureDone: make(chan struct{}),
		done:        make(chan struct{}),
	}
	p.track.Store(-1)
	metrics.SetPipelineState(p.kind.String(), int(Idle))
	return p, nil
}

// Kind returns the track kind.
func (p *Pipeline) Kind() media.TrackKind { return p.kind }

// State returns the current state without locking.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// LastTimestamp returns the last presentation time written, in microseconds.
func (p *Pipeline) LastTimestamp() int64 { return p.lastTS.Load() }

// Err returns the failure that ended the pipeline, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed once the pipeline has released.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

func (p *Pipeline) transition(to State) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transitionLocked(to)
}

func (p *Pipeline) transitionLocked(to State) (State, error) {
	from := p.State()
	if !canTransition(from, to) {
		return from, fmt.Errorf("%s: %s -> %s: %w", p.kind, from, to, ErrInvalidTransition)
	}
	p.state.Store(int32(to))

	metrics.SetPipelineState(p.kind.String(), int(to))
	p.logger.Debug("State changed", "from", from, "to", to)
	events.Publish(p.cfg.Events, events.PipelineStateChangedEvent{
		SessionID: p.cfg.SessionID,
		Track:     p.kind.String(),
		From:      from.String(),
		To:        to.String(),
		Timestamp: events.Now(),
	})
	return from, nil
}

// Prepare looks up and configures the encoder. On failure the pipeline
// stays idle.
func (p *Pipeline) Prepare() error {
	if s := p.State(); s != Idle {
		return fmt.Errorf("%s: prepare in state %s: %w", p.kind, s, ErrInvalidTransition)
	}

	capability, err := p.cfg.Lookup.FindEncoder(media.MimeFor(p.kind))
	if err != nil {
		return capabilityError(p.kind, err)
	}
	enc, err := capability.Open()
	if err != nil {
		return capabilityError(p.kind, err)
	}
	if err := enc.Configure(p.cfg.Format); err != nil {
		_ = enc.Release()
		return capabilityError(p.kind, err)
	}

	p.mu.Lock()
	p.enc = enc
	p.encName = capability.Name
	_, err = p.transitionLocked(Preparing)
	p.mu.Unlock()
	if err != nil {
		_ = enc.Release()
		return err
	}

	p.logger.Info("Encoder prepared", "encoder", capability.Name, "hwaccel", capability.HWAccel, "format", p.cfg.Format.String())
	if p.cfg.Listener != nil {
		p.cfg.Listener.OnPrepared(p)
	}
	return nil
}

func capabilityError(kind media.TrackKind, err error) error {
	if !errors.Is(err, media.ErrCapabilityUnavailable) {
		err = fmt.Errorf("%w: %w", media.ErrCapabilityUnavailable, err)
	}
	return media.NewError(media.ErrCodeCapability, fmt.Sprintf("no usable %s encoder", kind), err)
}

// Start starts the encoder, the source and both goroutines. ctx bounds the
// open barrier wait.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.State(); s != Preparing {
		return fmt.Errorf("%s: start in state %s: %w", p.kind, s, ErrInvalidTransition)
	}
	if err := p.enc.Start(); err != nil {
		return media.NewError(media.ErrCodeEncoder, "encoder start failed", err)
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	if err := p.startSource(p.ctx); err != nil {
		p.cancel()
		return media.NewError(media.ErrCodeSource, fmt.Sprintf("%s source start failed", p.kind), err)
	}
	if _, err := p.transitionLocked(Capturing); err != nil {
		return err
	}

	go p.drainLoop()
	go p.captureLoop()
	return nil
}

func (p *Pipeline) startSource(ctx context.Context) error {
	if p.kind == media.KindVideo {
		return p.cfg.Frames.Start(ctx)
	}
	return p.cfg.Audio.Start(ctx)
}

// stopSource stops the source. It may run from halt and from the capture
// goroutine at the same time; every source's Stop is idempotent.
func (p *Pipeline) stopSource() {
	var err error
	if p.kind == media.KindVideo {
		err = p.cfg.Frames.Stop()
	} else {
		err = p.cfg.Audio.Stop()
	}
	if err != nil {
		p.logger.Warn("Failed to stop source", "error", err)
	}
}

// Pause stops feeding the encoder and freezes the clock. Queued output
// keeps draining.
func (p *Pipeline) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.transitionLocked(Paused); err != nil {
		return err
	}
	p.clock.Pause()
	return nil
}

// Resume continues capture; the paused interval is removed from timestamps.
func (p *Pipeline) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State() != Paused {
		return fmt.Errorf("%s: resume in state %s: %w", p.kind, p.State(), ErrInvalidTransition)
	}
	p.clock.Resume()
	_, err := p.transitionLocked(Capturing)
	return err
}

// Stop requests shutdown and returns immediately; observe completion with
// Done. A running pipeline drains, signals end of stream and drains again
// before releasing. An idle or prepared pipeline releases directly.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	switch s := p.State(); s {
	case Capturing, Paused:
		_, err := p.transitionLocked(Stopping)
		if err == nil && s == Paused {
			// Output drained after the stop is stamped as if the pause
			// ended here.
			p.clock.Resume()
		}
		p.mu.Unlock()
		if err != nil {
			return err
		}
		p.halt()
		return nil
	case Idle, Preparing:
		p.mu.Unlock()
		p.halt()
		p.release()
		return nil
	default:
		p.mu.Unlock()
		return nil
	}
}

// halt wakes every blocking point: capture, the drain loop and the open
// barrier wait. A started source is stopped as well, since a blocked Read
// may only return once its source stops.
func (p *Pipeline) halt() {
	p.quitOnce.Do(func() {
		close(p.quit)
		p.mu.Lock()
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
			go p.stopSource()
		}
	})
}

// abort records a fault and shuts the pipeline down without a final drain.
func (p *Pipeline) abort(err error) {
	p.setErr(err)
	p.logger.Error("Pipeline failed", "error", err)
	p.halt()
}

func (p *Pipeline) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *Pipeline) requestDrain() {
	select {
	case p.drainReq <- struct{}{}:
	default:
	}
}

func encoderFault(op string, err error) error {
	return media.NewError(media.ErrCodeEncoder, op, err)
}

// release frees the encoder, passes the close barrier and notifies the
// listener. It runs once.
func (p *Pipeline) release() {
	p.releaseOnce.Do(func() {
		if p.enc != nil {
			if err := p.enc.Release(); err != nil {
				p.logger.Warn("Failed to release encoder", "error", err)
			}
		}
		if err := p.cfg.Muxer.CloseBarrier(p.kind); err != nil {
			p.setErr(err)
		}

		dropped := p.sourceDropped()
		metrics.RecordSourceDropped(p.kind.String(), dropped)

		if err := p.Err(); err != nil {
			metrics.RecordEncoderFault(p.kind.String())
			events.Publish(p.cfg.Events, events.PipelineFailedEvent{
				SessionID: p.cfg.SessionID,
				Track:     p.kind.String(),
				Error:     err.Error(),
				Fatal:     media.IsFatalToSession(err),
				Timestamp: events.Now(),
			})
		}
		if _, err := p.transition(Released); err != nil {
			p.logger.Warn("Release transition rejected", "error", err)
		}
		p.logger.Info("Pipeline released",
			"last_timestamp_us", p.LastTimestamp(),
			"paused", p.clock.Offset(),
			"source_dropped", dropped,
			"error", p.Err())

		if p.cfg.Listener != nil {
			p.cfg.Listener.OnStopped(p)
		}
		close(p.done)
	})
}

// sourceDropped returns the frames the source discarded, when it counts them.
func (p *Pipeline) sourceDropped() int {
	if dc, ok := p.cfg.Frames.(source.DropCounter); ok {
		return dc.Dropped()
	}
	return 0
}

// Info is a snapshot for status reporting.
type Info struct {
	Kind          media.TrackKind
	State         State
	Encoder       string
	Track         int
	LastTimestamp int64
	// Paused is the pause time removed from timestamps so far.
	Paused        time.Duration
	SourceDropped int
	Err           error
}

// Info returns a status snapshot.
func (p *Pipeline) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Info{
		Kind:          p.kind,
		State:         p.State(),
		Encoder:       p.encName,
		Track:         int(p.track.Load()),
		LastTimestamp: p.lastTS.Load(),
		Paused:        p.clock.Offset(),
		SourceDropped: p.sourceDropped(),
		Err:           p.err,
	}
}
