package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/avrec/internal/ffmpeg"
	"github.com/smazurov/avrec/internal/logging"
	"github.com/smazurov/avrec/internal/media"
	"github.com/smazurov/avrec/internal/process"
)

// defaultStopTimeout bounds how long a capture child may take to exit on
// SIGINT before it is killed. A capture has no output worth flushing.
const defaultStopTimeout = 2 * time.Second

// capture runs the ffmpeg child behind a device source.
type capture struct {
	name        string
	params      ffmpeg.SourceParams
	logger      *slog.Logger
	argv        func() ([]string, error)
	stopTimeout time.Duration

	mu    sync.Mutex
	child *process.Child
}

func newCapture(name string, p ffmpeg.SourceParams, logger *slog.Logger) *capture {
	if logger == nil {
		logger = logging.GetLogger("source")
	}
	c := &capture{name: name, params: p, logger: logger.With("device", p.Device), stopTimeout: defaultStopTimeout}
	c.argv = func() ([]string, error) { return ffmpeg.BuildSourceArgs(&c.params) }
	return c
}

func (c *capture) start(ctx context.Context) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.child != nil {
		return nil, fmt.Errorf("%s: %w", c.name, media.ErrAlreadyStarted)
	}

	args, err := c.argv()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	child := process.New(c.name, args, c.logger)
	child.SetLogParser(logging.GetLogger("ffmpeg").With("source", c.name), ffmpeg.ParseLogLevel)
	child.SetTimeouts(c.stopTimeout, c.stopTimeout)
	if err := child.Start(ctx); err != nil {
		return nil, err
	}
	c.child = child
	return child.Stdout(), nil
}

// exitErr reports why the child ended, for the detached error.
func (c *capture) exitErr() error {
	c.mu.Lock()
	child := c.child
	c.mu.Unlock()
	if child == nil {
		return nil
	}
	code, err := child.Wait()
	if code == 0 {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("exit code %d", code)
	}
	return err
}

func (c *capture) stop() {
	c.mu.Lock()
	child := c.child
	c.mu.Unlock()
	if child != nil {
		child.Stop()
	}
}

// VideoDevice is a FrameSource reading raw yuv420p frames from an ffmpeg
// capture of a V4L2 device or lavfi graph.
type VideoDevice struct {
	dev *capture

	frames  chan Frame
	done    chan struct{}
	mu      sync.Mutex
	err     error
	dropped int
	once    sync.Once
}

// NewVideoDevice creates a video source. depth bounds the frame buffer.
func NewVideoDevice(p ffmpeg.SourceParams, depth int, logger *slog.Logger) *VideoDevice {
	if depth <= 0 {
		depth = 4
	}
	p.Kind = media.KindVideo
	return &VideoDevice{
		dev:    newCapture("video-source", p, logger),
		frames: make(chan Frame, depth),
		done:   make(chan struct{}),
	}
}

// Start implements FrameSource.
func (s *VideoDevice) Start(ctx context.Context) error {
	stdout, err := s.dev.start(ctx)
	if err != nil {
		return err
	}
	go s.run(stdout)
	return nil
}

func (s *VideoDevice) run(stdout io.ReadCloser) {
	defer close(s.done)
	defer close(s.frames)
	defer stdout.Close()

	p := s.dev.params
	size := FrameSize(p.Width, p.Height)
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			cause := s.dev.exitErr()
			if cause == nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				cause = err
			}
			s.mu.Lock()
			s.err = detached("video device "+p.Device, cause)
			s.mu.Unlock()
			return
		}

		select {
		case s.frames <- Frame{Data: buf, Width: p.Width, Height: p.Height}:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		}
	}
}

// Frames implements FrameSource.
func (s *VideoDevice) Frames() <-chan Frame { return s.frames }

// Err implements FrameSource.
func (s *VideoDevice) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped returns the number of frames discarded because the buffer was full.
func (s *VideoDevice) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Stop implements FrameSource.
func (s *VideoDevice) Stop() error {
	s.once.Do(func() {
		s.dev.stop()
		s.dev.mu.Lock()
		started := s.dev.child != nil
		s.dev.mu.Unlock()
		if started {
			<-s.done
		}
	})
	return nil
}

// AudioDevice is an AudioSource reading s16le PCM from an ffmpeg capture
// of an ALSA or PulseAudio device or lavfi graph.
type AudioDevice struct {
	dev *capture

	mu     sync.Mutex
	stdout io.ReadCloser
	err    error
}

// NewAudioDevice creates an audio source.
func NewAudioDevice(p ffmpeg.SourceParams, logger *slog.Logger) *AudioDevice {
	p.Kind = media.KindAudio
	return &AudioDevice{dev: newCapture("audio-source", p, logger)}
}

// Start implements AudioSource.
func (s *AudioDevice) Start(ctx context.Context) error {
	stdout, err := s.dev.start(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.stdout = stdout
	s.mu.Unlock()
	return nil
}

// Read implements AudioSource. It returns whole sample frames only.
func (s *AudioDevice) Read(p []byte) (int, error) {
	s.mu.Lock()
	stdout, failed := s.stdout, s.err
	s.mu.Unlock()
	if failed != nil {
		return 0, failed
	}
	if stdout == nil {
		return 0, detached("audio device "+s.dev.params.Device, nil)
	}

	frame := 2 * max(s.dev.params.Channels, 1)
	n, err := io.ReadFull(stdout, p[:len(p)-len(p)%frame])
	if err != nil {
		cause := s.dev.exitErr()
		if cause == nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			cause = err
		}
		derr := detached("audio device "+s.dev.params.Device, cause)
		s.mu.Lock()
		s.err = derr
		s.mu.Unlock()
		return 0, derr
	}
	return n, nil
}

// Stop implements AudioSource. A blocked Read returns once the child exits.
func (s *AudioDevice) Stop() error {
	s.dev.stop()
	return nil
}
