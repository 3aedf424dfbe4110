package source

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// TestPattern is a FrameSource emitting moving colour bars at a fixed rate.
type TestPattern struct {
	Width     int
	Height    int
	FrameRate int
	// Limit stops the source after this many frames when non-zero.
	Limit int

	frames  chan Frame
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	dropped int
}

// NewTestPattern returns a test pattern source with a frame buffer of
// depth frames.
func NewTestPattern(width, height, fps, depth int) *TestPattern {
	if depth <= 0 {
		depth = 4
	}
	return &TestPattern{
		Width:     width,
		Height:    height,
		FrameRate: fps,
		frames:    make(chan Frame, depth),
		done:      make(chan struct{}),
	}
}

// Start implements FrameSource.
func (s *TestPattern) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	return nil
}

func (s *TestPattern) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.frames)

	fps := s.FrameRate
	if fps <= 0 {
		fps = 25
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for n := 0; s.Limit == 0 || n < s.Limit; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		f := Frame{Data: s.render(n), Width: s.Width, Height: s.Height}
		select {
		case s.frames <- f:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		}
	}
}

// render draws eight vertical luma bars scrolling one column per frame,
// with neutral chroma.
func (s *TestPattern) render(n int) []byte {
	buf := make([]byte, FrameSize(s.Width, s.Height))
	luma := buf[:s.Width*s.Height]
	barWidth := max(s.Width/8, 1)
	for y := 0; y < s.Height; y++ {
		row := luma[y*s.Width : (y+1)*s.Width]
		for x := range row {
			row[x] = byte(16 + ((x+n)/barWidth%8)*29)
		}
	}
	for i := len(luma); i < len(buf); i++ {
		buf[i] = 128
	}
	return buf
}

// Frames implements FrameSource.
func (s *TestPattern) Frames() <-chan Frame { return s.frames }

// Err implements FrameSource.
func (s *TestPattern) Err() error {
	return detached("test pattern", nil)
}

// Dropped returns the number of frames discarded because the buffer was full.
func (s *TestPattern) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Stop implements FrameSource.
func (s *TestPattern) Stop() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
	return nil
}

// Sine is an AudioSource producing a tone paced to real time.
type Sine struct {
	SampleRate int
	Channels   int
	Frequency  float64
	// Limit ends the source after this many sample frames when non-zero.
	Limit int

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	phase   float64
	emitted int
	started time.Time
}

// NewSine returns a 440 Hz tone source.
func NewSine(sampleRate, channels int) *Sine {
	return &Sine{SampleRate: sampleRate, Channels: channels, Frequency: 440}
}

// Start implements AudioSource.
func (s *Sine) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()
	return nil
}

// Read implements AudioSource. It fills p with whole sample frames and
// sleeps so that output does not run ahead of the wall clock.
func (s *Sine) Read(p []byte) (int, error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return 0, detached("sine", nil)
	}

	channels := max(s.Channels, 1)
	frames := len(p) / (2 * channels)
	if s.Limit > 0 {
		frames = min(frames, s.Limit-s.emitted)
	}
	if frames <= 0 {
		return 0, detached("sine", nil)
	}

	due := s.started.Add(time.Duration(s.emitted+frames) * time.Second / time.Duration(s.SampleRate))
	select {
	case <-ctx.Done():
		return 0, detached("sine", ctx.Err())
	case <-time.After(time.Until(due)):
	}

	step := 2 * math.Pi * s.Frequency / float64(s.SampleRate)
	off := 0
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(s.phase) * 0.3 * math.MaxInt16)
		s.phase += step
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(p[off:], uint16(v))
			off += 2
		}
	}
	s.emitted += frames
	return off, nil
}

// Stop implements AudioSource.
func (s *Sine) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
