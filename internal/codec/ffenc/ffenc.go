// Package ffenc implements codec.Encoder on top of an ffmpeg child process.
// Raw input is written to the child's stdin; its stdout carries an H.264
// Annex-B elementary stream or ADTS-framed AAC that is cut back into
// access units.
package ffenc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/google/uuid"

	"github.com/smazurov/avrec/internal/codec"
	"github.com/smazurov/avrec/internal/encoders/validation"
	"github.com/smazurov/avrec/internal/ffmpeg"
	"github.com/smazurov/avrec/internal/logging"
	"github.com/smazurov/avrec/internal/media"
	"github.com/smazurov/avrec/internal/metrics/collectors"
	"github.com/smazurov/avrec/internal/process"
)

const (
	defaultInputSlots = 4
	outputQueue       = 64
	aacFrameSamples   = 1024
	readSize          = 64 * 1024
)

var (
	errReleased   = errors.New("encoder released")
	errNotRunning = errors.New("encoder not running")
)

// Config selects the ffmpeg encoder and how it is tuned.
type Config struct {
	// Name is the ffmpeg encoder, e.g. h264_vaapi or aac.
	Name string
	// Settings are the production settings of the encoder family.
	Settings *validation.EncoderSettings
	// Quality maps a target bitrate to encoder options. When nil the
	// bitrate is passed as -b:v or -b:a.
	Quality func(bitrate int) (validation.EncoderParams, error)
	// InputSlots bounds the raw chunks in flight. Defaults to 4.
	InputSlots int
	// ProgressDir enables ffmpeg progress reporting through a socket
	// created in this directory.
	ProgressDir string
	LogLevel    string
	Logger      *slog.Logger
}

type input struct {
	index int
	data  []byte
}

// stderrTail keeps the last error line ffmpeg printed.
type stderrTail struct {
	mu   sync.Mutex
	line string
}

// HandleLine implements process.OutputHandler.
func (t *stderrTail) HandleLine(_, line string) {
	switch level, msg := ffmpeg.ParseLogLevel(line); level {
	case "error", "fatal", "panic":
		t.mu.Lock()
		t.line = msg
		t.mu.Unlock()
	}
}

func (t *stderrTail) last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.line
}

// Encoder is a codec.Encoder backed by one ffmpeg process.
type Encoder struct {
	cfg    Config
	id     string
	logger *slog.Logger
	argv   func(media.Format) ([]string, error)

	mu          sync.Mutex
	format      media.Format
	configured  bool
	started     bool
	eos         bool
	released    bool
	child       *process.Child
	stderr      stderrTail
	collector   *collectors.ProgressCollector
	outstanding map[int]bool
	nextOut     int
	pts         []int64
	audioBase   int64
	audioBased  bool
	audioFrames int64
	readErr     error

	slots      chan int
	inputs     chan input
	outputs    chan codec.Output
	quit       chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}

	releaseOnce sync.Once
}

// New returns an unconfigured encoder.
func New(cfg Config) *Encoder {
	if cfg.InputSlots <= 0 {
		cfg.InputSlots = defaultInputSlots
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger("encoder")
	}
	e := &Encoder{
		cfg:         cfg,
		id:          cfg.Name + "-" + uuid.NewString()[:8],
		logger:      logger.With("encoder", cfg.Name),
		outstanding: make(map[int]bool),
		slots:       make(chan int, cfg.InputSlots),
		inputs:      make(chan input, cfg.InputSlots),
		outputs:     make(chan codec.Output, outputQueue),
		quit:        make(chan struct{}),
		readerDone:  make(chan struct{}),
		writerDone:  make(chan struct{}),
	}
	for i := range cfg.InputSlots {
		e.slots <- i
	}
	e.argv = e.buildArgs
	return e
}

// ID identifies the encoder in logs and metrics.
func (e *Encoder) ID() string { return e.id }

// Configure implements codec.Encoder.
func (e *Encoder) Configure(format media.Format) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("configure after start")
	}
	if !format.Kind.Valid() {
		return fmt.Errorf("invalid track kind %q", format.Kind)
	}
	e.format = format
	e.configured = true
	return nil
}

func (e *Encoder) buildArgs(format media.Format) ([]string, error) {
	p := &ffmpeg.EncoderParams{
		Kind:       format.Kind,
		Encoder:    e.cfg.Name,
		Width:      format.Width,
		Height:     format.Height,
		FPS:        format.FrameRate,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		GOP:        format.FrameRate * ffmpeg.KeyFrameIntervalSeconds,
		LogLevel:   e.cfg.LogLevel,
	}
	if s := e.cfg.Settings; s != nil {
		p.GlobalArgs = s.GlobalArgs
		p.VideoFilters = s.VideoFilters
		p.EncoderArgs = s.OutputParams.Args()
	}
	if e.cfg.Quality != nil && format.Bitrate > 0 {
		q, err := e.cfg.Quality(format.Bitrate)
		if err != nil {
			return nil, err
		}
		p.EncoderArgs = append(p.EncoderArgs, q.Args()...)
	} else {
		p.Bitrate = format.Bitrate
	}
	if e.collector != nil {
		p.ProgressSocket = e.collector.SocketPath()
	}
	return ffmpeg.BuildEncoderArgs(p)
}

// Start implements codec.Encoder. It launches the ffmpeg process.
func (e *Encoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.released:
		return errReleased
	case !e.configured:
		return errors.New("start before configure")
	case e.started:
		return errors.New("encoder already started")
	}

	if e.cfg.ProgressDir != "" {
		c := collectors.NewProgressCollector(filepath.Join(e.cfg.ProgressDir, e.id+".sock"), string(e.format.Kind))
		if err := c.Start(context.Background()); err != nil {
			e.logger.Warn("Progress reporting disabled", "error", err)
		} else {
			e.collector = c
		}
	}

	args, err := e.argv(e.format)
	if err != nil {
		e.stopCollector()
		return fmt.Errorf("failed to build encoder command: %w", err)
	}

	child := process.New(e.id, args, e.logger)
	child.SetLogParser(logging.GetLogger("ffmpeg").With("encoder", e.cfg.Name), ffmpeg.ParseLogLevel)
	child.SetOutputHandler(&e.stderr)
	if err := child.Start(context.Background()); err != nil {
		e.stopCollector()
		return err
	}
	e.child = child
	e.started = true

	go e.writeLoop(child.Stdin())
	go e.readLoop(child.Stdout())
	return nil
}

// DequeueInput implements codec.Encoder.
func (e *Encoder) DequeueInput(timeout time.Duration) (int, error) {
	e.mu.Lock()
	released, eos := e.released, e.eos
	e.mu.Unlock()
	if released {
		return -1, errReleased
	}
	if eos {
		return -1, codec.ErrTryAgain
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case idx := <-e.slots:
		return idx, nil
	case <-timer.C:
		return -1, codec.ErrTryAgain
	case <-e.quit:
		return -1, errReleased
	}
}

// QueueInput implements codec.Encoder. data is copied.
func (e *Encoder) QueueInput(index int, data []byte, pts int64, _ media.BufferFlags) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return errReleased
	}
	if !e.started || e.eos {
		return errNotRunning
	}
	if e.format.Kind == media.KindVideo {
		e.pts = append(e.pts, pts)
	} else if !e.audioBased {
		e.audioBase = pts
		e.audioBased = true
	}
	// Never blocks: at most InputSlots inputs are outstanding.
	e.inputs <- input{index: index, data: append([]byte(nil), data...)}
	return nil
}

// SignalEndOfStream implements codec.Encoder. Closing stdin makes ffmpeg
// flush and exit.
func (e *Encoder) SignalEndOfStream() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return errReleased
	}
	if !e.started {
		return errNotRunning
	}
	if !e.eos {
		e.eos = true
		close(e.inputs)
	}
	return nil
}

// DequeueOutput implements codec.Encoder.
func (e *Encoder) DequeueOutput(timeout time.Duration) (codec.Output, error) {
	e.mu.Lock()
	released, started := e.released, e.started
	e.mu.Unlock()
	if released {
		return codec.Output{}, errReleased
	}
	if !started {
		return codec.Output{}, errNotRunning
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out, ok := <-e.outputs:
		if ok {
			return out, nil
		}
		e.mu.Lock()
		err := e.readErr
		e.mu.Unlock()
		if err != nil {
			return codec.Output{}, err
		}
		return codec.Output{Kind: codec.OutputTryAgain}, nil
	case <-timer.C:
		return codec.Output{Kind: codec.OutputTryAgain}, nil
	}
}

// ReleaseOutput implements codec.Encoder.
func (e *Encoder) ReleaseOutput(buf *codec.Buffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if buf == nil || !e.outstanding[buf.Index] {
		return errors.New("buffer not outstanding")
	}
	delete(e.outstanding, buf.Index)
	return nil
}

// Release implements codec.Encoder. It stops the process and frees every
// resource. Safe to call more than once.
func (e *Encoder) Release() error {
	e.releaseOnce.Do(func() {
		e.mu.Lock()
		e.released = true
		if !e.eos {
			e.eos = true
			close(e.inputs)
		}
		child, started := e.child, e.started
		e.mu.Unlock()

		close(e.quit)
		if started {
			if code := child.Stop(); code != 0 {
				e.logger.Debug("Encoder process stopped", "exit_code", code)
			}
			<-e.writerDone
			<-e.readerDone
		}
		e.stopCollector()
	})
	return nil
}

func (e *Encoder) stopCollector() {
	if e.collector != nil {
		e.collector.Stop()
	}
}

// writeLoop feeds queued input to ffmpeg and recycles the input slots.
// After a write error input is discarded so the capture side keeps moving;
// the reader reports the process failure.
func (e *Encoder) writeLoop(stdin io.WriteCloser) {
	defer close(e.writerDone)

	var failed bool
	for in := range e.inputs {
		if !failed {
			if _, err := stdin.Write(in.data); err != nil {
				e.logger.Warn("Failed to write to encoder", "error", err)
				failed = true
			}
		}
		select {
		case e.slots <- in.index:
		default:
		}
	}
	if err := stdin.Close(); err != nil && !failed {
		e.logger.Debug("Failed to close encoder input", "error", err)
	}
}

// readLoop turns ffmpeg output into codec outputs until EOF.
func (e *Encoder) readLoop(stdout io.ReadCloser) {
	defer close(e.readerDone)
	defer close(e.outputs)
	defer stdout.Close()

	var (
		split      func([]byte) error
		flush      func()
		announced  bool
		videoSplit auSplitter
		audioSplit adtsSplitter
	)

	if e.format.Kind == media.KindVideo {
		split = func(b []byte) error {
			for _, au := range videoSplit.push(b) {
				if !e.emitVideo(au, &announced) {
					return errReleased
				}
			}
			return nil
		}
		flush = func() {
			if au := videoSplit.flush(); len(au) > 0 {
				e.emitVideo(au, &announced)
			}
		}
	} else {
		split = func(b []byte) error {
			pkts, err := audioSplit.push(b)
			for _, pkt := range pkts {
				if !e.emitAudio(pkt, &announced) {
					return errReleased
				}
			}
			return err
		}
		flush = func() {}
	}

	buf := make([]byte, readSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if serr := split(buf[:n]); serr != nil {
				if !errors.Is(serr, errReleased) {
					e.fail(media.NewError(media.ErrCodeEncoder, "malformed encoder output", serr))
				}
				return
			}
		}
		if err != nil {
			break
		}
	}
	flush()
	e.finish()
}

// finish reports how the process ended: an end-of-stream buffer after
// SignalEndOfStream, an encoder fault otherwise.
func (e *Encoder) finish() {
	code, werr := e.child.Wait()

	e.mu.Lock()
	eos, released := e.eos, e.released
	e.mu.Unlock()
	if released {
		return
	}
	if eos {
		if code != 0 {
			e.logger.Warn("Encoder exited with error after end of stream", "exit_code", code, "error", werr)
		}
		e.send(codec.Output{Kind: codec.OutputData, Buffer: e.track(&codec.Buffer{Flags: media.FlagEndOfStream})})
		return
	}
	msg := fmt.Sprintf("encoder process exited unexpectedly (code %d)", code)
	if last := e.stderr.last(); last != "" {
		msg += ": " + last
	}
	e.fail(media.NewError(media.ErrCodeEncoder, msg, werr))
}

func (e *Encoder) fail(err error) {
	e.mu.Lock()
	e.readErr = err
	e.mu.Unlock()
}

// send delivers an output unless the encoder is being released.
func (e *Encoder) send(out codec.Output) bool {
	select {
	case e.outputs <- out:
		return true
	case <-e.quit:
		return false
	}
}

func (e *Encoder) track(buf *codec.Buffer) *codec.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextOut++
	buf.Index = e.nextOut
	e.outstanding[buf.Index] = true
	return buf
}

func (e *Encoder) nextVideoPTS() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pts) == 0 {
		return 0
	}
	pts := e.pts[0]
	e.pts = e.pts[1:]
	return pts
}

func (e *Encoder) nextAudioPTS(sampleRate int) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	pts := e.audioBase + e.audioFrames*aacFrameSamples*1_000_000/int64(sampleRate)
	e.audioFrames++
	return pts
}

func (e *Encoder) emitVideo(au [][]byte, announced *bool) bool {
	if !*announced {
		sps, pps := parameterSets(au)
		if sps == nil || pps == nil {
			e.logger.Debug("Dropping access unit before parameter sets", "nalus", len(au))
			e.nextVideoPTS()
			return true
		}
		format := e.format
		format.Codec = media.CodecH264
		format.SPS = sps
		format.PPS = pps
		if !e.send(codec.Output{Kind: codec.OutputFormatChanged, Format: format}) {
			return false
		}
		ps := h264.AnnexB{sps, pps}
		config, err := ps.Marshal()
		if err == nil && !e.send(codec.Output{Kind: codec.OutputData, Buffer: e.track(&codec.Buffer{
			Data:  config,
			Flags: media.FlagCodecConfig,
		})}) {
			return false
		}
		*announced = true
	}

	annexb := h264.AnnexB(au)
	data, err := annexb.Marshal()
	if err != nil {
		e.logger.Warn("Failed to encode access unit", "error", err)
		return true
	}
	var flags media.BufferFlags
	if isKeyFrame(au) {
		flags |= media.FlagKeyFrame
	}
	return e.send(codec.Output{Kind: codec.OutputData, Buffer: e.track(&codec.Buffer{
		Data:  data,
		Flags: flags,
		PTS:   e.nextVideoPTS(),
	})})
}

func (e *Encoder) emitAudio(pkt *mpeg4audio.ADTSPacket, announced *bool) bool {
	if !*announced {
		config, err := audioConfig(pkt)
		if err != nil {
			e.logger.Warn("Failed to build AudioSpecificConfig", "error", err)
		}
		format := e.format
		format.Codec = media.CodecAAC
		format.SampleRate = pkt.SampleRate
		format.Channels = pkt.ChannelCount
		format.AudioConfig = config
		format.SamplesPerAU = aacFrameSamples
		if !e.send(codec.Output{Kind: codec.OutputFormatChanged, Format: format}) {
			return false
		}
		if len(config) > 0 && !e.send(codec.Output{Kind: codec.OutputData, Buffer: e.track(&codec.Buffer{
			Data:  config,
			Flags: media.FlagCodecConfig,
		})}) {
			return false
		}
		*announced = true
	}
	return e.send(codec.Output{Kind: codec.OutputData, Buffer: e.track(&codec.Buffer{
		Data:  pkt.AU,
		Flags: media.FlagKeyFrame,
		PTS:   e.nextAudioPTS(pkt.SampleRate),
	})})
}

var _ codec.Encoder = (*Encoder)(nil)
