// Package codectest provides an in-memory codec.Encoder for tests.
package codectest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/avrec/internal/codec"
	"github.com/smazurov/avrec/internal/media"
)

// ErrFault is the default error injected by FailAfter.
var ErrFault = errors.New("injected encoder fault")

// Encoder is a fake encoder. Every queued input produces one data buffer
// carrying the same payload. The output format is announced on the first
// DequeueOutput after Start, or once FormatGate is closed when set, followed
// by one codec-config buffer.
type Encoder struct {
	// Announce overrides the announced format. Defaults to the configured one.
	Announce *media.Format
	// FormatGate delays the format announcement until closed.
	FormatGate chan struct{}
	// Hold withholds queued data buffers, and so the end of stream, until
	// closed.
	Hold chan struct{}
	// FormatTwice announces the format a second time after the first data buffer.
	FormatTwice bool
	// FailAfter makes DequeueOutput fail once this many data buffers were delivered.
	FailAfter int
	FailErr   error
	// EmitEOS controls whether SignalEndOfStream produces an EOS buffer.
	// Nil means true.
	EmitEOS *bool

	mu          sync.Mutex
	notify      chan struct{}
	format      media.Format
	configured  bool
	started     bool
	released    bool
	announced   int
	configSent  bool
	pending     []*codec.Buffer
	outstanding map[int]bool
	nextIn      int
	nextOut     int
	delivered   int
	inputs      int
	eosSignaled bool
	eosSent     bool
	releases    int
}

// New returns a fake encoder.
func New() *Encoder {
	return &Encoder{
		notify:      make(chan struct{}, 1),
		outstanding: make(map[int]bool),
	}
}

func (e *Encoder) wake() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Configure implements codec.Encoder.
func (e *Encoder) Configure(format media.Format) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("configure after start")
	}
	e.format = format
	e.configured = true
	return nil
}

// Start implements codec.Encoder.
func (e *Encoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.configured {
		return fmt.Errorf("start before configure")
	}
	e.started = true
	return nil
}

// DequeueInput implements codec.Encoder.
func (e *Encoder) DequeueInput(time.Duration) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return -1, fmt.Errorf("encoder released")
	}
	if e.eosSignaled {
		return -1, codec.ErrTryAgain
	}
	e.nextIn++
	return e.nextIn, nil
}

// QueueInput implements codec.Encoder.
func (e *Encoder) QueueInput(_ int, data []byte, pts int64, flags media.BufferFlags) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released || !e.started {
		return fmt.Errorf("encoder not running")
	}
	e.inputs++
	payload := append([]byte(nil), data...)
	e.pending = append(e.pending, &codec.Buffer{
		Data:  payload,
		Flags: flags & media.FlagKeyFrame,
		PTS:   pts,
	})
	e.wake()
	return nil
}

func (e *Encoder) gateOpen() bool {
	if e.FormatGate == nil {
		return true
	}
	select {
	case <-e.FormatGate:
		return true
	default:
		return false
	}
}

func (e *Encoder) holdOpen() bool {
	if e.Hold == nil {
		return true
	}
	select {
	case <-e.Hold:
		return true
	default:
		return false
	}
}

// waitHold returns the hold channel while it withholds pending data, nil
// otherwise.
func (e *Encoder) waitHold() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) > 0 {
		return e.Hold
	}
	return nil
}

// waitGate returns the format gate while the announcement is still pending,
// nil otherwise.
func (e *Encoder) waitGate() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.announced == 0 {
		return e.FormatGate
	}
	return nil
}

func (e *Encoder) announcedFormat() media.Format {
	if e.Announce != nil {
		return *e.Announce
	}
	return e.format
}

func (e *Encoder) nextOutput() (codec.Output, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return codec.Output{}, false, fmt.Errorf("encoder released")
	}
	if !e.started {
		return codec.Output{}, false, fmt.Errorf("encoder not started")
	}
	if e.FailAfter > 0 && e.delivered >= e.FailAfter {
		if e.FailErr != nil {
			return codec.Output{}, false, e.FailErr
		}
		return codec.Output{}, false, ErrFault
	}
	if e.announced == 0 {
		if !e.gateOpen() {
			return codec.Output{}, false, nil
		}
		e.announced++
		return codec.Output{Kind: codec.OutputFormatChanged, Format: e.announcedFormat()}, true, nil
	}
	if e.FormatTwice && e.announced == 1 && e.delivered > 0 {
		e.announced++
		return codec.Output{Kind: codec.OutputFormatChanged, Format: e.announcedFormat()}, true, nil
	}
	if !e.configSent {
		e.configSent = true
		return codec.Output{Kind: codec.OutputData, Buffer: e.track(&codec.Buffer{
			Data:  []byte{0, 0, 0, 1},
			Flags: media.FlagCodecConfig,
		})}, true, nil
	}
	if len(e.pending) > 0 {
		if !e.holdOpen() {
			return codec.Output{}, false, nil
		}
		buf := e.pending[0]
		e.pending = e.pending[1:]
		e.delivered++
		return codec.Output{Kind: codec.OutputData, Buffer: e.track(buf)}, true, nil
	}
	if e.eosSignaled && !e.eosSent && (e.EmitEOS == nil || *e.EmitEOS) {
		e.eosSent = true
		return codec.Output{Kind: codec.OutputData, Buffer: e.track(&codec.Buffer{
			Flags: media.FlagEndOfStream,
		})}, true, nil
	}
	return codec.Output{}, false, nil
}

func (e *Encoder) track(buf *codec.Buffer) *codec.Buffer {
	e.nextOut++
	buf.Index = e.nextOut
	e.outstanding[buf.Index] = true
	return buf
}

// DequeueOutput implements codec.Encoder.
func (e *Encoder) DequeueOutput(timeout time.Duration) (codec.Output, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		out, ok, err := e.nextOutput()
		if err != nil {
			return codec.Output{}, err
		}
		if ok {
			return out, nil
		}

		select {
		case <-e.notify:
		case <-e.waitGate():
		case <-e.waitHold():
		case <-timer.C:
			return codec.Output{Kind: codec.OutputTryAgain}, nil
		}
	}
}

// ReleaseOutput implements codec.Encoder.
func (e *Encoder) ReleaseOutput(buf *codec.Buffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.outstanding[buf.Index] {
		return fmt.Errorf("buffer %d not outstanding", buf.Index)
	}
	delete(e.outstanding, buf.Index)
	return nil
}

// SignalEndOfStream implements codec.Encoder.
func (e *Encoder) SignalEndOfStream() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return fmt.Errorf("encoder released")
	}
	e.eosSignaled = true
	e.wake()
	return nil
}

// Release implements codec.Encoder.
func (e *Encoder) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released = true
	e.releases++
	e.wake()
	return nil
}

// Inputs returns the number of queued input buffers.
func (e *Encoder) Inputs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputs
}

// Released reports whether Release was called, and how often.
func (e *Encoder) Released() (bool, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released, e.releases
}

// Outstanding returns the number of output buffers not yet released.
func (e *Encoder) Outstanding() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.outstanding)
}

// EndOfStreamSignaled reports whether SignalEndOfStream was called.
func (e *Encoder) EndOfStreamSignaled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eosSignaled
}

// Lookup returns a codec.Lookup serving the given encoders by MIME kind.
// Kinds without an entry report media.ErrCapabilityUnavailable.
func Lookup(encoders map[string]*Encoder) codec.Lookup {
	return codec.LookupFunc(func(mime string) (codec.Capability, error) {
		enc, ok := encoders[mime]
		if !ok {
			return codec.Capability{}, fmt.Errorf("%s: %w", mime, media.ErrCapabilityUnavailable)
		}
		return codec.Capability{
			Name:        "fake",
			Mime:        mime,
			Description: "in-memory test encoder",
			Open:        func() (codec.Encoder, error) { return enc, nil },
		}, nil
	})
}
