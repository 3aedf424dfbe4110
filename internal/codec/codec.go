// Package codec defines the encoder handle capability the recording core
// drives, and the lookup used to obtain one for a track.
package codec

import (
	"errors"
	"time"

	"github.com/smazurov/avrec/internal/media"
)

// ErrTryAgain is returned by DequeueInput when no input slot became free
// within the timeout.
var ErrTryAgain = errors.New("try again")

// OutputKind classifies the result of DequeueOutput.
type OutputKind int

// Output kinds.
const (
	OutputTryAgain OutputKind = iota
	OutputFormatChanged
	OutputBuffersChanged
	OutputData
)

func (k OutputKind) String() string {
	switch k {
	case OutputTryAgain:
		return "try-again"
	case OutputFormatChanged:
		return "format-changed"
	case OutputBuffersChanged:
		return "buffers-changed"
	case OutputData:
		return "data"
	default:
		return "unknown"
	}
}

// Buffer is an encoder-owned output buffer. It must be handed back with
// ReleaseOutput once its payload has been consumed.
type Buffer struct {
	Index int
	Data  []byte
	Flags media.BufferFlags
	PTS   int64
}

// Output is one result of polling the encoder.
type Output struct {
	Kind   OutputKind
	Format media.Format // set for OutputFormatChanged
	Buffer *Buffer      // set for OutputData
}

// Encoder is a hardware or software encoder handle. A handle is owned by a
// single pipeline; input methods are called from its capture goroutine and
// output methods from its drain goroutine.
type Encoder interface {
	// Configure sets the requested output format. Must precede Start.
	Configure(format media.Format) error
	Start() error

	// DequeueInput reserves an input slot, or returns ErrTryAgain.
	DequeueInput(timeout time.Duration) (int, error)
	// QueueInput submits data for a reserved slot.
	QueueInput(index int, data []byte, pts int64, flags media.BufferFlags) error

	// DequeueOutput waits up to timeout for the next output event.
	DequeueOutput(timeout time.Duration) (Output, error)
	ReleaseOutput(buf *Buffer) error

	// SignalEndOfStream tells the encoder no more input follows. Pending
	// output is flushed and terminated by a buffer flagged FlagEndOfStream.
	SignalEndOfStream() error

	Release() error
}

// Capability describes a usable encoder for one MIME kind.
type Capability struct {
	Name        string
	Mime        string
	HWAccel     bool
	Description string

	// Open creates a fresh, unconfigured handle.
	Open func() (Encoder, error)
}

// Lookup finds an encoder capability for a MIME kind. Implementations
// return an error wrapping media.ErrCapabilityUnavailable when none exists.
type Lookup interface {
	FindEncoder(mime string) (Capability, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(mime string) (Capability, error)

// FindEncoder implements Lookup.
func (f LookupFunc) FindEncoder(mime string) (Capability, error) {
	return f(mime)
}
