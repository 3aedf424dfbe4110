// Package container writes encoded tracks into a timestamped media file.
//
// A Writer follows a strict lifecycle: AddTrack for every track, Start once,
// WriteSample while started, Stop once, Release once. Calls made out of
// order fail with an error wrapping media.ErrWriterState.
package container

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smazurov/avrec/internal/logging"
	"github.com/smazurov/avrec/internal/media"
)

// Writer is a container writer adapter.
type Writer interface {
	// AddTrack declares a track and returns its index.
	AddTrack(format media.Format) (int, error)
	Start() error
	WriteSample(track int, sample media.Sample) error
	Stop() error
	Release() error
}

// Kind selects the container format.
type Kind string

// Container kinds.
const (
	KindMP4  Kind = "mp4"
	KindWebM Kind = "webm"
)

// ParseKind parses a container kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindMP4, "":
		return KindMP4, nil
	case KindWebM:
		return KindWebM, nil
	default:
		return "", fmt.Errorf("unknown container kind %q", s)
	}
}

// Extension returns the file extension for the kind, without the dot.
func (k Kind) Extension() string {
	return string(k)
}

// FileTimeLayout names output files by capture start time.
const FileTimeLayout = "2006-01-02-15-04-05"

// OutputPath returns <dir>/<start time>.<ext>.
func OutputPath(dir string, start time.Time, kind Kind) string {
	return filepath.Join(dir, start.Format(FileTimeLayout)+"."+kind.Extension())
}

// Options configures a file writer.
type Options struct {
	// FragmentDuration bounds how much media an fMP4 fragment buffers.
	FragmentDuration time.Duration
	Logger           *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.FragmentDuration <= 0 {
		o.FragmentDuration = time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.GetLogger("container")
	}
	return o
}

// Create opens path (creating its directory) and returns a writer for kind.
func Create(path string, kind Kind, opts Options) (Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	opts = withPath(opts, path)
	switch kind {
	case KindWebM:
		return NewWebMWriter(f, opts), nil
	default:
		return NewFMP4Writer(f, opts), nil
	}
}

func withPath(opts Options, path string) Options {
	opts = opts.withDefaults()
	opts.Logger = opts.Logger.With("path", path)
	return opts
}

// state is the shared writer lifecycle.
type state int

const (
	stateIdle state = iota
	stateStarted
	stateStopped
	stateReleased
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateStarted:
		return "started"
	case stateStopped:
		return "stopped"
	case stateReleased:
		return "released"
	default:
		return "unknown"
	}
}

func stateError(op string, s state) error {
	return fmt.Errorf("%s in state %s: %w", op, s, media.ErrWriterState)
}
