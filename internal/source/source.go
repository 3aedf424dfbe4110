// Package source provides the raw media producers feeding the encoders.
package source

import (
	"context"
	"fmt"

	"github.com/smazurov/avrec/internal/media"
)

// Frame is one raw yuv420p picture.
type Frame struct {
	Data   []byte
	Width  int
	Height int
}

// FrameSource produces video frames on a bounded channel. Producers never
// block on a slow consumer: when the channel is full the frame is dropped.
type FrameSource interface {
	Start(ctx context.Context) error
	// Frames is closed when the source ends; Err then reports why.
	Frames() <-chan Frame
	Err() error
	// Stop ends the source. It may be called more than once.
	Stop() error
}

// DropCounter is implemented by frame sources that count the frames they
// discarded because the consumer fell behind.
type DropCounter interface {
	Dropped() int
}

// AudioSource produces interleaved signed 16-bit little-endian PCM.
type AudioSource interface {
	Start(ctx context.Context) error
	// Read blocks until PCM is available. It returns an error wrapping
	// media.ErrSourceDetached once the source has ended.
	Read(p []byte) (int, error)
	// Stop ends the source and makes a blocked Read return. It may be
	// called more than once and concurrently with Read.
	Stop() error
}

// FrameSize returns the byte size of a yuv420p frame.
func FrameSize(width, height int) int {
	return width*height + 2*((width+1)/2)*((height+1)/2)
}

// ChunkSize returns the PCM byte size of samples frames of audio.
func ChunkSize(samples, channels int) int {
	return samples * channels * 2
}

func detached(what string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s ended: %w", what, media.ErrSourceDetached)
	}
	return fmt.Errorf("%s ended: %w: %w", what, media.ErrSourceDetached, cause)
}
