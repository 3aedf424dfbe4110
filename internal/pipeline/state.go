package pipeline

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of an encoder pipeline.
type State int32

// Pipeline states.
const (
	Idle State = iota
	Preparing
	Capturing
	Paused
	Stopping
	Draining
	Released
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Capturing:
		return "capturing"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Draining:
		return "draining"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Active reports whether the pipeline owns running goroutines.
func (s State) Active() bool {
	return s >= Capturing && s < Released
}

// ErrInvalidTransition is returned when an operation is not allowed in the
// current state.
var ErrInvalidTransition = errors.New("invalid pipeline state transition")

// transitions lists the allowed targets of every state. Released is
// reachable from every other state on failure or release.
var transitions = map[State][]State{
	Idle:      {Preparing, Released},
	Preparing: {Capturing, Released},
	Capturing: {Paused, Stopping, Released},
	Paused:    {Capturing, Stopping, Released},
	Stopping:  {Draining, Released},
	Draining:  {Released},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
