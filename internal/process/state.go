package process

import "time"

// State represents the current state of a child process.
type State string

// Process states.
const (
	StateIdle     State = "idle"     // Not started
	StateRunning  State = "running"  // Active
	StateStopping State = "stopping" // SIGINT sent
	StateExited   State = "exited"   // Exited cleanly or was stopped
	StateError    State = "error"    // Failed to start or exited non-zero on its own
)

// Info contains information about a child process.
type Info struct {
	ID        string
	State     State
	PID       int
	StartedAt time.Time
	ExitCode  int
	LastError error
}
