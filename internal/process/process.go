package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// OutputHandler receives stderr lines from the subprocess.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from process output.
type LogParser func(line string) (level, msg string)

// ErrNotStarted is returned when a child is used before Start.
var ErrNotStarted = errors.New("process not started")

// Child is one subprocess with piped stdin and stdout.
type Child struct {
	id              string
	args            []string
	logger          *slog.Logger
	processLogger   *slog.Logger // logger for process output (nil = use logger)
	logParser       LogParser    // parses process output for log level (nil = no parsing)
	outputHandler   OutputHandler
	gracefulTimeout time.Duration // timeout for graceful shutdown before force kill
	killTimeout     time.Duration // timeout after Kill() before giving up

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	exitCode  int
	lastErr   error
	stopping  bool

	stdin    io.WriteCloser
	stdout   *os.File
	done     chan struct{}
	errDone  chan struct{}
	stopOnce sync.Once
}

// New creates a child for args[0] with args[1:].
func New(id string, args []string, logger *slog.Logger) *Child {
	return &Child{
		id:              id,
		args:            args,
		logger:          logger,
		state:           StateIdle,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		done:            make(chan struct{}),
		errDone:         make(chan struct{}),
	}
}

// SetLogParser sets a custom logger and log parser for process output.
// The logger is used for process output (e.g., module="ffmpeg").
func (c *Child) SetLogParser(logger *slog.Logger, parser LogParser) {
	c.processLogger = logger
	c.logParser = parser
}

// SetOutputHandler registers a handler for every stderr line.
func (c *Child) SetOutputHandler(h OutputHandler) {
	c.outputHandler = h
}

// SetTimeouts overrides the graceful and kill timeouts.
func (c *Child) SetTimeouts(graceful, kill time.Duration) {
	c.gracefulTimeout = graceful
	c.killTimeout = kill
}

// Args returns the argv of the child.
func (c *Child) Args() []string { return c.args }

// Command returns the argv joined for display.
func (c *Child) Command() string { return strings.Join(c.args, " ") }

// Start launches the subprocess. Cancelling ctx stops it gracefully.
func (c *Child) Start(ctx context.Context) error {
	if len(c.args) == 0 {
		return fmt.Errorf("empty command")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil {
		return fmt.Errorf("process %s already started", c.id)
	}

	cmd := exec.Command(c.args[0], c.args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	// os.Pipe instead of StdoutPipe: Wait must not close the read side
	// before the consumer has seen every byte.
	outR, outW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			f.Close()
		}
		c.state = StateError
		c.lastErr = err
		c.logger.Error("Failed to start process", "id", c.id, "error", err, "command", c.Command())
		return fmt.Errorf("failed to start %s: %w", c.args[0], err)
	}
	outW.Close()
	errW.Close()

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = outR
	c.state = StateRunning
	c.startedAt = time.Now()
	c.logger.Info("Process started", "id", c.id, "pid", cmd.Process.Pid, "command", c.Command())

	go func() {
		c.streamOutput(errR, "stderr")
		errR.Close()
		close(c.errDone)
	}()
	go c.wait()
	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-c.done:
		}
	}()
	return nil
}

func (c *Child) wait() {
	err := c.cmd.Wait()
	<-c.errDone

	code := exitCodeFromError(err)
	c.mu.Lock()
	c.exitCode = code
	if c.stopping || code == 0 {
		c.state = StateExited
	} else {
		c.state = StateError
		c.lastErr = err
	}
	stopping := c.stopping
	c.mu.Unlock()

	if err != nil && !stopping {
		c.logger.Warn("Process exited", "id", c.id, "exit_code", code, "error", err)
	} else {
		c.logger.Debug("Process exited", "id", c.id, "exit_code", code)
	}
	close(c.done)
}

// Stdin returns the write side of the child's stdin.
func (c *Child) Stdin() io.WriteCloser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdin
}

// Stdout returns the read side of the child's stdout. It reaches EOF once
// the child has exited and all output was read.
func (c *Child) Stdout() io.ReadCloser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout
}

// Done is closed once the child has exited.
func (c *Child) Done() <-chan struct{} { return c.done }

// Wait blocks until the child exits and returns its exit code.
func (c *Child) Wait() (int, error) {
	c.mu.Lock()
	started := c.cmd != nil
	c.mu.Unlock()
	if !started {
		return -1, ErrNotStarted
	}
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode, c.lastErr
}

// Stop sends SIGINT, waits for the graceful timeout and kills the child if
// it is still running. It returns the exit code, 137 after a kill.
func (c *Child) Stop() int {
	c.mu.Lock()
	started := c.cmd != nil
	c.mu.Unlock()
	if !started {
		return 0
	}

	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopping = true
		if c.state == StateRunning {
			c.state = StateStopping
		}
		c.mu.Unlock()

		select {
		case <-c.done:
			return
		default:
		}
		c.sendStopSignal()
		c.waitForExit()
	})

	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

// sendStopSignal sends SIGINT to the subprocess without waiting.
func (c *Child) sendStopSignal() {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	c.logger.Debug("Sending SIGINT to process", "id", c.id, "pid", c.cmd.Process.Pid)
	if err := c.signalGroup(syscall.SIGINT); err != nil {
		c.logger.Warn("Failed to send SIGINT", "error", err)
	}
}

// signalGroup signals the child's process group so helpers spawned by a
// shell wrapper go down with it.
func (c *Child) signalGroup(sig syscall.Signal) error {
	pid := c.cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	if err := c.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// waitForExit waits for the child with a timeout, force-killing if needed.
func (c *Child) waitForExit() {
	select {
	case <-c.done:
		return
	case <-time.After(c.gracefulTimeout):
	}

	c.logger.Warn("Graceful shutdown timeout, forcing kill", "id", c.id, "timeout", c.gracefulTimeout)
	if err := c.signalGroup(syscall.SIGKILL); err != nil {
		c.logger.Error("Failed to kill process", "error", err)
	}
	select {
	case <-c.done:
	case <-time.After(c.killTimeout):
		c.logger.Error("Process did not exit after kill signal", "id", c.id)
	}
}

// Info returns a snapshot of the child.
func (c *Child) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := Info{
		ID:        c.id,
		State:     c.state,
		StartedAt: c.startedAt,
		ExitCode:  c.exitCode,
		LastError: c.lastErr,
	}
	if c.cmd != nil && c.cmd.Process != nil {
		info.PID = c.cmd.Process.Pid
	}
	return info
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
	}
	return 1
}

// streamOutput logs every line of reader at the level the parser reports.
func (c *Child) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)

	logger := c.processLogger
	if logger == nil {
		logger = c.logger
	}
	logger = logger.With("id", c.id)

	for scanner.Scan() {
		line := scanner.Text()

		if c.outputHandler != nil {
			c.outputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if c.logParser != nil {
			level, msg = c.logParser(line)
		}

		switch level {
		case "fatal", "panic", "error":
			logger.Error(msg)
		case "warning":
			logger.Warn(msg)
		case "debug", "trace", "verbose":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn("Error reading output", "source", source, "error", err)
	}
}

// Output runs a short-lived command and returns its stdout.
func Output(ctx context.Context, args ...string) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", args[0], err, lastLine(msg))
		}
		return out, fmt.Errorf("%s: %w", args[0], err)
	}
	return out, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
