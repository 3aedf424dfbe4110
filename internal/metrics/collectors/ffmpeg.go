// Package collectors feeds encoder metrics from external sources: ffmpeg
// progress reports and the Rockchip MPP load file.
package collectors

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/smazurov/avrec/internal/metrics"
)

// ProgressCollector receives `-progress` reports from one ffmpeg encoder
// process over a Unix socket.
type ProgressCollector struct {
	logger     *slog.Logger
	socketPath string
	encoderID  string

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewProgressCollector creates a collector listening on socketPath and
// reporting under encoderID.
func NewProgressCollector(socketPath, encoderID string) *ProgressCollector {
	return &ProgressCollector{
		logger:     slog.With("component", "progress_collector", "encoder", encoderID),
		socketPath: socketPath,
		encoderID:  encoderID,
		conns:      make(map[net.Conn]struct{}),
		done:       make(chan struct{}),
	}
}

// SocketPath returns the path ffmpeg should report to.
func (c *ProgressCollector) SocketPath() string {
	return c.socketPath
}

// Start creates the socket. It must be called before the encoder process
// starts so ffmpeg can connect.
func (c *ProgressCollector) Start(ctx context.Context) error {
	if err := os.Remove(c.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("Failed to clean up old socket file", "error", err)
	}

	listener, err := net.Listen("unix", c.socketPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.listener = listener
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.closeAll()
	}()
	go c.accept(listener)
	return nil
}

// Stop closes the socket and drops the encoder's metrics.
func (c *ProgressCollector) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		started := c.listener != nil
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		c.closeAll()
		if started {
			<-c.done
		}
		os.Remove(c.socketPath)
		metrics.DeleteEncoderMetrics(c.encoderID)
	})
	return nil
}

func (c *ProgressCollector) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		c.listener.Close()
	}
	for conn := range c.conns {
		conn.Close()
	}
}

func (c *ProgressCollector) accept(listener net.Listener) {
	defer close(c.done)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				c.logger.Warn("Error accepting connection", "error", err)
			}
			return
		}

		c.mu.Lock()
		c.conns[conn] = struct{}{}
		c.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			c.handle(conn)

			c.mu.Lock()
			delete(c.conns, conn)
			c.mu.Unlock()
		}()
	}
}

func (c *ProgressCollector) handle(conn net.Conn) {
	defer conn.Close()
	if err := ReadProgress(conn, c.report); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug("Progress stream ended", "error", err)
	}
}

// ReadProgress parses ffmpeg progress blocks from r. Every block ends with a
// `progress=` line and is passed to fn as a key/value map.
func ReadProgress(r io.Reader, fn func(map[string]string)) error {
	scanner := bufio.NewScanner(r)
	block := make(map[string]string)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		block[key] = strings.TrimSpace(value)

		if key == "progress" {
			fn(block)
			block = make(map[string]string)
		}
	}
	return scanner.Err()
}

func (c *ProgressCollector) report(data map[string]string) {
	if fps, err := strconv.ParseFloat(data["fps"], 64); err == nil {
		metrics.SetEncoderFPS(c.encoderID, fps)
	}
	if dropped, err := strconv.ParseFloat(data["drop_frames"], 64); err == nil {
		metrics.SetEncoderDroppedFrames(c.encoderID, dropped)
	}
	if dup, err := strconv.ParseFloat(data["dup_frames"], 64); err == nil {
		metrics.SetEncoderDuplicateFrames(c.encoderID, dup)
	}
	speed := strings.TrimSpace(strings.TrimSuffix(data["speed"], "x"))
	if v, err := strconv.ParseFloat(speed, 64); err == nil {
		metrics.SetEncoderSpeed(c.encoderID, v)
	}
}
