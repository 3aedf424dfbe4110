package collectors

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/avrec/internal/metrics"
)

func skipOnMacOS(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("Unix socket path too long on macOS")
	}
}

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("failed to connect to socket: %v", err)
	}
	return conn
}

func waitForFPS(t *testing.T, encoder string, want float64) *metrics.EncoderMetrics {
	t.Helper()
	for range 100 {
		if m := metrics.GetEncoderMetrics(encoder); m != nil && m.FPS == want {
			return m
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("FPS of %s never reached %v (got %+v)", encoder, want, metrics.GetEncoderMetrics(encoder))
	return nil
}

func TestReadProgress(t *testing.T) {
	input := `frame=10
fps=29.97
  speed = 1.25x
no_equals_sign

progress=continue
fps=30
progress=end
fps=31
`
	var blocks []map[string]string
	if err := ReadProgress(strings.NewReader(input), func(b map[string]string) {
		blocks = append(blocks, b)
	}); err != nil {
		t.Fatalf("ReadProgress: %v", err)
	}

	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2 (unterminated trailing block dropped)", len(blocks))
	}
	if blocks[0]["fps"] != "29.97" || blocks[0]["speed"] != "1.25x" || blocks[0]["frame"] != "10" {
		t.Errorf("first block = %v", blocks[0])
	}
	if blocks[1]["fps"] != "30" || blocks[1]["progress"] != "end" {
		t.Errorf("second block = %v", blocks[1])
	}
	if _, ok := blocks[1]["frame"]; ok {
		t.Error("blocks must not share keys")
	}
}

func TestProgressCollectorReportsMetrics(t *testing.T) {
	skipOnMacOS(t)
	socketPath := filepath.Join(t.TempDir(), "progress.sock")
	encoder := "test-progress-video"
	metrics.DeleteEncoderMetrics(encoder)

	c := NewProgressCollector(socketPath, encoder)
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("failed to start collector: %v", err)
	}
	defer c.Stop()

	conn := dial(t, socketPath)
	defer conn.Close()

	if _, err := conn.Write([]byte("fps=29.97\ndrop_frames=3\ndup_frames=1\nspeed=1.25x\nprogress=continue\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := waitForFPS(t, encoder, 29.97)
	if m.DroppedFrames != 3 || m.DuplicateFrames != 1 || m.Speed != 1.25 {
		t.Errorf("unexpected metrics %+v", m)
	}

	if _, err := conn.Write([]byte("fps=60\nprogress=continue\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForFPS(t, encoder, 60)
}

func TestProgressCollectorStop(t *testing.T) {
	skipOnMacOS(t)
	socketPath := filepath.Join(t.TempDir(), "stop.sock")
	encoder := "test-progress-stop"

	c := NewProgressCollector(socketPath, encoder)
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("failed to start collector: %v", err)
	}

	// An open connection must not block Stop.
	conn := dial(t, socketPath)
	defer conn.Close()

	metrics.SetEncoderFPS(encoder, 30)

	if err := c.Stop(); err != nil {
		t.Errorf("stop returned error: %v", err)
	}
	if m := metrics.GetEncoderMetrics(encoder); m != nil {
		t.Error("expected metrics to be deleted after stop")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("expected socket file to be removed")
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second stop returned error: %v", err)
	}
}

func TestProgressCollectorStopWithoutStart(t *testing.T) {
	c := NewProgressCollector(filepath.Join(t.TempDir(), "never.sock"), "test-never")
	if err := c.Stop(); err != nil {
		t.Errorf("stop returned error: %v", err)
	}
}

func TestProgressCollectorReplacesStaleSocket(t *testing.T) {
	skipOnMacOS(t)
	socketPath := filepath.Join(t.TempDir(), "stale.sock")

	f, err := os.Create(socketPath)
	if err != nil {
		t.Fatalf("failed to create stale socket: %v", err)
	}
	f.Close()

	c := NewProgressCollector(socketPath, "test-stale")
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("failed to start collector: %v", err)
	}
	defer c.Stop()

	dial(t, socketPath).Close()
}
