package collectors

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/avrec/internal/logging"
	"github.com/smazurov/avrec/internal/metrics"
)

// DefaultMPPLoadPath is where the Rockchip MPP driver reports block load.
const DefaultMPPLoadPath = "/proc/mpp_service/load"

var errMPPLine = errors.New("not an MPP load line")

// HWLoadCollector polls the MPP load file while a hardware encoder is in use.
type HWLoadCollector struct {
	logger   *slog.Logger
	path     string
	interval time.Duration

	mu      sync.Mutex
	devices map[string]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHWLoadCollector creates a collector for the load file at path.
func NewHWLoadCollector(path string, interval time.Duration) *HWLoadCollector {
	if path == "" {
		path = DefaultMPPLoadPath
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HWLoadCollector{
		logger:   logging.GetLogger("hwenc"),
		path:     path,
		interval: interval,
		devices:  make(map[string]struct{}),
	}
}

// Available reports whether the load file exists on this host.
func (c *HWLoadCollector) Available() bool {
	_, err := os.Stat(c.path)
	return err == nil
}

// Start begins polling. Calling Start on a running collector is a no-op.
func (c *HWLoadCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	return nil
}

// Stop ends polling and removes the series it published.
func (c *HWLoadCollector) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	c.mu.Lock()
	for device := range c.devices {
		metrics.DeleteHWEncoderMetrics(device)
	}
	clear(c.devices)
	c.mu.Unlock()
	return nil
}

func (c *HWLoadCollector) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	c.logger.Info("Polling hardware encoder load", "path", c.path, "interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *HWLoadCollector) collect() {
	file, err := os.Open(c.path)
	if err != nil {
		c.logger.Warn("Failed to open MPP load file", "error", err)
		return
	}
	defer file.Close()

	loads, err := parseMPPLoad(file)
	if err != nil {
		c.logger.Warn("Failed to parse MPP load file", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range loads {
		metrics.SetHWEncoderLoad(l.device, l.load)
		metrics.SetHWEncoderUtilization(l.device, l.utilization)
		c.devices[l.device] = struct{}{}
	}
}

type mppLoad struct {
	device      string
	load        float64
	utilization float64
}

func parseMPPLoad(r io.Reader) ([]mppLoad, error) {
	var loads []mppLoad
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		l, err := parseMPPLine(scanner.Text())
		if err != nil {
			continue
		}
		loads = append(loads, l)
	}
	return loads, scanner.Err()
}

// parseMPPLine reads lines such as "rkvenc: load: 45% utilization: 78%".
func parseMPPLine(line string) (mppLoad, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return mppLoad{}, errMPPLine
	}

	var load, util string
	for i := 1; i+1 < len(fields); i++ {
		switch fields[i] {
		case "load:":
			load = fields[i+1]
		case "utilization:":
			util = fields[i+1]
		}
	}
	if load == "" || util == "" {
		return mppLoad{}, errMPPLine
	}

	l, err := strconv.ParseFloat(strings.TrimSuffix(load, "%"), 64)
	if err != nil {
		return mppLoad{}, err
	}
	u, err := strconv.ParseFloat(strings.TrimSuffix(util, "%"), 64)
	if err != nil {
		return mppLoad{}, err
	}
	return mppLoad{
		device:      strings.TrimSuffix(fields[0], ":"),
		load:        l,
		utilization: u,
	}, nil
}
