package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/avrec/internal/events"
	"github.com/smazurov/avrec/internal/metrics"
)

// SSEExporter periodically publishes encoder progress on the event bus.
type SSEExporter struct {
	publisher events.Publisher
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSSEExporter creates an exporter publishing to p once per second.
func NewSSEExporter(p events.Publisher) *SSEExporter {
	return &SSEExporter{
		publisher: p,
		interval:  time.Second,
	}
}

// Start begins the export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop ends the export loop and waits for it.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish()
		}
	}
}

func (s *SSEExporter) publish() {
	now := events.Now()
	for id, m := range metrics.GetAllEncoderMetrics() {
		events.Publish(s.publisher, events.EncoderMetricsEvent{
			Encoder:         id,
			FPS:             strconv.FormatFloat(m.FPS, 'f', 2, 64),
			DroppedFrames:   strconv.FormatFloat(m.DroppedFrames, 'f', 0, 64),
			DuplicateFrames: strconv.FormatFloat(m.DuplicateFrames, 'f', 0, 64),
			Speed:           strconv.FormatFloat(m.Speed, 'f', 2, 64),
			Timestamp:       now,
		})
	}
}

// EventTypes returns the event types this exporter emits, keyed by SSE
// event name.
func EventTypes() map[string]any {
	return map[string]any{
		"encoder-metrics": events.EncoderMetricsEvent{},
	}
}
