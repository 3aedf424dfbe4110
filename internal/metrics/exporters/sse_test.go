package exporters

import (
	"sync"
	"testing"
	"time"

	"github.com/smazurov/avrec/internal/events"
	"github.com/smazurov/avrec/internal/metrics"
)

type recordingPublisher struct {
	mu        sync.Mutex
	events    []events.Event
	published chan struct{}
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{published: make(chan struct{}, 100)}
}

func (r *recordingPublisher) Publish(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.published <- struct{}{}:
	default:
	}
}

func (r *recordingPublisher) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recordingPublisher) find(encoder string) (events.EncoderMetricsEvent, bool) {
	for _, ev := range r.snapshot() {
		if em, ok := ev.(events.EncoderMetricsEvent); ok && em.Encoder == encoder {
			return em, true
		}
	}
	return events.EncoderMetricsEvent{}, false
}

func TestSSEExporterPublishesMetrics(t *testing.T) {
	encoder := "sse-test-encoder"
	metrics.SetEncoderFPS(encoder, 30.0)
	metrics.SetEncoderDroppedFrames(encoder, 5)
	metrics.SetEncoderDuplicateFrames(encoder, 2)
	metrics.SetEncoderSpeed(encoder, 1)
	defer metrics.DeleteEncoderMetrics(encoder)

	pub := newRecordingPublisher()
	exporter := NewSSEExporter(pub)
	exporter.interval = 10 * time.Millisecond
	exporter.Start(t.Context())

	select {
	case <-pub.published:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for metrics publish")
	}
	exporter.Stop()

	ev, ok := pub.find(encoder)
	if !ok {
		t.Fatal("expected EncoderMetricsEvent for test encoder")
	}
	if ev.FPS != "30.00" || ev.DroppedFrames != "5" || ev.DuplicateFrames != "2" || ev.Speed != "1.00" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Timestamp == "" {
		t.Error("missing timestamp")
	}
}

func TestSSEExporterSkipsDeletedEncoders(t *testing.T) {
	encoder := "sse-deleted-encoder"
	metrics.SetEncoderFPS(encoder, 12)
	metrics.DeleteEncoderMetrics(encoder)

	pub := newRecordingPublisher()
	exporter := NewSSEExporter(pub)
	exporter.interval = 10 * time.Millisecond
	exporter.Start(t.Context())
	time.Sleep(40 * time.Millisecond)
	exporter.Stop()

	if _, ok := pub.find(encoder); ok {
		t.Error("expected no events for deleted encoder")
	}
}

func TestSSEExporterStopIdempotent(t *testing.T) {
	encoder := "sse-idempotent-encoder"
	metrics.SetEncoderFPS(encoder, 30.0)
	defer metrics.DeleteEncoderMetrics(encoder)

	pub := newRecordingPublisher()
	exporter := NewSSEExporter(pub)
	exporter.interval = 5 * time.Millisecond

	// Stop before Start is harmless.
	exporter.Stop()

	exporter.Start(t.Context())
	exporter.Start(t.Context())
	time.Sleep(20 * time.Millisecond)
	exporter.Stop()
	exporter.Stop()

	count := len(pub.snapshot())
	if count == 0 {
		t.Error("expected events while running")
	}
	time.Sleep(20 * time.Millisecond)
	if after := len(pub.snapshot()); after != count {
		t.Errorf("events published after stop: got %d, want %d", after, count)
	}
}

func TestSSEExporterNilPublisher(t *testing.T) {
	exporter := NewSSEExporter(nil)
	exporter.publish()
}

func TestEventTypes(t *testing.T) {
	if _, ok := EventTypes()["encoder-metrics"]; !ok {
		t.Error("expected encoder-metrics event type")
	}
}
