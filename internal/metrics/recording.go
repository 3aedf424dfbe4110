package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avrec",
		Subsystem: "track",
		Name:      "samples_written_total",
		Help:      "Encoded samples handed to the container",
	}, []string{"track"})

	bytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avrec",
		Subsystem: "track",
		Name:      "bytes_written_total",
		Help:      "Encoded payload bytes handed to the container",
	}, []string{"track"})

	samplesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avrec",
		Subsystem: "track",
		Name:      "samples_dropped_total",
		Help:      "Samples discarded because the container was not open",
	}, []string{"track"})

	sourceDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avrec",
		Subsystem: "source",
		Name:      "frames_dropped_total",
		Help:      "Raw frames a source discarded because the encoder fell behind",
	}, []string{"track"})

	encoderFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avrec",
		Subsystem: "track",
		Name:      "encoder_faults_total",
		Help:      "Encoder faults that ended a pipeline",
	}, []string{"track"})

	lastTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "avrec",
		Subsystem: "track",
		Name:      "last_timestamp_seconds",
		Help:      "Presentation time of the last written sample",
	}, []string{"track"})

	pipelineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "avrec",
		Subsystem: "pipeline",
		Name:      "state",
		Help:      "Encoder pipeline state (0 idle .. 6 released)",
	}, []string{"track"})

	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "avrec",
		Subsystem: "session",
		Name:      "started_total",
		Help:      "Recording sessions started",
	})

	sessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "avrec",
		Subsystem: "session",
		Name:      "active",
		Help:      "1 while a recording session is running",
	})

	containerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "avrec",
		Subsystem: "container",
		Name:      "open",
		Help:      "1 while the container accepts samples",
	})

	trackCache   = make(map[string]*TrackMetrics)
	trackCacheMu sync.RWMutex
)

// TrackMetrics holds the current values for one track.
type TrackMetrics struct {
	Samples       int64
	Bytes         int64
	Dropped       int64
	SourceDropped int64
	Faults        int64
	LastTimestamp int64 // microseconds
}

// RecordSample counts a sample written to the container.
func RecordSample(track string, size int, timestampUs int64) {
	samplesWritten.WithLabelValues(track).Inc()
	bytesWritten.WithLabelValues(track).Add(float64(size))
	lastTimestamp.WithLabelValues(track).Set(float64(timestampUs) / 1e6)
	updateTrack(track, func(m *TrackMetrics) {
		m.Samples++
		m.Bytes += int64(size)
		m.LastTimestamp = timestampUs
	})
}

// RecordDropped counts a sample dropped outside the open window.
func RecordDropped(track string) {
	samplesDropped.WithLabelValues(track).Inc()
	updateTrack(track, func(m *TrackMetrics) { m.Dropped++ })
}

// RecordSourceDropped counts n raw frames lost at the source.
func RecordSourceDropped(track string, n int) {
	if n <= 0 {
		return
	}
	sourceDropped.WithLabelValues(track).Add(float64(n))
	updateTrack(track, func(m *TrackMetrics) { m.SourceDropped += int64(n) })
}

// RecordEncoderFault counts a pipeline-ending encoder fault.
func RecordEncoderFault(track string) {
	encoderFaults.WithLabelValues(track).Inc()
	updateTrack(track, func(m *TrackMetrics) { m.Faults++ })
}

// SetPipelineState publishes the numeric pipeline state.
func SetPipelineState(track string, state int) {
	pipelineState.WithLabelValues(track).Set(float64(state))
}

// SessionStarted marks a new active session and resets per-track values.
func SessionStarted() {
	sessionsTotal.Inc()
	sessionActive.Set(1)
	trackCacheMu.Lock()
	trackCache = make(map[string]*TrackMetrics)
	trackCacheMu.Unlock()
}

// SessionEnded clears the active session gauges.
func SessionEnded() {
	sessionActive.Set(0)
	containerOpen.Set(0)
}

// SetContainerOpen records whether the container accepts samples.
func SetContainerOpen(open bool) {
	if open {
		containerOpen.Set(1)
		return
	}
	containerOpen.Set(0)
}

// GetTrackMetrics returns a copy of the current values for a track.
func GetTrackMetrics(track string) *TrackMetrics {
	trackCacheMu.RLock()
	defer trackCacheMu.RUnlock()
	if m, ok := trackCache[track]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllTrackMetrics returns copies of the values of every track.
func GetAllTrackMetrics() map[string]*TrackMetrics {
	trackCacheMu.RLock()
	defer trackCacheMu.RUnlock()
	result := make(map[string]*TrackMetrics, len(trackCache))
	for track, m := range trackCache {
		dup := *m
		result[track] = &dup
	}
	return result
}

func updateTrack(track string, update func(*TrackMetrics)) {
	trackCacheMu.Lock()
	defer trackCacheMu.Unlock()
	m, ok := trackCache[track]
	if !ok {
		m = &TrackMetrics{}
		trackCache[track] = m
	}
	update(m)
}
