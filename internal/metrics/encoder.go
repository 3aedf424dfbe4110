// Package metrics provides Prometheus metrics for recording sessions and the
// encoder processes behind them.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	encoderFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "avrec",
		Subsystem: "encoder",
		Name:      "fps",
		Help:      "Frames per second reported by the encoder process",
	}, []string{"encoder"})

	encoderDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "avrec",
		Subsystem: "encoder",
		Name:      "dropped_frames_total",
		Help:      "Frames dropped by the encoder process",
	}, []string{"encoder"})

	encoderDuplicateFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "avrec",
		Subsystem: "encoder",
		Name:      "duplicate_frames_total",
		Help:      "Frames duplicated by the encoder process",
	}, []string{"encoder"})

	encoderSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "avrec",
		Subsystem: "encoder",
		Name:      "processing_speed",
		Help:      "Encoder speed relative to real time",
	}, []string{"encoder"})

	// Local cache for the status API and SSE exporter.
	encoderCache   = make(map[string]*EncoderMetrics)
	encoderCacheMu sync.RWMutex
)

// EncoderMetrics holds progress values reported by one encoder process.
type EncoderMetrics struct {
	FPS             float64
	DroppedFrames   float64
	DuplicateFrames float64
	Speed           float64
}

// SetEncoderFPS sets the current FPS for an encoder.
func SetEncoderFPS(encoder string, fps float64) {
	encoderFPS.WithLabelValues(encoder).Set(fps)
	updateEncoder(encoder, func(m *EncoderMetrics) { m.FPS = fps })
}

// SetEncoderDroppedFrames sets the dropped frames count for an encoder.
func SetEncoderDroppedFrames(encoder string, count float64) {
	encoderDroppedFrames.WithLabelValues(encoder).Set(count)
	updateEncoder(encoder, func(m *EncoderMetrics) { m.DroppedFrames = count })
}

// SetEncoderDuplicateFrames sets the duplicate frames count for an encoder.
func SetEncoderDuplicateFrames(encoder string, count float64) {
	encoderDuplicateFrames.WithLabelValues(encoder).Set(count)
	updateEncoder(encoder, func(m *EncoderMetrics) { m.DuplicateFrames = count })
}

// SetEncoderSpeed sets the processing speed for an encoder.
func SetEncoderSpeed(encoder string, speed float64) {
	encoderSpeed.WithLabelValues(encoder).Set(speed)
	updateEncoder(encoder, func(m *EncoderMetrics) { m.Speed = speed })
}

// DeleteEncoderMetrics removes all metrics for an encoder.
func DeleteEncoderMetrics(encoder string) {
	encoderFPS.DeleteLabelValues(encoder)
	encoderDroppedFrames.DeleteLabelValues(encoder)
	encoderDuplicateFrames.DeleteLabelValues(encoder)
	encoderSpeed.DeleteLabelValues(encoder)

	encoderCacheMu.Lock()
	delete(encoderCache, encoder)
	encoderCacheMu.Unlock()
}

// GetEncoderMetrics returns current metric values for an encoder.
func GetEncoderMetrics(encoder string) *EncoderMetrics {
	encoderCacheMu.RLock()
	defer encoderCacheMu.RUnlock()
	if m, ok := encoderCache[encoder]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllEncoderMetrics returns metrics for every running encoder.
func GetAllEncoderMetrics() map[string]*EncoderMetrics {
	encoderCacheMu.RLock()
	defer encoderCacheMu.RUnlock()
	result := make(map[string]*EncoderMetrics, len(encoderCache))
	for id, m := range encoderCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updateEncoder(encoder string, update func(*EncoderMetrics)) {
	encoderCacheMu.Lock()
	defer encoderCacheMu.Unlock()
	m, ok := encoderCache[encoder]
	if !ok {
		m = &EncoderMetrics{}
		encoderCache[encoder] = m
	}
	update(m)
}
