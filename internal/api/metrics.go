package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/avrec/internal/api/models"
	"github.com/smazurov/avrec/internal/events"
	"github.com/smazurov/avrec/internal/metrics"
	"github.com/smazurov/avrec/internal/metrics/exporters"
)

func (s *Server) registerMetricsRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-track-metrics",
		Method:      http.MethodGet,
		Path:        "/api/metrics/tracks",
		Summary:     "Track Metrics",
		Description: "Counters of samples written per track since the process started",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.TrackMetricsResponse, error) {
		resp := &models.TrackMetricsResponse{}
		resp.Body.Tracks = make(map[string]models.TrackMetricsData)
		for track, m := range metrics.GetAllTrackMetrics() {
			resp.Body.Tracks[track] = models.TrackMetricsData{
				Samples:       m.Samples,
				Bytes:         m.Bytes,
				Dropped:       m.Dropped,
				SourceDropped: m.SourceDropped,
				Faults:        m.Faults,
				LastTimestamp: m.LastTimestamp,
			}
		}
		return resp, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "metrics-stream",
		Method:      http.MethodGet,
		Path:        "/api/metrics",
		Summary:     "Metrics Server-Sent Events Stream",
		Description: "Encoder progress reported once per second while recording",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, exporters.EventTypes(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)
		unsubscribe := events.SubscribeToChannel[events.EncoderMetricsEvent](s.eventBus, eventCh)
		defer unsubscribe()
		forward(ctx, eventCh, send)
	})
}
