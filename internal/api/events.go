package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/avrec/internal/events"
)

// forward sends every event arriving on ch until ctx ends or a send fails.
func forward(ctx context.Context, ch <-chan any, send sse.Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			if err := send.Data(event); err != nil {
				return
			}
		}
	}
}

// registerSSERoutes registers the session event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time session, pipeline and container events. The current session state is sent first.",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"session-state-changed":  events.SessionStateChangedEvent{},
		"pipeline-state-changed": events.PipelineStateChangedEvent{},
		"pipeline-failed":        events.PipelineFailedEvent{},
		"container-opened":       events.ContainerOpenedEvent{},
		"container-closed":       events.ContainerClosedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)
		unsubscribers := []func(){
			events.SubscribeToChannel[events.SessionStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.PipelineStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.PipelineFailedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ContainerOpenedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ContainerClosedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if err := send.Data(s.currentState()); err != nil {
			return
		}
		forward(ctx, eventCh, send)
	})
}

// currentState describes the recorder as a state change event.
func (s *Server) currentState() events.SessionStateChangedEvent {
	ev := events.SessionStateChangedEvent{State: events.SessionStopped, Timestamp: events.Now()}
	if s.options.Recorder == nil {
		return ev
	}
	st := s.options.Recorder.Status()
	ev.SessionID = st.SessionID
	ev.Path = st.Path
	ev.Error = st.Error
	if st.State != "" {
		ev.State = st.State
	}
	return ev
}
