package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/avrec/internal/api/models"
	"github.com/smazurov/avrec/internal/container"
	"github.com/smazurov/avrec/internal/media"
	"github.com/smazurov/avrec/internal/recorder"
)

// recorderError maps recorder failures to HTTP statuses.
func recorderError(msg string, err error) error {
	switch {
	case errors.Is(err, media.ErrNoSession), errors.Is(err, media.ErrAlreadyStarted):
		return huma.Error409Conflict(msg, err)
	case errors.Is(err, media.ErrCapabilityUnavailable):
		return huma.Error422UnprocessableEntity(msg, err)
	}
	var merr *media.Error
	if errors.As(err, &merr) && merr.Code == media.ErrCodeConfig {
		return huma.Error400BadRequest(msg, err)
	}
	return huma.Error500InternalServerError(msg, err)
}

// applyOverrides returns base with the fields set in req replaced.
func applyOverrides(base recorder.Options, req *models.StartRecordingData) recorder.Options {
	if req == nil {
		return base
	}
	if req.Container != "" {
		base.Container = container.Kind(req.Container)
	}
	if req.OutputDir != "" {
		base.OutputDir = req.OutputDir
	}
	if req.Video != nil {
		base.Video.Enabled = *req.Video
	}
	if req.Audio != nil {
		base.Audio.Enabled = *req.Audio
	}
	if req.VideoDevice != "" {
		base.Video.Device = req.VideoDevice
	}
	if req.AudioDevice != "" {
		base.Audio.Device = req.AudioDevice
	}
	if req.Width > 0 {
		base.Video.Width = req.Width
	}
	if req.Height > 0 {
		base.Video.Height = req.Height
	}
	if req.FrameRate > 0 {
		base.Video.FrameRate = req.FrameRate
	}
	return base
}

func toRecordingData(st recorder.Status) models.RecordingData {
	data := models.RecordingData{
		Active:    st.Active,
		SessionID: st.SessionID,
		State:     st.State,
		Path:      st.Path,
		Started:   st.Started,
		Tracks:    make([]models.TrackData, 0, len(st.Tracks)),
		Container: models.ContainerData{
			Open:    st.Container.Open,
			Closed:  st.Container.Closed,
			Tracks:  st.Container.Registered,
			Ready:   st.Container.Ready,
			Active:  st.Container.Active,
			Written: make(map[string]int, len(st.Container.Written)),
			Dropped: st.Container.Dropped,
		},
		Error: st.Error,
	}
	for _, t := range st.Tracks {
		data.Tracks = append(data.Tracks, models.TrackData{
			Kind:          t.Kind.String(),
			State:         t.State,
			Encoder:       t.Encoder,
			LastTimestamp: t.LastTimestamp.Microseconds(),
			PausedUs:      t.Paused.Microseconds(),
			SourceDropped: t.SourceDropped,
			Error:         t.Error,
		})
	}
	for kind, n := range st.Container.Written {
		data.Container.Written[kind.String()] = n
	}
	return data
}

func (s *Server) recordingResponse() *models.RecordingResponse {
	return &models.RecordingResponse{Body: toRecordingData(s.options.Recorder.Status())}
}

func (s *Server) registerRecordingRoutes() {
	if s.options.Recorder == nil {
		s.logger.Debug("No recorder configured, skipping recording routes")
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-recording",
		Method:      http.MethodGet,
		Path:        "/api/recording",
		Summary:     "Recording Status",
		Description: "Report the current session, or the last one when idle",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.RecordingResponse, error) {
		return s.recordingResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-recording",
		Method:      http.MethodPost,
		Path:        "/api/recording/start",
		Summary:     "Start Recording",
		Description: "Start a session with the configured options, optionally overridden by the request body. Tracks without a usable encoder or source are skipped.",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 409, 422, 500},
	}, func(ctx context.Context, input *models.StartRecordingRequest) (*models.RecordingResponse, error) {
		var base recorder.Options
		if s.options.Defaults != nil {
			base = s.options.Defaults()
		}
		if _, err := s.options.Recorder.Start(ctx, applyOverrides(base, input.Body)); err != nil {
			return nil, recorderError("Failed to start recording", err)
		}
		return s.recordingResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-recording",
		Method:      http.MethodPost,
		Path:        "/api/recording/stop",
		Summary:     "Stop Recording",
		Description: "Stop the current session and wait for its container to be finalized",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500},
	}, func(ctx context.Context, input *struct{}) (*models.RecordingResponse, error) {
		session, err := s.options.Recorder.Stop()
		if err != nil {
			return nil, recorderError("Failed to stop recording", err)
		}
		// The session error is reported in the status body.
		if err := session.Wait(ctx); err != nil && ctx.Err() != nil {
			return nil, huma.Error500InternalServerError("Interrupted while finalizing recording", err)
		}
		return s.recordingResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "pause-recording",
		Method:      http.MethodPost,
		Path:        "/api/recording/pause",
		Summary:     "Pause Recording",
		Description: "Pause every capturing track. Without an active session this does nothing.",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, input *struct{}) (*models.RecordingResponse, error) {
		if err := s.options.Recorder.Pause(); err != nil {
			return nil, recorderError("Failed to pause recording", err)
		}
		return s.recordingResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "resume-recording",
		Method:      http.MethodPost,
		Path:        "/api/recording/resume",
		Summary:     "Resume Recording",
		Description: "Resume every paused track. Without an active session this does nothing.",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, input *struct{}) (*models.RecordingResponse, error) {
		if err := s.options.Recorder.Resume(); err != nil {
			return nil, recorderError("Failed to resume recording", err)
		}
		return s.recordingResponse(), nil
	})
}
