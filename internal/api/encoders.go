package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/avrec/internal/api/models"
	"github.com/smazurov/avrec/internal/media"
)

func (s *Server) registerEncoderRoutes() {
	if s.options.Encoders == nil {
		s.logger.Debug("No encoder catalog configured, skipping encoder routes")
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "list-encoders",
		Method:      http.MethodGet,
		Path:        "/api/encoders",
		Summary:     "List Encoders",
		Description: "List the encoders considered for a track in order of preference, hardware first, with their validation outcome",
		Tags:        []string{"encoders"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, input *models.EncodersRequest) (*models.EncodersResponse, error) {
		kind := media.TrackKind(input.Track)
		mime := media.MimeFor(kind)
		candidates, err := s.options.Encoders.Candidates(ctx, mime)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to list encoders", err)
		}
		return &models.EncodersResponse{
			Body: models.EncodersData{Track: kind.String(), Mime: mime, Candidates: candidates},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "validate-encoders",
		Method:      http.MethodPost,
		Path:        "/api/encoders/validate",
		Summary:     "Validate Encoders",
		Description: "Test-encode every compiled candidate of both tracks and store the outcome",
		Tags:        []string{"encoders"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, input *struct{}) (*models.ValidationResponse, error) {
		results, err := s.options.Encoders.ValidateAll(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("Encoder validation failed", err)
		}
		return &models.ValidationResponse{Body: results}, nil
	})
}
