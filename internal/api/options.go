package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/avrec/internal/api/models"
	"github.com/smazurov/avrec/internal/ffmpeg"
)

func (s *Server) registerOptionsRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-capture-options",
		Method:      http.MethodGet,
		Path:        "/api/options",
		Summary:     "Capture Options",
		Description: "List the ffmpeg input options accepted by capture.options, with categories and conflicts",
		Tags:        []string{"configuration"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.OptionsResponse, error) {
		return &models.OptionsResponse{
			Body: models.OptionsData{Options: ffmpeg.AllOptions},
		}, nil
	})
}
