package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tubemux/tubemux/internal/models"
	"github.com/tubemux/tubemux/internal/service"
)

// DownloadsHandler serves the download history endpoint.
type DownloadsHandler struct {
	service *service.MediaService
	logger  *slog.Logger
}

// NewDownloadsHandler creates a new download history handler.
func NewDownloadsHandler(svc *service.MediaService, logger *slog.Logger) *DownloadsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadsHandler{service: svc, logger: logger}
}

// ListDownloadsInput is the input for the download history endpoint.
type ListDownloadsInput struct{}

// ListDownloadsOutput is the output for the download history endpoint.
type ListDownloadsOutput struct {
	Body ListDownloadsResponse
}

// ListDownloadsResponse holds the recent download records, newest first.
type ListDownloadsResponse struct {
	Downloads []models.DownloadRecord `json:"downloads"`
	Count     int                     `json:"count"`
}

// Register registers the download history routes with the API.
func (h *DownloadsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listDownloads",
		Method:      http.MethodGet,
		Path:        "/api/v1/downloads",
		Summary:     "List recent downloads",
		Description: "Returns the most recent finished download sessions, newest first. Only session metadata is recorded; media bytes are never persisted.",
		Tags:        []string{"Download"},
	}, h.ListDownloads)
}

// ListDownloads returns the recent download history.
func (h *DownloadsHandler) ListDownloads(ctx context.Context, input *ListDownloadsInput) (*ListDownloadsOutput, error) {
	recs, err := h.service.History(ctx)
	if err != nil {
		h.logger.Error("listing download history", slog.String("error", err.Error()))
		return nil, huma.Error500InternalServerError("listing download history failed")
	}
	if recs == nil {
		recs = []models.DownloadRecord{}
	}
	return &ListDownloadsOutput{
		Body: ListDownloadsResponse{
			Downloads: recs,
			Count:     len(recs),
		},
	}, nil
}
