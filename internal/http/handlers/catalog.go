package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/tubemux/tubemux/internal/models"
	"github.com/tubemux/tubemux/internal/service"
)

// CatalogHandler serves format catalog lookups.
type CatalogHandler struct {
	service *service.MediaService
	logger  *slog.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(svc *service.MediaService, logger *slog.Logger) *CatalogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogHandler{service: svc, logger: logger}
}

// MediaDetails is the metadata block of a catalog response.
type MediaDetails struct {
	Title           string             `json:"title"`
	DurationSeconds int64              `json:"durationSeconds"`
	Author          string             `json:"author"`
	MediaKey        string             `json:"mediaKey"`
	IsLive          bool               `json:"isLive"`
	Thumbnails      []models.Thumbnail `json:"thumbnails"`
}

// CatalogResponse is the body of a successful catalog lookup.
type CatalogResponse struct {
	Title        string                    `json:"title"`
	Formats      []models.FormatDescriptor `json:"formats"`
	MediaDetails MediaDetails              `json:"mediaDetails"`
}

// RegisterChiRoutes registers the raw catalog route. The handler writes
// the exact error JSON shape itself rather than huma's error model.
func (h *CatalogHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/api/v1/catalog", h.handleCatalog)
}

func (h *CatalogHandler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kind, err := parseKind(q.Get("kind"))
	if err != nil {
		writeError(w, err)
		return
	}

	cat, err := h.service.Lookup(r.Context(), q.Get("url"), kind)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(CatalogResponse{
		Title:   cat.Title,
		Formats: cat.Formats,
		MediaDetails: MediaDetails{
			Title:           cat.Title,
			DurationSeconds: cat.DurationSeconds,
			Author:          cat.AuthorName,
			MediaKey:        cat.MediaKey,
			IsLive:          cat.IsLive,
			Thumbnails:      cat.Thumbnails,
		},
	})
}

// catalogDocsInput mirrors the query parameters for OpenAPI documentation.
type catalogDocsInput struct {
	URL  string `query:"url" doc:"Media locator: a URL or a bare media key"`
	Kind string `query:"kind" enum:"video,audio" doc:"Which class of formats to list (default video)"`
}

type catalogDocsOutput struct {
	Body CatalogResponse
}

// catalogDocsHandler exists only for OpenAPI generation. It is never
// reached when RegisterChiRoutes runs after Register: Chi serves the last
// registration for a path, so the raw handler takes over.
func (h *CatalogHandler) catalogDocsHandler(ctx context.Context, input *catalogDocsInput) (*catalogDocsOutput, error) {
	return nil, huma.Error500InternalServerError("this endpoint is handled by raw Chi handlers", nil)
}

// Register registers the documentation-only operation for the catalog route.
// Call it before RegisterChiRoutes so the raw handler wins the path.
func (h *CatalogHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getCatalog",
		Method:      http.MethodGet,
		Path:        "/api/v1/catalog",
		Summary:     "List available formats for a media item",
		Description: "Resolves the locator and returns the ordered format catalog for the requested kind. The first format is the recommended default.",
		Tags:        []string{"Catalog"},
		Responses: map[string]*huma.Response{
			"400": {Description: "Missing or unrecognizable locator"},
			"404": {Description: "No usable formats available"},
			"429": {Description: "Upstream rate limit persisted through retries"},
			"502": {Description: "Upstream unavailable or returned malformed data"},
		},
	}, h.catalogDocsHandler)
}
