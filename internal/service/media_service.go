// Package service ties the upstream client, pipeline, and history store
// together behind the operations the HTTP layer exposes.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/tubemux/tubemux/internal/models"
	"github.com/tubemux/tubemux/internal/pipeline"
	"github.com/tubemux/tubemux/internal/repository"
)

// CatalogFetcher is the lookup slice of the upstream client.
type CatalogFetcher interface {
	FetchCatalog(ctx context.Context, locator string, kind models.Kind) (*models.FormatCatalog, error)
}

// MediaService serves catalog lookups and download acquisitions.
type MediaService struct {
	catalogs CatalogFetcher
	pipeline *pipeline.Pipeline
	history  repository.DownloadRepository
	limit    int
	logger   *slog.Logger
}

// NewMediaService creates a MediaService. history may be nil when
// persistence is disabled.
func NewMediaService(catalogs CatalogFetcher, pl *pipeline.Pipeline, history repository.DownloadRepository, historyLimit int, logger *slog.Logger) *MediaService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaService{
		catalogs: catalogs,
		pipeline: pl,
		history:  history,
		limit:    historyLimit,
		logger:   logger,
	}
}

// Lookup resolves a locator to its format catalog for the requested kind.
func (s *MediaService) Lookup(ctx context.Context, locator string, kind models.Kind) (*models.FormatCatalog, error) {
	if locator == "" {
		return nil, models.NewError(models.ErrClassNoURL, "No URL provided")
	}
	return s.catalogs.FetchCatalog(ctx, locator, kind)
}

// Download resolves and opens the byte stream for one download request.
func (s *MediaService) Download(ctx context.Context, locator, formatID string, kind models.Kind) (*pipeline.Result, error) {
	return s.pipeline.Acquire(ctx, pipeline.Request{
		Locator:  locator,
		FormatID: formatID,
		Kind:     kind,
	})
}

// History returns the most recent finished downloads, newest first.
func (s *MediaService) History(ctx context.Context) ([]models.DownloadRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListRecent(ctx, s.limit)
}

// HistoryRecorder adapts the repository to the pipeline's Recorder hook.
// Records are written in the background so teardown never blocks on disk.
type HistoryRecorder struct {
	repo   repository.DownloadRepository
	logger *slog.Logger
}

// NewHistoryRecorder creates a HistoryRecorder.
func NewHistoryRecorder(repo repository.DownloadRepository, logger *slog.Logger) *HistoryRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryRecorder{repo: repo, logger: logger}
}

// Record persists one finished session asynchronously.
func (h *HistoryRecorder) Record(rec *models.DownloadRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.Create(ctx, rec); err != nil {
			h.logger.Warn("recording download history failed",
				slog.String("media_key", rec.MediaKey),
				slog.String("error", err.Error()),
			)
		}
	}()
}
