// Package repository implements data access for persisted models using GORM.
package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tubemux/tubemux/internal/models"
)

// DownloadRepository stores and queries download history records.
type DownloadRepository interface {
	Create(ctx context.Context, rec *models.DownloadRecord) error
	ListRecent(ctx context.Context, limit int) ([]models.DownloadRecord, error)
	CountByStatus(ctx context.Context) (map[models.DownloadStatus]int64, error)
}

// downloadRepo implements DownloadRepository using GORM.
type downloadRepo struct {
	db *gorm.DB
}

// NewDownloadRepository creates a new DownloadRepository.
func NewDownloadRepository(db *gorm.DB) *downloadRepo {
	return &downloadRepo{db: db}
}

// Create persists a finished download record.
func (r *downloadRepo) Create(ctx context.Context, rec *models.DownloadRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("creating download record: %w", err)
	}
	return nil
}

// ListRecent returns the most recent records, newest first.
func (r *downloadRepo) ListRecent(ctx context.Context, limit int) ([]models.DownloadRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []models.DownloadRecord
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing download records: %w", err)
	}
	return recs, nil
}

// CountByStatus returns record counts grouped by terminal status.
func (r *downloadRepo) CountByStatus(ctx context.Context) (map[models.DownloadStatus]int64, error) {
	type row struct {
		Status models.DownloadStatus
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.DownloadRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting download records: %w", err)
	}
	out := make(map[models.DownloadStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
